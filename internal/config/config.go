package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr               string
	PostgresDSN            string
	LogLevel               string
	LogFormat              string
	LogFile                string
	PolicyPath             string
	ShutdownTimeoutSeconds int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

var defaults = map[string]any{
	"http_addr":                 ":8080",
	"log_level":                 "info",
	"log_format":                "text",
	"shutdown_timeout_seconds":  15,
	"rate_limit_requests":       0,
	"rate_limit_window_seconds": 60,
	"rate_limit_fail_closed":    false,
	"rate_limit_max_keys":       10000,
	"redis_db":                  0,
}

// FromEnv reads configuration from environment variables only.
func FromEnv() Config {
	return fromViper(newViper())
}

// Load reads environment variables layered over an optional YAML file named by
// CONFIG_FILE (or the path argument when non-empty). Environment always wins.
func Load(path string) (Config, error) {
	v := newViper()
	if path == "" {
		path = v.GetString("config_file")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) Config {
	return Config{
		HTTPAddr:               stringDefault(v, "http_addr"),
		PostgresDSN:            v.GetString("postgres_dsn"),
		LogLevel:               stringDefault(v, "log_level"),
		LogFormat:              stringDefault(v, "log_format"),
		LogFile:                v.GetString("log_file"),
		PolicyPath:             v.GetString("policy_path"),
		ShutdownTimeoutSeconds: intDefault(v, "shutdown_timeout_seconds"),
		RateLimitRequests:      intDefault(v, "rate_limit_requests"),
		RateLimitWindowSeconds: intDefault(v, "rate_limit_window_seconds"),
		RateLimitFailClosed:    boolDefault(v, "rate_limit_fail_closed"),
		RateLimitMaxKeys:       intDefault(v, "rate_limit_max_keys"),
		RedisAddr:              v.GetString("redis_addr"),
		RedisPassword:          v.GetString("redis_password"),
		RedisDB:                intDefault(v, "redis_db"),
	}
}

func stringDefault(v *viper.Viper, key string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	def, _ := defaults[key].(string)
	return def
}

// intDefault falls back to the default for unparsable or negative values.
func intDefault(v *viper.Viper, key string) int {
	def, _ := defaults[key].(int)
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func boolDefault(v *viper.Viper, key string) bool {
	def, _ := defaults[key].(bool)
	switch strings.TrimSpace(v.GetString(key)) {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
