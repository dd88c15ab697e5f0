// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"os"
	"strings"

	"keyd/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 7
	defaultMaxAgeDays = 28
)

// New returns a logger writing to stdout and, when LOG_FILE is set, to a
// rotating file as well. Unknown levels fall back to info.
func New(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(parseLevel(cfg.LogLevel))

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
			MaxAge:     defaultMaxAgeDays,
			Compress:   true,
		})
	}
	log.SetOutput(out)
	return log
}

func parseLevel(value string) logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(value))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Component tags every entry with the emitting component.
func Component(log logrus.FieldLogger, name string) logrus.FieldLogger {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return log.WithField("component", name)
}
