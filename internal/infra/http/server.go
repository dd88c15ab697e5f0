package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"keyd/internal/config"
	"keyd/internal/domain"
	"keyd/internal/infra/auditmem"
	"keyd/internal/infra/db"
	"keyd/internal/infra/keys/soft"
	"keyd/internal/infra/metrics"
	"keyd/internal/infra/policyopa"
	"keyd/internal/infra/ratelimit"
	"keyd/internal/logging"
	"keyd/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	auditModeDB     = "db"
	auditModeMemory = "memory"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine
	log   logrus.FieldLogger

	keys      *usecase.KeyService
	metrics   *metrics.Metrics
	auditMode string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
	closers             []func() error
}

// NewServer wires the in-memory registry together with whatever optional
// backends cfg enables: Postgres audit storage, Redis rate limiting and an OPA
// request policy. It fails when the random source is unusable.
func NewServer(ctx context.Context, cfg config.Config, store *db.Store, log logrus.FieldLogger) (*Server, error) {
	s := &Server{cfg: cfg, store: store, log: logging.Component(log, "http")}
	if err := s.initDeps(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.initRouter()
	return s, nil
}

type ServerDeps struct {
	Keys        *usecase.KeyService
	Metrics     *metrics.Metrics
	AuditMode   string
	RateLimiter domain.RateLimiter
	Log         logrus.FieldLogger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	s := &Server{
		cfg:       cfg,
		log:       logging.Component(deps.Log, "http"),
		keys:      deps.Keys,
		metrics:   deps.Metrics,
		auditMode: deps.AuditMode,
	}
	s.initRateLimit(context.Background(), deps.RateLimiter)
	s.initRouter()
	return s
}

func (s *Server) initDeps(ctx context.Context) error {
	registry := soft.NewRegistry()
	if err := registry.SelfTest(); err != nil {
		return err
	}

	var auditRepo usecase.AuditEventRepository
	if s.store != nil && s.store.DB != nil {
		auditRepo = db.NewAuditEventRepository(s.store.DB)
		s.auditMode = auditModeDB
	} else {
		auditRepo = auditmem.New()
		s.auditMode = auditModeMemory
	}

	var policy domain.PolicyEvaluator
	if s.cfg.PolicyPath != "" {
		engine, err := policyopa.NewEngineFromPath(ctx, s.cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		s.log.WithField("module_hash", engine.ModuleHash()).Info("request policy loaded")
		policy = engine
	}

	s.metrics = metrics.New(registry.Len)
	s.keys = &usecase.KeyService{
		Keys:    registry,
		Audit:   usecase.NewAuditEmitter(auditRepo, nil),
		Policy:  policy,
		Metrics: s.metrics,
		Log:     logging.Component(s.log, "keys"),
	}
	s.initRateLimit(ctx, nil)
	return nil
}

func (s *Server) initRateLimit(ctx context.Context, override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			limiter, err := ratelimit.NewRedisLimiter(ctx, ratelimit.RedisLimiterConfig{
				Addr:     s.cfg.RedisAddr,
				Password: s.cfg.RedisPassword,
				DB:       s.cfg.RedisDB,
			})
			if err == nil {
				s.rateLimiter = limiter
				s.closers = append(s.closers, limiter.Close)
			} else {
				s.log.WithError(err).Warn("redis rate limiter unavailable; using memory limiter")
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) initRouter() {
	r := gin.New()
	// Client addresses come from the socket, never from forwarding headers.
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery(), requestID(), accessLog(s.log))
	s.r = r
	s.routes()
}

func (s *Server) routes() {
	s.r.GET("/greeting", s.handleGreeting)
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "audit": s.auditMode})
	})
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	keys := s.r.Group("/keys")
	{
		keys.POST("", s.rateLimit(routeKeysGenerate), s.handleGenerateKey)
		keys.GET("", s.rateLimit(routeKeysList), s.handleListKeys)
		keys.DELETE("/:keyId", s.rateLimit(routeKeysDelete), s.handleDeleteKey)
		keys.POST("/:keyId/sign", s.rateLimit(routeKeysSign), s.handleSign)
		keys.POST("/:keyId/verify", s.rateLimit(routeKeysVerify), s.handleVerify)
	}
	s.r.GET("/audit/events", s.rateLimit(routeAuditRead), s.handleListAuditEvents)

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Close releases backends opened by NewServer. The db store belongs to the caller.
func (s *Server) Close() error {
	var first error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
