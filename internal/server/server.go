// Package server exposes the webhook ingress and the operator API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/analyzer"
	"github.com/emitt/replyd/internal/config"
	"github.com/emitt/replyd/internal/processor"
	"github.com/emitt/replyd/internal/sender"
	"github.com/emitt/replyd/internal/storage"
)

// SignatureHeader carries the hex HMAC of the raw_base64 field.
const SignatureHeader = "X-Inbound-Signature"

// Pipeline runs the processing flows behind the webhook endpoints.
type Pipeline interface {
	HandleInbound(ctx context.Context, rawBase64, signature string) (*processor.Outcome, error)
	HandleTranslation(ctx context.Context, rawBase64, signature, target string) (*processor.Outcome, error)
	Analyze(ctx context.Context, text, sender, instruction string) analyzer.AnalysisResult
}

// Store is the read side of persistence plus cleanup and the journal.
type Store interface {
	ListEmails(ctx context.Context, limit, offset int) (*storage.EmailPage, error)
	SearchEmails(ctx context.Context, query string, limit int) ([]*storage.EmailRecord, error)
	GetEmailByMessageID(ctx context.Context, messageID string) (*storage.EmailRecord, error)
	GetLogs(ctx context.Context, limit int, activityType string) ([]*storage.ActivityLog, error)
	GetStatistics(ctx context.Context) (*storage.Statistics, error)
	CleanupOldData(ctx context.Context, days int) (*storage.CleanupResult, error)
	LogActivity(ctx context.Context, activityType, level string, details map[string]any) error
	Ping(ctx context.Context) error
}

// Mailer sends operator test mail and reports the delivery chain.
type Mailer interface {
	SendTest(ctx context.Context, to, subject string) sender.Result
	Status() sender.Status
}

// Scheduler reports the cleanup job state.
type Scheduler interface {
	IsRunning() bool
	NextRun() time.Time
	LastRun() time.Time
}

// Deps are the collaborators behind the handlers. Scheduler and Gatherer
// may be nil.
type Deps struct {
	Pipeline  Pipeline
	Store     Store
	Mailer    Mailer
	Scheduler Scheduler
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP front end.
type Server struct {
	cfg    *config.Config
	deps   Deps
	engine *gin.Engine
	http   *http.Server
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer builds the server and its routes.
func NewServer(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "http").Logger(),
		now:    time.Now,
	}
	s.engine = s.setupRouter()
	s.http = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains the open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP server")
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.logger))

	router.GET("/", s.root)
	router.GET("/health", s.health)

	router.POST("/inbound", s.inbound)
	router.POST("/inbound/trans", s.translateInbound)
	router.POST("/inbound/trans/:lang", s.translateInbound)

	router.GET("/emails", s.listEmails)
	router.GET("/emails/search", s.searchEmails)
	router.GET("/emails/:message_id", s.getEmail)
	router.GET("/logs", s.getLogs)
	router.GET("/statistics", s.statistics)

	router.POST("/test-send", s.testSend)
	router.POST("/analyze", s.analyze)
	router.POST("/cleanup", s.cleanup)

	if s.deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

// requestLogger writes one zerolog line per request and tags the response
// with a request id.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
