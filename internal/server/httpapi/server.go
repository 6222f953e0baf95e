// Package httpapi is the HTTP surface of the attachment server.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"github.com/dmitrijs2005/attachkeeper/internal/server/attachments"
	"github.com/dmitrijs2005/attachkeeper/internal/server/auth"
	"github.com/dmitrijs2005/attachkeeper/internal/server/metrics"
	"github.com/gin-gonic/gin"
)

// AttachmentService is the part of attachments.Service the API calls.
type AttachmentService interface {
	Ingest(ctx context.Context, req attachments.IngestRequest) (string, error)
	Retrieve(ctx context.Context, identity, handle string) (*attachments.Download, error)
	MaxPayloadBytes() int64
}

// WindowCounter reports how many rate windows are tracked.
type WindowCounter interface {
	Size() int
}

type Options struct {
	Address       string
	PathPrefix    string
	APIVersion    string
	PublicBaseURL string
	SecretKey     []byte
	TokenValidity time.Duration
}

type Server struct {
	address       string
	basePath      string
	engine        *gin.Engine
	svc           AttachmentService
	auth          *auth.Switch
	basic         *auth.BasicStrategy
	windows       WindowCounter
	links         LinkBuilder
	secret        []byte
	tokenValidity time.Duration
	metrics       *metrics.Metrics
	logger        logging.Logger
}

func NewServer(opts Options, svc AttachmentService, sw *auth.Switch, basic *auth.BasicStrategy,
	windows WindowCounter, m *metrics.Metrics, l logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	base := basePath(opts.PathPrefix, opts.APIVersion)
	s := &Server{
		address:       opts.Address,
		basePath:      base,
		engine:        gin.New(),
		svc:           svc,
		auth:          sw,
		basic:         basic,
		windows:       windows,
		links:         NewLinkBuilder(opts.PublicBaseURL, base, opts.APIVersion),
		secret:        opts.SecretKey,
		tokenValidity: opts.TokenValidity,
		metrics:       m,
		logger:        l.With("module", "http_server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(s.recovery(), s.traceRequest())

	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.engine.Group(s.basePath)
	api.GET("/MaxMailSize", s.maxMailSize)
	api.POST("/token", s.issueToken)
	api.POST("/switchAuth", s.switchAuth)
	api.GET("/diagnostics/ratelimit", s.rateLimitDiagnostics)

	att := api.Group("/attachment", s.requireIdentity())
	att.POST("", s.upload)
	att.GET("/:handle", s.download)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address, "base_path", s.basePath)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
