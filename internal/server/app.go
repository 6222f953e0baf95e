// Package server wires the attachment server together and runs it: the
// HTTP API, the gRPC health endpoint, the rate limiter sweep and the reaper.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"github.com/dmitrijs2005/attachkeeper/internal/server/attachments"
	"github.com/dmitrijs2005/attachkeeper/internal/server/auth"
	"github.com/dmitrijs2005/attachkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/attachkeeper/internal/server/config"
	"github.com/dmitrijs2005/attachkeeper/internal/server/handles"
	"github.com/dmitrijs2005/attachkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/attachkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/attachkeeper/internal/server/quota"
	"github.com/dmitrijs2005/attachkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/attachkeeper/internal/server/reaper"
	"github.com/dmitrijs2005/attachkeeper/internal/server/repositories/repomanager"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/attachkeeper/internal/server/grpc"
)

const healthProbeInterval = 30 * time.Second

// seams for tests
var (
	openDB     = repomanager.Open
	newS3Store = blobstore.NewS3Store
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	limiter *ratelimit.Limiter
	reaper  *reaper.Reaper
	http    *httpapi.Server
	grpc    *gs.GRPCServer
}

// NewApp opens the record store, checks the blob store and builds every
// component. The caller owns the returned App and must call Run.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	rm, err := repomanager.New(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	db, err := openDB(ctx, rm, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := build(ctx, c, logger, rm, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, c *config.Config, logger logging.Logger, rm repomanager.RepositoryManager, db *sql.DB) (*App, error) {
	blobs, err := openBlobStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	if err := blobs.Check(ctx); err != nil {
		return nil, fmt.Errorf("storage check error: %w", err)
	}

	gw := quotaGateway(c)

	limiter, err := ratelimit.New(c.RateLimitMaxRequests, c.RateLimitRetention, c.RateLimitCapacity, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.TrackRateWindows(limiter.Size)

	repo := rm.Attachments(db)
	svc := attachments.NewService(repo, blobs, gw, handles.NewAllocator(repo, handles.DefaultMaxAttempts), limiter,
		attachments.Options{MaxPayloadBytes: c.MaxPayloadBytes, ExpiryLayouts: c.ExpiryLayouts, Metrics: m}, logger)

	secret := []byte(c.SecretKey)
	primary, err := auth.New(c.AuthMode, gw, secret)
	if err != nil {
		return nil, err
	}
	basic := auth.NewBasicStrategy(gw)

	httpServer := httpapi.NewServer(httpapi.Options{
		Address:       c.EndpointAddrHTTP,
		PathPrefix:    c.PathPrefix,
		APIVersion:    c.APIVersion,
		PublicBaseURL: c.PublicBaseURL,
		SecretKey:     secret,
		TokenValidity: c.AccessTokenValidityDuration,
	}, svc, auth.NewSwitch(primary, basic), basic, limiter, m, logger)

	r := reaper.New(repo, blobs, gw, reaper.Config{
		Retention:         c.RecordRetention,
		ExpiryInterval:    c.ExpirySweepInterval,
		RetentionInterval: c.RetentionSweepInterval,
	}, m, logger)

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		limiter: limiter,
		reaper:  r,
		http:    httpServer,
		grpc:    gs.NewGRPCServer(c.EndpointAddrGRPC, logger, blobs.Check, healthProbeInterval),
	}, nil
}

func openBlobStore(ctx context.Context, c *config.Config) (blobstore.Store, error) {
	if c.StorageBackend == config.StorageS3 {
		return newS3Store(ctx, blobstore.S3Config{
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
	}
	return blobstore.NewLocalStore(c.StoragePath)
}

// quotaGateway talks to the remote account service when one is configured
// and otherwise serves the static accounts from the configuration.
func quotaGateway(c *config.Config) quota.Gateway {
	if c.QuotaServiceURL != "" {
		return quota.NewHTTPGateway(c.QuotaServiceURL, c.QuotaTimeout)
	}
	gw := quota.NewMemoryGateway()
	for _, a := range c.Accounts {
		gw.AddAccount(a.Identity, a.Secret, a.QuotaBytes)
	}
	return gw
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts every component and blocks until ctx is canceled, a signal
// arrives or one component fails. The database is closed on return.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer func() {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close error", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting app...",
		"database", app.config.DatabaseDriver, "storage", app.config.StorageBackend, "auth", app.config.AuthMode)

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.http.Run(ctx) })
	g.Go(func() error { return app.grpc.Run(ctx) })
	g.Go(func() error { return app.limiter.Run(ctx, app.config.RateLimitSweepInterval) })
	g.Go(func() error { return app.reaper.Run(ctx) })

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
