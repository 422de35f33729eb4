// Package app assembles the server: it owns the data-dir lock, the store, the
// service container and the background loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/AdScriptStudio/internal/api"
	"github.com/Corphon/AdScriptStudio/internal/config"
	"github.com/Corphon/AdScriptStudio/internal/di"
	_ "github.com/Corphon/AdScriptStudio/internal/llm/providers/anthropic"
	_ "github.com/Corphon/AdScriptStudio/internal/llm/providers/google"
	_ "github.com/Corphon/AdScriptStudio/internal/llm/providers/openai"
	"github.com/Corphon/AdScriptStudio/internal/prompts"
	"github.com/Corphon/AdScriptStudio/internal/realtime"
	"github.com/Corphon/AdScriptStudio/internal/services"
	"github.com/Corphon/AdScriptStudio/internal/storage"
	"github.com/Corphon/AdScriptStudio/internal/utils"
)

// ErrAlreadyRunning means another server holds the data directory.
var ErrAlreadyRunning = errors.New("another server is already using this data directory")

const (
	lockFileName          = "adscript.lock"
	logFileName           = "adscript.log"
	shutdownTimeout       = 30 * time.Second
	limiterCleanupPeriod  = 10 * time.Minute
	cacheCleanupPeriod    = 5 * time.Minute
	metricsReportInterval = 15 * time.Minute
)

// App is one server instance.
type App struct {
	cfg       *config.AppConfig
	container *di.Container
	lock      *flock.Flock
	store     *storage.Store
	hub       *realtime.Hub
	limiter   *api.RateLimiter
	metrics   *utils.APIMetrics
	llm       *services.LLMService
	router    *gin.Engine
	logger    *utils.Logger
}

// New creates an App for cfg. Nothing is opened until Initialize.
func New(cfg *config.AppConfig) *App {
	return &App{
		cfg:       cfg,
		container: di.NewContainer(),
		lock:      flock.New(filepath.Join(cfg.DataDir, lockFileName)),
		logger:    utils.GetLogger(),
	}
}

// Initialize locks the data directory, opens the store and wires every service.
func (a *App) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if a.cfg.LogDir != "" {
		if err := utils.InitLogger(filepath.Join(a.cfg.LogDir, logFileName)); err != nil {
			return err
		}
	}
	if a.cfg.DebugMode {
		a.logger.SetLogLevel(utils.DEBUG)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	locked, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	store, err := storage.Open(ctx, a.cfg.DataDir)
	if err != nil {
		_ = a.lock.Unlock()
		return err
	}
	a.store = store

	if err := a.InitServices(); err != nil {
		_ = a.Close()
		return err
	}

	a.router, err = api.SetupRouter(a.container, api.RouterConfigFrom(a.cfg, a.limiter))
	if err != nil {
		_ = a.Close()
		return err
	}

	a.logger.Info("Server initialized", map[string]interface{}{
		"data_dir":  a.cfg.DataDir,
		"database":  a.store.Path(),
		"provider":  a.llm.GetProviderName(),
		"llm_state": a.llm.GetReadyState(),
		"services":  a.container.GetNames(),
	})
	return nil
}

// InitServices registers the services in dependency order.
func (a *App) InitServices() error {
	if a.store == nil {
		return errors.New("store not opened")
	}
	library, err := prompts.Load()
	if err != nil {
		return err
	}
	exporter, err := storage.NewExporter(filepath.Join(a.cfg.DataDir, "exports"))
	if err != nil {
		return err
	}

	a.metrics = utils.NewAPIMetrics()
	a.llm = services.NewLLMService(a.cfg, a.metrics)
	a.hub = realtime.NewHub()
	a.limiter = api.NewRateLimiter()
	timeout := a.cfg.AgentTimeout()

	a.container.Register(di.ServiceStore, a.store)
	a.container.Register(di.ServiceMetrics, a.metrics)
	a.container.Register(di.ServiceLLM, a.llm)
	a.container.Register(di.ServiceHub, a.hub)
	a.container.Register(di.ServiceScript,
		services.NewScriptService(a.llm, library, a.store, exporter, a.hub, timeout))
	a.container.Register(di.ServiceRefinement,
		services.NewRefinementService(a.llm, library, a.store, exporter, a.hub, a.metrics, timeout))
	a.container.Register(di.ServiceAudio, services.NewAudioService(nil, a.cfg.UseRealTTS))
	return nil
}

// Container exposes the registered services.
func (a *App) Container() *di.Container {
	return a.container
}

// Run listens on the configured port and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+a.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server, the realtime hub and the cleanup loops on ln
// until ctx ends or one of them fails, then shuts everything down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.router == nil {
		_ = ln.Close()
		return errors.New("app not initialized")
	}

	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.metrics.StartMetricsCollection(gctx, metricsReportInterval)
	a.llm.StartCacheCleanup(gctx, cacheCleanupPeriod)

	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	g.Go(func() error {
		a.limiter.Run(gctx, limiterCleanupPeriod)
		return nil
	})
	g.Go(func() error {
		a.logger.Infof("HTTP server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down HTTP server", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the store and the data-dir lock.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.lock.Locked() {
		errs = append(errs, a.lock.Unlock())
	}
	// stdout cannot always be synced
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
