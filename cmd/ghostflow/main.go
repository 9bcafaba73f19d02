package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gocloud.dev/blob"

	app "github.com/GhostKellz/ghostflow"
	"github.com/GhostKellz/ghostflow/internal/archive"
	"github.com/GhostKellz/ghostflow/internal/artifact"
	"github.com/GhostKellz/ghostflow/internal/config"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/internal/loader"
	"github.com/GhostKellz/ghostflow/internal/server"
	"github.com/GhostKellz/ghostflow/internal/store"
	"github.com/GhostKellz/ghostflow/pkg/log"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type ghostflow struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	artifacts  *artifact.Store
	registry   *node.Registry
	metrics    *prometheus.Registry
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	archive    *blob.Bucket
	stopAux    context.CancelFunc
	auxDone    chan struct{}
	quit       chan os.Signal
}

var (
	ErrOpenStore     = errors.New("failed to open execution store")
	ErrOpenArtifacts = errors.New("failed to open artifact bucket")
	ErrLoadFlows     = errors.New("failed to load flows")
	ErrOpenArchive   = errors.New("failed to open archive bucket")
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &ghostflow{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *ghostflow) run() error {
	ctx := context.Background()
	if err := s.initializeStores(ctx); err != nil {
		return err
	}

	if err := s.initializeEngine(ctx); err != nil {
		s.closeStores()
		return err
	}
	if err := s.startArchiver(); err != nil {
		_ = s.engine.Stop()
		s.closeStores()
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *ghostflow) setupLogging() {
	level, _ := log.ParseLevel(s.cfg.LogLevel)
	s.logger = log.NewWithLevel(app.Name, s.cfg.Environment, app.Version, level)
	slog.SetDefault(s.logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("GhostFlow engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("store_type", s.cfg.Store.Type),
		slog.String("artifact_bucket", s.cfg.Artifacts.BucketURL),
		slog.String("flows_dir", s.cfg.FlowsDir),
		slog.String("executor_id", s.cfg.ExecutorID),
		slog.Int("max_concurrency", s.cfg.MaxConcurrency),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *ghostflow) initializeStores(ctx context.Context) error {
	var err error

	s.store, err = store.Open(ctx, s.cfg.Store, s.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenStore, err)
	}

	s.artifacts, err = artifact.Open(
		ctx, s.cfg.Artifacts.BucketURL, s.cfg.Artifacts.Prefix,
	)
	if err != nil {
		_ = s.store.Close()
		return fmt.Errorf("%w: %w", ErrOpenArtifacts, err)
	}
	return nil
}

func (s *ghostflow) initializeEngine(ctx context.Context) error {
	s.registry = node.NewRegistry()
	if err := node.RegisterBuiltins(s.registry); err != nil {
		return err
	}

	s.metrics = prometheus.NewRegistry()
	s.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.New(s.cfg, engine.Dependencies{
		Store:      s.store,
		Artifacts:  s.artifacts,
		Registry:   s.registry,
		Registerer: s.metrics,
	})
	if err != nil {
		return err
	}
	s.engine = eng

	if s.cfg.FlowsDir != "" {
		n, err := loader.RegisterDir(eng, s.cfg.FlowsDir)
		if err != nil {
			_ = eng.Stop()
			return fmt.Errorf("%w: %w", ErrLoadFlows, err)
		}
		slog.Info("Flows loaded",
			slog.String("dir", s.cfg.FlowsDir),
			slog.Int("count", n))
	}
	return s.engine.Start(ctx)
}

func (s *ghostflow) startArchiver() error {
	s.auxDone = make(chan struct{})
	if !s.cfg.Archive.Enabled() {
		close(s.auxDone)
		return nil
	}

	bucket, err := blob.OpenBucket(context.Background(), s.cfg.Archive.BucketURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenArchive, err)
	}
	w, err := archive.NewWriter(bucket, s.cfg.Archive.Prefix)
	if err != nil {
		_ = bucket.Close()
		return err
	}
	a, err := archive.NewArchiver(s.engine, w, s.cfg.Archive)
	if err != nil {
		_ = bucket.Close()
		return err
	}
	s.archive = bucket

	ctx, cancel := context.WithCancel(context.Background())
	s.stopAux = cancel
	go func() {
		defer close(s.auxDone)
		slog.Info("Archiver starting",
			slog.String("bucket", s.cfg.Archive.BucketURL),
			slog.Duration("max_age", s.cfg.Archive.MaxAgeDuration()))
		_ = a.Run(ctx)
	}()
	return nil
}

func (s *ghostflow) startServer() {
	s.apiServer = server.NewServer(s.engine, s.metrics)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
			s.quit <- syscall.SIGTERM
		}
	}()
}

func (s *ghostflow) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if s.stopAux != nil {
		s.stopAux()
	}
	<-s.auxDone
	if s.archive != nil {
		_ = s.archive.Close()
	}

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	s.closeStores()
	slog.Info("Server exited")
}

func (s *ghostflow) closeStores() {
	if err := s.artifacts.Close(); err != nil {
		slog.Error("Artifact bucket close failed", log.Error(err))
	}
	if err := s.store.Close(); err != nil {
		slog.Error("Store close failed", log.Error(err))
	}
}
