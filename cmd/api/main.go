package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/api/rest"
	"github.com/caseproof/evidence-backend/internal/infrastructure/cache"
	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
	"github.com/caseproof/evidence-backend/internal/infrastructure/contentstore"
	"github.com/caseproof/evidence-backend/internal/infrastructure/database"
	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
	"github.com/caseproof/evidence-backend/internal/infrastructure/queue"
	"github.com/caseproof/evidence-backend/internal/infrastructure/registry"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/infrastructure/telemetry"
	"github.com/caseproof/evidence-backend/internal/metrics"
	"github.com/caseproof/evidence-backend/internal/service/custody"
	"github.com/caseproof/evidence-backend/internal/service/gate"
	"github.com/caseproof/evidence-backend/internal/service/ocr"
	"github.com/caseproof/evidence-backend/internal/service/processor"
	"github.com/caseproof/evidence-backend/internal/service/transcription"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(&telemetry.Config{
		ServiceName:    "evidence-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.MeterProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg, err := metrics.NewRegistry("evidence-backend")
	if err != nil {
		return err
	}
	window := metrics.NewWindowCollector(metrics.DefaultWindow)

	store, err := contentstore.New(cfg.ContentStore.Root, logger)
	if err != nil {
		return err
	}

	// Without a metadata store the service runs entirely in memory. That is
	// the development and single-node mode; state does not survive restarts.
	var repos *repository.Repositories
	if cfg.Metadata.URL != "" {
		pool, err := database.Connect(ctx, &cfg.Metadata, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		repos = repository.NewRepositories(pool)
	} else {
		logger.Warn("no metadata url configured, using in-memory repositories")
		repos = repository.NewMemoryRepositories()
	}

	backend, err := cache.New(&cfg.Cache, logger)
	if err != nil {
		return err
	}
	loader := cache.NewLoader(backend)

	bus := events.NewBus(logger)
	defer bus.Close()

	q := queue.New(cfg.Pipeline.WorkerPoolSize, cfg.Pipeline.QueueCapacity, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := q.Shutdown(shutdownCtx); err != nil {
			logger.Warn("queue shutdown incomplete", zap.Error(err))
		}
	}()

	transcriber := transcription.New(transcription.NewBuiltinProvider(), bus, cfg.Pipeline.TranscriptionLimit, logger)
	recognizer := ocr.New(ocr.NewBuiltinProvider(), logger)

	proc := processor.New(repos, store, loader, transcriber, recognizer, bus, reg, window, cfg, logger)
	cust := custody.New(repos.Audit, logger)

	auth := gate.NewAuthenticator(repos.User, repos.APIKey, repos.Audit,
		cfg.Session.JWTSecret, cfg.Session.TokenExpiry, logger)
	g := gate.New(repos.Usage, repos.Audit, cfg.TierLimits, reg, window, logger)

	services := registry.New()
	for name, instance := range map[string]interface{}{
		"processor":     proc,
		"custody":       cust,
		"gate":          g,
		"transcription": transcriber,
		"ocr":           recognizer,
	} {
		if err := services.Register(name, instance); err != nil {
			return err
		}
		if err := services.MarkReady(name); err != nil {
			return err
		}
	}

	handlers := rest.NewHandlers(
		auth, g, proc, cust,
		repos, store, backend, bus, q,
		services, window, provider.Registry, cfg, logger,
	)

	server := rest.NewServer(&cfg.Server, handlers.Router(), logger)
	logger.Info("starting evidence backend",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port))
	return server.Run(ctx)
}
