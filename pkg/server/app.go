package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StructPulse/internal/domain/repository"
	"StructPulse/internal/handler/api"
	"StructPulse/internal/persist"
	internalrepo "StructPulse/internal/repository"
	icache "StructPulse/internal/service/cache"
	"StructPulse/internal/usecase"
	pkgch "StructPulse/pkg/clickhouse"
	"StructPulse/pkg/config"
	xhttp "StructPulse/pkg/http"
	pkgkafka "StructPulse/pkg/kafka"
	applogger "StructPulse/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	engine    *usecase.Engine
	persister *persist.Manager
	collector *usecase.BarCollector
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	publisher *internalrepo.KafkaEventPublisher
	archive   repository.EventArchive
	ctxStore  repository.ContextStore
	chClient  *pkgch.Client

	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies. Collector, consumer,
// publisher, archive and chClient may be nil depending on configuration.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	persister *persist.Manager,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	publisher *internalrepo.KafkaEventPublisher,
	archive repository.EventArchive,
	ctxStore repository.ContextStore,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		engine:    engine,
		persister: persister,
		collector: collector,
		consumer:  consumer,
		kh:        kh,
		publisher: publisher,
		archive:   archive,
		ctxStore:  ctxStore,
		chClient:  chClient,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// aggregate error logs to Kafka when a producer is available
	if a.publisher != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   time.Minute,
			CountThreshold: 100,
			Topic:          a.cfg.Kafka.LogsTopic,
			Publisher:      a.publisher,
		})
	}

	a.persister.Start(ctx)
	a.engine.Start(ctx)

	handler := api.NewEventsHandler(a.log, a.engine, a.archive)
	handler.SetCache(a.responseCache())

	a.httpServer = xhttp.NewServer(handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("feed collector start failed", applogger.Error(err))
			return err
		}
		a.log.Info("feed collector started",
			applogger.Strings("instruments", a.cfg.Engine.Instruments),
			applogger.Strings("timeframes", a.cfg.Engine.Timeframes))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("detection engine running",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("env", a.cfg.Environment))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// responseCache picks the API response cache. Production shares the Redis
// instance so replicas serve the same cached archive pages; everything else
// uses an in-process TTL cache.
func (a *App) responseCache() icache.BytesCache {
	if a.cfg.Environment == "production" {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     fmt.Sprintf("%s:%d", a.cfg.Persistence.Redis.Host, a.cfg.Persistence.Redis.Port),
			Password: a.cfg.Persistence.Redis.Password,
			DB:       a.cfg.Persistence.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// shutdown gracefully stops all services. Order matters: stop accepting new
// bars first, drain workers, then flush contexts, then close clients.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("feed collector stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.engine.Stop()
	a.persister.Stop(shutdownCtx)

	if a.publisher != nil {
		a.log.RemoveCollector()
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Warn("archive close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.ctxStore != nil {
		if err := a.ctxStore.Close(); err != nil {
			a.log.Warn("context store close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
