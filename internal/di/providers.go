package di

import (
	"context"
	"fmt"
	"time"

	"StructPulse/internal/barstore"
	"StructPulse/internal/confluence"
	"StructPulse/internal/detect"
	"StructPulse/internal/domain/repository"
	"StructPulse/internal/memory"
	mid "StructPulse/internal/middleware"
	"StructPulse/internal/persist"
	internalrepo "StructPulse/internal/repository"
	"StructPulse/internal/service/feed"
	"StructPulse/internal/usecase"
	pkgch "StructPulse/pkg/clickhouse"
	"StructPulse/pkg/config"
	pkgkafka "StructPulse/pkg/kafka"
	"StructPulse/pkg/logger"
	"StructPulse/pkg/metrics"
	"StructPulse/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideBarStore creates the in-memory bar store.
func ProvideBarStore(cfg *config.Config) *barstore.Store {
	return barstore.New(cfg.Engine.BarRetention)
}

// ProvideDetector creates the pattern detector from the detection section.
func ProvideDetector(cfg *config.Config) *detect.Detector {
	return detect.New(detect.Config{
		SwingStrength:      cfg.Detection.SwingStrength,
		ATRPeriod:          cfg.Detection.ATRPeriod,
		MinStructureWindow: cfg.Detection.MinStructureWindow,
		MinImbalanceWindow: cfg.Detection.MinImbalanceWindow,
		MinOrderWindow:     cfg.Detection.MinOrderWindow,
		DisplacementFactor: cfg.Detection.DisplacementFactor,
		MaxClusterBars:     cfg.Detection.MaxClusterBars,
	})
}

// ProvideMemoryConfig maps the memory section onto the enhancer config.
func ProvideMemoryConfig(cfg *config.Config) memory.Config {
	return memory.Config{
		EventLogRetention:     cfg.Memory.EventLogRetention,
		DecisionCacheTTL:      cfg.Memory.DecisionCacheTTL,
		BlendRawWeight:        cfg.Memory.BlendRawWeight,
		BlendHistoryWeight:    cfg.Memory.BlendHistoryWeight,
		BlendQualityWeight:    cfg.Memory.BlendQualityWeight,
		BaselineConfidence:    cfg.Memory.BaselineConfidence,
		KNearest:              cfg.Memory.KNearest,
		MinSamples:            cfg.Memory.MinSamples,
		MagnitudeTolerance:    cfg.Memory.MagnitudeTolerance,
		SuppressionThreshold:  cfg.Memory.SuppressionThreshold,
		SignatureDecay:        cfg.Memory.SignatureDecay,
		BiasShiftConfidence:   cfg.Memory.BiasShiftConfidence,
		ResolutionHorizonBars: cfg.Memory.ResolutionHorizonBars,
		ConfirmThreshold:      cfg.Memory.ConfirmThreshold,
		QualityAlpha:          cfg.Memory.QualityAlpha,
	}
}

// ProvideEnhancer creates the memory enhancer.
func ProvideEnhancer(memCfg memory.Config, l *logger.Logger) *memory.Enhancer {
	return memory.NewEnhancer(memCfg, l)
}

// ProvidePipeline creates the cross-timeframe cycle pipeline.
func ProvidePipeline(cfg *config.Config, store *barstore.Store, detector *detect.Detector, enhancer *memory.Enhancer, l *logger.Logger) *confluence.Pipeline {
	tfs := make([]repository.Timeframe, 0, len(cfg.Engine.Timeframes))
	for _, tf := range cfg.Engine.Timeframes {
		tfs = append(tfs, repository.Timeframe(tf))
	}
	return confluence.New(confluence.Config{
		Timeframes:          tfs,
		DisagreementPenalty: cfg.Engine.DisagreementPenalty,
		CycleDeadline:       cfg.Engine.CycleDeadline,
		MinAuthorityBars:    cfg.Engine.MinAuthorityBars,
		WindowSize:          cfg.Engine.WindowSize,
	}, store, detector, enhancer, l)
}

// ProvideContextStore creates the Redis context store.
func ProvideContextStore(cfg *config.Config, l *logger.Logger) (repository.ContextStore, error) {
	store, err := persist.NewRedisStore(l,
		persist.WithRedisHost(cfg.Persistence.Redis.Host),
		persist.WithRedisPort(cfg.Persistence.Redis.Port),
		persist.WithRedisPassword(cfg.Persistence.Redis.Password),
		persist.WithRedisDB(cfg.Persistence.Redis.DB),
		persist.WithRedisPrefix(cfg.Persistence.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis context store: %w", err)
	}
	return store, nil
}

// ProvidePersistManager creates the background flush manager.
func ProvidePersistManager(cfg *config.Config, memCfg memory.Config, store repository.ContextStore, l *logger.Logger, m repository.Metrics) *persist.Manager {
	return persist.NewManager(persist.ManagerConfig{
		FlushInterval: cfg.Persistence.FlushInterval,
		BatchSize:     cfg.Persistence.BatchSize,
		MaxRetries:    cfg.Persistence.MaxRetries,
		RetryBackoff:  cfg.Persistence.RetryBackoff,
	}, memCfg, store, l, m)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideEventArchive creates the ClickHouse event archive, or nil when
// ClickHouse is disabled.
func ProvideEventArchive(chClient *pkgch.Client, l *logger.Logger) (repository.EventArchive, error) {
	if chClient == nil {
		return nil, nil
	}
	archive := internalrepo.NewCHEventArchive(chClient)
	archive.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher wraps the producer as the cycle event publisher, or
// nil when Kafka is disabled.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideKafkaConsumer creates a Kafka consumer for the bars topic, or nil
// when disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideEngine creates the detection engine.
func ProvideEngine(
	store *barstore.Store,
	pipeline *confluence.Pipeline,
	persister *persist.Manager,
	publisher *internalrepo.KafkaEventPublisher,
	archive repository.EventArchive,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Engine {
	var pub repository.EventPublisher
	if publisher != nil {
		pub = publisher
	}
	return usecase.NewEngine(store, pipeline, persister, pub, archive, m, l)
}

// ProvideKafkaBarsHandler registers the handler for the bars topic.
func ProvideKafkaBarsHandler(engine *usecase.Engine, m repository.Metrics, cfg *config.Config) *usecase.KafkaBarsHandler {
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, engine, m)
}

// ProvideFeedStream creates the WebSocket feed, or nil when disabled.
func ProvideFeedStream(cfg *config.Config, l *logger.Logger) repository.BarStream {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.New(
		cfg.Feed.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Engine.Instruments,
		cfg.Engine.Timeframes,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
		l,
	)
}

// ProvideBarCollector creates the feed collector behind the ingest pipeline,
// or nil when the feed is disabled.
func ProvideBarCollector(stream repository.BarStream, engine *usecase.Engine, m repository.Metrics) *usecase.BarCollector {
	if stream == nil {
		return nil
	}
	pipe := mid.NewIngestPipeline(engine, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
	return usecase.NewBarCollector(stream, engine, m, pipe)
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	engine *usecase.Engine,
	persister *persist.Manager,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBarsHandler,
	publisher *internalrepo.KafkaEventPublisher,
	archive repository.EventArchive,
	ctxStore repository.ContextStore,
	chClient *pkgch.Client,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, l, engine, persister, collector, consumer, kh, publisher, archive, ctxStore, chClient)
}
