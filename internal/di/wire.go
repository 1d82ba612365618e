//go:build wireinject
// +build wireinject

package di

import (
	"StructPulse/pkg/config"
	"StructPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Detection core
		ProvideBarStore,
		ProvideDetector,
		ProvideMemoryConfig,
		ProvideEnhancer,
		ProvidePipeline,

		// Persistence
		ProvideContextStore,
		ProvidePersistManager,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideEventArchive,
		ProvideKafkaProducer,
		ProvideEventPublisher,
		ProvideKafkaConsumer,

		// Use cases
		ProvideEngine,
		ProvideKafkaBarsHandler,
		ProvideFeedStream,
		ProvideBarCollector,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
