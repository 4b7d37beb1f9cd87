//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"Heimdall/pkg/config"
	"Heimdall/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideRecorder,
		ProvideFraudMetrics,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideSnapshotStore,
		ProvideStorage,
		ProvidePublisher,
		ProvideStream,

		// Engine and use cases
		ProvideHistoryStore,
		ProvideAnalyzer,
		ProvideAggregator,
		ProvideHub,
		ProvideSink,
		ProvideMonitor,
		ProvidePipeline,
		ProvideCollector,
		ProvideKafkaHandler,

		// HTTP surface
		ProvideChatForwarder,
		ProvideLimiter,
		ProvidePageCache,
		ProvideCSVData,
		ProvideHandlers,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
