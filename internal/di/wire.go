//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalDesk/pkg/config"
	"SignalDesk/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideClock,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvidePostgresClient,
	ProvideRedisClient,
	ProvideCache,
	ProvideQueue,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
)

var repositorySet = wire.NewSet(
	ProvidePublisher,
	ProvideTickStore,
	ProvideAggregateStore,
	ProvideStateStore,
	ProvideSimulationStore,
	ProvidePerformanceStore,
	ProvideTickerClient,
	ProvideStreamFactory,
)

var engineSet = wire.NewSet(
	ProvideHistory,
	ProvideIndicators,
	ProvideStrategyRegistry,
	ProvideStrategies,
	ProvideTracker,
	ProvidePerformanceTracker,
	ProvideSelector,
)

var usecaseSet = wire.NewSet(
	ProvideTickProcessor,
	ProvidePriceFeed,
	ProvideSignalEngine,
	ProvideSimulationEngine,
	ProvideAggregator,
	ProvideTicksUseCase,
	ProvideKafkaTicksHandler,
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes infrastructure clients after the App has stopped.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		repositorySet,
		engineSet,
		usecaseSet,
		ProvideEngineHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
