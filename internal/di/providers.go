package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	gormlogger "gorm.io/gorm/logger"

	drepo "SignalDesk/internal/domain/repository"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/handler/api"
	mid "SignalDesk/internal/middleware"
	internalrepo "SignalDesk/internal/repository"
	"SignalDesk/internal/service/binance"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/services/history"
	"SignalDesk/internal/services/indicators"
	"SignalDesk/internal/services/performance"
	"SignalDesk/internal/services/selector"
	"SignalDesk/internal/services/strategy"
	"SignalDesk/internal/usecase"
	pkgcache "SignalDesk/pkg/cache"
	pkgch "SignalDesk/pkg/clickhouse"
	"SignalDesk/pkg/clock"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	pkgkafka "SignalDesk/pkg/kafka"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
	pkgpg "SignalDesk/pkg/postgres"
	"SignalDesk/pkg/queue"
	"SignalDesk/pkg/server"
)

const initTimeout = 10 * time.Second

func noop() {}

// StateStore keeps simulations, trades and performance records together so
// a simulation cycle and its attributed results share one backend.
type StateStore interface {
	drepo.SimulationStore
	drepo.PerformanceStore
}

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		CollectWarn: cfg.Log.CollectWarn,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

func ProvideClock() clock.Clock { return clock.New() }

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects and prepares the tick and summary tables.
// It returns nil when no tick backend needs ClickHouse.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if cfg.Storage.TickBackend == config.BackendMemory {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx, pkgch.Config{
		Host:         cfg.ClickHouse.Host,
		Port:         cfg.ClickHouse.Port,
		Database:     cfg.ClickHouse.Database,
		User:         cfg.ClickHouse.User,
		Password:     cfg.ClickHouse.Password,
		UseHTTP:      cfg.ClickHouse.UseHTTP,
		AsyncInsert:  cfg.ClickHouse.AsyncInsert,
		WaitForAsync: cfg.ClickHouse.WaitForAsync,
		DialTimeout:  cfg.ClickHouse.DialTimeout,
		ReadTimeout:  cfg.ClickHouse.ReadTimeout,
		MaxExecTime:  cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	db := cfg.ClickHouse.Database
	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + db}, internalrepo.TickSchema(db)...)
	stmts = append(stmts, internalrepo.AggregateSchema(db)...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("database", db))

	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}, nil
}

// ProvidePostgresClient opens the state database and migrates it. It returns
// nil unless state_backend is postgres.
func ProvidePostgresClient(cfg *config.Config, l *applogger.Logger) (*pkgpg.Client, func(), error) {
	if cfg.Storage.StateBackend != config.BackendPostgres {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	level := gormlogger.Silent
	if cfg.Log.Level == "debug" || cfg.Log.Level == "trace" {
		level = gormlogger.Info
	}
	client, err := pkgpg.NewClient(ctx,
		pkgpg.WithDSN(cfg.Postgres.DSN),
		pkgpg.WithPool(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime),
		pkgpg.WithLogLevel(level),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := client.Migrate(ctx, internalrepo.StateModels()...); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	l.Info("postgres ready", applogger.Bool("migrated", cfg.Postgres.AutoMigrate))

	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("postgres close error", applogger.Error(err))
		}
	}, nil
}

// ProvideRedisClient returns a pinged client, or nil when redis is disabled.
func ProvideRedisClient(cfg *config.Config, l *applogger.Logger) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	client, err := pkgcache.DialRedis(ctx,
		pkgcache.WithRedisAddr(cfg.RedisAddr()),
		pkgcache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/4, 30*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis client: %w", err)
	}
	l.Info("redis ready", applogger.String("addr", cfg.RedisAddr()))

	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}, nil
}

// ProvideCache picks the price and decision cache backend.
func ProvideCache(cfg *config.Config, rc *redis.Client, clk clock.Clock) pkgcache.Service {
	mem := func() pkgcache.Service {
		return pkgcache.NewMemoryCache(
			pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
			pkgcache.WithMemoryClock(clk),
		)
	}
	if rc == nil {
		return mem()
	}
	switch cfg.Cache.Backend {
	case "redis":
		return pkgcache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix)
	case "layered":
		return pkgcache.NewLayeredCache(
			pkgcache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix),
			pkgcache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
			pkgcache.WithLayeredMemoryTTL(cfg.Engine.CacheTTL),
			pkgcache.WithLayeredClock(clk),
		)
	default:
		return mem()
	}
}

// ProvideQueue creates the job queue used by aggregation units and the log
// collector. Workers are started by the App.
func ProvideQueue(cfg *config.Config, l *applogger.Logger, rc *redis.Client, clk clock.Clock) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc, queue.ModeProducerConsumer,
		queue.WithKeyPrefix(cfg.Redis.Prefix),
		queue.WithQueueClock(clk),
	)
}

func kafkaNeeded(cfg *config.Config) bool {
	return cfg.Kafka.Enabled || cfg.Storage.TickBackend == config.BackendKafka
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is unused.
// The producer is closed through the publisher.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !kafkaNeeded(cfg) {
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

// ProvidePublisher emits ticks, decisions and trades to Kafka when a producer
// exists and discards them otherwise.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.Publisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(producer, internalrepo.Topics{
		Ticks:     cfg.Kafka.TicksTopic,
		Decisions: cfg.Kafka.DecisionsTopic,
		Trades:    cfg.Kafka.TradesTopic,
	})
}

// ProvideTickStore returns the queryable tick store. The kafka backend reads
// back from the ClickHouse tables its consumer writes.
func ProvideTickStore(ch *pkgch.Client, l *applogger.Logger) drepo.TickStore {
	if ch == nil {
		return internalrepo.NewMemoryTickStore()
	}
	return internalrepo.NewClickHouseTickStore(ch, l)
}

func ProvideAggregateStore(ch *pkgch.Client, l *applogger.Logger) drepo.AggregateStore {
	if ch == nil {
		return internalrepo.NewMemoryAggregateStore()
	}
	return internalrepo.NewClickHouseAggregateStore(ch, l)
}

func ProvideStateStore(pg *pkgpg.Client) StateStore {
	if pg == nil {
		return internalrepo.NewMemoryStateStore()
	}
	return internalrepo.NewPostgresStore(pg)
}

func ProvideSimulationStore(s StateStore) drepo.SimulationStore { return s }

func ProvidePerformanceStore(s StateStore) drepo.PerformanceStore { return s }

func ProvideTickerClient(cfg *config.Config) drepo.TickerClient {
	return binance.NewRESTClient(cfg.Binance.RESTURL,
		binance.WithTimeout(cfg.Binance.RequestTimeout),
		binance.WithRetry(2, 500*time.Millisecond, 3*time.Second),
	)
}

func ProvideStreamFactory(cfg *config.Config, clk clock.Clock) drepo.StreamFactory {
	return binance.NewFactory(cfg.Binance.StreamURL,
		binance.WithPingInterval(cfg.Binance.PingInterval),
		binance.WithStreamClock(clk),
	)
}

func ProvideHistory(cfg *config.Config) *history.Rolling {
	return history.New(cfg.Engine.MaxHistorySize)
}

func ProvideIndicators(cfg *config.Config) domsvc.IndicatorCalculator {
	return indicators.NewEngine(indicators.Config{
		VolatileThreshold: cfg.Indicators.VolatileThreshold,
		TrendThreshold:    cfg.Indicators.TrendThreshold,
	})
}

func ProvideStrategyRegistry(cfg *config.Config) *strategy.Registry {
	return strategy.NewRegistry(strategy.Config{
		KellyMin:       cfg.Strategy.KellyMin,
		KellyMax:       cfg.Strategy.KellyMax,
		SampleInterval: cfg.Engine.UpdateInterval.String(),
		VolatileLimit:  cfg.Indicators.VolatileThreshold,
	})
}

func ProvideStrategies(r *strategy.Registry) []domsvc.Strategy { return r.All() }

// ProvideTracker restores persisted performance records.
func ProvideTracker(store drepo.PerformanceStore, clk clock.Clock, l *applogger.Logger) (*performance.Tracker, error) {
	t := performance.New(
		performance.WithStore(store),
		performance.WithClock(clk),
		performance.WithLogger(l),
	)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	n, err := t.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}
	if n > 0 {
		l.Info("performance restored", applogger.Int("records", n))
	}
	return t, nil
}

func ProvidePerformanceTracker(t *performance.Tracker) domsvc.PerformanceTracker { return t }

func ProvideSelector(cfg *config.Config, t *performance.Tracker, clk clock.Clock, l *applogger.Logger) domsvc.AlgorithmSelector {
	return selector.New(selector.Config{
		ProfitMaxMultiplier: cfg.Selector.ProfitMaxMultiplier,
		RiskRewardHigh:      cfg.Selector.RiskRewardHigh,
		RiskRewardHighBonus: cfg.Selector.RiskRewardHighBonus,
		RiskRewardLow:       cfg.Selector.RiskRewardLow,
		RiskRewardLowBonus:  cfg.Selector.RiskRewardLowBonus,
		AgreementBonus:      cfg.Selector.AgreementBonus,
		MaxConfidence:       cfg.Selector.MaxConfidence,
	}, t, selector.WithClock(clk), selector.WithLogger(l))
}

// ProvideTickProcessor creates the tick persistence use case.
func ProvideTickProcessor(cfg *config.Config, pub drepo.Publisher, store drepo.TickStore, m drepo.Metrics, clk clock.Clock) *usecase.TickProcessor {
	return usecase.NewTickProcessor(pub, store, m, cfg.Storage.TickBackend, cfg.Storage.BatchSize, clk)
}

// ProvidePriceFeed builds the feed with its stream pipeline and REST limiter.
func ProvidePriceFeed(
	cfg *config.Config,
	client drepo.TickerClient,
	streams drepo.StreamFactory,
	hist *history.Rolling,
	c pkgcache.Service,
	proc *usecase.TickProcessor,
	m drepo.Metrics,
	clk clock.Clock,
	l *applogger.Logger,
) *usecase.PriceFeed {
	backfill := 0
	if cfg.Engine.Backfill.Enabled {
		backfill = cfg.Engine.Backfill.Limit
	}
	limiter := ratelimit.New(float64(cfg.Binance.RateLimit.Capacity), cfg.Binance.RateLimit.RefillPerSec, ratelimit.WithClock(clk))
	return usecase.NewPriceFeed(usecase.FeedConfig{
		UpdateInterval:   cfg.Engine.UpdateInterval,
		PersistInterval:  cfg.Engine.PersistInterval,
		CacheTTL:         cfg.Engine.CacheTTL,
		StreamLimit:      cfg.Binance.StreamLimit,
		ReconnectDelay:   cfg.Binance.ReconnectDelay,
		BackfillLimit:    backfill,
		BackfillInterval: cfg.Engine.Backfill.Interval,
	}, client, hist,
		usecase.WithFeedStreams(streams),
		usecase.WithFeedCache(c),
		usecase.WithFeedSink(proc),
		usecase.WithFeedLimiter(limiter),
		usecase.WithFeedMetrics(m),
		usecase.WithFeedClock(clk),
		usecase.WithFeedLogger(l.With(applogger.String("component", "feed"))),
		usecase.WithFeedPipeline(
			mid.WithMaxRPS(cfg.Pipeline.MaxRPS),
			mid.WithBufferSize(cfg.Pipeline.BufferSize),
		),
	)
}

func ProvideSignalEngine(
	cfg *config.Config,
	feed *usecase.PriceFeed,
	hist *history.Rolling,
	ind domsvc.IndicatorCalculator,
	strategies []domsvc.Strategy,
	sel domsvc.AlgorithmSelector,
	tracker domsvc.PerformanceTracker,
	c pkgcache.Service,
	pub drepo.Publisher,
	m drepo.Metrics,
	clk clock.Clock,
	l *applogger.Logger,
) *usecase.SignalEngine {
	return usecase.NewSignalEngine(usecase.EngineConfig{
		DecisionTTL:  cfg.Engine.DecisionTTL,
		IndicatorTTL: cfg.Engine.CacheTTL,
	}, feed, hist, ind, strategies, sel,
		usecase.WithEngineCache(c),
		usecase.WithEnginePerformance(tracker),
		usecase.WithEnginePublisher(pub),
		usecase.WithEngineMetrics(m),
		usecase.WithEngineClock(clk),
		usecase.WithEngineLogger(l.With(applogger.String("component", "engine"))),
	)
}

func ProvideSimulationEngine(
	store drepo.SimulationStore,
	engine *usecase.SignalEngine,
	tracker domsvc.PerformanceTracker,
	pub drepo.Publisher,
	m drepo.Metrics,
	clk clock.Clock,
	l *applogger.Logger,
) *usecase.SimulationEngine {
	return usecase.NewSimulationEngine(store, engine, tracker,
		usecase.WithSimulationPublisher(pub),
		usecase.WithSimulationMetrics(m),
		usecase.WithSimulationClock(clk),
		usecase.WithSimulationLogger(l.With(applogger.String("component", "simulation"))),
	)
}

// ProvideAggregator builds the summary aggregator. Units go through the job
// queue when configured and take a cache lock when the cache is shared.
func ProvideAggregator(
	cfg *config.Config,
	ticks drepo.TickStore,
	store drepo.AggregateStore,
	q *queue.RedisQueue,
	c pkgcache.Service,
	m drepo.Metrics,
	clk clock.Clock,
	l *applogger.Logger,
) *usecase.Aggregator {
	opts := []usecase.AggregatorOption{
		usecase.WithAggregatorMetrics(m),
		usecase.WithAggregatorClock(clk),
		usecase.WithAggregatorLogger(l.With(applogger.String("component", "aggregator"))),
	}
	if cfg.Aggregator.UseQueue && q != nil {
		opts = append(opts, usecase.WithAggregatorQueue(q))
	}
	if cfg.Cache.Backend != "memory" {
		opts = append(opts, usecase.WithAggregatorLocks(c, cfg.Aggregator.Interval))
	}
	return usecase.NewAggregator(ticks, store, cfg.Aggregator.Interval, opts...)
}

func ProvideTicksUseCase(store drepo.TickStore) *usecase.TicksUseCase {
	return usecase.NewTicksUseCase(store)
}

// ProvideKafkaConsumer creates the tick consumer for the kafka backend, or nil.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Storage.TickBackend != config.BackendKafka {
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
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook{Logger: l, Slow: time.Second})
	return consumer, nil
}

// ProvideKafkaTicksHandler writes consumed ticks to the tick store.
func ProvideKafkaTicksHandler(cfg *config.Config, store drepo.TickStore, m drepo.Metrics, clk clock.Clock) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, store, m, clk)
}

// ProvideEngineHandler mounts the API with a per-client limiter on refresh
// and simulation update routes.
func ProvideEngineHandler(
	l *applogger.Logger,
	engine *usecase.SignalEngine,
	sims *usecase.SimulationEngine,
	agg *usecase.Aggregator,
	ticks *usecase.TicksUseCase,
	clk clock.Clock,
) *api.EngineHandler {
	limiter := ratelimit.New(5, 1, ratelimit.WithClock(clk))
	return api.NewEngineHandler(l, engine, sims, agg, ticks, limiter, clk)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.EngineHandler) *xhttp.Server {
	path := cfg.Metrics.Path
	if !cfg.Metrics.Enabled {
		path = ""
	}
	return xhttp.NewServer(l, []xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
		xhttp.WithMetrics(path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.SignalEngine,
	agg *usecase.Aggregator,
	proc *usecase.TickProcessor,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTicksHandler,
	q *queue.RedisQueue,
) *server.App {
	return server.New(cfg, l, server.Components{
		Engine:       engine,
		Aggregator:   agg,
		Processor:    proc,
		HTTP:         httpServer,
		Consumer:     consumer,
		TicksHandler: kh,
		Queue:        q,
	})
}
