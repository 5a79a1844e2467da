package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"SignalDesk/internal/usecase"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	pkgkafka "SignalDesk/pkg/kafka"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/queue"
)

// Components are the long-running parts the App starts and stops. Consumer,
// TicksHandler and Queue are nil when their backend is disabled.
type Components struct {
	Engine       *usecase.SignalEngine
	Aggregator   *usecase.Aggregator
	Processor    *usecase.TickProcessor
	HTTP         *xhttp.Server
	Consumer     *pkgkafka.Consumer
	TicksHandler pkgkafka.MessageHandler
	Queue        *queue.RedisQueue
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	Components

	wg sync.WaitGroup
}

func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, log: l, Components: c}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and shuts down when ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(runCtx); err != nil {
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancel()
	a.shutdown()
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.Queue != nil {
		if a.cfg.Aggregator.UseQueue {
			a.Queue.RegisterJob(a.Aggregator.Job())
		}
		if a.cfg.Log.Collector.Enabled {
			a.Queue.RegisterJob(logBatchJob(a.cfg.Log.Collector.Topic, a.log))
		}
		if err := a.Queue.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
		if a.cfg.Log.Collector.Enabled {
			a.log.AddCollector(&applogger.CollectionConfig{
				TimeInterval:   a.cfg.Log.Collector.Interval,
				CountThreshold: a.cfg.Log.Collector.Threshold,
				Topic:          a.cfg.Log.Collector.Topic,
				Publisher:      a.Queue,
			})
		}
	}

	if a.cfg.Log.Collector.Enabled && a.Queue == nil {
		a.log.Warn("log collector needs queue.enabled, collector disabled")
	}

	if a.Consumer != nil && a.TicksHandler != nil {
		a.Consumer.RegisterHandler(a.TicksHandler)
		if err := a.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.TicksHandler.Topic()))
	}

	for _, sym := range a.cfg.Engine.Symbols {
		if _, err := a.Engine.AddSymbol(sym); err != nil {
			a.log.Warn("skipping configured symbol", applogger.String("symbol", sym), applogger.Error(err))
		}
	}
	if a.cfg.Engine.AutoStart {
		if err := a.Engine.Start(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Aggregator.Enabled {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Aggregator.Run(ctx)
		}()
	}

	if err := a.HTTP.Start(); err != nil {
		return fmt.Errorf("start http: %w", err)
	}
	a.log.Info("signaldesk started",
		applogger.Strings("symbols", a.cfg.Engine.Symbols),
		applogger.String("tick_backend", a.cfg.Storage.TickBackend),
		applogger.String("state_backend", a.cfg.Storage.StateBackend))
	return nil
}

// shutdown stops components in reverse dependency order. Infrastructure
// clients are closed afterwards by the injector cleanup.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.HTTP != nil {
		if err := a.HTTP.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	a.Engine.Stop()
	a.wg.Wait()

	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.log.RemoveCollector()
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}

	if a.Processor != nil {
		a.Processor.Close()
	}

	a.log.Info("shutdown complete")
}

// logBatchJob drains collected log batches published on topic.
func logBatchJob(topic string, l *applogger.Logger) queue.Job {
	return queue.Typed(topic, func(_ context.Context, entries *[]applogger.AggregatedLogEntry) error {
		for _, e := range *entries {
			l.Info("collected log",
				applogger.String("level", e.Level),
				applogger.String("message", e.Message),
				applogger.Int("count", e.Count),
				applogger.String("caller", e.Caller))
		}
		return nil
	})
}
