package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"SignalDesk/internal/di"
	"SignalDesk/pkg/config"
	"SignalDesk/pkg/server"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "signaldesk",
		Short:        "Crypto trading signal engine",
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(aggregateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, aggregator and HTTP API until interrupted",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, cleanup, err := build(func(*config.Config) {})
	if err != nil {
		return err
	}
	defer cleanup()
	return app.Run()
}

func signalCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "signal <SYMBOL>",
		Short: "Backfill a symbol, compute one decision and print it as JSON",
		Example: `  signaldesk signal BTCUSDT
  signaldesk signal --timeout 30s ethusdt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := build(offline)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := commandContext(timeout)
			defer cancel()

			symbol := args[0]
			if _, err := app.Engine.AddSymbol(symbol); err != nil {
				return err
			}
			if _, err := app.Engine.Backfill(ctx, symbol); err != nil {
				return err
			}
			d, err := app.Engine.UpdatePriceAndCalculateSignal(ctx, symbol)
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "overall deadline")
	return cmd
}

func aggregateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Run one aggregation pass over stored ticks and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := build(func(c *config.Config) {
				offline(c)
				c.Aggregator.UseQueue = false
			})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := commandContext(timeout)
			defer cancel()

			return printJSON(cmd, app.Aggregator.RunOnce(ctx))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	return cmd
}

// offline disables the parts of the stack a one-shot command never starts.
func offline(c *config.Config) {
	c.Engine.AutoStart = false
	c.Kafka.Enabled = false
	if c.Storage.TickBackend == config.BackendKafka {
		c.Storage.TickBackend = config.BackendClickHouse
	}
	c.Log.Collector.Enabled = false
}

func build(adjust func(*config.Config)) (*server.App, func(), error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}
	adjust(cfg)
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, cleanup, nil
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
