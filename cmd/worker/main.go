// cmd/worker/main.go
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

	"github.com/magictalent/ai-agent-backend/internal/app"
	"github.com/magictalent/ai-agent-backend/internal/clock"
	"github.com/magictalent/ai-agent-backend/internal/config"
	"github.com/magictalent/ai-agent-backend/internal/logging"
	"github.com/magictalent/ai-agent-backend/internal/queue"
	"github.com/magictalent/ai-agent-backend/internal/scheduler"
)

var (
	workerOnce     bool
	workerNoQueue  bool
	workerInterval time.Duration
	workerBatch    int
)

func init() {
	rootCmd.Flags().DurationVar(&workerInterval, "interval", 60*time.Second, "time between dispatch ticks (TICK_INTERVAL)")
	rootCmd.Flags().IntVar(&workerBatch, "batch", 50, "maximum items per tick (TICK_BATCH_SIZE)")
	rootCmd.Flags().BoolVar(&workerOnce, "once", false, "run a single tick, print the result and exit")
	rootCmd.Flags().BoolVar(&workerNoQueue, "no-queue", false, "do not consume sequence_starts from RabbitMQ")
}

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Dispatch due outreach sequence items",
	Long: "Runs the sequence dispatcher on a fixed interval and consumes queued " +
		"sequence starts from RabbitMQ.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWorker,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.Viper()
	if err := v.BindPFlag("TICK_INTERVAL", cmd.Flags().Lookup("interval")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("TICK_BATCH_SIZE", cmd.Flags().Lookup("batch")); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogLevel, !cfg.LogJSON)
	log := logging.Component("worker")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	senders := app.NewSenders(ctx, cfg, stores.Tokens)
	defer senders.Close()

	clk := clock.Real{}
	dispatcher := app.NewDispatcher(cfg, stores, senders, clk)
	sched := scheduler.New(scheduler.Config{Interval: cfg.TickInterval, BatchSize: cfg.TickBatchSize}, dispatcher, clk)

	if workerOnce {
		result, err := sched.TriggerNow(ctx, 0)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if !workerNoQueue {
		q, err := queue.DialAMQP(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer q.Close()
		if err := queue.StartSequenceStartSubscriber(ctx, q, app.NewBuilder(stores, clk)); err != nil {
			return err
		}
		log.Info().Str("topic", queue.TopicSequenceStarts).Msg("consuming sequence starts")
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	log.Info().
		Str("worker_id", cfg.WorkerID).
		Dur("interval", cfg.TickInterval).
		Int("batch", cfg.TickBatchSize).
		Msg("worker running")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return sched.Stop()
}
