// Command backtest runs one deterministic, single-threaded backtest of an
// HFT strategy against historical top-of-book/trade/funding/delivery data,
// using go.uber.org/fx to wire the run's components the way the teacher's
// cmd/tradsys wires its trading server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/book"
	"github.com/hftlab/backtestsim/internal/config"
	"github.com/hftlab/backtestsim/internal/metrics"
	"github.com/hftlab/backtestsim/internal/scheduler"
)

const (
	appName    = "backtestsim"
	appVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config.ApplyRuntimeTuning(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("backtest run failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	var sched *scheduler.BacktestEngine
	var m *metrics.Metrics
	var matchEngine *book.MatchEngine

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(logger),
		metrics.Module,
		fx.Provide(
			provideMetricsAddr,
			provideServerEngine,
			provideClientEngine,
			provideServerToClientBus,
			provideClientToServerBus,
			provideDataset,
			provideMatchEngine,
			provideServerAccount,
			provideClientAccount,
			provideServerObserver,
			provideClientObserver,
			provideRecorder,
			provideFundingEmitter,
			provideBacktestEngine,
		),
		// MatchEngine registers itself as a listener in its own constructor
		// and is never a dependency of another provider, so fx would never
		// invoke provideMatchEngine without it appearing in Populate.
		fx.Populate(&sched, &m, &matchEngine),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start composition root: %w", err)
	}

	logger.Info("starting backtest run", zap.String("run_id", sched.RunID().String()))
	runErr := sched.Run()

	var regression *scheduler.TimeRegressionError
	if errors.As(runErr, &regression) {
		m.TimeRegressions.Inc()
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if stopErr := app.Stop(stopCtx); stopErr != nil {
		logger.Error("stop composition root", zap.Error(stopErr))
	}

	if runErr != nil {
		return fmt.Errorf("scheduler run: %w", runErr)
	}
	logger.Info("backtest run complete")
	return nil
}
