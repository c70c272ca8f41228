package main

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/account"
	"github.com/hftlab/backtestsim/internal/book"
	"github.com/hftlab/backtestsim/internal/config"
	"github.com/hftlab/backtestsim/internal/dataset"
	"github.com/hftlab/backtestsim/internal/delaybus"
	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/funding"
	"github.com/hftlab/backtestsim/internal/metrics"
	"github.com/hftlab/backtestsim/internal/recorder"
	"github.com/hftlab/backtestsim/internal/scheduler"
)

// Engine identities assigned by the composition root. Two EventEngines
// (server, client) and a handful of listeners share one identity space.
const (
	idServerEngine event.ID = iota + 1
	idClientEngine
	idServerToClientBus
	idClientToServerBus
	idMatchEngine
	idServerAccount
	idClientAccount
	idRecorder
	idServerObserver
	idClientObserver
	idFundingEmitter
)

// ServerEngine and ClientEngine distinguish the two *event.Engine values
// fx must provide; a bare *event.Engine would be ambiguous.
type ServerEngine struct{ Engine *event.Engine }
type ClientEngine struct{ Engine *event.Engine }

// ServerToClientBus and ClientToServerBus distinguish the run's two
// DelayBuses the same way.
type ServerToClientBus struct{ Bus *delaybus.Bus }
type ClientToServerBus struct{ Bus *delaybus.Bus }

// ServerAccount is the authoritative account; ClientAccount is its
// read-only shadow (spec.md §9 Open Question, resolved in SPEC_FULL.md §4).
type ServerAccount struct{ Account *account.Account }
type ClientAccount struct{ Account *account.Account }

func provideServerEngine(logger *zap.Logger) ServerEngine {
	return ServerEngine{Engine: event.NewEngine(idServerEngine, "server", logger)}
}

func provideClientEngine(logger *zap.Logger) ClientEngine {
	return ClientEngine{Engine: event.NewEngine(idClientEngine, "client", logger)}
}

func provideServerToClientBus(cfg *config.Config, server ServerEngine, client ClientEngine, logger *zap.Logger) (ServerToClientBus, error) {
	src := rand.New(rand.NewSource(cfg.Latency.Seed))
	latency := delaybus.JitteredLatency(cfg.Latency.ServerToClientBase, cfg.Latency.ServerToClientSpread, src)
	bus, err := delaybus.New(idServerToClientBus, "s2c", server.Engine, client.Engine, latency, logger)
	return ServerToClientBus{Bus: bus}, err
}

func provideClientToServerBus(cfg *config.Config, server ServerEngine, client ClientEngine, logger *zap.Logger) (ClientToServerBus, error) {
	src := rand.New(rand.NewSource(cfg.Latency.Seed + 1))
	latency := delaybus.JitteredLatency(cfg.Latency.ClientToServerBase, cfg.Latency.ClientToServerSpread, src)
	bus, err := delaybus.New(idClientToServerBus, "c2s", client.Engine, server.Engine, latency, logger)
	return ClientToServerBus{Bus: bus}, err
}

func provideDataset(cfg *config.Config) (*dataset.Merged, error) {
	sources := make([]dataset.Source, 0, len(cfg.Dataset.Paths))
	for _, p := range cfg.Dataset.Paths {
		src, err := dataset.NewCSVSource(p)
		if err != nil {
			return nil, fmt.Errorf("open dataset %s: %w", p, err)
		}
		sources = append(sources, src)
	}
	return dataset.New(sources)
}

func provideMatchEngine(cfg *config.Config, server ServerEngine, logger *zap.Logger) (*book.MatchEngine, error) {
	fees := book.FeeRates{
		Maker: decimal.NewFromFloat(cfg.Fees.Maker),
		Taker: decimal.NewFromFloat(cfg.Fees.Taker),
	}
	return book.New(idMatchEngine, server.Engine, fees, logger)
}

func provideServerAccount(server ServerEngine, logger *zap.Logger) (ServerAccount, error) {
	a, err := account.New(idServerAccount, server.Engine, logger)
	return ServerAccount{Account: a}, err
}

func provideClientAccount(client ClientEngine, logger *zap.Logger) (ClientAccount, error) {
	a, err := account.New(idClientAccount, client.Engine, logger)
	return ClientAccount{Account: a}, err
}

func provideRecorder(cfg *config.Config, sa ServerAccount, logger *zap.Logger) *recorder.Recorder {
	return recorder.New(idRecorder, sa.Account, cfg.Run.Symbols, cfg.Recorder.TradesPath, cfg.Recorder.SnapshotsPath, logger)
}

func provideFundingEmitter(cfg *config.Config) *funding.Emitter {
	rate := decimal.NewFromFloat(cfg.Funding.Rate)
	return funding.NewEmitter(idFundingEmitter, rate, cfg.Run.Symbols)
}

func provideMetricsAddr(cfg *config.Config) metrics.Addr {
	return metrics.Addr(cfg.Monitoring.HTTPAddr)
}

// ServerObserver and ClientObserver distinguish the run's two
// metrics.Observer values the same way ServerEngine/ClientEngine do.
type ServerObserver struct{ Observer *metrics.Observer }
type ClientObserver struct{ Observer *metrics.Observer }

func provideServerObserver(m *metrics.Metrics, sa ServerAccount) ServerObserver {
	return ServerObserver{Observer: metrics.NewObserver(idServerObserver, m, sa.Account, "server")}
}

func provideClientObserver(m *metrics.Metrics, ca ClientAccount) ClientObserver {
	return ClientObserver{Observer: metrics.NewObserver(idClientObserver, m, ca.Account, "client")}
}

// provideBacktestEngine assembles the scheduler. MatchEngine is not
// referenced here but must already exist by the time the run starts;
// main.go forces its construction via fx.Populate since nothing in this
// dependency graph otherwise requires its return value (it registers
// itself as a listener in its own constructor). Both Accounts are pulled
// in transitively through ServerObserver/ClientObserver/Recorder.
func provideBacktestEngine(
	cfg *config.Config,
	server ServerEngine,
	client ClientEngine,
	s2c ServerToClientBus,
	c2s ClientToServerBus,
	ds *dataset.Merged,
	rec *recorder.Recorder,
	fe *funding.Emitter,
	serverObs ServerObserver,
	clientObs ClientObserver,
	logger *zap.Logger,
) *scheduler.BacktestEngine {
	sched := scheduler.New(server.Engine, client.Engine, s2c.Bus, c2s.Bus, ds, scheduler.Config{
		TimerInterval:   cfg.Run.TimerInterval,
		FundingInterval: cfg.Funding.IntervalNS,
	}, logger)
	sched.RegisterServerComponent(rec)
	sched.RegisterServerComponent(fe)
	sched.RegisterServerComponent(serverObs.Observer)
	sched.RegisterClientComponent(clientObs.Observer)
	return sched
}
