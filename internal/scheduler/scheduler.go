// Package scheduler implements BacktestEngine, the dual-clock driver that
// owns the server and client EventEngines, the two DelayBuses between
// them, the dataset iterator, and an optional periodic Timer (spec.md
// §4.3).
package scheduler

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/dataset"
	"github.com/hftlab/backtestsim/internal/delaybus"
	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
)

// TimeRegressionError is a fatal, fail-fast error: one of the candidate
// timestamps in the scheduler loop fell behind an engine's current clock
// (spec.md §4.3).
type TimeRegressionError struct {
	Candidate int64
	ServerClk int64
	ClientClk int64
}

func (e *TimeRegressionError) Error() string {
	return fmt.Sprintf("time regression: candidate=%d server_clock=%d client_clock=%d",
		e.Candidate, e.ServerClk, e.ClientClk)
}

// Component mirrors the Design Notes' generalized capability set
// (spec.md §9): anything with a lifecycle tied to a run, started once the
// engines exist and stopped on every exit path, success or failure.
type Component interface {
	Start(eng *event.Engine) error
	Stop() error
}

// noTimestamp must match delaybus's empty-queue sentinel so an exhausted
// dataset and two drained buses compare equal and stop the loop.
const noTimestamp = int64(1) << 62

// Config carries the run-level knobs a host supplies when assembling a
// BacktestEngine: the two periodic timer intervals, and nothing else —
// symbols, fees, and latency models belong to the components the host
// constructs separately and registers here. The two timers share one
// priority loop but tick on independent cadences and carry distinct
// Kinds (TimerKindSnapshot, TimerKindFunding) so listeners can tell them
// apart (SPEC_FULL.md's funding-timer wiring).
type Config struct {
	TimerInterval   int64 // 0 disables the periodic snapshot timer
	FundingInterval int64 // 0 disables the periodic funding timer
}

// BacktestEngine implements spec.md §4.3's priority loop: at each step it
// computes min(t_data, t_s2c, t_c2s, t_snapshot, t_funding) and dispatches
// exactly one of the five sources, with ties broken S→C, then C→S, then
// the snapshot timer, then the funding timer, then data.
type BacktestEngine struct {
	runID uuid.UUID

	server *event.Engine
	client *event.Engine

	s2c *delaybus.Bus
	c2s *delaybus.Bus

	dataset *dataset.Merged
	cfg     Config
	logger  *zap.Logger

	serverComponents []Component
	clientComponents []Component

	nextSnapshotTimer int64
	nextFundingTimer  int64
	dataExhausted     bool
	pendingData       event.Event
}

// New wires a BacktestEngine around already-constructed server/client
// engines, their two delay buses, and a merged dataset. The caller is
// responsible for registering MatchEngine/Account/etc. against the
// engines before Run is called — BacktestEngine itself only drives time.
func New(server, client *event.Engine, s2c, c2s *delaybus.Bus, ds *dataset.Merged, cfg Config, logger *zap.Logger) *BacktestEngine {
	b := &BacktestEngine{
		runID:   uuid.New(),
		server:  server,
		client:  client,
		s2c:     s2c,
		c2s:     c2s,
		dataset: ds,
		cfg:     cfg,
		logger:  logger,
	}
	if cfg.TimerInterval > 0 {
		b.nextSnapshotTimer = cfg.TimerInterval
	} else {
		b.nextSnapshotTimer = noTimestamp
	}
	if cfg.FundingInterval > 0 {
		b.nextFundingTimer = cfg.FundingInterval
	} else {
		b.nextFundingTimer = noTimestamp
	}
	return b
}

// RunID returns the identifier generated for this scheduler instance,
// usable by a recorder to tag output rows from the same run.
func (b *BacktestEngine) RunID() uuid.UUID { return b.runID }

// RegisterServerComponent adds a lifecycle-managed component bound to the
// server engine's side of the run.
func (b *BacktestEngine) RegisterServerComponent(c Component) {
	b.serverComponents = append(b.serverComponents, c)
}

// RegisterClientComponent adds a lifecycle-managed component bound to the
// client engine's side of the run.
func (b *BacktestEngine) RegisterClientComponent(c Component) {
	b.clientComponents = append(b.clientComponents, c)
}

// Run drives the scheduler loop to completion: components are started
// against their respective engines, the priority loop runs until the
// dataset is exhausted and both buses have drained, and components are
// stopped on every exit path.
func (b *BacktestEngine) Run() error {
	if err := b.startAll(); err != nil {
		_ = b.stopAll()
		return err
	}

	err := b.loop()

	if stopErr := b.stopAll(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

func (b *BacktestEngine) startAll() error {
	for _, c := range b.serverComponents {
		if err := c.Start(b.server); err != nil {
			return fmt.Errorf("start server component: %w", err)
		}
	}
	for _, c := range b.clientComponents {
		if err := c.Start(b.client); err != nil {
			return fmt.Errorf("start client component: %w", err)
		}
	}
	return nil
}

func (b *BacktestEngine) stopAll() error {
	var errs []error
	for _, c := range b.clientComponents {
		if err := c.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range b.serverComponents {
		if err := c.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *BacktestEngine) loop() error {
	if err := b.fillData(); err != nil {
		return err
	}

	for {
		tData := b.dataTimestamp()
		tS2C := b.s2c.NextTimestamp()
		tC2S := b.c2s.NextTimestamp()
		tSnapshot := b.nextSnapshotTimer
		tFunding := b.nextFundingTimer

		min := minOf(tData, tS2C, tC2S, tSnapshot, tFunding)
		if min == noTimestamp {
			return nil // dataset exhausted and both buses drained
		}

		if err := b.checkRegression(tData, tS2C, tC2S, tSnapshot, tFunding); err != nil {
			return err
		}

		switch {
		case tS2C == min:
			b.s2c.ProcessUntil(min)
		case tC2S == min:
			b.c2s.ProcessUntil(min)
		case tSnapshot == min:
			b.fireTimer(min, marketdata.TimerKindSnapshot, &b.nextSnapshotTimer, b.cfg.TimerInterval)
		case tFunding == min:
			b.fireTimer(min, marketdata.TimerKindFunding, &b.nextFundingTimer, b.cfg.FundingInterval)
		default:
			if err := b.dispatchData(min); err != nil {
				return err
			}
		}
	}
}

// checkRegression implements spec.md §4.3: any of the candidate
// timestamps falling strictly behind either engine's current clock is a
// fatal, fail-fast condition. Sentinel (exhausted/empty) candidates equal
// noTimestamp and never trip this.
func (b *BacktestEngine) checkRegression(candidates ...int64) error {
	serverClk, clientClk := b.server.Clock(), b.client.Clock()
	for _, c := range candidates {
		if c == noTimestamp {
			continue
		}
		if c < serverClk || c < clientClk {
			return &TimeRegressionError{Candidate: c, ServerClk: serverClk, ClientClk: clientClk}
		}
	}
	return nil
}

func (b *BacktestEngine) dataTimestamp() int64 {
	if b.dataExhausted || b.pendingData == nil {
		return noTimestamp
	}
	return b.pendingData.EventHeader().Timestamp
}

// fillData pulls the next dataset element into pendingData, marking the
// dataset exhausted on io.EOF. Per spec.md §4.3, once the dataset is
// exhausted the loop only drains the two delay buses — no further timer
// ticks — so both timers are pinned to the sentinel alongside pendingData.
func (b *BacktestEngine) fillData() error {
	ev, err := b.dataset.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			b.dataExhausted = true
			b.pendingData = nil
			b.nextSnapshotTimer = noTimestamp
			b.nextFundingTimer = noTimestamp
			return nil
		}
		return fmt.Errorf("dataset: %w", err)
	}
	b.pendingData = ev
	return nil
}

func (b *BacktestEngine) dispatchData(t int64) error {
	ev := b.pendingData
	b.server.AdvanceTo(t)
	b.server.Put(ev)
	return b.fillData()
}

func (b *BacktestEngine) fireTimer(t int64, kind marketdata.TimerKind, next *int64, interval int64) {
	b.server.AdvanceTo(t)
	b.server.Put(&marketdata.Timer{
		Header: event.Header{Timestamp: t},
		Kind:   kind,
	})
	*next = t + interval
}

func minOf(vals ...int64) int64 {
	m := noTimestamp
	for _, v := range vals {
		if v < m {
			m = v
		}
	}
	return m
}
