// Package funding implements the periodic funding-rate emitter: a
// scheduler.Component that turns the BacktestEngine's TimerKindFunding
// ticks into Funding events, using the most recently observed top-of-book
// mid price per symbol as the mark price. spec.md leaves Funding's cadence
// unspecified; SPEC_FULL.md wires it onto the same periodic-timer
// machinery the recorder's snapshots use instead of leaving it an
// unexplained external input.
package funding

import (
	"github.com/shopspring/decimal"

	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
)

// two is hoisted so mid-price computation never reallocates a
// decimal.NewFromInt(2) per tick.
var two = decimal.NewFromInt(2)

// Emitter tracks the last top-of-book mid price per symbol and, on every
// TimerKindFunding tick, emits one Funding event per symbol that has seen
// at least one top-of-book update.
type Emitter struct {
	id      event.ID
	rate    decimal.Decimal
	symbols []string
	mark    map[string]decimal.Decimal
	eng     *event.Engine
}

// NewEmitter creates an Emitter applying rate at every funding tick to
// each of symbols, once a top-of-book mark price is known for it.
func NewEmitter(id event.ID, rate decimal.Decimal, symbols []string) *Emitter {
	return &Emitter{
		id:      id,
		rate:    rate,
		symbols: symbols,
		mark:    make(map[string]decimal.Decimal, len(symbols)),
	}
}

// HandlerID implements event.Handler.
func (e *Emitter) HandlerID() event.ID { return e.id }

// Start implements scheduler.Component: registers for TopOfBook (to track
// mark price) and Timer (to fire on the funding cadence) on eng.
func (e *Emitter) Start(eng *event.Engine) error {
	e.eng = eng
	if err := eng.Register(&marketdata.TopOfBook{}, e, false); err != nil {
		return err
	}
	return eng.Register(&marketdata.Timer{}, e, false)
}

// Stop implements scheduler.Component; Emitter owns no resources to release.
func (e *Emitter) Stop() error { return nil }

// HandleEvent implements event.Handler.
func (e *Emitter) HandleEvent(ev event.Event) {
	switch v := ev.(type) {
	case *marketdata.TopOfBook:
		e.mark[v.Symbol] = v.BestBidPrice.Add(v.BestAskPrice).Div(two)
	case *marketdata.Timer:
		if v.Kind != marketdata.TimerKindFunding {
			return
		}
		e.fire(v.Header.Timestamp)
	}
}

func (e *Emitter) fire(ts int64) {
	for _, symbol := range e.symbols {
		mark, known := e.mark[symbol]
		if !known {
			continue
		}
		e.eng.Put(&marketdata.Funding{
			Header:      event.Header{Timestamp: ts},
			Symbol:      symbol,
			MarkPrice:   mark,
			FundingRate: e.rate,
		})
	}
}
