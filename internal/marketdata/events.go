// Package marketdata defines the event payloads produced by historical
// data sources and consumed by the order book and account: top-of-book
// snapshots, aggregated trade prints, funding, and delivery/expiry.
//
// Dataset decoding itself (CSV/Parquet row materialization) is an
// external collaborator per spec.md §1; this package only specifies the
// wire shape these events take once materialized.
package marketdata

import (
	"github.com/shopspring/decimal"

	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/scale"
)

// Side identifies the aggressor side of an aggregated trade print.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// TopOfBook is a top-of-book snapshot: best bid/ask price and displayed
// size, published on change.
type TopOfBook struct {
	event.Header

	Symbol        string
	BestBidPrice  decimal.Decimal
	BestBidSize   decimal.Decimal
	BestAskPrice  decimal.Decimal
	BestAskSize   decimal.Decimal
}

func (t *TopOfBook) EventHeader() *event.Header { return &t.Header }

func (t *TopOfBook) Derive() event.Event {
	cp := *t
	cp.Header.Reset()
	return &cp
}

// BestBidInt returns the scaled-integer best bid price.
func (t *TopOfBook) BestBidInt() int64 {
	return scaleToInt(t.BestBidPrice)
}

// BestAskInt returns the scaled-integer best ask.
func (t *TopOfBook) BestAskInt() int64 {
	return scaleToInt(t.BestAskPrice)
}

// TradePrint is an aggregated trade print: one or more trades executed at
// one price, with total size and the taker's side.
type TradePrint struct {
	event.Header

	Symbol string
	Price  decimal.Decimal
	Size   decimal.Decimal
	Taker  Side
}

func (t *TradePrint) EventHeader() *event.Header { return &t.Header }

func (t *TradePrint) Derive() event.Event {
	cp := *t
	cp.Header.Reset()
	return &cp
}

func (t *TradePrint) PriceInt() int64 { return scaleToInt(t.Price) }

// Funding is a periodic funding-rate event for a perpetual symbol.
type Funding struct {
	event.Header

	Symbol      string
	MarkPrice   decimal.Decimal
	FundingRate decimal.Decimal
}

func (f *Funding) EventHeader() *event.Header { return &f.Header }

func (f *Funding) Derive() event.Event {
	cp := *f
	cp.Header.Reset()
	return &cp
}

// Delivery is a delivery/expiry event: the symbol settles at
// DeliveryPrice and every resting order and open position is closed.
type Delivery struct {
	event.Header

	Symbol        string
	DeliveryPrice decimal.Decimal
}

func (d *Delivery) EventHeader() *event.Header { return &d.Header }

func (d *Delivery) Derive() event.Event {
	cp := *d
	cp.Header.Reset()
	return &cp
}

// TimerKind distinguishes the two cadences of the BacktestEngine's
// periodic Timer events: recorder snapshots and funding application. The
// scheduler runs each on its own interval and both emit this one Timer
// event type.
type TimerKind uint8

const (
	TimerKindSnapshot TimerKind = iota
	TimerKindFunding
)

// Timer is the periodic tick emitted by the scheduler every Δ.
type Timer struct {
	event.Header

	Kind TimerKind
}

func (t *Timer) EventHeader() *event.Header { return &t.Header }

func (t *Timer) Derive() event.Event {
	cp := *t
	cp.Header.Reset()
	return &cp
}

func scaleToInt(v decimal.Decimal) int64 { return scale.ToInt(v) }
