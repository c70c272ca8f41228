// Package account implements cash/position/equity bookkeeping for one side
// of a run (spec.md §4.6). Two instances exist per backtest: the
// server-side Account is authoritative, the client-side Account is a
// read-only shadow driven by the same events replayed across the S→C
// delay bus (spec.md §9 Open Question, resolved in SPEC_FULL.md §4).
package account

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/order"
	"github.com/hftlab/backtestsim/internal/scale"
)

// Counters holds the per-symbol cumulative statistics from spec.md §3.
type Counters struct {
	TotalCommission decimal.Decimal
	TotalFundingFee decimal.Decimal
	NetCashFlow     decimal.Decimal
	TotalTurnover   decimal.Decimal
	TotalTradeCount int64
}

// Account maintains cash_balance, per-symbol integer positions, last
// traded prices, cumulative counters, and the active-order map described
// in spec.md §3, updating them from Order/Trade/Funding/Delivery events.
type Account struct {
	id     event.ID
	engine *event.Engine
	logger *zap.Logger

	cashBalance decimal.Decimal
	positions   map[string]int64 // symbol -> quantity_int; key absent when zero
	lastPrice   map[string]decimal.Decimal
	counters    map[string]*Counters
	active      map[int64]*order.Order // order_id -> order, RECEIVED..terminal
	orderStates map[int64]order.State  // order_id -> last known state, for zombie detection
}

// New creates an Account bound to eng, listening for Order, TradePrint,
// Funding, and Delivery events. ignore_self is false throughout: an
// Account never emits any of these event types itself.
func New(id event.ID, eng *event.Engine, logger *zap.Logger) (*Account, error) {
	a := &Account{
		id:          id,
		engine:      eng,
		logger:      logger,
		cashBalance: decimal.Zero,
		positions:   make(map[string]int64),
		lastPrice:   make(map[string]decimal.Decimal),
		counters:    make(map[string]*Counters),
		active:      make(map[int64]*order.Order),
		orderStates: make(map[int64]order.State),
	}
	if err := eng.Register(&order.Order{}, a, false); err != nil {
		return nil, err
	}
	if err := eng.Register(&marketdata.TradePrint{}, a, false); err != nil {
		return nil, err
	}
	if err := eng.Register(&marketdata.Funding{}, a, false); err != nil {
		return nil, err
	}
	if err := eng.Register(&marketdata.Delivery{}, a, false); err != nil {
		return nil, err
	}
	return a, nil
}

// HandlerID implements event.Handler.
func (a *Account) HandlerID() event.ID { return a.id }

// HandleEvent implements event.Handler.
func (a *Account) HandleEvent(ev event.Event) {
	switch v := ev.(type) {
	case *order.Order:
		a.handleOrder(v)
	case *marketdata.TradePrint:
		a.handleTrade(v)
	case *marketdata.Funding:
		a.handleFunding(v)
	case *marketdata.Delivery:
		a.handleDelivery(v)
	}
}

func (a *Account) counter(symbol string) *Counters {
	c, ok := a.counters[symbol]
	if !ok {
		c = &Counters{
			TotalCommission: decimal.Zero,
			TotalFundingFee: decimal.Zero,
			NetCashFlow:     decimal.Zero,
			TotalTurnover:   decimal.Zero,
		}
		a.counters[symbol] = c
	}
	return c
}

// handleOrder implements spec.md §4.5.7 / §4.6: an order already observed
// in a terminal state is ignored outright, preventing zombie revival from
// a late or duplicate acknowledgment; RECEIVED inserts into the
// active-order map; FILLED applies the cash/position update and retires
// the entry; CANCELED retires it without a cash/position effect.
func (a *Account) handleOrder(o *order.Order) {
	if o.Type == order.Cancel {
		return
	}
	if prev, known := a.orderStates[o.OrderID]; known && prev.Terminal() {
		return
	}
	a.orderStates[o.OrderID] = o.State

	switch o.State {
	case order.Received:
		a.active[o.OrderID] = o
	case order.Filled:
		a.applyFill(o)
		delete(a.active, o.OrderID)
	case order.Canceled:
		delete(a.active, o.OrderID)
	}
}

// applyFill implements spec.md §4.6's atomic four-step fill update.
func (a *Account) applyFill(o *order.Order) {
	cashFlow := o.Quantity.Neg().Mul(o.FilledPrice)
	a.cashBalance = a.cashBalance.Add(cashFlow).Sub(o.CommissionFee)

	qInt := o.QuantityInt()
	newPos := a.positions[o.Symbol] + qInt
	if newPos == 0 {
		delete(a.positions, o.Symbol)
	} else {
		a.positions[o.Symbol] = newPos
	}

	c := a.counter(o.Symbol)
	c.TotalCommission = c.TotalCommission.Add(o.CommissionFee)
	c.NetCashFlow = c.NetCashFlow.Add(cashFlow)
	c.TotalTurnover = c.TotalTurnover.Add(o.FilledPrice.Mul(o.Quantity.Abs()))
	c.TotalTradeCount++

	a.logger.Debug("fill applied",
		zap.Int64("order_id", o.OrderID),
		zap.String("symbol", o.Symbol),
		zap.String("cash_balance", a.cashBalance.String()),
	)
}

func (a *Account) handleTrade(tp *marketdata.TradePrint) {
	a.lastPrice[tp.Symbol] = tp.Price
}

// handleFunding implements spec.md §4.6: fee is zero with no position.
func (a *Account) handleFunding(f *marketdata.Funding) {
	posInt, ok := a.positions[f.Symbol]
	if !ok || posInt == 0 {
		return
	}
	fee := scale.FromInt(posInt).Mul(f.MarkPrice).Mul(f.FundingRate)
	a.cashBalance = a.cashBalance.Sub(fee)
	a.counter(f.Symbol).TotalFundingFee = a.counter(f.Symbol).TotalFundingFee.Add(fee)
}

// handleDelivery implements spec.md §4.6: synthesizes a closing cash flow
// at the delivery price, drops the position, and drops any still-active
// order entries for the symbol (mirroring the matcher's book clear in
// spec.md §4.5.6, without emitting further events).
func (a *Account) handleDelivery(d *marketdata.Delivery) {
	if posInt, ok := a.positions[d.Symbol]; ok && posInt != 0 {
		cashFlow := scale.FromInt(posInt).Mul(d.DeliveryPrice)
		a.cashBalance = a.cashBalance.Add(cashFlow)
		a.counter(d.Symbol).NetCashFlow = a.counter(d.Symbol).NetCashFlow.Add(cashFlow)
	}
	delete(a.positions, d.Symbol)

	for id, o := range a.active {
		if o.Symbol == d.Symbol {
			delete(a.active, id)
			a.orderStates[id] = order.Canceled
		}
	}
}

// CashBalance returns the current cash balance.
func (a *Account) CashBalance() decimal.Decimal { return a.cashBalance }

// Position returns the position for symbol as a decimal quantity
// (quantity_int / SCALER), zero if absent.
func (a *Account) Position(symbol string) decimal.Decimal {
	posInt, ok := a.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return scale.FromInt(posInt)
}

// Positions returns a snapshot of every non-zero position as decimals.
func (a *Account) Positions() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.positions))
	for s, p := range a.positions {
		out[s] = scale.FromInt(p)
	}
	return out
}

// LastPrice returns the last observed trade price for symbol, or the zero
// value if none has been seen.
func (a *Account) LastPrice(symbol string) decimal.Decimal { return a.lastPrice[symbol] }

// ActiveOrders returns a snapshot of the order_id -> Order active-order map.
func (a *Account) ActiveOrders() map[int64]*order.Order {
	out := make(map[int64]*order.Order, len(a.active))
	for id, o := range a.active {
		out[id] = o
	}
	return out
}

// Counters returns the cumulative per-symbol statistics for symbol, or a
// zero-valued Counters if nothing has posted to it yet.
func (a *Account) Counters(symbol string) Counters {
	c, ok := a.counters[symbol]
	if !ok {
		return Counters{}
	}
	return *c
}

// Equity implements spec.md §3's invariant: cash_balance plus the
// mark-to-market value of every open position, valued at each symbol's
// last observed trade price. A position whose symbol has never traded
// contributes nothing until a TradePrint establishes a mark.
func (a *Account) Equity() decimal.Decimal {
	equity := a.cashBalance
	for symbol, posInt := range a.positions {
		px, ok := a.lastPrice[symbol]
		if !ok {
			continue
		}
		equity = equity.Add(scale.FromInt(posInt).Mul(px))
	}
	return equity
}

// TotalMargin sums the absolute mark-to-market notional of every open
// position, a simple proxy for margin usage.
func (a *Account) TotalMargin() decimal.Decimal {
	total := decimal.Zero
	for symbol, posInt := range a.positions {
		px, ok := a.lastPrice[symbol]
		if !ok {
			continue
		}
		total = total.Add(scale.FromInt(posInt).Mul(px).Abs())
	}
	return total
}

// Leverage returns TotalMargin / Equity, or zero when equity is zero.
func (a *Account) Leverage() decimal.Decimal {
	equity := a.Equity()
	if equity.IsZero() {
		return decimal.Zero
	}
	return a.TotalMargin().Div(equity)
}
