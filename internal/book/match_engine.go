package book

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/order"
)

// FeeRates carries the maker/taker fee rates applied to every fill.
type FeeRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// MatchEngine consumes market-data events and inbound orders, delegates
// book storage to one OrderBook per symbol, and emits order state
// transitions (RECEIVED, FILLED, CANCELED) back onto its bound engine.
type MatchEngine struct {
	id     event.ID
	engine *event.Engine
	fees   FeeRates
	logger *zap.Logger

	books      map[string]*OrderBook
	lastTOB    map[string]*marketdata.TopOfBook
	orderIndex map[int64]string // order_id -> symbol, O(1) cancel lookup across books
}

// New creates a MatchEngine bound to eng, registering itself for Order,
// TopOfBook, TradePrint, and Delivery events. ignore_self=true on Order
// registration is load-bearing: the matcher is both a producer (it emits
// RECEIVED/FILLED/CANCELED) and a consumer of Order events, and must not
// reprocess its own output as a freshly submitted order.
func New(id event.ID, eng *event.Engine, fees FeeRates, logger *zap.Logger) (*MatchEngine, error) {
	m := &MatchEngine{
		id:         id,
		engine:     eng,
		fees:       fees,
		logger:     logger,
		books:      make(map[string]*OrderBook),
		lastTOB:    make(map[string]*marketdata.TopOfBook),
		orderIndex: make(map[int64]string),
	}
	if err := eng.Register(&order.Order{}, m, true); err != nil {
		return nil, err
	}
	if err := eng.Register(&marketdata.TopOfBook{}, m, false); err != nil {
		return nil, err
	}
	if err := eng.Register(&marketdata.TradePrint{}, m, false); err != nil {
		return nil, err
	}
	if err := eng.Register(&marketdata.Delivery{}, m, false); err != nil {
		return nil, err
	}
	return m, nil
}

// HandlerID implements event.Handler.
func (m *MatchEngine) HandlerID() event.ID { return m.id }

// HandleEvent implements event.Handler.
func (m *MatchEngine) HandleEvent(ev event.Event) {
	switch v := ev.(type) {
	case *order.Order:
		m.handleOrder(v)
	case *marketdata.TopOfBook:
		m.handleTopOfBook(v)
	case *marketdata.TradePrint:
		m.handleTradePrint(v)
	case *marketdata.Delivery:
		m.handleDelivery(v)
	}
}

func (m *MatchEngine) bookFor(symbol string) *OrderBook {
	ob, ok := m.books[symbol]
	if !ok {
		ob = newOrderBook(symbol)
		m.books[symbol] = ob
	}
	return ob
}

// GetOrderBook exposes the per-symbol book for diagnostics and tests.
func (m *MatchEngine) GetOrderBook(symbol string) *OrderBook { return m.books[symbol] }

func (m *MatchEngine) emit(o *order.Order) {
	m.engine.Put(o)
}

func (m *MatchEngine) reject(o *order.Order, reason order.RejectReason) {
	out := o.Derive().(*order.Order)
	out.State = o.State
	out.RejectReason = reason
	m.logger.Debug("order rejected",
		zap.Int64("order_id", o.OrderID),
		zap.String("symbol", o.Symbol),
		zap.String("reason", reason.String()),
	)
	m.emit(out)
}

func (m *MatchEngine) feeFor(isMaker bool) decimal.Decimal {
	if isMaker {
		return m.fees.Maker
	}
	return m.fees.Taker
}

// fill stamps filledPrice/commission on a copy of o, marks it FILLED, and
// emits it. The resting entry, if any, must already have been removed
// from the book by the caller before this runs (spec.md §4.5.5).
func (m *MatchEngine) fill(o *order.Order, filledPriceInt int64, isMaker bool) {
	out := o.Derive().(*order.Order)
	out.State = order.Filled
	out.FilledPrice = order.FromScaledInt(filledPriceInt)
	notional := out.FilledPrice.Mul(out.Quantity).Abs()
	out.CommissionFee = notional.Mul(m.feeFor(isMaker))

	m.logger.Debug("order filled",
		zap.Int64("order_id", o.OrderID),
		zap.String("symbol", o.Symbol),
		zap.Bool("maker", isMaker),
		zap.String("price", out.FilledPrice.String()),
	)
	m.emit(out)
}

// rest inserts o into its symbol's book and indexes it for O(1) cancel.
func (m *MatchEngine) rest(o *order.Order) {
	m.bookFor(o.Symbol).insert(o)
	m.orderIndex[o.OrderID] = o.Symbol
}

// removeResting removes and returns the resting order for orderID, or nil
// if it isn't resting (already filled, canceled, or never received).
func (m *MatchEngine) removeResting(orderID int64) *order.Order {
	symbol, ok := m.orderIndex[orderID]
	if !ok {
		return nil
	}
	ob := m.books[symbol]
	o := ob.remove(orderID)
	if o != nil {
		delete(m.orderIndex, orderID)
	}
	return o
}
