package book_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/book"
	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/order"
)

const symbol = "BTC-USD"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// capture records every Order event the engine dispatches back out, so a
// test can inspect the matcher's output without peeking at internals.
type capture struct {
	id     event.ID
	orders []*order.Order
}

func (c *capture) HandlerID() event.ID { return c.id }
func (c *capture) HandleEvent(ev event.Event) {
	// Producer 0 marks an order put by the test itself, not by a listener.
	if o, ok := ev.(*order.Order); ok && o.Producer != 0 {
		c.orders = append(c.orders, o)
	}
}

func newHarness(t *testing.T) (*event.Engine, *book.MatchEngine, *capture) {
	t.Helper()
	eng := event.NewEngine(1, "server", zap.NewNop())
	fees := book.FeeRates{Maker: dec("0.0002"), Taker: dec("0.0005")}
	me, err := book.New(2, eng, fees, zap.NewNop())
	require.NoError(t, err)
	cap := &capture{id: 3}
	require.NoError(t, eng.Register(&order.Order{}, cap, false))
	return eng, me, cap
}

func tob(bidPx, bidSz, askPx, askSz string) *marketdata.TopOfBook {
	return &marketdata.TopOfBook{
		Header:       event.Header{Timestamp: 1},
		Symbol:       symbol,
		BestBidPrice: dec(bidPx), BestBidSize: dec(bidSz),
		BestAskPrice: dec(askPx), BestAskSize: dec(askSz),
	}
}

func submit(id int64, typ order.Type, qty, price string) *order.Order {
	return &order.Order{
		Header:   event.Header{Timestamp: 1},
		OrderID:  id,
		Type:     typ,
		Symbol:   symbol,
		Quantity: dec(qty),
		Price:    dec(price),
		State:    order.Submitted,
	}
}

// Scenario 1: immediate taker fill.
func TestScenario_ImmediateTakerFill(t *testing.T) {
	eng, _, cap := newHarness(t)
	eng.Put(tob("100.0", "10", "100.2", "10"))

	eng.Put(submit(1, order.Limit, "1", "100.3"))

	var filled *order.Order
	for _, o := range cap.orders {
		if o.State == order.Filled {
			filled = o
		}
	}
	require.NotNil(t, filled)
	assert.True(t, filled.FilledPrice.Equal(dec("100.2")))
	wantCommission := dec("100.2").Mul(dec("1")).Mul(dec("0.0005"))
	assert.True(t, filled.CommissionFee.Equal(wantCommission), "got %s want %s", filled.CommissionFee, wantCommission)
}

// Scenario 2: maker rests then fills by queue exhaustion.
func TestScenario_MakerQueueExhaustion(t *testing.T) {
	eng, me, cap := newHarness(t)
	eng.Put(tob("100.0", "10", "100.2", "10"))

	eng.Put(submit(2, order.Limit, "1", "100.0"))

	resting := me.GetOrderBook(symbol)
	require.NotNil(t, resting)
	snap := resting.GetSnapshot()
	assert.Equal(t, 1, snap.BuyLevels[order.ScaleToInt(dec("100.0"))])

	cap.orders = nil
	eng.Put(&marketdata.TradePrint{
		Header: event.Header{Timestamp: 2}, Symbol: symbol,
		Price: dec("100.0"), Size: dec("6"), Taker: marketdata.SideSell,
	})
	assert.Empty(t, cap.orders, "no fill yet: traded=6 <= rank=10")

	eng.Put(&marketdata.TradePrint{
		Header: event.Header{Timestamp: 3}, Symbol: symbol,
		Price: dec("100.0"), Size: dec("5"), Taker: marketdata.SideSell,
	})
	require.Len(t, cap.orders, 1)
	filled := cap.orders[0]
	assert.Equal(t, order.Filled, filled.State)
	assert.True(t, filled.FilledPrice.Equal(dec("100.0")))
	wantCommission := dec("100.0").Mul(dec("1")).Mul(dec("0.0002"))
	assert.True(t, filled.CommissionFee.Equal(wantCommission))
}

// Scenario 3: cross by top-of-book move.
func TestScenario_CrossByTopOfBookMove(t *testing.T) {
	eng, _, cap := newHarness(t)
	eng.Put(tob("100.0", "10", "100.2", "10"))
	eng.Put(submit(3, order.Limit, "1", "100.0"))

	cap.orders = nil
	eng.Put(tob("99.8", "10", "99.9", "10"))

	require.Len(t, cap.orders, 1)
	filled := cap.orders[0]
	assert.Equal(t, order.Filled, filled.State)
	assert.True(t, filled.FilledPrice.Equal(dec("100.0")))
	wantCommission := dec("100.0").Mul(dec("1")).Mul(dec("0.0002"))
	assert.True(t, filled.CommissionFee.Equal(wantCommission))
}

// Scenario 4: cancel before fill.
func TestScenario_CancelBeforeFill(t *testing.T) {
	eng, me, cap := newHarness(t)
	eng.Put(tob("100.0", "10", "100.2", "10"))
	eng.Put(submit(7, order.Limit, "1", "100.0"))

	cap.orders = nil
	cancel := &order.Order{
		Header: event.Header{Timestamp: 2}, OrderID: 100,
		Type: order.Cancel, CancelTargetID: 7, State: order.Submitted,
	}
	eng.Put(cancel)

	require.Len(t, cap.orders, 1)
	assert.Equal(t, order.Canceled, cap.orders[0].State)
	assert.EqualValues(t, 7, cap.orders[0].OrderID)

	ob := me.GetOrderBook(symbol)
	snap := ob.GetSnapshot()
	assert.Zero(t, snap.BuyLevels[order.ScaleToInt(dec("100.0"))])

	// A trade at that price afterward must not fill a nonexistent order.
	cap.orders = nil
	eng.Put(&marketdata.TradePrint{
		Header: event.Header{Timestamp: 3}, Symbol: symbol,
		Price: dec("100.0"), Size: dec("100"), Taker: marketdata.SideSell,
	})
	assert.Empty(t, cap.orders)
}

// A malformed cancel target id is InvalidOrder, rejected by the matcher
// with no state change — distinct from a well-formed id that simply
// doesn't match any resting order (silently ignored, see above).
func TestHandleCancel_InvalidTargetIDIsRejectedNotIgnored(t *testing.T) {
	eng, _, cap := newHarness(t)

	cap.orders = nil
	cancel := &order.Order{
		Header: event.Header{Timestamp: 1}, OrderID: 100,
		Type: order.Cancel, CancelTargetID: 0, State: order.Submitted,
	}
	eng.Put(cancel)

	require.Len(t, cap.orders, 1)
	assert.Equal(t, order.RejectInvalidCancelTarget, cap.orders[0].RejectReason)
	assert.Equal(t, order.Submitted, cap.orders[0].State)
}

// A well-formed but unmatched target id is the spec's silent-ignore case:
// no rejection event, no state change, nothing emitted at all.
func TestHandleCancel_WellFormedMissTargetIsSilentlyIgnored(t *testing.T) {
	eng, _, cap := newHarness(t)

	cap.orders = nil
	cancel := &order.Order{
		Header: event.Header{Timestamp: 1}, OrderID: 100,
		Type: order.Cancel, CancelTargetID: 999, State: order.Submitted,
	}
	eng.Put(cancel)

	assert.Empty(t, cap.orders)
}

// Scenario 6: delay-bus ordering is exercised end-to-end in the scheduler
// package; this package only guarantees the matcher processes events in
// the order the engine hands them to it, which the above scenarios pin.

func TestDelivery_ClearsBook(t *testing.T) {
	eng, me, cap := newHarness(t)
	eng.Put(tob("100.0", "10", "100.2", "10"))
	eng.Put(submit(9, order.Limit, "1", "100.0"))

	cap.orders = nil
	eng.Put(&marketdata.Delivery{Header: event.Header{Timestamp: 2}, Symbol: symbol, DeliveryPrice: dec("52000")})

	// No CANCELED acknowledgment is emitted for the cleared resting order.
	assert.Empty(t, cap.orders)
	assert.Nil(t, me.GetOrderBook(symbol))

	// A fresh MARKET order against the now-unknown symbol is rejected until
	// new market data arrives (a LIMIT order would still rest, just with an
	// unobservable rank, since it never needs a snapshot to price itself).
	cap.orders = nil
	eng.Put(submit(10, order.Market, "1", "0"))
	require.Len(t, cap.orders, 1)
	assert.Equal(t, order.RejectNoBookSnapshot, cap.orders[0].RejectReason)
}

func TestLimitOrder_RestsInsideSpreadAtZeroRank(t *testing.T) {
	eng, me, _ := newHarness(t)
	eng.Put(tob("100.0", "10", "100.2", "10"))
	eng.Put(submit(4, order.Limit, "1", "100.1"))

	ob := me.GetOrderBook(symbol)
	snap := ob.GetSnapshot()
	assert.Equal(t, 1, snap.BuyLevels[order.ScaleToInt(dec("100.1"))])
}

func TestMarketOrder_RejectedWithoutSnapshot(t *testing.T) {
	eng, _, cap := newHarness(t)
	eng.Put(submit(5, order.Market, "1", "0"))

	require.Len(t, cap.orders, 1)
	assert.Equal(t, order.RejectNoBookSnapshot, cap.orders[0].RejectReason)
}

func TestFrontCancelEstimate_BoundsRankDecrease(t *testing.T) {
	eng, me, _ := newHarness(t)
	eng.Put(tob("100.0", "10", "100.2", "10"))
	eng.Put(submit(6, order.Limit, "1", "100.0"))

	// Displayed size drops to 3 with no intervening trade print: front-cancel
	// estimate fc = max(0, rank(10) - traded(0) - 3) = 7; new rank = 10-0-7 = 3.
	eng.Put(tob("100.0", "3", "100.2", "10"))

	ob := me.GetOrderBook(symbol)
	o := ob.GetSnapshot()
	// Order still resting (rank 3 >= 0), book shape unchanged.
	assert.Equal(t, 1, o.BuyLevels[order.ScaleToInt(dec("100.0"))])
}
