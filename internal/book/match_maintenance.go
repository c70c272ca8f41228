// Book maintenance: reconstructing resting-order queue position from
// top-of-book updates (spec.md §4.5.2) and aggregated trade prints
// (spec.md §4.5.3), and clearing a symbol on delivery/expiry (§4.5.6).
package book

import (
	"github.com/shopspring/decimal"

	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/order"
)

func (m *MatchEngine) handleTopOfBook(tob *marketdata.TopOfBook) {
	m.lastTOB[tob.Symbol] = tob
	ob := m.bookFor(tob.Symbol)

	for _, o := range ob.restingAt(true) {
		m.maintainBuyOnTopOfBook(o, tob)
	}
	for _, o := range ob.restingAt(false) {
		m.maintainSellOnTopOfBook(o, tob)
	}
}

func (m *MatchEngine) maintainBuyOnTopOfBook(o *order.Order, tob *marketdata.TopOfBook) {
	p := o.PriceInt()
	bestBid, bestAsk := tob.BestBidInt(), tob.BestAskInt()

	switch {
	case bestAsk <= p:
		// The ask stepped through the order's price: it would have been
		// hit as a maker.
		m.removeResting(o.OrderID)
		m.fill(o, p, true)
	case bestBid < p && p < bestAsk:
		o.Rank = decimal.Zero
		o.Traded = decimal.Zero
	case p == bestBid:
		m.updateAtBestRank(o, tob.BestBidSize)
		m.checkQueueExhaustion(o, p)
	default: // p < bestBid
		o.Rank = order.RankUnknown
		o.Traded = decimal.Zero
	}
}

func (m *MatchEngine) maintainSellOnTopOfBook(o *order.Order, tob *marketdata.TopOfBook) {
	p := o.PriceInt()
	bestBid, bestAsk := tob.BestBidInt(), tob.BestAskInt()

	switch {
	case bestBid >= p:
		// The bid stepped through the order's price.
		m.removeResting(o.OrderID)
		m.fill(o, p, true)
	case bestBid < p && p < bestAsk:
		o.Rank = decimal.Zero
		o.Traded = decimal.Zero
	case p == bestAsk:
		m.updateAtBestRank(o, tob.BestAskSize)
		m.checkQueueExhaustion(o, p)
	default: // p > bestAsk
		o.Rank = order.RankUnknown
		o.Traded = decimal.Zero
	}
}

// updateAtBestRank applies spec.md §4.5.2 step 3: either the
// re-initialization when rank was previously unobservable, or the
// front-cancel estimate that bounds how much of a size decrease can be
// attributed to cancellations ahead of the order.
func (m *MatchEngine) updateAtBestRank(o *order.Order, displayedSize decimal.Decimal) {
	if !order.RankKnown(o.Rank) {
		o.Rank = displayedSize
		o.Traded = decimal.Zero
		return
	}
	fc := decimalMax(decimal.Zero, o.Rank.Sub(o.Traded).Sub(displayedSize))
	newRank := o.Rank.Sub(o.Traded).Sub(fc)
	o.Traded = decimal.Zero
	o.Rank = newRank
}

// checkQueueExhaustion fills o at priceInt (maker fee) if its rank went
// negative, and reports whether it did.
func (m *MatchEngine) checkQueueExhaustion(o *order.Order, priceInt int64) bool {
	if o.Rank.Sign() >= 0 {
		return false
	}
	m.removeResting(o.OrderID)
	m.fill(o, priceInt, true)
	return true
}

func decimalMax(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func (m *MatchEngine) handleTradePrint(tp *marketdata.TradePrint) {
	ob := m.bookFor(tp.Symbol)

	for _, o := range ob.restingAt(true) {
		m.applyTradeToBuy(o, tp)
	}
	for _, o := range ob.restingAt(false) {
		m.applyTradeToSell(o, tp)
	}
}

func (m *MatchEngine) applyTradeToBuy(o *order.Order, tp *marketdata.TradePrint) {
	p, pt := o.PriceInt(), tp.PriceInt()
	switch {
	case p > pt:
		// The trade went through the order's price.
		m.removeResting(o.OrderID)
		m.fill(o, p, true)
	case p == pt:
		if tp.Taker == marketdata.SideBuy {
			// Aggressor hit the ask; the bid at p was not consumed.
			return
		}
		o.Traded = o.Traded.Add(tp.Size)
		if order.RankKnown(o.Rank) && o.Traded.GreaterThan(o.Rank) {
			m.removeResting(o.OrderID)
			m.fill(o, p, true)
		}
	}
}

func (m *MatchEngine) applyTradeToSell(o *order.Order, tp *marketdata.TradePrint) {
	p, pt := o.PriceInt(), tp.PriceInt()
	switch {
	case p < pt:
		m.removeResting(o.OrderID)
		m.fill(o, p, true)
	case p == pt:
		if tp.Taker == marketdata.SideSell {
			// Aggressor hit the bid; the ask at p was not consumed.
			return
		}
		o.Traded = o.Traded.Add(tp.Size)
		if order.RankKnown(o.Rank) && o.Traded.GreaterThan(o.Rank) {
			m.removeResting(o.OrderID)
			m.fill(o, p, true)
		}
	}
}

// handleDelivery implements spec.md §4.5.6: every resting order on the
// delivered symbol is removed from the book without an individual
// CANCELED acknowledgment — the Account reacts to the Delivery event
// itself. The symbol's book and last-seen snapshot are dropped so a new
// order on it is rejected until fresh market data arrives.
func (m *MatchEngine) handleDelivery(d *marketdata.Delivery) {
	ob, ok := m.books[d.Symbol]
	if !ok {
		return
	}
	for _, o := range ob.restingAt(true) {
		m.removeResting(o.OrderID)
	}
	for _, o := range ob.restingAt(false) {
		m.removeResting(o.OrderID)
	}
	delete(m.books, d.Symbol)
	delete(m.lastTOB, d.Symbol)
}
