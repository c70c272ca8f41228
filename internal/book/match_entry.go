// Entry semantics: how a freshly submitted order is acknowledged and then
// either filled immediately or rested in the book. Spec.md §4.5.1.
package book

import (
	"github.com/shopspring/decimal"

	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/order"
)

func (m *MatchEngine) handleOrder(o *order.Order) {
	if o.Type == order.Cancel {
		if err := o.Validate(); err != nil {
			m.reject(o, order.RejectInvalidCancelTarget)
			return
		}
		m.handleCancel(o)
		return
	}
	if o.State != order.Submitted {
		// Already processed, or a stray echo of our own output that
		// ignore_self should have filtered; ignore defensively rather
		// than reviving a terminal order.
		return
	}
	if o.Symbol == "" || o.Quantity.IsZero() {
		m.reject(o, order.RejectMissingPrice)
		return
	}
	if o.Type == order.Limit && o.Price.Sign() <= 0 {
		m.reject(o, order.RejectMissingPrice)
		return
	}

	tob, seen := m.lastTOB[o.Symbol]
	if (o.Type == order.Market || o.Type == order.Tracking) && !seen {
		m.reject(o, order.RejectNoBookSnapshot)
		return
	}

	received := o.Derive().(*order.Order)
	received.State = order.Received
	m.emit(received)

	m.processEntry(received, tob)
}

func (m *MatchEngine) processEntry(o *order.Order, tob *marketdata.TopOfBook) {
	switch o.Type {
	case order.Market:
		if o.IsBuy() {
			m.fill(o, tob.BestAskInt(), false)
		} else {
			m.fill(o, tob.BestBidInt(), false)
		}
	case order.Tracking:
		o.Type = order.Limit
		if o.IsBuy() {
			o.SetPrice(tob.BestBidPrice)
		} else {
			o.SetPrice(tob.BestAskPrice)
		}
		m.processLimit(o, tob)
	case order.Limit:
		m.processLimit(o, tob)
	}
}

func (m *MatchEngine) processLimit(o *order.Order, tob *marketdata.TopOfBook) {
	if tob != nil {
		if o.IsBuy() && o.PriceInt() >= tob.BestAskInt() {
			m.fill(o, tob.BestAskInt(), false)
			return
		}
		if !o.IsBuy() && o.PriceInt() <= tob.BestBidInt() {
			m.fill(o, tob.BestBidInt(), false)
			return
		}
	}

	o.Rank = initialRank(o, tob)
	o.Traded = decimal.Zero
	m.rest(o)
}

// initialRank implements spec.md §4.5.1's resting-order initialization:
// the displayed size at the level if the order joins the best quote, zero
// if it improves on the best (strictly inside the spread), or
// order.RankUnknown if it rests deeper than the visible level.
func initialRank(o *order.Order, tob *marketdata.TopOfBook) decimal.Decimal {
	if tob == nil {
		return order.RankUnknown
	}
	if o.IsBuy() {
		switch {
		case o.PriceInt() == tob.BestBidInt():
			return tob.BestBidSize
		case o.PriceInt() > tob.BestBidInt():
			return decimal.Zero
		default:
			return order.RankUnknown
		}
	}
	switch {
	case o.PriceInt() == tob.BestAskInt():
		return tob.BestAskSize
	case o.PriceInt() < tob.BestAskInt():
		return decimal.Zero
	default:
		return order.RankUnknown
	}
}

// handleCancel implements spec.md §4.5.4: idempotent cancel by target id.
// Callers must already have rejected a malformed target id as InvalidOrder
// (handleOrder does this via Validate()); here a miss means the target was
// well-formed but not found — already filled, canceled, or never received —
// and that case is silently ignored, there is no error, by design.
func (m *MatchEngine) handleCancel(o *order.Order) {
	target := m.removeResting(o.CancelTargetID)
	if target == nil {
		return
	}
	canceled := target.Derive().(*order.Order)
	canceled.State = order.Canceled
	m.emit(canceled)
}
