// Package book implements the price/time-priority order book and the
// matcher that reconstructs maker-queue position from top-of-book
// snapshots and aggregated trade prints (spec.md §4.5). This is the
// hardest subsystem: resting orders never see a real counterparty order,
// only evidence that the market moved, and the matcher must decide
// whether that evidence would have filled them under conservative
// assumptions.
package book

import "math"

// minPriceInt / maxPriceInt are the sentinel extrema for an empty side of
// the book (spec.md §3: "sentinels: -inf, +inf when empty").
const (
	minPriceInt = int64(math.MinInt64)
	maxPriceInt = int64(math.MaxInt64)
)

// priceLevel holds the insertion-ordered queue of order ids resting at one
// price. Order of appearance is queue priority.
type priceLevel struct {
	orderIDs []int64
}

func (pl *priceLevel) append(id int64) { pl.orderIDs = append(pl.orderIDs, id) }

func (pl *priceLevel) remove(id int64) {
	for i, oid := range pl.orderIDs {
		if oid == id {
			pl.orderIDs = append(pl.orderIDs[:i], pl.orderIDs[i+1:]...)
			return
		}
	}
}

func (pl *priceLevel) empty() bool { return len(pl.orderIDs) == 0 }

// Snapshot describes a point-in-time view of a symbol's resting orders,
// for diagnostics and tests.
type Snapshot struct {
	Symbol          string
	BuyLevels       map[int64]int
	SellLevels      map[int64]int
	MaxBuyPriceInt  int64
	MinSellPriceInt int64
}
