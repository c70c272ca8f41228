package book

import "github.com/hftlab/backtestsim/internal/order"

// OrderBook is the price-indexed resting-order store for one symbol. It
// never matches orders against each other directly — MatchEngine decides
// fills from external market-data evidence and tells the book only to
// insert, move, or remove entries. The resting record for an order is the
// *order.Order itself (spec.md §3 gives Order its own rank/traded
// fields), so there is no separate, duplicated bookkeeping struct to keep
// in sync.
type OrderBook struct {
	symbol string

	buyLevels  map[int64]*priceLevel
	sellLevels map[int64]*priceLevel
	orders     map[int64]*order.Order // order_id -> resting order, O(1) cancel lookup

	maxBuyPriceInt  int64
	minSellPriceInt int64
}

func newOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol:          symbol,
		buyLevels:       make(map[int64]*priceLevel),
		sellLevels:      make(map[int64]*priceLevel),
		orders:          make(map[int64]*order.Order),
		maxBuyPriceInt:  minPriceInt,
		minSellPriceInt: maxPriceInt,
	}
}

func (ob *OrderBook) levels(buy bool) map[int64]*priceLevel {
	if buy {
		return ob.buyLevels
	}
	return ob.sellLevels
}

// insert adds o as a resting order at its current PriceInt and updates
// the cached extremum.
func (ob *OrderBook) insert(o *order.Order) {
	buy := o.IsBuy()
	priceInt := o.PriceInt()

	levels := ob.levels(buy)
	pl, ok := levels[priceInt]
	if !ok {
		pl = &priceLevel{}
		levels[priceInt] = pl
	}
	pl.append(o.OrderID)
	ob.orders[o.OrderID] = o

	if buy {
		if priceInt > ob.maxBuyPriceInt {
			ob.maxBuyPriceInt = priceInt
		}
	} else {
		if priceInt < ob.minSellPriceInt {
			ob.minSellPriceInt = priceInt
		}
	}
}

// remove deletes a resting order from the book and returns it. If it
// emptied the price level that held the cached extremum, the extremum is
// recomputed by scanning the remaining levels on that side (spec.md
// §4.5.5: "recompute max/min only when the bucket that held the extremum
// becomes empty").
func (ob *OrderBook) remove(orderID int64) *order.Order {
	o, ok := ob.orders[orderID]
	if !ok {
		return nil
	}
	delete(ob.orders, orderID)

	buy := o.IsBuy()
	priceInt := o.PriceInt()
	levels := ob.levels(buy)
	pl := levels[priceInt]
	if pl != nil {
		pl.remove(orderID)
		if pl.empty() {
			delete(levels, priceInt)
			ob.recomputeExtremumIfNeeded(buy, priceInt)
		}
	}
	return o
}

func (ob *OrderBook) recomputeExtremumIfNeeded(buy bool, emptiedPriceInt int64) {
	if buy {
		if emptiedPriceInt != ob.maxBuyPriceInt {
			return
		}
		best := minPriceInt
		for p := range ob.buyLevels {
			if p > best {
				best = p
			}
		}
		ob.maxBuyPriceInt = best
	} else {
		if emptiedPriceInt != ob.minSellPriceInt {
			return
		}
		best := maxPriceInt
		for p := range ob.sellLevels {
			if p < best {
				best = p
			}
		}
		ob.minSellPriceInt = best
	}
}

// restingAt returns the orders resting on one side, across all price
// levels, as a snapshot slice. Copying avoids mutation-during-iteration
// hazards when a maintenance pass fills and removes entries while walking
// the level.
func (ob *OrderBook) restingAt(buy bool) []*order.Order {
	levels := ob.levels(buy)
	var out []*order.Order
	for _, pl := range levels {
		for _, id := range pl.orderIDs {
			out = append(out, ob.orders[id])
		}
	}
	return out
}

// GetSnapshot returns a diagnostic view of resting size per price level.
func (ob *OrderBook) GetSnapshot() Snapshot {
	s := Snapshot{
		Symbol:          ob.symbol,
		BuyLevels:       make(map[int64]int, len(ob.buyLevels)),
		SellLevels:      make(map[int64]int, len(ob.sellLevels)),
		MaxBuyPriceInt:  ob.maxBuyPriceInt,
		MinSellPriceInt: ob.minSellPriceInt,
	}
	for p, pl := range ob.buyLevels {
		s.BuyLevels[p] = len(pl.orderIDs)
	}
	for p, pl := range ob.sellLevels {
		s.SellLevels[p] = len(pl.orderIDs)
	}
	return s
}
