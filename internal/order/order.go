// Package order defines the Order event payload and the scaled-integer
// price representation shared by the book and account packages.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/scale"
)

// Scaler is the canonical fixed-point scale for prices and quantities.
// price_int = round(price * Scaler); this is the only comparison key used
// inside the order book.
const Scaler = scale.Scaler

// RankUnknown marks a resting order whose queue position is no longer
// observable (spec: rank = bottom). Rank is otherwise a nonnegative
// displayed size, so -1 is never a valid value to confuse it with.
var RankUnknown = decimal.NewFromInt(-1)

// RankKnown reports whether rank is an observable displayed size rather
// than the RankUnknown sentinel.
func RankKnown(rank decimal.Decimal) bool { return rank.Sign() >= 0 }

// Type enumerates the order types a strategy may submit.
type Type uint8

const (
	Limit Type = iota
	Market
	Tracking
	Cancel
)

func (t Type) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	case Tracking:
		return "TRACKING"
	case Cancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// State is the order lifecycle state machine from spec.md §4.5.7.
// CANCEL messages do not participate in this state machine.
type State uint8

const (
	Created State = iota
	Submitted
	Received
	Filled
	Canceled
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Submitted:
		return "SUBMITTED"
	case Received:
		return "RECEIVED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is a terminal state (FILLED or CANCELED); an
// order in a terminal state must never re-enter the book or the active
// order map.
func (s State) Terminal() bool {
	return s == Filled || s == Canceled
}

// RejectReason explains why an order never reached RECEIVED. Surfaced on
// the rejection event so a recorder or strategy can log the cause instead
// of only observing an error return.
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectNoBookSnapshot
	RejectMissingPrice
	RejectInvalidCancelTarget
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return ""
	case RejectNoBookSnapshot:
		return "no book snapshot observed for symbol"
	case RejectMissingPrice:
		return "LIMIT order missing price"
	case RejectInvalidCancelTarget:
		return "cancel target id is invalid"
	default:
		return "unknown"
	}
}

// Order is the tagged order message carried through both engines. Side is
// encoded in the sign of Quantity: positive is buy, negative is sell.
type Order struct {
	event.Header

	OrderID        int64
	Type           Type
	Symbol         string
	Quantity       decimal.Decimal
	Price          decimal.Decimal // undefined (zero) for MARKET/TRACKING
	State          State
	CancelTargetID int64

	// Rank and Traded implement maker-queue reconstruction, see
	// internal/book. RankUnknown means "not yet observable".
	Rank   decimal.Decimal
	Traded decimal.Decimal

	FilledPrice    decimal.Decimal
	CommissionFee  decimal.Decimal
	RejectReason   RejectReason

	priceInt    *int64
	quantityInt *int64
}

// EventHeader implements event.Event.
func (o *Order) EventHeader() *event.Header { return &o.Header }

// Derive returns a bit-copy of o with the header reset to zero. OrderID is
// a payload field and is preserved across Derive, per spec.md §3.
func (o *Order) Derive() event.Event {
	cp := *o
	cp.Header.Reset()
	// Scaled-integer caches are derived lazily from Price/Quantity; drop
	// them so a derived order never aliases an int64 slot with another
	// pointer into the original's memory.
	cp.priceInt = nil
	cp.quantityInt = nil
	return &cp
}

// IsBuy reports whether the order is a buy (positive quantity).
func (o *Order) IsBuy() bool { return o.Quantity.Sign() > 0 }

// PriceInt returns round(Price * Scaler), caching the result until Price
// is reassigned via SetPrice.
func (o *Order) PriceInt() int64 {
	if o.priceInt == nil {
		v := ScaleToInt(o.Price)
		o.priceInt = &v
	}
	return *o.priceInt
}

// QuantityInt returns round(Quantity * Scaler), caching the result until
// Quantity is reassigned via SetQuantity.
func (o *Order) QuantityInt() int64 {
	if o.quantityInt == nil {
		v := ScaleToInt(o.Quantity)
		o.quantityInt = &v
	}
	return *o.quantityInt
}

// SetPrice reassigns Price and invalidates the cached integer price.
func (o *Order) SetPrice(p decimal.Decimal) {
	o.Price = p
	o.priceInt = nil
}

// SetQuantity reassigns Quantity and invalidates the cached integer
// quantity.
func (o *Order) SetQuantity(q decimal.Decimal) {
	o.Quantity = q
	o.quantityInt = nil
}

// ScaleToInt converts a decimal price or quantity to its canonical scaled
// integer representation: round(v * Scaler).
func ScaleToInt(v decimal.Decimal) int64 { return scale.ToInt(v) }

// FromScaledInt converts a scaled integer back to a decimal value.
func FromScaledInt(v int64) decimal.Decimal { return scale.FromInt(v) }

// Validate checks the boundary invariants described in spec.md §7
// (InvalidOrder): a LIMIT order must carry a price, a CANCEL order must
// carry a valid target, everything else needs a nonzero quantity and
// symbol.
func (o *Order) Validate() error {
	if o.Type == Cancel {
		if o.CancelTargetID <= 0 {
			return fmt.Errorf("order: invalid cancel target id %d", o.CancelTargetID)
		}
		return nil
	}
	if o.Symbol == "" {
		return fmt.Errorf("order: symbol required")
	}
	if o.Quantity.IsZero() {
		return fmt.Errorf("order: quantity must be nonzero")
	}
	if o.Type == Limit && o.Price.Sign() <= 0 {
		return fmt.Errorf("order: LIMIT order requires a positive price")
	}
	return nil
}
