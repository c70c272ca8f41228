package metrics

import (
	"github.com/hftlab/backtestsim/internal/account"
	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/order"
)

// Observer is a scheduler.Component that turns Order and Timer events
// into the operational instruments in Metrics, without the deterministic
// core (event, book, account) carrying a metrics dependency of its own.
type Observer struct {
	id   event.ID
	m    *Metrics
	acct *account.Account
	side string // "server" or "client", used as a gauge label
}

// NewObserver creates an Observer for one side of the run (server or
// client), reporting into m.
func NewObserver(id event.ID, m *Metrics, acct *account.Account, side string) *Observer {
	return &Observer{id: id, m: m, acct: acct, side: side}
}

// HandlerID implements event.Handler.
func (o *Observer) HandlerID() event.ID { return o.id }

// Start implements scheduler.Component.
func (o *Observer) Start(eng *event.Engine) error {
	if err := eng.Register(&order.Order{}, o, false); err != nil {
		return err
	}
	return eng.Register(&marketdata.Timer{}, o, false)
}

// Stop implements scheduler.Component; Observer owns no resources to release.
func (o *Observer) Stop() error { return nil }

// HandleEvent implements event.Handler.
func (o *Observer) HandleEvent(ev event.Event) {
	switch v := ev.(type) {
	case *order.Order:
		switch {
		case v.State == order.Filled:
			o.m.FillsEmitted.WithLabelValues(v.Symbol).Inc()
		case v.RejectReason != order.RejectNone:
			o.m.OrdersRejected.WithLabelValues(v.RejectReason.String()).Inc()
		}
	case *marketdata.Timer:
		if v.Kind == marketdata.TimerKindSnapshot {
			o.reportAccount()
		}
	}
}

func (o *Observer) reportAccount() {
	o.m.AccountEquity.WithLabelValues(o.side).Set(o.acct.Equity().InexactFloat64())
	for symbol, pos := range o.acct.Positions() {
		o.m.AccountPosition.WithLabelValues(o.side, symbol).Set(pos.InexactFloat64())
	}
}
