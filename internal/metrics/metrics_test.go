package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/account"
	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/metrics"
	"github.com/hftlab/backtestsim/internal/order"
)

func TestNew_RegistersEveryInstrument(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestObserver_CountsFillsAndRejections(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	eng := event.NewEngine(1, "server", zap.NewNop())
	acct, err := account.New(2, eng, zap.NewNop())
	require.NoError(t, err)

	obs := metrics.NewObserver(3, m, acct, "server")
	require.NoError(t, obs.Start(eng))

	eng.Put(&order.Order{Header: event.Header{Timestamp: 1}, OrderID: 1, Symbol: "BTC-USD",
		Type: order.Limit, State: order.Filled})
	eng.Put(&order.Order{Header: event.Header{Timestamp: 2}, OrderID: 2, Symbol: "BTC-USD",
		Type: order.Market, State: order.Created, RejectReason: order.RejectNoBookSnapshot})

	assert.InDelta(t, 1, counterValue(t, m.FillsEmitted.WithLabelValues("BTC-USD")), 0)
	assert.InDelta(t, 1, counterValue(t, m.OrdersRejected.WithLabelValues(order.RejectNoBookSnapshot.String())), 0)
}

func TestObserver_ReportsAccountOnSnapshotTimer(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	eng := event.NewEngine(1, "server", zap.NewNop())
	acct, err := account.New(2, eng, zap.NewNop())
	require.NoError(t, err)

	obs := metrics.NewObserver(3, m, acct, "server")
	require.NoError(t, obs.Start(eng))

	eng.Put(&marketdata.Timer{Header: event.Header{Timestamp: 10}, Kind: marketdata.TimerKindSnapshot})

	g := &dto.Metric{}
	require.NoError(t, m.AccountEquity.WithLabelValues("server").Write(g))
	assert.Zero(t, g.GetGauge().GetValue())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
