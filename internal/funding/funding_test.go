package funding_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/funding"
	"github.com/hftlab/backtestsim/internal/marketdata"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEmitter_FiresFundingOnFundingTick(t *testing.T) {
	eng := event.NewEngine(1, "server", zap.NewNop())
	e := funding.NewEmitter(2, dec("0.0001"), []string{"BTC-USD"})
	require.NoError(t, e.Start(eng))

	var seen []*marketdata.Funding
	watcher := watcherFunc(func(ev event.Event) {
		if f, ok := ev.(*marketdata.Funding); ok {
			seen = append(seen, f)
		}
	})
	require.NoError(t, eng.GlobalRegister(watcher, false, false))

	eng.Put(&marketdata.TopOfBook{
		Header:       event.Header{Timestamp: 1},
		Symbol:       "BTC-USD",
		BestBidPrice: dec("100.0"),
		BestAskPrice: dec("100.2"),
	})
	eng.Put(&marketdata.Timer{Header: event.Header{Timestamp: 10}, Kind: marketdata.TimerKindFunding})

	require.Len(t, seen, 1)
	assert.Equal(t, "BTC-USD", seen[0].Symbol)
	assert.True(t, seen[0].MarkPrice.Equal(dec("100.1")), "mark price is the bid/ask midpoint")
	assert.True(t, seen[0].FundingRate.Equal(dec("0.0001")))
	assert.EqualValues(t, 10, seen[0].Header.Timestamp)
}

func TestEmitter_SkipsSymbolsWithNoMarkPriceYet(t *testing.T) {
	eng := event.NewEngine(1, "server", zap.NewNop())
	e := funding.NewEmitter(2, dec("0.0001"), []string{"BTC-USD", "ETH-USD"})
	require.NoError(t, e.Start(eng))

	var seen []*marketdata.Funding
	watcher := watcherFunc(func(ev event.Event) {
		if f, ok := ev.(*marketdata.Funding); ok {
			seen = append(seen, f)
		}
	})
	require.NoError(t, eng.GlobalRegister(watcher, false, false))

	eng.Put(&marketdata.TopOfBook{
		Header: event.Header{Timestamp: 1}, Symbol: "BTC-USD",
		BestBidPrice: dec("100.0"), BestAskPrice: dec("100.2"),
	})
	eng.Put(&marketdata.Timer{Header: event.Header{Timestamp: 10}, Kind: marketdata.TimerKindFunding})

	require.Len(t, seen, 1, "ETH-USD never saw a top-of-book so it emits no funding event")
	assert.Equal(t, "BTC-USD", seen[0].Symbol)
}

func TestEmitter_IgnoresNonFundingTimerKinds(t *testing.T) {
	eng := event.NewEngine(1, "server", zap.NewNop())
	e := funding.NewEmitter(2, dec("0.0001"), []string{"BTC-USD"})
	require.NoError(t, e.Start(eng))

	var seen []*marketdata.Funding
	watcher := watcherFunc(func(ev event.Event) {
		if f, ok := ev.(*marketdata.Funding); ok {
			seen = append(seen, f)
		}
	})
	require.NoError(t, eng.GlobalRegister(watcher, false, false))

	eng.Put(&marketdata.TopOfBook{
		Header: event.Header{Timestamp: 1}, Symbol: "BTC-USD",
		BestBidPrice: dec("100.0"), BestAskPrice: dec("100.2"),
	})
	eng.Put(&marketdata.Timer{Header: event.Header{Timestamp: 5}, Kind: marketdata.TimerKindSnapshot})

	assert.Empty(t, seen)
}

type watcherFunc func(event.Event)

func (w watcherFunc) HandlerID() event.ID   { return 99 }
func (w watcherFunc) HandleEvent(ev event.Event) { w(ev) }
