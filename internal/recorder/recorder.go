// Package recorder implements the CSV Recorder interface from spec.md §6:
// trade rows on every FILLED order, and periodic equity/balance snapshot
// rows driven by the scheduler's Timer. Output rows are tagged with a
// ksuid so two recorders writing concurrently (server/client sides) never
// collide on a sortable row identity, per SPEC_FULL.md's domain stack.
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/account"
	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
	"github.com/hftlab/backtestsim/internal/order"
)

var tradeHeader = []string{"record_id", "timestamp", "order_id", "symbol", "price", "quantity", "commission"}

var snapshotHeader = []string{
	"record_id", "timestamp", "equity", "balance",
	"commission", "funding", "pnl", "trade_count", "trade_amount",
}

// snapshotBaseline is the previous snapshot's cumulative fields, used to
// emit deltas per spec.md §6 ("non-equity/balance columns are deltas
// since the previous snapshot").
type snapshotBaseline struct {
	commission  decimal.Decimal
	funding     decimal.Decimal
	tradeCount  int64
	tradeAmount decimal.Decimal
	equity      decimal.Decimal // for pnl delta
}

// Recorder implements scheduler.Component: Start opens both output files
// and registers for Order and Timer events; Stop flushes and closes them.
type Recorder struct {
	id     event.ID
	acct   *account.Account
	logger *zap.Logger

	tradesPath    string
	snapshotsPath string

	tradesFile    *os.File
	tradesWriter  *csv.Writer
	snapshotsFile *os.File
	snapshotsWriter *csv.Writer

	symbols   []string
	baselines map[string]snapshotBaseline
}

// New creates a Recorder that will write trades to tradesPath and
// snapshots to snapshotsPath once started. Each snapshot sums acct's
// cumulative counters over symbols and writes the deltas of those totals;
// there are no per-symbol rows.
func New(id event.ID, acct *account.Account, symbols []string, tradesPath, snapshotsPath string, logger *zap.Logger) *Recorder {
	return &Recorder{
		id:            id,
		acct:          acct,
		logger:        logger,
		tradesPath:    tradesPath,
		snapshotsPath: snapshotsPath,
		symbols:       symbols,
		baselines:     make(map[string]snapshotBaseline, len(symbols)),
	}
}

// HandlerID implements event.Handler.
func (r *Recorder) HandlerID() event.ID { return r.id }

// Start implements scheduler.Component: opens both CSV files, writes
// their headers, and registers for Order and Timer events on eng.
func (r *Recorder) Start(eng *event.Engine) error {
	tf, err := os.Create(r.tradesPath)
	if err != nil {
		return fmt.Errorf("recorder: open trades file: %w", err)
	}
	r.tradesFile = tf
	r.tradesWriter = csv.NewWriter(tf)
	if err := r.tradesWriter.Write(tradeHeader); err != nil {
		return fmt.Errorf("recorder: write trades header: %w", err)
	}

	sf, err := os.Create(r.snapshotsPath)
	if err != nil {
		return fmt.Errorf("recorder: open snapshots file: %w", err)
	}
	r.snapshotsFile = sf
	r.snapshotsWriter = csv.NewWriter(sf)
	if err := r.snapshotsWriter.Write(snapshotHeader); err != nil {
		return fmt.Errorf("recorder: write snapshots header: %w", err)
	}

	if err := eng.Register(&order.Order{}, r, false); err != nil {
		return fmt.Errorf("recorder: register order listener: %w", err)
	}
	if err := eng.Register(&marketdata.Timer{}, r, false); err != nil {
		return fmt.Errorf("recorder: register timer listener: %w", err)
	}
	return nil
}

// Stop flushes and closes both output files.
func (r *Recorder) Stop() error {
	r.tradesWriter.Flush()
	r.snapshotsWriter.Flush()
	tradesErr := r.tradesFile.Close()
	snapshotsErr := r.snapshotsFile.Close()
	if tradesErr != nil {
		return tradesErr
	}
	return snapshotsErr
}

// HandleEvent implements event.Handler.
func (r *Recorder) HandleEvent(ev event.Event) {
	switch v := ev.(type) {
	case *order.Order:
		if v.State == order.Filled {
			r.writeTrade(v)
		}
	case *marketdata.Timer:
		if v.Kind == marketdata.TimerKindSnapshot {
			r.writeSnapshot(v.EventHeader().Timestamp)
		}
	}
}

func (r *Recorder) writeTrade(o *order.Order) {
	row := []string{
		ksuid.New().String(),
		strconv.FormatInt(o.EventHeader().Timestamp, 10),
		strconv.FormatInt(o.OrderID, 10),
		o.Symbol,
		o.FilledPrice.String(),
		o.Quantity.String(),
		o.CommissionFee.String(),
	}
	if err := r.tradesWriter.Write(row); err != nil {
		r.logger.Error("recorder: write trade row", zap.Error(err))
		return
	}
	r.tradesWriter.Flush()
}

func (r *Recorder) writeSnapshot(ts int64) {
	var totalCommission, totalFunding, totalTradeAmount decimal.Decimal
	var totalTradeCount int64
	for _, symbol := range r.symbols {
		c := r.acct.Counters(symbol)
		totalCommission = totalCommission.Add(c.TotalCommission)
		totalFunding = totalFunding.Add(c.TotalFundingFee)
		totalTradeAmount = totalTradeAmount.Add(c.TotalTurnover)
		totalTradeCount += c.TotalTradeCount
	}

	base, known := r.baselines["*"]
	if !known {
		base = snapshotBaseline{}
	}
	equity := r.acct.Equity()
	balance := r.acct.CashBalance()

	pnl := equity.Sub(base.equity)
	row := []string{
		ksuid.New().String(),
		strconv.FormatInt(ts, 10),
		equity.String(),
		balance.String(),
		totalCommission.Sub(base.commission).String(),
		totalFunding.Sub(base.funding).String(),
		pnl.String(),
		strconv.FormatInt(totalTradeCount-base.tradeCount, 10),
		totalTradeAmount.Sub(base.tradeAmount).String(),
	}
	if err := r.snapshotsWriter.Write(row); err != nil {
		r.logger.Error("recorder: write snapshot row", zap.Error(err))
		return
	}
	r.snapshotsWriter.Flush()

	r.baselines["*"] = snapshotBaseline{
		commission:  totalCommission,
		funding:     totalFunding,
		tradeCount:  totalTradeCount,
		tradeAmount: totalTradeAmount,
		equity:      equity,
	}
}
