package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"

	"github.com/hftlab/backtestsim/internal/event"
	"github.com/hftlab/backtestsim/internal/marketdata"
)

// CSVSource reads one gzip-compressed historical CSV file and yields the
// marketdata event kinds described in spec.md §6 (top-of-book, trade,
// funding, delivery). It is a reference implementation of the Source
// interface, not part of the core — a real deployment plugs in its own
// reader (Parquet, a vendor feed replay, ...) against the same interface.
//
// Row shape: timestamp,kind,symbol,f1,f2,f3,f4 where kind selects how
// f1..f4 are interpreted:
//
//	TOB      f1=best_bid_price f2=best_bid_size f3=best_ask_price f4=best_ask_size
//	TRADE    f1=price          f2=size          f3=taker (BUY|SELL)
//	FUNDING  f1=mark_price     f2=funding_rate
//	DELIVERY f1=delivery_price
type CSVSource struct {
	file   *os.File
	gz     *gzip.Reader
	reader *csv.Reader
}

// NewCSVSource opens path (gzip-compressed CSV) and skips its header row.
func NewCSVSource(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: gzip reader for %s: %w", path, err)
	}
	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		gz.Close()
		f.Close()
		return nil, fmt.Errorf("dataset: read header of %s: %w", path, err)
	}
	return &CSVSource{file: f, gz: gz, reader: r}, nil
}

// Close releases the underlying gzip and file handles.
func (s *CSVSource) Close() error {
	gzErr := s.gz.Close()
	fileErr := s.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

// Next implements dataset.Source, returning io.EOF when the file is
// exhausted.
func (s *CSVSource) Next() (event.Event, error) {
	record, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("dataset: read record: %w", err)
	}
	if len(record) < 3 {
		return nil, fmt.Errorf("dataset: malformed record %v: need at least 3 fields", record)
	}

	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("dataset: parse timestamp %q: %w", record[0], err)
	}
	symbol := record[2]
	header := event.Header{Timestamp: ts}

	switch strings.ToUpper(record[1]) {
	case "TOB":
		bidPx, bidSz, askPx, askSz, err := parseDecimals4(record)
		if err != nil {
			return nil, err
		}
		return &marketdata.TopOfBook{
			Header:       header,
			Symbol:       symbol,
			BestBidPrice: bidPx,
			BestBidSize:  bidSz,
			BestAskPrice: askPx,
			BestAskSize:  askSz,
		}, nil
	case "TRADE":
		price, size, err := parseDecimals2(record)
		if err != nil {
			return nil, err
		}
		taker := marketdata.SideBuy
		if len(record) > 5 && strings.EqualFold(record[5], "SELL") {
			taker = marketdata.SideSell
		}
		return &marketdata.TradePrint{
			Header: header,
			Symbol: symbol,
			Price:  price,
			Size:   size,
			Taker:  taker,
		}, nil
	case "FUNDING":
		mark, rate, err := parseDecimals2(record)
		if err != nil {
			return nil, err
		}
		return &marketdata.Funding{
			Header:      header,
			Symbol:      symbol,
			MarkPrice:   mark,
			FundingRate: rate,
		}, nil
	case "DELIVERY":
		if len(record) < 4 {
			return nil, fmt.Errorf("dataset: DELIVERY record %v missing delivery price", record)
		}
		price, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, fmt.Errorf("dataset: parse delivery price %q: %w", record[3], err)
		}
		return &marketdata.Delivery{
			Header:        header,
			Symbol:        symbol,
			DeliveryPrice: price,
		}, nil
	default:
		return nil, fmt.Errorf("dataset: unknown row kind %q", record[1])
	}
}

func parseDecimals2(record []string) (decimal.Decimal, decimal.Decimal, error) {
	if len(record) < 5 {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("dataset: record %v needs 5 fields", record)
	}
	a, err := decimal.NewFromString(record[3])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("dataset: parse %q: %w", record[3], err)
	}
	b, err := decimal.NewFromString(record[4])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("dataset: parse %q: %w", record[4], err)
	}
	return a, b, nil
}

func parseDecimals4(record []string) (a, b, c, d decimal.Decimal, err error) {
	if len(record) < 7 {
		err = fmt.Errorf("dataset: record %v needs 7 fields", record)
		return
	}
	vals := make([]decimal.Decimal, 4)
	for i := 0; i < 4; i++ {
		vals[i], err = decimal.NewFromString(record[3+i])
		if err != nil {
			err = fmt.Errorf("dataset: parse %q: %w", record[3+i], err)
			return
		}
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}
