// Package delaybus implements the latency model and min-heap that
// transport events between the server-side and client-side EventEngines.
package delaybus

import (
	"container/heap"

	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/event"
)

// LatencyModel maps an outgoing event to a nonnegative delay, in the same
// time units as event timestamps.
type LatencyModel func(ev event.Event) int64

// FixedLatency returns a LatencyModel that applies a constant delay to
// every event.
func FixedLatency(d int64) LatencyModel {
	return func(event.Event) int64 { return d }
}

// Source is a seeded integer generator, so JitteredLatency stays
// deterministic across runs at a fixed seed. *rand.Rand satisfies this.
type Source interface {
	Int63n(n int64) int64
}

// JitteredLatency returns a LatencyModel that adds uniform jitter in
// [0, spread) to a base delay, drawn from src. It is a pure function of
// src, never of the event, so replaying a run with the same seeded src
// reproduces identical delays.
func JitteredLatency(base, spread int64, src Source) LatencyModel {
	return func(event.Event) int64 {
		if spread <= 0 {
			return base
		}
		return base + src.Int63n(spread)
	}
}

type heapEntry struct {
	readyAt int64
	seq     uint64
	ev      event.Event
}

type entryHeap []heapEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].readyAt != h[j].readyAt {
		return h[i].readyAt < h[j].readyAt
	}
	return h[i].seq < h[j].seq // stable on ties
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(heapEntry))
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Bus transports events produced by one engine to another, delaying each
// by its LatencyModel. It binds to the source engine via GlobalRegister
// and ignores any event not originating from that engine, which prevents
// echo when both the server->client and client->server buses are
// registered on the same pair of engines.
type Bus struct {
	id      event.ID
	name    string
	source  *event.Engine
	target  *event.Engine
	latency LatencyModel
	logger  *zap.Logger

	heap    entryHeap
	nextSeq uint64
}

// New creates a Bus carrying events from source to target, globally
// registering itself on source as a junior, non-self-ignoring listener
// (ignore_self is irrelevant here since the bus never re-emits onto its
// own source engine).
func New(id event.ID, name string, source, target *event.Engine, latency LatencyModel, logger *zap.Logger) (*Bus, error) {
	b := &Bus{
		id:      id,
		name:    name,
		source:  source,
		target:  target,
		latency: latency,
		logger:  logger,
	}
	if err := source.GlobalRegister(b, false, false); err != nil {
		return nil, err
	}
	return b, nil
}

// HandlerID implements event.Handler.
func (b *Bus) HandlerID() event.ID { return b.id }

// HandleEvent implements event.Handler. It is invoked for every event
// dispatched on the source engine; only events whose Source matches the
// bound source engine are enqueued, per the ingest rule in spec.md §4.2.
func (b *Bus) HandleEvent(ev event.Event) {
	h := ev.EventHeader()
	if h.Source != b.source.ID() {
		return
	}
	snapshot := ev.Derive()
	snapshot.EventHeader().Timestamp = h.Timestamp
	// Keep the engine of first ingress so the opposite bus, bound to the
	// target engine, does not forward the delivered copy back again.
	snapshot.EventHeader().Source = h.Source
	readyAt := h.Timestamp + b.latency(ev)

	heap.Push(&b.heap, heapEntry{readyAt: readyAt, seq: b.nextSeq, ev: snapshot})
	b.nextSeq++

	b.logger.Debug("delaybus enqueue",
		zap.String("bus", b.name),
		zap.Int64("sent_at", h.Timestamp),
		zap.Int64("ready_at", readyAt),
	)
}

// NextTimestamp returns the ready_ts of the earliest queued event, or
// the sentinel maxTimestamp (1<<62) if the bus is empty.
func (b *Bus) NextTimestamp() int64 {
	if len(b.heap) == 0 {
		return maxTimestamp
	}
	return b.heap[0].readyAt
}

const maxTimestamp = int64(1) << 62

// Empty reports whether the bus has no pending events.
func (b *Bus) Empty() bool { return len(b.heap) == 0 }

// ProcessUntil pops every entry with ready_ts <= t, advancing the target
// engine's clock to each entry's ready_ts before delivering it. Entries
// are delivered in heap order, so causality (ready_ts monotone
// non-decreasing across deliveries) holds even though Put itself cannot
// regress the target's clock.
func (b *Bus) ProcessUntil(t int64) {
	for len(b.heap) > 0 && b.heap[0].readyAt <= t {
		entry := heap.Pop(&b.heap).(heapEntry)
		b.target.AdvanceTo(entry.readyAt)
		b.target.Put(entry.ev)
	}
}
