// Package dataset implements the k-way stable merge over ordered event
// sources that feeds the BacktestEngine's "data" input. Decoding raw
// files into events is an external collaborator (spec.md §1); this
// package only merges already-materialized sources.
package dataset

import (
	"container/heap"
	"io"

	"github.com/hftlab/backtestsim/internal/event"
)

// Source yields time-ordered events. Next returns io.EOF once exhausted.
// Timestamps within one Source must be monotone non-decreasing.
type Source interface {
	Next() (event.Event, error)
}

type headElem struct {
	ev     event.Event
	ts     int64
	source int
}

type headHeap []headElem

func (h headHeap) Len() int { return len(h) }
func (h headHeap) Less(i, j int) bool {
	if h[i].ts != h[j].ts {
		return h[i].ts < h[j].ts
	}
	return h[i].source < h[j].source // stability: earlier-indexed source first
}
func (h headHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *headHeap) Push(x interface{}) { *h = append(*h, x.(headElem)) }
func (h *headHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Merged is a k-way stable merge of time-ordered event sources. Equal
// timestamps emit in source-index order (spec.md §4.4).
//
// Optimization: the most recently emitted source is kept out of the heap
// ("fast path"). As long as its next element's timestamp is <= the heap
// top's key, Next emits it directly with no heap operations. When that
// stops holding, its refilled head is pushed back onto the heap and the
// new winner popped out, so heap work (O(log k)) is paid only when the
// emitting source changes.
type Merged struct {
	sources []Source
	h       headHeap
	exhausted []bool

	fastIdx  int  // index of the source currently held out of the heap, or -1
	fastElem headElem
	fastOK   bool
}

// New builds a Merged dataset over sources, pulling one head element from
// each. Sources that are already exhausted are simply skipped.
func New(sources []Source) (*Merged, error) {
	m := &Merged{
		sources:   sources,
		exhausted: make([]bool, len(sources)),
		fastIdx:   -1,
	}
	for i, s := range sources {
		if err := m.fill(i, s); err != nil {
			return nil, err
		}
	}
	heap.Init(&m.h)
	m.promoteFast()
	return m, nil
}

func (m *Merged) fill(i int, s Source) error {
	ev, err := s.Next()
	if err == io.EOF {
		m.exhausted[i] = true
		return nil
	}
	if err != nil {
		return err
	}
	m.h = append(m.h, headElem{ev: ev, ts: ev.EventHeader().Timestamp, source: i})
	return nil
}

// promoteFast pulls the lowest-keyed element out of the heap into the
// fast-path slot, if the heap is non-empty.
func (m *Merged) promoteFast() {
	if len(m.h) == 0 {
		m.fastOK = false
		m.fastIdx = -1
		return
	}
	top := heap.Pop(&m.h).(headElem)
	m.fastElem = top
	m.fastIdx = top.source
	m.fastOK = true
}

// Next returns the next event in global timestamp order, or io.EOF once
// every source is exhausted.
func (m *Merged) Next() (event.Event, error) {
	if !m.fastOK {
		return nil, io.EOF
	}
	out := m.fastElem.ev
	sourceIdx := m.fastIdx

	if err := m.fill(sourceIdx, m.sources[sourceIdx]); err != nil {
		return nil, err
	}

	if m.exhausted[sourceIdx] {
		m.promoteFast()
		return out, nil
	}

	// The refill appended a new head element to the heap (fill always
	// appends into m.h). Peel it back out and compare against the
	// current heap top without re-heapifying if it stays the winner.
	refilled := m.h[len(m.h)-1]
	m.h = m.h[:len(m.h)-1]

	if len(m.h) == 0 || less(refilled, m.h[0]) {
		m.fastElem = refilled
		m.fastIdx = refilled.source
		return out, nil
	}

	heap.Push(&m.h, refilled)
	m.promoteFast()
	return out, nil
}

func less(a, b headElem) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.source < b.source
}
