// Package event implements the deterministic, single-threaded event
// dispatcher that every other component in the simulation is built on.
//
// An EventEngine owns one logical clock and a strict FIFO queue. Listeners
// never run concurrently with each other or with the engine that drives
// them; the only "concurrency" in the system is the interleaving of
// timestamps chosen by the scheduler (internal/scheduler).
package event

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// ID identifies an engine or a listener. Zero means "uninitialized" for an
// engine source and "external" for a listener producer.
type ID uint64

// Header is the mutable metadata every event payload carries. Payload
// types embed Header by value.
type Header struct {
	Timestamp int64
	Source    ID
	Producer  ID
}

// Reset zeroes the header, used by Derive implementations.
func (h *Header) Reset() {
	*h = Header{}
}

// Event is implemented by every payload type dispatched through an
// EventEngine: top-of-book snapshots, aggregated trade prints, orders,
// funding, delivery, and timer ticks.
type Event interface {
	EventHeader() *Header
	// Derive returns a bit-copy of the event with the header reset to
	// zero and all payload fields preserved. Used when an event is
	// forwarded through a DelayBus or re-emitted by a listener, so the
	// new copy can re-acquire header metadata without mutating the
	// event observed by earlier listeners.
	Derive() Event
}

// Handler receives dispatched events. Implementations are typically a
// single component (MatchEngine, Account, DelayBus, ...) that registers
// itself for one or more event types.
type Handler interface {
	// HandlerID returns the listener's stable identity, compared against
	// an event's Producer field to implement ignore_self filtering.
	HandlerID() ID
	HandleEvent(ev Event)
}

var (
	// ErrRegisterDuringDispatch is returned by Register/GlobalRegister
	// when called while the engine is draining its queue.
	ErrRegisterDuringDispatch = errors.New("event: register called during dispatch")
	// ErrDuplicateListener is returned when the same handler identity is
	// registered twice for the same event type or twice as a global.
	ErrDuplicateListener = errors.New("event: duplicate listener registration")
)

type typeRegistration struct {
	handler    Handler
	ignoreSelf bool
}

type globalRegistration struct {
	handler    Handler
	ignoreSelf bool
	senior     bool
}

// Engine is a single-threaded FIFO event dispatcher with its own logical
// clock. Two Engines (server-side, client-side) make up a BacktestEngine
// run; they never share goroutines or locks, only events copied across a
// DelayBus.
type Engine struct {
	id     ID
	name   string
	logger *zap.Logger

	clock int64

	typeListeners map[reflect.Type][]typeRegistration
	seniorGlobals []globalRegistration
	juniorGlobals []globalRegistration
	seenHandlers  map[ID]bool

	queue       []Event
	dispatching bool
	producer    ID
}

// NewEngine creates an engine with the given identity. id must be nonzero;
// the scheduler assigns distinct ids to the server and client engines.
func NewEngine(id ID, name string, logger *zap.Logger) *Engine {
	return &Engine{
		id:            id,
		name:          name,
		logger:        logger,
		typeListeners: make(map[reflect.Type][]typeRegistration),
		seenHandlers:  make(map[ID]bool),
	}
}

// ID returns the engine's identity, used to stamp Event.Source.
func (e *Engine) ID() ID { return e.id }

// Name returns the engine's human-readable name, for logging.
func (e *Engine) Name() string { return e.name }

// Clock returns the engine's current logical timestamp.
func (e *Engine) Clock() int64 { return e.clock }

// Register binds a listener to an exact event type. ignoreSelf skips
// dispatch to this listener when the event's Producer equals the
// listener's HandlerID (it re-emitted the event itself).
func (e *Engine) Register(sample Event, h Handler, ignoreSelf bool) error {
	if e.dispatching {
		return ErrRegisterDuringDispatch
	}
	t := reflect.TypeOf(sample)
	for _, reg := range e.typeListeners[t] {
		if reg.handler.HandlerID() == h.HandlerID() {
			return fmt.Errorf("%w: handler %d already registered for %s", ErrDuplicateListener, h.HandlerID(), t)
		}
	}
	e.typeListeners[t] = append(e.typeListeners[t], typeRegistration{handler: h, ignoreSelf: ignoreSelf})
	return nil
}

// GlobalRegister binds a listener to every event type. Senior listeners
// run before type-specific listeners; junior listeners (the default) run
// after.
func (e *Engine) GlobalRegister(h Handler, ignoreSelf bool, senior bool) error {
	if e.dispatching {
		return ErrRegisterDuringDispatch
	}
	if e.seenHandlers[h.HandlerID()] {
		for _, reg := range e.seniorGlobals {
			if reg.handler.HandlerID() == h.HandlerID() {
				return fmt.Errorf("%w: handler %d already globally registered", ErrDuplicateListener, h.HandlerID())
			}
		}
		for _, reg := range e.juniorGlobals {
			if reg.handler.HandlerID() == h.HandlerID() {
				return fmt.Errorf("%w: handler %d already globally registered", ErrDuplicateListener, h.HandlerID())
			}
		}
	}
	reg := globalRegistration{handler: h, ignoreSelf: ignoreSelf, senior: senior}
	if senior {
		e.seniorGlobals = append(e.seniorGlobals, reg)
	} else {
		e.juniorGlobals = append(e.juniorGlobals, reg)
	}
	e.seenHandlers[h.HandlerID()] = true
	return nil
}

// Put stamps ev, advances the clock, and enqueues it. If the engine is not
// currently dispatching, Put also drains the queue synchronously before
// returning.
func (e *Engine) Put(ev Event) {
	h := ev.EventHeader()
	if h.Source == 0 {
		h.Source = e.id
	}
	h.Producer = e.producer

	switch {
	case h.Timestamp > e.clock:
		e.clock = h.Timestamp
	case h.Timestamp == 0:
		h.Timestamp = e.clock
	}

	e.queue = append(e.queue, ev)
	if e.dispatching {
		return
	}
	e.drain()
}

// drain pops events off the FIFO queue one at a time and dispatches each
// to its listeners. A handler panic aborts the loop and propagates to the
// original Put caller; there is no per-listener isolation, by design.
func (e *Engine) drain() {
	e.dispatching = true
	defer func() { e.dispatching = false }()

	for len(e.queue) > 0 {
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.dispatchOne(ev)
	}
}

func (e *Engine) dispatchOne(ev Event) {
	h := ev.EventHeader()
	producer := h.Producer

	run := func(reg_ Handler) {
		prev := e.producer
		e.producer = reg_.HandlerID()
		defer func() { e.producer = prev }()
		reg_.HandleEvent(ev)
	}

	for _, reg := range e.seniorGlobals {
		if reg.ignoreSelf && producer == reg.handler.HandlerID() {
			continue
		}
		run(reg.handler)
	}

	t := reflect.TypeOf(ev)
	for _, reg := range e.typeListeners[t] {
		if reg.ignoreSelf && producer == reg.handler.HandlerID() {
			continue
		}
		run(reg.handler)
	}

	for _, reg := range e.juniorGlobals {
		if reg.ignoreSelf && producer == reg.handler.HandlerID() {
			continue
		}
		run(reg.handler)
	}
}

// AdvanceTo moves the clock forward to t if t is larger than the current
// clock. Used by the scheduler and DelayBus when a source outpaces the
// engine's own events (e.g. draining a delay bus ahead of new input).
func (e *Engine) AdvanceTo(t int64) {
	if t > e.clock {
		e.clock = t
	}
}
