package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hftlab/backtestsim/internal/event"
)

type stubEvent struct {
	event.Header
	Payload int
}

func (s *stubEvent) EventHeader() *event.Header { return &s.Header }
func (s *stubEvent) Derive() event.Event {
	cp := *s
	cp.Header.Reset()
	return &cp
}

type recordingHandler struct {
	id   event.ID
	seen []event.Event
}

func (h *recordingHandler) HandlerID() event.ID { return h.id }
func (h *recordingHandler) HandleEvent(ev event.Event) {
	h.seen = append(h.seen, ev)
}

func newTestEngine(t *testing.T) *event.Engine {
	t.Helper()
	logger := zap.NewNop()
	return event.NewEngine(1, "test", logger)
}

func TestPut_StampsSourceOnlyIfZero(t *testing.T) {
	eng := newTestEngine(t)
	h := &recordingHandler{id: 2}
	require.NoError(t, eng.Register(&stubEvent{}, h, false))

	ev := &stubEvent{Header: event.Header{Timestamp: 5}}
	eng.Put(ev)

	require.Len(t, h.seen, 1)
	assert.Equal(t, eng.ID(), h.seen[0].EventHeader().Source)

	// Source already set: Put must not overwrite it.
	ev2 := &stubEvent{Header: event.Header{Timestamp: 6, Source: 99}}
	eng.Put(ev2)
	assert.EqualValues(t, 99, h.seen[1].EventHeader().Source)
}

func TestPut_ClockAdvancesOrAssigns(t *testing.T) {
	eng := newTestEngine(t)
	h := &recordingHandler{id: 2}
	require.NoError(t, eng.Register(&stubEvent{}, h, false))

	eng.Put(&stubEvent{Header: event.Header{Timestamp: 10}})
	assert.EqualValues(t, 10, eng.Clock())

	// Timestamp == 0 is assigned the current clock, not left at zero.
	eng.Put(&stubEvent{Header: event.Header{Timestamp: 0}})
	assert.EqualValues(t, 10, h.seen[1].EventHeader().Timestamp)
	assert.EqualValues(t, 10, eng.Clock())

	// A timestamp behind the clock does not regress it, and is left
	// unchanged on the event itself.
	eng.Put(&stubEvent{Header: event.Header{Timestamp: 3}})
	assert.EqualValues(t, 10, eng.Clock())
	assert.EqualValues(t, 3, h.seen[2].EventHeader().Timestamp)
}

func TestDispatchOrder_SeniorThenTypeThenJunior(t *testing.T) {
	eng := newTestEngine(t)
	var order []string

	mk := func(id event.ID, name string) *recordingHandler {
		return &recordingHandler{id: id}
	}
	_ = mk

	senior := &orderHandler{id: 10, name: "senior", order: &order}
	typeH := &orderHandler{id: 11, name: "type", order: &order}
	junior := &orderHandler{id: 12, name: "junior", order: &order}

	require.NoError(t, eng.GlobalRegister(senior, false, true))
	require.NoError(t, eng.Register(&stubEvent{}, typeH, false))
	require.NoError(t, eng.GlobalRegister(junior, false, false))

	eng.Put(&stubEvent{Header: event.Header{Timestamp: 1}})

	assert.Equal(t, []string{"senior", "type", "junior"}, order)
}

type orderHandler struct {
	id    event.ID
	name  string
	order *[]string
}

func (h *orderHandler) HandlerID() event.ID { return h.id }
func (h *orderHandler) HandleEvent(ev event.Event) {
	*h.order = append(*h.order, h.name)
}

func TestIgnoreSelf_SkipsProducer(t *testing.T) {
	eng := newTestEngine(t)

	var matcher *selfEmittingHandler
	matcher = &selfEmittingHandler{id: 20, eng: eng}
	require.NoError(t, eng.Register(&stubEvent{}, matcher, true))

	eng.Put(&stubEvent{Header: event.Header{Timestamp: 1}, Payload: 1})

	// The re-emitted event (Producer == matcher's id) must not be
	// redelivered to the matcher itself.
	assert.Equal(t, 1, matcher.handled)
}

type selfEmittingHandler struct {
	id      event.ID
	eng     *event.Engine
	handled int
}

func (h *selfEmittingHandler) HandlerID() event.ID { return h.id }
func (h *selfEmittingHandler) HandleEvent(ev event.Event) {
	h.handled++
	s := ev.(*stubEvent)
	if s.Payload == 1 {
		out := s.Derive().(*stubEvent)
		out.Payload = 2
		h.eng.Put(out)
	}
}

func TestRegisterDuringDispatch_Fails(t *testing.T) {
	eng := newTestEngine(t)
	h := &registeringHandler{id: 30, eng: eng}
	require.NoError(t, eng.Register(&stubEvent{}, h, false))

	eng.Put(&stubEvent{Header: event.Header{Timestamp: 1}})
	require.Error(t, h.err)
	assert.ErrorIs(t, h.err, event.ErrRegisterDuringDispatch)
}

type registeringHandler struct {
	id  event.ID
	eng *event.Engine
	err error
}

func (h *registeringHandler) HandlerID() event.ID { return h.id }
func (h *registeringHandler) HandleEvent(ev event.Event) {
	h.err = h.eng.Register(&stubEvent{}, &recordingHandler{id: 31}, false)
}

func TestDuplicateListener_Rejected(t *testing.T) {
	eng := newTestEngine(t)
	h := &recordingHandler{id: 40}
	require.NoError(t, eng.Register(&stubEvent{}, h, false))
	err := eng.Register(&stubEvent{}, h, false)
	assert.ErrorIs(t, err, event.ErrDuplicateListener)
}

func TestDerive_ResetsHeaderPreservesPayload(t *testing.T) {
	original := &stubEvent{Header: event.Header{Timestamp: 7, Source: 1, Producer: 2}, Payload: 42}
	derived := original.Derive().(*stubEvent)

	assert.Zero(t, derived.Header)
	assert.Equal(t, 42, derived.Payload)
	// The original is untouched.
	assert.EqualValues(t, 7, original.Header.Timestamp)
}
