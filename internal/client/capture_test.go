package client

import (
	"testing"

	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"
	"collaborative-whiteboard/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureFixture struct {
	store *canvas.Store
	stack *history.Stack
	gate  *Gate
	sent  []*dto.Envelope
}

func newCaptureFixture(t *testing.T) *captureFixture {
	t.Helper()
	f := &captureFixture{gate: &Gate{}}
	f.store = canvas.NewStore(canvas.DefaultRegistry(), domain.DocProps{Background: "#fff", Width: 800, Height: 600})
	f.stack = history.New(f.store.Snapshot(), 0)
	c := NewCapture(f.store, f.stack, f.gate, func(env *dto.Envelope) { f.sent = append(f.sent, env) }, nil)
	c.SetRoom("R1")
	return f
}

func TestCapture_LocalEditsEmitAndRecord(t *testing.T) {
	f := newCaptureFixture(t)
	rect := canvas.NewRect(10, 20, 30, 40, "#ff0000")

	_, err := f.store.Apply(domain.AddOp(rect))
	require.NoError(t, err)
	_, err = f.store.Apply(domain.ModifyOp(&domain.CanvasObject{ID: rect.ID, Props: domain.Props{"left": 50.0}}))
	require.NoError(t, err)
	_, err = f.store.Apply(domain.RemoveOp(rect.ID))
	require.NoError(t, err)

	require.Len(t, f.sent, 3)
	assert.Equal(t, dto.EventObjectAdded, f.sent[0].Event)
	assert.Equal(t, dto.EventObjectModified, f.sent[1].Event)
	assert.Equal(t, dto.EventObjectRemoved, f.sent[2].Event)
	for _, env := range f.sent {
		assert.Equal(t, "R1", env.RoomID)
	}
	assert.Equal(t, rect.ID, f.sent[2].ID)

	// obj 带有 type 和 id，接收方可以直接重建
	obj, err := canvas.DefaultRegistry().Decode(f.sent[0].Obj)
	require.NoError(t, err)
	assert.Equal(t, rect.ID, obj.ID)
	assert.Equal(t, "rect", obj.Type)

	assert.Equal(t, 4, f.stack.Len())
}

func TestCapture_RecordClearsRedo(t *testing.T) {
	f := newCaptureFixture(t)
	_, err := f.store.Apply(domain.AddOp(canvas.NewRect(0, 0, 1, 1, "")))
	require.NoError(t, err)
	_, ok := f.stack.Undo()
	require.True(t, ok)
	require.Equal(t, 1, f.stack.RedoLen())

	_, err = f.store.Apply(domain.AddOp(canvas.NewCircle(5, 5, 2, "")))
	require.NoError(t, err)
	assert.Equal(t, 0, f.stack.RedoLen())
}

func TestCapture_SuppressedWhileGateEngaged(t *testing.T) {
	f := newCaptureFixture(t)

	tok := f.gate.Acquire()
	_, err := f.store.Apply(domain.AddOp(canvas.NewRect(0, 0, 10, 10, "")))
	require.NoError(t, err)
	f.store.Restore(f.store.Empty())
	tok.Release()

	assert.Empty(t, f.sent, "remote-origin changes must not echo")
	assert.Equal(t, 1, f.stack.Len())

	// 释放后恢复捕获
	_, err = f.store.Apply(domain.AddOp(canvas.NewRect(1, 1, 10, 10, "")))
	require.NoError(t, err)
	assert.Len(t, f.sent, 1)
}

func TestCapture_GateReleasedAfterFailedReconstruction(t *testing.T) {
	f := newCaptureFixture(t)

	err := f.gate.Hold(func() error {
		_, err := f.store.Apply(domain.AddOp(domain.NewObject("hexagon", domain.Props{})))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrUnknownObjectType)
	assert.False(t, f.gate.Engaged())

	_, err = f.store.Apply(domain.AddOp(canvas.NewRect(1, 1, 10, 10, "")))
	require.NoError(t, err)
	assert.Len(t, f.sent, 1, "next local edit is captured")
}

func TestCapture_NoOpsProduceNothing(t *testing.T) {
	f := newCaptureFixture(t)
	rect := canvas.NewRect(0, 0, 10, 10, "")
	_, err := f.store.Apply(domain.AddOp(rect))
	require.NoError(t, err)

	changed, err := f.store.Apply(domain.AddOp(rect))
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = f.store.Apply(domain.RemoveOp("missing"))
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Len(t, f.sent, 1)
	assert.Equal(t, 2, f.stack.Len())
}
