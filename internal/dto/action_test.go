package dto_test

import (
	"testing"

	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RequiresEvent(t *testing.T) {
	_, err := dto.Decode([]byte(`{"roomId":"R1"}`))
	assert.Error(t, err)
	_, err = dto.Decode([]byte(`not json`))
	assert.Error(t, err)

	env, err := dto.Decode([]byte(`{"event":"canvas-action","roomId":"R1","action":"undo"}`))
	require.NoError(t, err)
	assert.True(t, env.IsMutation())
	assert.False(t, env.IsOperation())
}

func TestOperationEnvelope_ToOperation(t *testing.T) {
	reg := canvas.DefaultRegistry()
	rect := canvas.NewRect(1, 2, 3, 4, "#123456")

	env, err := dto.OperationEnvelope("R1", domain.AddOp(rect))
	require.NoError(t, err)
	assert.Equal(t, dto.EventObjectAdded, env.Event)
	assert.Equal(t, "R1", env.RoomID)
	op, err := env.ToOperation(reg)
	require.NoError(t, err)
	assert.Equal(t, domain.OpAdd, op.Kind)
	assert.Equal(t, rect.ID, op.TargetID())
	assert.Equal(t, domain.Bounds{Left: 1, Top: 2, Width: 3, Height: 4}, op.Object.Bounds)

	env, err = dto.OperationEnvelope("R1", domain.RemoveOp(rect.ID))
	require.NoError(t, err)
	assert.Equal(t, dto.EventObjectRemoved, env.Event)
	assert.Empty(t, env.Obj)
	op, err = env.ToOperation(reg)
	require.NoError(t, err)
	assert.Equal(t, domain.RemoveOp(rect.ID), op)

	// modify 的 obj 只需要 id，未知属性留给合并后校验
	modified := &dto.Envelope{Event: dto.EventObjectModified, Obj: []byte(`{"id":"x","left":9}`)}
	op, err = modified.ToOperation(reg)
	require.NoError(t, err)
	assert.Equal(t, domain.OpModify, op.Kind)
	assert.Equal(t, 9.0, op.Object.Props["left"])

	noID := &dto.Envelope{Event: dto.EventObjectModified, Obj: []byte(`{"left":9}`)}
	_, err = noID.ToOperation(reg)
	assert.ErrorIs(t, err, domain.ErrReconstructionFailure)
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	snap := domain.Snapshot{
		DocProps: domain.DocProps{Background: "#eeeeee", Width: 640, Height: 480},
		Objects: []*domain.CanvasObject{
			canvas.NewCircle(0, 0, 4, "red"),
			canvas.NewText(5, 5, "hi", "Arial", 12),
		},
	}
	raw, err := dto.EncodeSnapshot(snap)
	require.NoError(t, err)

	got, dropped, err := dto.DecodeSnapshot(raw)
	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Equal(t, snap.DocProps, got.DocProps)
	assert.Equal(t, snap.IDs(), got.IDs())
}

func TestDecodeSnapshot_SkipsUnreadableObjects(t *testing.T) {
	raw := []byte(`{"background":"#fff","width":10,"height":10,"objects":[{"type":"rect","id":"a","width":1,"height":1},null,"oops"]}`)
	got, dropped, err := dto.DecodeSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.IDs())
	assert.Len(t, dropped, 2)

	_, _, err = dto.DecodeSnapshot([]byte(`[]`))
	assert.ErrorIs(t, err, domain.ErrReconstructionFailure)
}
