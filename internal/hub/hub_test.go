package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"
	"collaborative-whiteboard/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testDoc = domain.DocProps{Background: "#ffffff", Width: 1200, Height: 800}

func newTestHub(t *testing.T, maxParticipants int, ttl time.Duration) *Hub {
	t.Helper()
	return newConfiguredHub(t, maxParticipants, Config{Doc: testDoc, EmptyRoomTTL: ttl})
}

func newConfiguredHub(t *testing.T, maxParticipants int, cfg Config) *Hub {
	t.Helper()
	tickets, err := service.NewTicketService("hub-test-secret", 1)
	require.NoError(t, err)
	access := service.NewAccessService(nil, tickets, nil, service.AccessConfig{
		MaxParticipants: maxParticipants,
		BcryptCost:      bcrypt.MinCost,
	})
	h := NewHub(access, canvas.DefaultRegistry(), cfg)
	t.Cleanup(h.Stop)
	return h
}

func newTestClient(h *Hub, remote string) *Client {
	return NewClient(h, nil, remote)
}

func send(t *testing.T, c *Client, msg map[string]any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.handle(context.Background(), raw)
}

func next(t *testing.T, c *Client) *dto.Envelope {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		env, err := dto.Decode(raw)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected message: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

// join 发送 join-room 并返回收到的 drawing 快照
func join(t *testing.T, c *Client, msg map[string]any) domain.Snapshot {
	t.Helper()
	msg["event"] = dto.EventJoinRoom
	send(t, c, msg)
	joined := next(t, c)
	require.Equal(t, dto.EventRoomJoined, joined.Event, joined.Message)
	assert.NotEmpty(t, joined.ParticipantID)
	assert.NotEmpty(t, joined.Ticket)

	drawing := next(t, c)
	require.Equal(t, dto.EventDrawing, drawing.Event)
	snap, dropped, err := dto.DecodeSnapshot(drawing.Snapshot)
	require.NoError(t, err)
	require.Empty(t, dropped)
	return snap
}

func rectMsg(roomID, id string) map[string]any {
	return map[string]any{
		"event":  dto.EventObjectAdded,
		"roomId": roomID,
		"obj": map[string]any{
			"type": "rect", "id": id, "left": 10, "top": 10, "width": 50, "height": 30, "fill": "red",
		},
	}
}

func canonical(t *testing.T, h *Hub, roomID string) domain.Snapshot {
	t.Helper()
	snap, err := h.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	return snap
}

func TestHub_CreateRoom(t *testing.T) {
	h := newTestHub(t, 0, 0)
	c := newTestClient(h, "a")

	send(t, c, map[string]any{"event": dto.EventCreateRoom, "roomId": "R1", "type": "public"})
	env := next(t, c)
	assert.Equal(t, dto.EventRoomCreated, env.Event)
	assert.Equal(t, "R1", env.RoomID)

	send(t, c, map[string]any{"event": dto.EventCreateRoom, "roomId": "R1", "type": "public"})
	env = next(t, c)
	assert.Equal(t, dto.EventRoomError, env.Event)
	assert.Equal(t, "room already exists", env.Message)

	send(t, c, map[string]any{"event": dto.EventCreateRoom, "roomId": "R2", "type": "private"})
	env = next(t, c)
	assert.Equal(t, dto.EventRoomError, env.Event, "私有房间需要密码")
}

func TestHub_EndToEndRectangle(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1", Type: "public"})
	require.NoError(t, err)

	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	assert.Equal(t, 0, join(t, a, map[string]any{"roomId": "R1", "username": "A"}).Len())
	assert.Equal(t, 0, join(t, b, map[string]any{"roomId": "R1", "username": "B"}).Len())

	send(t, a, rectMsg("R1", "r1"))
	added := next(t, b)
	assert.Equal(t, dto.EventObjectAdded, added.Event)
	obj, err := canvas.DefaultRegistry().Decode(added.Obj)
	require.NoError(t, err)
	assert.Equal(t, "r1", obj.ID)
	expectNone(t, a)

	send(t, b, map[string]any{"event": dto.EventObjectRemoved, "roomId": "R1", "id": "r1"})
	removed := next(t, a)
	assert.Equal(t, dto.EventObjectRemoved, removed.Event)
	assert.Equal(t, "r1", removed.ID)
	expectNone(t, b)

	assert.Equal(t, 0, canonical(t, h, "R1").Len())
}

func TestHub_JoinTransferFidelity(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)

	a := newTestClient(h, "a")
	join(t, a, map[string]any{"roomId": "R1"})
	send(t, a, rectMsg("R1", "r1"))
	send(t, a, map[string]any{
		"event": dto.EventObjectAdded, "roomId": "R1",
		"obj": map[string]any{"type": "circle", "id": "c1", "left": 0, "top": 0, "radius": 5},
	})
	send(t, a, map[string]any{
		"event": dto.EventObjectModified, "roomId": "R1",
		"obj": map[string]any{"type": "rect", "id": "r1", "fill": "blue"},
	})

	want := canonical(t, h, "R1")
	b := newTestClient(h, "b")
	got := join(t, b, map[string]any{"roomId": "R1"})

	assert.Equal(t, []string{"r1", "c1"}, got.IDs())
	assert.Equal(t, testDoc, got.DocProps)
	reg := canvas.DefaultRegistry()
	for _, obj := range got.Objects {
		require.NoError(t, reg.Build(obj))
	}
	assert.Equal(t, want.Objects, got.Objects)
	assert.Equal(t, "blue", got.Objects[0].Props["fill"])
}

func TestHub_WrongPasswordIsDenied(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "P1", Type: "private", Password: "pw"})
	require.NoError(t, err)

	a := newTestClient(h, "a")
	join(t, a, map[string]any{"roomId": "P1", "password": "pw"})
	room, ok := h.Lookup("P1")
	require.True(t, ok)
	require.Equal(t, 1, room.Size())

	intruder := newTestClient(h, "x")
	send(t, intruder, map[string]any{"event": dto.EventJoinRoom, "roomId": "P1", "password": "nope"})
	env := next(t, intruder)
	assert.Equal(t, dto.EventAccessDenied, env.Event)
	assert.Equal(t, "wrong password", env.Message)
	assert.Equal(t, 1, room.Size(), "参与者集合不变")
	expectNone(t, a)

	// 被拒绝的连接仍然不在房间中，操作被忽略
	send(t, intruder, rectMsg("P1", "r1"))
	assert.Equal(t, 0, canonical(t, h, "P1").Len())
}

func TestHub_JoinUnknownRoom(t *testing.T) {
	h := newTestHub(t, 0, 0)
	c := newTestClient(h, "a")
	send(t, c, map[string]any{"event": dto.EventJoinRoom, "roomId": "missing"})
	env := next(t, c)
	assert.Equal(t, dto.EventAccessDenied, env.Event)
	assert.Equal(t, "room not found", env.Message)
}

func TestHub_CapacityIsEnforced(t *testing.T) {
	h := newTestHub(t, 1, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)

	join(t, newTestClient(h, "a"), map[string]any{"roomId": "R1"})
	b := newTestClient(h, "b")
	send(t, b, map[string]any{"event": dto.EventJoinRoom, "roomId": "R1"})
	env := next(t, b)
	assert.Equal(t, dto.EventAccessDenied, env.Event)
	assert.Equal(t, "room is full", env.Message)
}

func TestHub_ViewerMutationsAreRejected(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)

	editor := newTestClient(h, "e")
	viewer := newTestClient(h, "v")
	join(t, editor, map[string]any{"roomId": "R1"})
	join(t, viewer, map[string]any{"roomId": "R1", "role": "viewer"})

	send(t, viewer, rectMsg("R1", "r1"))
	env := next(t, viewer)
	assert.Equal(t, dto.EventOperationRejected, env.Event)
	assert.Equal(t, domain.ErrReadOnly.Error(), env.Message)

	send(t, viewer, map[string]any{"event": dto.EventCanvasAction, "roomId": "R1", "action": "clear"})
	assert.Equal(t, dto.EventOperationRejected, next(t, viewer).Event)

	expectNone(t, editor)
	assert.Equal(t, 0, canonical(t, h, "R1").Len())

	// viewer 仍然接收编辑者的操作
	send(t, editor, rectMsg("R1", "r2"))
	assert.Equal(t, dto.EventObjectAdded, next(t, viewer).Event)
}

func TestHub_UnreconstructibleOperationsAreDropped(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, a, map[string]any{"roomId": "R1"})
	join(t, b, map[string]any{"roomId": "R1"})

	tests := []map[string]any{
		{"event": dto.EventObjectAdded, "roomId": "R1", "obj": map[string]any{"type": "hexagon", "id": "h1"}},
		{"event": dto.EventObjectAdded, "roomId": "R1", "obj": map[string]any{"type": "rect", "id": "r1", "width": "wide"}},
		{"event": dto.EventObjectRemoved, "roomId": "R1"},
	}
	for _, msg := range tests {
		send(t, a, msg)
		env := next(t, a)
		assert.Equal(t, dto.EventOperationRejected, env.Event)
		assert.NotEmpty(t, env.Message)
	}
	expectNone(t, b)

	// 连接仍然可用
	send(t, a, rectMsg("R1", "ok"))
	assert.Equal(t, dto.EventObjectAdded, next(t, b).Event)
}

func TestHub_NoopOperationsAreRelayed(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, a, map[string]any{"roomId": "R1"})
	join(t, b, map[string]any{"roomId": "R1"})

	send(t, a, map[string]any{"event": dto.EventObjectRemoved, "roomId": "R1", "id": "ghost"})
	env := next(t, b)
	assert.Equal(t, dto.EventObjectRemoved, env.Event)
	expectNone(t, a)
}

func TestHub_ForeignRoomMessagesAreIgnored(t *testing.T) {
	h := newTestHub(t, 0, 0)
	for _, id := range []string{"R1", "R2"} {
		_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: id})
		require.NoError(t, err)
	}
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, a, map[string]any{"roomId": "R1"})
	join(t, b, map[string]any{"roomId": "R1"})

	send(t, a, rectMsg("R2", "r1"))
	expectNone(t, b)
	assert.Equal(t, 0, canonical(t, h, "R1").Len())
	assert.Equal(t, 0, canonical(t, h, "R2").Len())
}

func TestHub_CanvasActionsAreRelayedAndApplied(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, a, map[string]any{"roomId": "R1"})
	join(t, b, map[string]any{"roomId": "R1"})

	send(t, a, rectMsg("R1", "r1"))
	send(t, a, rectMsg("R1", "r2"))
	next(t, b)
	next(t, b)

	send(t, a, map[string]any{"event": dto.EventCanvasAction, "roomId": "R1", "action": "undo"})
	env := next(t, b)
	assert.Equal(t, dto.EventCanvasAction, env.Event)
	assert.Equal(t, "undo", env.Action)
	assert.Empty(t, env.Snapshot, "命令转发不带快照")
	assert.Equal(t, []string{"r1"}, canonical(t, h, "R1").IDs())

	send(t, a, map[string]any{"event": dto.EventCanvasAction, "roomId": "R1", "action": "redo"})
	assert.Equal(t, "redo", next(t, b).Action)
	assert.Equal(t, []string{"r1", "r2"}, canonical(t, h, "R1").IDs())

	send(t, a, map[string]any{"event": dto.EventCanvasAction, "roomId": "R1", "action": "clear"})
	assert.Equal(t, "clear", next(t, b).Action)
	assert.Equal(t, 0, canonical(t, h, "R1").Len())

	send(t, a, map[string]any{"event": dto.EventCanvasAction, "roomId": "R1", "action": "explode"})
	assert.Equal(t, dto.EventOperationRejected, next(t, a).Event)
	expectNone(t, b)
}

func TestHub_LastLeaveDestroysRoom(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, a, map[string]any{"roomId": "R1"})
	join(t, b, map[string]any{"roomId": "R1"})

	a.disconnect()
	_, ok := <-a.send
	assert.False(t, ok, "离开后发送通道被关闭")
	_, stillThere := h.Lookup("R1")
	assert.True(t, stillThere)

	b.disconnect()
	assert.Eventually(t, func() bool {
		_, ok := h.Lookup("R1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err = h.Snapshot(context.Background(), "R1")
	assert.True(t, errors.Is(err, domain.ErrRoomNotFound))
}

func TestHub_UnjoinedRoomExpires(t *testing.T) {
	h := newTestHub(t, 0, 30*time.Millisecond)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := h.Lookup("R1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublicRooms(t *testing.T) {
	h := newTestHub(t, 3, 0)
	ctx := context.Background()
	_, err := h.CreateRoom(ctx, service.CreateRoomRequest{RoomID: "B"})
	require.NoError(t, err)
	_, err = h.CreateRoom(ctx, service.CreateRoomRequest{RoomID: "A"})
	require.NoError(t, err)
	_, err = h.CreateRoom(ctx, service.CreateRoomRequest{RoomID: "S", Type: "private", Password: "pw"})
	require.NoError(t, err)
	join(t, newTestClient(h, "a"), map[string]any{"roomId": "B"})

	rooms := h.PublicRooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "A", rooms[0].RoomID)
	assert.Equal(t, 0, rooms[0].Participants)
	assert.Equal(t, "B", rooms[1].RoomID)
	assert.Equal(t, 1, rooms[1].Participants)
	assert.Equal(t, 3, rooms[1].Capacity)
}

func TestHub_StopClosesClients(t *testing.T) {
	h := newTestHub(t, 0, 0)
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)
	a := newTestClient(h, "a")
	join(t, a, map[string]any{"roomId": "R1"})

	h.Stop()
	_, ok := <-a.send
	assert.False(t, ok)
	_, ok = h.Lookup("R1")
	assert.False(t, ok)

	_, err = h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R2"})
	assert.True(t, errors.Is(err, ErrHubStopped))
}

func TestHub_DocumentSizeLimit(t *testing.T) {
	// rectMsg 的 obj 序列化后为 80 字节，上限只容得下两个
	h := newConfiguredHub(t, 0, Config{Doc: testDoc, MaxDocumentBytes: 200})
	_, err := h.CreateRoom(context.Background(), service.CreateRoomRequest{RoomID: "R1"})
	require.NoError(t, err)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, a, map[string]any{"roomId": "R1"})
	join(t, b, map[string]any{"roomId": "R1"})

	send(t, a, rectMsg("R1", "r1"))
	send(t, a, rectMsg("R1", "r2"))
	next(t, b)
	next(t, b)

	send(t, a, rectMsg("R1", "r3"))
	env := next(t, a)
	assert.Equal(t, dto.EventOperationRejected, env.Event)
	assert.Equal(t, domain.ErrDocumentFull.Error(), env.Message)
	expectNone(t, b)
	assert.Equal(t, []string{"r1", "r2"}, canonical(t, h, "R1").IDs())

	// 删除释放空间
	send(t, a, map[string]any{"event": dto.EventObjectRemoved, "roomId": "R1", "id": "r1"})
	next(t, b)
	send(t, a, rectMsg("R1", "r3"))
	assert.Equal(t, dto.EventObjectAdded, next(t, b).Event)
	assert.Equal(t, []string{"r2", "r3"}, canonical(t, h, "R1").IDs())

	// undo 恢复的快照同样被统计
	send(t, a, map[string]any{"event": dto.EventCanvasAction, "roomId": "R1", "action": "undo"})
	next(t, b)
	assert.Equal(t, []string{"r2"}, canonical(t, h, "R1").IDs())
	send(t, a, rectMsg("R1", "r4"))
	assert.Equal(t, dto.EventObjectAdded, next(t, b).Event)
	send(t, a, rectMsg("R1", "r5"))
	assert.Equal(t, dto.EventOperationRejected, next(t, a).Event)
}
