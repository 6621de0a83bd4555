package client

import (
	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"
	"collaborative-whiteboard/internal/history"

	"github.com/sirupsen/logrus"
)

// Emitter 接收 Capture 生成的待发送消息
type Emitter func(env *dto.Envelope)

// Capture 监听 Store 的变更。
// Gate 未启用时，每个变更都被视为本地编辑：生成 object:* 消息交给 Emitter，
// 并把当前快照记入历史栈 (同时清空 redo)。
type Capture struct {
	store  *canvas.Store
	stack  *history.Stack
	gate   *Gate
	emit   Emitter
	roomID string
	log    *logrus.Entry
}

// NewCapture 创建 Capture 并注册到 store
func NewCapture(store *canvas.Store, stack *history.Stack, gate *Gate, emit Emitter, log *logrus.Entry) *Capture {
	if log == nil {
		log = logrus.WithField("component", "capture")
	}
	c := &Capture{store: store, stack: stack, gate: gate, emit: emit, log: log}
	store.Observe(c.onChange)
	return c
}

// SetRoom 设置生成消息时使用的房间 ID
func (c *Capture) SetRoom(roomID string) { c.roomID = roomID }

func (c *Capture) onChange(ch canvas.Change) {
	if c.gate.Engaged() {
		return
	}
	var op domain.Operation
	switch ch.Kind {
	case canvas.ChangeAdded:
		op = domain.AddOp(ch.Object)
	case canvas.ChangeModified:
		op = domain.ModifyOp(ch.Object)
	case canvas.ChangeRemoved:
		op = domain.RemoveOp(ch.ID)
	default:
		return
	}

	env, err := dto.OperationEnvelope(c.roomID, op)
	if err != nil {
		c.log.WithError(err).WithField("object_id", ch.ID).Error("Failed to build operation message")
		return
	}
	c.stack.Record(c.store.Snapshot())
	if c.emit != nil {
		c.emit(env)
	}
}
