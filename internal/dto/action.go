package dto

import (
	"encoding/json"
	"fmt"

	"collaborative-whiteboard/internal/domain"
)

// WebSocket 事件名
const (
	EventCreateRoom        = "create-room"
	EventRoomCreated       = "room-created"
	EventRoomError         = "room-error"
	EventJoinRoom          = "join-room"
	EventRoomJoined        = "room-joined"
	EventAccessDenied      = "access-denied"
	EventDrawing           = "drawing"
	EventObjectAdded       = "object:added"
	EventObjectModified    = "object:modified"
	EventObjectRemoved     = "object:removed"
	EventCanvasAction      = "canvas-action"
	EventOperationRejected = "operation-rejected"
)

// Envelope 是双向通用的 WebSocket 消息结构，按 Event 区分含义。
// obj 与 snapshot 保留原始 JSON，由接收方通过类型注册表重建。
type Envelope struct {
	Event  string `json:"event"`
	RoomID string `json:"roomId,omitempty"`

	// object:added / object:modified
	Obj json.RawMessage `json:"obj,omitempty"`
	// object:removed
	ID string `json:"id,omitempty"`
	// drawing
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	// canvas-action
	Action string `json:"action,omitempty"`

	// create-room / join-room
	Type     string `json:"type,omitempty"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role,omitempty"`
	Username string `json:"username,omitempty"`
	Ticket   string `json:"ticket,omitempty"`

	// room-joined
	ParticipantID string `json:"participantId,omitempty"`

	// room-error / access-denied / operation-rejected
	Message string `json:"message,omitempty"`
}

// IsOperation 判断是否为需要复制的对象操作
func (e *Envelope) IsOperation() bool {
	switch e.Event {
	case EventObjectAdded, EventObjectModified, EventObjectRemoved:
		return true
	}
	return false
}

// IsMutation 判断消息是否会修改画布 (viewer 不允许发送)
func (e *Envelope) IsMutation() bool {
	return e.IsOperation() || e.Event == EventCanvasAction
}

// Decode 解析原始 WebSocket 消息
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("invalid message: missing event")
	}
	return &env, nil
}

// Encode 序列化消息
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// OperationEnvelope 把 Operation 转成线上消息
func OperationEnvelope(roomID string, op domain.Operation) (*Envelope, error) {
	env := &Envelope{RoomID: roomID}
	switch op.Kind {
	case domain.OpAdd, domain.OpModify:
		raw, err := json.Marshal(op.Object)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal object %s: %w", op.TargetID(), err)
		}
		env.Obj = raw
		env.Event = EventObjectAdded
		if op.Kind == domain.OpModify {
			env.Event = EventObjectModified
		}
	case domain.OpRemove:
		env.Event = EventObjectRemoved
		env.ID = op.TargetID()
	default:
		return nil, fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
	return env, nil
}

// ObjectDecoder 由 canvas.Registry 实现
type ObjectDecoder interface {
	Decode(raw []byte) (*domain.CanvasObject, error)
}

// ToOperation 把线上消息还原为 Operation，obj 通过注册表重建。
// Modify 只做结构解析，属性校验在合并到已有对象之后进行。
func (e *Envelope) ToOperation(dec ObjectDecoder) (domain.Operation, error) {
	switch e.Event {
	case EventObjectAdded:
		obj, err := dec.Decode(e.Obj)
		if err != nil {
			return domain.Operation{}, err
		}
		return domain.AddOp(obj), nil
	case EventObjectModified:
		var obj domain.CanvasObject
		if err := json.Unmarshal(e.Obj, &obj); err != nil {
			return domain.Operation{}, fmt.Errorf("%w: %v", domain.ErrReconstructionFailure, err)
		}
		if obj.ID == "" {
			return domain.Operation{}, fmt.Errorf("%w: modified object without id", domain.ErrReconstructionFailure)
		}
		return domain.ModifyOp(&obj), nil
	case EventObjectRemoved:
		if e.ID == "" {
			return domain.Operation{}, fmt.Errorf("%w: removed without id", domain.ErrReconstructionFailure)
		}
		return domain.RemoveOp(e.ID), nil
	default:
		return domain.Operation{}, fmt.Errorf("event %q is not an operation", e.Event)
	}
}
