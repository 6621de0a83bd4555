package domain

import "fmt"

// OpKind 是复制单元 Operation 的种类。
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpModify OpKind = "modify"
	OpRemove OpKind = "remove"
)

// Operation 表示对单个 CanvasObject 的一次离散编辑。
// Add/Modify 携带对象 (含 ID)，Remove 只携带 ID。
type Operation struct {
	Kind   OpKind
	Object *CanvasObject
	ID     string
}

// AddOp 构造 Add 操作
func AddOp(obj *CanvasObject) Operation {
	return Operation{Kind: OpAdd, Object: obj, ID: obj.ID}
}

// ModifyOp 构造 Modify 操作，obj.Props 会被合并到已有对象上
func ModifyOp(obj *CanvasObject) Operation {
	return Operation{Kind: OpModify, Object: obj, ID: obj.ID}
}

// RemoveOp 构造 Remove 操作
func RemoveOp(id string) Operation {
	return Operation{Kind: OpRemove, ID: id}
}

// TargetID 返回操作针对的对象 ID
func (op Operation) TargetID() string {
	if op.ID == "" && op.Object != nil {
		return op.Object.ID
	}
	return op.ID
}

// CanvasAction 是通过命令转发 (不带快照) 的批量状态操作。
type CanvasAction string

const (
	ActionUndo  CanvasAction = "undo"
	ActionRedo  CanvasAction = "redo"
	ActionClear CanvasAction = "clear"
)

// ParseCanvasAction 校验客户端发来的 action 字段
func ParseCanvasAction(s string) (CanvasAction, error) {
	switch a := CanvasAction(s); a {
	case ActionUndo, ActionRedo, ActionClear:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported canvas action %q", s)
	}
}
