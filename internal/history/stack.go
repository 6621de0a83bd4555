// Package history 维护整文档快照序列，支撑 undo/redo/clear。
//
// 每个客户端连接持有一个私有的 Stack；hub 中的每个房间也持有一个房间级 Stack
// 用于维护规范文档。两者之间只通过命令 (undo/redo/clear) 联系，从不交换快照。
package history

import "collaborative-whiteboard/internal/domain"

// DefaultLimit 默认最多保留的编辑步数
const DefaultLimit = 100

// Stack 由 history (旧→新，至少包含初始快照) 和 redo (最近撤销的在前) 组成。
type Stack struct {
	history []domain.Snapshot
	redo    []domain.Snapshot
	limit   int
}

// New 以 initial 作为基线创建栈，limit <= 0 时使用 DefaultLimit
func New(initial domain.Snapshot, limit int) *Stack {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Stack{
		history: []domain.Snapshot{initial.Clone()},
		limit:   limit,
	}
}

// Record 追加一次普通编辑后的快照并清空 redo。
// 超过上限时丢弃最旧的一项，history 永远不为空。
func (s *Stack) Record(snap domain.Snapshot) {
	s.history = append(s.history, snap.Clone())
	s.redo = nil
	if over := len(s.history) - (s.limit + 1); over > 0 {
		s.history = append([]domain.Snapshot(nil), s.history[over:]...)
	}
}

// Undo 弹出最新快照压入 redo 前端，返回新的栈顶供 restore 使用。
func (s *Stack) Undo() (domain.Snapshot, bool) {
	if !s.CanUndo() {
		return domain.Snapshot{}, false
	}
	last := len(s.history) - 1
	popped := s.history[last]
	s.history = s.history[:last]
	s.redo = append([]domain.Snapshot{popped}, s.redo...)
	return s.history[last-1].Clone(), true
}

// Redo 弹出 redo 前端的快照追加到 history，并返回它供 restore 使用。
func (s *Stack) Redo() (domain.Snapshot, bool) {
	if !s.CanRedo() {
		return domain.Snapshot{}, false
	}
	next := s.redo[0]
	s.redo = s.redo[1:]
	s.history = append(s.history, next)
	return next.Clone(), true
}

// Clear 追加空快照并清空 redo
func (s *Stack) Clear(empty domain.Snapshot) {
	s.Record(empty)
}

// Reset 丢弃全部历史，以 snap 作为新基线 (例如加入房间后收到 drawing)
func (s *Stack) Reset(snap domain.Snapshot) {
	s.history = []domain.Snapshot{snap.Clone()}
	s.redo = nil
}

func (s *Stack) CanUndo() bool { return len(s.history) > 1 }
func (s *Stack) CanRedo() bool { return len(s.redo) > 0 }
func (s *Stack) Len() int      { return len(s.history) }
func (s *Stack) RedoLen() int  { return len(s.redo) }
