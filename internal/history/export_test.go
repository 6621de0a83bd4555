package history

import "collaborative-whiteboard/internal/domain"

// Top 返回当前栈顶快照，仅供测试检查栈内容
func (s *Stack) Top() domain.Snapshot {
	return s.history[len(s.history)-1].Clone()
}
