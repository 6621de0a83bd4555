package history_test

import (
	"fmt"
	"testing"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var doc = domain.DocProps{Background: "#fff", Width: 100, Height: 100}

// snapAfter 构造第 n 次编辑之后的文档：对象 o1..on
func snapAfter(n int) domain.Snapshot {
	s := domain.EmptySnapshot(doc)
	for i := 1; i <= n; i++ {
		s.Objects = append(s.Objects, &domain.CanvasObject{
			ID: fmt.Sprintf("o%d", i), Type: "rect", Props: domain.Props{"width": 1.0, "height": 1.0},
		})
	}
	return s
}

func TestStack_UndoRedoLaw(t *testing.T) {
	tests := []struct{ n, u, r int }{
		{0, 0, 0}, {1, 1, 0}, {1, 1, 1}, {3, 2, 1}, {5, 5, 5}, {5, 3, 0}, {4, 4, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("N%d_U%d_R%d", tt.n, tt.u, tt.r), func(t *testing.T) {
			stack := history.New(snapAfter(0), 0)
			for i := 1; i <= tt.n; i++ {
				stack.Record(snapAfter(i))
			}
			var current domain.Snapshot
			for i := 0; i < tt.u; i++ {
				s, ok := stack.Undo()
				require.True(t, ok)
				current = s
			}
			for i := 0; i < tt.r; i++ {
				s, ok := stack.Redo()
				require.True(t, ok)
				current = s
			}
			want := tt.n - tt.u + tt.r
			assert.Equal(t, 1+want, stack.Len())
			assert.Equal(t, snapAfter(want), stack.Top())
			if tt.u+tt.r > 0 {
				assert.Equal(t, snapAfter(want), current, "返回给 restore 的快照即新栈顶")
			}
		})
	}
}

func TestStack_UndoRequiresMoreThanBaseline(t *testing.T) {
	stack := history.New(snapAfter(0), 0)
	_, ok := stack.Undo()
	assert.False(t, ok)
	_, ok = stack.Redo()
	assert.False(t, ok)
	assert.Equal(t, 1, stack.Len())
}

func TestStack_EditAfterUndoDiscardsRedo(t *testing.T) {
	stack := history.New(snapAfter(0), 0)
	stack.Record(snapAfter(1))
	stack.Record(snapAfter(2))
	_, _ = stack.Undo()
	require.True(t, stack.CanRedo())

	stack.Record(snapAfter(1))
	assert.False(t, stack.CanRedo())
	assert.Equal(t, 0, stack.RedoLen())
}

func TestStack_ClearResetsRedo(t *testing.T) {
	stack := history.New(snapAfter(0), 0)
	for i := 1; i <= 3; i++ {
		stack.Record(snapAfter(i))
	}
	_, _ = stack.Undo()
	_, _ = stack.Undo()
	require.Equal(t, 2, stack.RedoLen())

	stack.Clear(domain.EmptySnapshot(doc))
	assert.Equal(t, 0, stack.RedoLen())
	assert.Equal(t, 0, stack.Top().Len())
	assert.Equal(t, 3, stack.Len())

	// clear 本身可以被撤销
	s, ok := stack.Undo()
	require.True(t, ok)
	assert.Equal(t, snapAfter(1), s)
}

func TestStack_IsBounded(t *testing.T) {
	stack := history.New(snapAfter(0), 3)
	for i := 1; i <= 10; i++ {
		stack.Record(snapAfter(i))
	}
	assert.Equal(t, 4, stack.Len())
	for stack.CanUndo() {
		_, _ = stack.Undo()
	}
	assert.Equal(t, snapAfter(7), stack.Top(), "最旧的保留项成为新基线")
}

func TestStack_EntriesAreIsolated(t *testing.T) {
	snap := snapAfter(1)
	stack := history.New(snapAfter(0), 0)
	stack.Record(snap)
	snap.Objects[0].Props["width"] = 42.0

	assert.Equal(t, 1.0, stack.Top().Objects[0].Props["width"])
}
