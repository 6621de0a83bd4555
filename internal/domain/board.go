package domain

// DocProps 是文档级属性：背景色和画布尺寸。
type DocProps struct {
	Background string `json:"background"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Snapshot 是某一时刻房间文档的完整序列化：文档属性 + 有序对象集合。
// 用于加入时的初始状态传输、本地 undo/redo 栈的每一项以及 clear。
type Snapshot struct {
	DocProps
	Objects []*CanvasObject `json:"objects"`
}

// EmptySnapshot 返回只带文档属性的空快照
func EmptySnapshot(doc DocProps) Snapshot {
	return Snapshot{DocProps: doc, Objects: []*CanvasObject{}}
}

// Clone 深拷贝快照 (历史栈中的每一项互不共享对象)
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{DocProps: s.DocProps, Objects: make([]*CanvasObject, 0, len(s.Objects))}
	for _, obj := range s.Objects {
		out.Objects = append(out.Objects, obj.Clone())
	}
	return out
}

// Len 返回快照中的对象数量
func (s Snapshot) Len() int { return len(s.Objects) }

// IDs 按顺序返回对象 ID
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Objects))
	for _, obj := range s.Objects {
		ids = append(ids, obj.ID)
	}
	return ids
}
