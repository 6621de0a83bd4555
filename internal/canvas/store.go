// Package canvas 实现单个房间画布文档的内存表示 (Object Store)。
package canvas

import (
	"fmt"

	"collaborative-whiteboard/internal/domain"

	"github.com/sirupsen/logrus"
)

// ChangeKind 是 Store 发出的变更通知类型
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change 是一次变更通知。Object 在 removed 时为被删除的对象。
type Change struct {
	Kind   ChangeKind
	Object *domain.CanvasObject
	ID     string
}

// Listener 在每次变更完成之后被同步调用，不得修改 Object。
type Listener func(Change)

// Store 是有序的、按 ID 索引的对象集合。
// 不是并发安全的：每个 Store 只被一个事件处理协程访问。
type Store struct {
	reg       *Registry
	doc       domain.DocProps
	objects   []*domain.CanvasObject
	index     map[string]*domain.CanvasObject
	listeners []Listener
	log       *logrus.Entry
}

// NewStore 创建空文档
func NewStore(reg *Registry, doc domain.DocProps) *Store {
	if reg == nil {
		panic("Registry cannot be nil for Store")
	}
	return &Store{
		reg:     reg,
		doc:     doc,
		objects: make([]*domain.CanvasObject, 0),
		index:   make(map[string]*domain.CanvasObject),
		log:     logrus.WithField("component", "canvas_store"),
	}
}

// SetLogger 替换日志上下文
func (s *Store) SetLogger(log *logrus.Entry) {
	if log != nil {
		s.log = log
	}
}

// Observe 注册变更监听 (渲染面的 added/modified/removed 通知)
func (s *Store) Observe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(c Change) {
	for _, l := range s.listeners {
		l(c)
	}
}

// Apply 应用单个操作，返回状态是否发生变化。
// 重复的 Add、针对不存在 ID 的 Modify/Remove 都是无操作，不返回错误。
// 只有对象本身无法重建时才返回错误，此时 Store 保持不变。
func (s *Store) Apply(op domain.Operation) (bool, error) {
	switch op.Kind {
	case domain.OpAdd:
		return s.add(op.Object)
	case domain.OpModify:
		return s.modify(op.Object)
	case domain.OpRemove:
		return s.remove(op.TargetID()), nil
	default:
		return false, fmt.Errorf("canvas: unsupported operation kind %q", op.Kind)
	}
}

func (s *Store) add(obj *domain.CanvasObject) (bool, error) {
	if obj == nil {
		return false, fmt.Errorf("%w: add without object", domain.ErrReconstructionFailure)
	}
	if _, exists := s.index[obj.ID]; exists {
		return false, nil
	}
	built := obj.Clone()
	if err := s.reg.Build(built); err != nil {
		return false, err
	}
	s.objects = append(s.objects, built)
	s.index[built.ID] = built
	s.notify(Change{Kind: ChangeAdded, Object: built, ID: built.ID})
	return true, nil
}

func (s *Store) modify(patch *domain.CanvasObject) (bool, error) {
	if patch == nil {
		return false, fmt.Errorf("%w: modify without object", domain.ErrReconstructionFailure)
	}
	existing, ok := s.index[patch.ID]
	if !ok {
		// 乱序到达 (已被删除的对象) 直接忽略
		return false, nil
	}
	merged := existing.Clone()
	for k, v := range patch.Props {
		if k == "type" || k == "id" {
			continue
		}
		merged.Props[k] = v
	}
	if err := s.reg.Build(merged); err != nil {
		return false, err
	}
	for i, obj := range s.objects {
		if obj.ID == merged.ID {
			s.objects[i] = merged
			break
		}
	}
	s.index[merged.ID] = merged
	s.notify(Change{Kind: ChangeModified, Object: merged, ID: merged.ID})
	return true, nil
}

func (s *Store) remove(id string) bool {
	obj, ok := s.index[id]
	if !ok {
		return false
	}
	for i, o := range s.objects {
		if o.ID == id {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	delete(s.index, id)
	s.notify(Change{Kind: ChangeRemoved, Object: obj, ID: id})
	return true
}

// Snapshot 返回当前文档的深拷贝
func (s *Store) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{DocProps: s.doc, Objects: make([]*domain.CanvasObject, 0, len(s.objects))}
	for _, obj := range s.objects {
		snap.Objects = append(snap.Objects, obj.Clone())
	}
	return snap
}

// Empty 返回保留文档属性的空快照
func (s *Store) Empty() domain.Snapshot {
	return domain.EmptySnapshot(s.doc)
}

// Restore 整体替换对象集合：先删除全部已有对象，再按顺序插入快照中的对象，
// ID 保持不变，包围盒在返回前重新计算。
// 无法重建的对象被丢弃并记录警告。
func (s *Store) Restore(snap domain.Snapshot) {
	old := s.objects
	s.objects = make([]*domain.CanvasObject, 0, len(snap.Objects))
	s.index = make(map[string]*domain.CanvasObject, len(snap.Objects))
	for _, obj := range old {
		s.notify(Change{Kind: ChangeRemoved, Object: obj, ID: obj.ID})
	}

	if snap.Width > 0 && snap.Height > 0 {
		s.doc = snap.DocProps
	} else if snap.Background != "" {
		s.doc.Background = snap.Background
	}

	dropped := 0
	for _, obj := range snap.Objects {
		if obj == nil {
			dropped++
			continue
		}
		if _, dup := s.index[obj.ID]; dup {
			s.log.WithField("object_id", obj.ID).Warn("Duplicate object id in snapshot, skipping")
			dropped++
			continue
		}
		built := obj.Clone()
		if err := s.reg.Build(built); err != nil {
			s.log.WithError(err).WithField("object_id", obj.ID).Warn("Dropping unreconstructible object during restore")
			dropped++
			continue
		}
		s.objects = append(s.objects, built)
		s.index[built.ID] = built
		s.notify(Change{Kind: ChangeAdded, Object: built, ID: built.ID})
	}
	if dropped > 0 {
		s.log.WithField("dropped", dropped).Warn("Snapshot restored with dropped objects")
	}
}

// Get 按 ID 查找对象 (返回拷贝)
func (s *Store) Get(id string) (*domain.CanvasObject, bool) {
	obj, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// Objects 按顺序返回对象拷贝
func (s *Store) Objects() []*domain.CanvasObject {
	return s.Snapshot().Objects
}

// Len 返回对象数量
func (s *Store) Len() int { return len(s.objects) }

// Doc 返回文档属性
func (s *Store) Doc() domain.DocProps { return s.doc }

// Registry 返回 Store 使用的类型注册表
func (s *Store) Registry() *Registry { return s.reg }
