package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"collaborative-whiteboard/internal/domain"
)

// Builder 校验某个类型的属性并计算派生几何 (包围盒)。
// 传入的 props 已经是 JSON 规范形式。
type Builder func(props domain.Props) (domain.Bounds, error)

// Registry 是类型标签到重建函数的映射。
// 未注册的类型返回 domain.ErrUnknownObjectType，而不是静默接受。
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
	aliases  map[string]string
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		aliases:  make(map[string]string),
	}
}

// DefaultRegistry 注册 path / rect / circle / text 四种内置类型
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// 内置类型不会失败，失败说明代码写错了
	mustRegister(r, TypePath, buildPath)
	mustRegister(r, TypeRect, buildRect)
	mustRegister(r, TypeCircle, buildCircle)
	mustRegister(r, TypeText, buildText, "i-text", "textbox")
	return r
}

func mustRegister(r *Registry, objType string, b Builder, aliases ...string) {
	if err := r.Register(objType, b, aliases...); err != nil {
		panic(err)
	}
}

// Register 注册一个类型，注册时即校验：标签非空、builder 非 nil、不可重复。
func (r *Registry) Register(objType string, b Builder, aliases ...string) error {
	if objType == "" {
		return errors.New("canvas: object type tag cannot be empty")
	}
	if b == nil {
		return fmt.Errorf("canvas: nil builder for object type %q", objType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.knownLocked(objType) {
		return fmt.Errorf("canvas: object type %q already registered", objType)
	}
	for _, alias := range aliases {
		if alias == "" || alias == objType || r.knownLocked(alias) {
			return fmt.Errorf("canvas: invalid or duplicate alias %q for type %q", alias, objType)
		}
	}
	r.builders[objType] = b
	for _, alias := range aliases {
		r.aliases[alias] = objType
	}
	return nil
}

func (r *Registry) knownLocked(tag string) bool {
	if _, ok := r.builders[tag]; ok {
		return true
	}
	_, ok := r.aliases[tag]
	return ok
}

func (r *Registry) lookup(objType string) (Builder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[objType]; ok {
		objType = canonical
	}
	b, ok := r.builders[objType]
	return b, ok
}

// Build 就地校验对象：规范化属性并重新计算包围盒。
// 对象的 Type 保持原样 (别名也原样往返)。
func (r *Registry) Build(obj *domain.CanvasObject) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", domain.ErrReconstructionFailure)
	}
	b, ok := r.lookup(obj.Type)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownObjectType, obj.Type)
	}
	if obj.ID == "" {
		return fmt.Errorf("%w: %s object without id", domain.ErrReconstructionFailure, obj.Type)
	}
	props, err := canonicalProps(obj.Props)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReconstructionFailure, err)
	}
	bounds, err := b(props)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrReconstructionFailure, obj.Type, obj.ID, err)
	}
	obj.Props = props
	obj.Bounds = bounds
	return nil
}

// Decode 从线上的 obj 负载重建对象
func (r *Registry) Decode(raw []byte) (*domain.CanvasObject, error) {
	var obj domain.CanvasObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		if errors.Is(err, domain.ErrReconstructionFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReconstructionFailure, err)
	}
	if err := r.Build(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// canonicalProps 通过一次 JSON 往返把属性转换为规范形式，
// 这样本地构造的对象和从线上解码的对象在结构上可以直接比较。
func canonicalProps(p domain.Props) (domain.Props, error) {
	if len(p) == 0 {
		return domain.Props{}, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	out := domain.Props{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	delete(out, "type")
	delete(out, "id")
	return out, nil
}
