package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Props 是对象的类型相关属性包 (几何、颜色、字体、文本内容等)。
// 值统一使用 JSON 规范形式：float64 / string / bool / []any / map[string]any。
type Props map[string]any

// Bounds 是由属性推导出的包围盒，不参与序列化。
type Bounds struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// CanvasObject 表示画布上一个可绘制实体。
// ID 在创建时分配一次，之后不再改变；跨客户端匹配只依赖 ID。
type CanvasObject struct {
	ID     string
	Type   string
	Props  Props
	Bounds Bounds
}

// NewObjectID 生成全局唯一的对象标识符
func NewObjectID() string {
	return uuid.NewString()
}

// NewObject 创建一个新对象并分配新的 ID。
func NewObject(objType string, props Props) *CanvasObject {
	if props == nil {
		props = Props{}
	}
	return &CanvasObject{ID: NewObjectID(), Type: objType, Props: props}
}

// Clone 返回对象的深拷贝。
func (o *CanvasObject) Clone() *CanvasObject {
	if o == nil {
		return nil
	}
	return &CanvasObject{
		ID:     o.ID,
		Type:   o.Type,
		Props:  o.Props.Clone(),
		Bounds: o.Bounds,
	}
}

// Number 读取数值属性，缺失时返回 def。
func (o *CanvasObject) Number(key string, def float64) float64 {
	return o.Props.Number(key, def)
}

// MarshalJSON 输出扁平结构：{"type": ..., "id": ..., <props>}
func (o *CanvasObject) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(o.Props)+2)
	for k, v := range o.Props {
		m[k] = v
	}
	m["type"] = o.Type
	m["id"] = o.ID
	return json.Marshal(m)
}

// UnmarshalJSON 只做结构解析，type/id 缺失时留空，
// 类型校验和几何计算由 canvas.Registry 负责。
func (o *CanvasObject) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrReconstructionFailure, err)
	}
	if m == nil {
		return fmt.Errorf("%w: object payload is null", ErrReconstructionFailure)
	}
	o.Type, _ = m["type"].(string)
	o.ID, _ = m["id"].(string)
	delete(m, "type")
	delete(m, "id")
	o.Props = Props(m)
	o.Bounds = Bounds{}
	return nil
}

// Clone 深拷贝属性包
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Number 读取数值属性
func (p Props) Number(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// String 读取字符串属性
func (p Props) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
