package canvas

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"collaborative-whiteboard/internal/domain"
)

// 内置对象类型标签
const (
	TypePath   = "path"
	TypeRect   = "rect"
	TypeCircle = "circle"
	TypeText   = "text"
)

const (
	defaultFontSize   = 20.0
	defaultLineHeight = 1.16
	// 估算单个字符宽度与字号的比例
	charWidthRatio = 0.6
)

// NewRect 构造矩形
func NewRect(left, top, width, height float64, fill string) *domain.CanvasObject {
	return domain.NewObject(TypeRect, domain.Props{
		"left": left, "top": top, "width": width, "height": height, "fill": fill,
	})
}

// NewCircle 构造圆
func NewCircle(left, top, radius float64, fill string) *domain.CanvasObject {
	return domain.NewObject(TypeCircle, domain.Props{
		"left": left, "top": top, "radius": radius, "fill": fill,
	})
}

// NewText 构造文本
func NewText(left, top float64, text, fontFamily string, fontSize float64) *domain.CanvasObject {
	return domain.NewObject(TypeText, domain.Props{
		"left": left, "top": top, "text": text, "fontFamily": fontFamily, "fontSize": fontSize,
	})
}

// NewPath 构造自由路径，points 为 [x, y] 对
func NewPath(stroke string, strokeWidth float64, points ...[2]float64) *domain.CanvasObject {
	pts := make([]any, 0, len(points))
	for _, p := range points {
		pts = append(pts, []any{p[0], p[1]})
	}
	return domain.NewObject(TypePath, domain.Props{
		"path": pts, "stroke": stroke, "strokeWidth": strokeWidth,
	})
}

func buildRect(p domain.Props) (domain.Bounds, error) {
	left, top, err := origin(p)
	if err != nil {
		return domain.Bounds{}, err
	}
	w, err := requireNonNegative(p, "width")
	if err != nil {
		return domain.Bounds{}, err
	}
	h, err := requireNonNegative(p, "height")
	if err != nil {
		return domain.Bounds{}, err
	}
	sx, sy, err := scale(p)
	if err != nil {
		return domain.Bounds{}, err
	}
	if err := optionalStrings(p, "fill", "stroke"); err != nil {
		return domain.Bounds{}, err
	}
	return domain.Bounds{Left: left, Top: top, Width: w * sx, Height: h * sy}, nil
}

func buildCircle(p domain.Props) (domain.Bounds, error) {
	left, top, err := origin(p)
	if err != nil {
		return domain.Bounds{}, err
	}
	r, err := requireNonNegative(p, "radius")
	if err != nil {
		return domain.Bounds{}, err
	}
	sx, sy, err := scale(p)
	if err != nil {
		return domain.Bounds{}, err
	}
	if err := optionalStrings(p, "fill", "stroke"); err != nil {
		return domain.Bounds{}, err
	}
	return domain.Bounds{Left: left, Top: top, Width: 2 * r * sx, Height: 2 * r * sy}, nil
}

func buildText(p domain.Props) (domain.Bounds, error) {
	left, top, err := origin(p)
	if err != nil {
		return domain.Bounds{}, err
	}
	text, ok := p["text"].(string)
	if !ok {
		return domain.Bounds{}, fmt.Errorf("text must be a string")
	}
	fontSize, err := optionalNumber(p, "fontSize", defaultFontSize)
	if err != nil {
		return domain.Bounds{}, err
	}
	if fontSize <= 0 {
		return domain.Bounds{}, fmt.Errorf("fontSize must be positive")
	}
	lineHeight, err := optionalNumber(p, "lineHeight", defaultLineHeight)
	if err != nil {
		return domain.Bounds{}, err
	}
	if err := optionalStrings(p, "fontFamily", "fill"); err != nil {
		return domain.Bounds{}, err
	}
	sx, sy, err := scale(p)
	if err != nil {
		return domain.Bounds{}, err
	}

	lines := strings.Split(text, "\n")
	longest := 0
	for _, line := range lines {
		if n := utf8.RuneCountInString(line); n > longest {
			longest = n
		}
	}
	width := float64(longest) * fontSize * charWidthRatio
	// textbox 有固定宽度
	if w, err := optionalNumber(p, "width", -1); err != nil {
		return domain.Bounds{}, err
	} else if w >= 0 {
		width = w
	}
	height := float64(len(lines)) * fontSize * lineHeight
	return domain.Bounds{Left: left, Top: top, Width: width * sx, Height: height * sy}, nil
}

func buildPath(p domain.Props) (domain.Bounds, error) {
	raw, ok := p["path"].([]any)
	if !ok || len(raw) == 0 {
		return domain.Bounds{}, fmt.Errorf("path must be a non-empty list of points")
	}
	if _, err := optionalNumber(p, "strokeWidth", 1); err != nil {
		return domain.Bounds{}, err
	}
	if err := optionalStrings(p, "stroke", "fill"); err != nil {
		return domain.Bounds{}, err
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	points := 0
	for i, pt := range raw {
		x, y, ok, err := point(pt)
		if err != nil {
			return domain.Bounds{}, fmt.Errorf("path point %d: %v", i, err)
		}
		if !ok {
			continue
		}
		points++
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	if points == 0 {
		return domain.Bounds{}, fmt.Errorf("path has no coordinates")
	}
	return domain.Bounds{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}, nil
}

// point 接受 [x, y]、{"x": .., "y": ..} 或 ["L", .., x, y] 这样的路径命令。
// 不带坐标的命令 (如 ["Z"]) 第三个返回值为 false。
func point(v any) (float64, float64, bool, error) {
	switch t := v.(type) {
	case []any:
		coords := t
		if len(t) > 0 {
			if _, isCmd := t[0].(string); isCmd {
				coords = t[1:]
				if len(coords) == 0 {
					return 0, 0, false, nil
				}
			}
		}
		if len(coords) < 2 {
			return 0, 0, false, fmt.Errorf("expected [x, y]")
		}
		x, okX := coords[len(coords)-2].(float64)
		y, okY := coords[len(coords)-1].(float64)
		if !okX || !okY {
			return 0, 0, false, fmt.Errorf("coordinates must be numbers")
		}
		return x, y, true, nil
	case map[string]any:
		x, okX := t["x"].(float64)
		y, okY := t["y"].(float64)
		if !okX || !okY {
			return 0, 0, false, fmt.Errorf("coordinates must be numbers")
		}
		return x, y, true, nil
	default:
		return 0, 0, false, fmt.Errorf("unsupported point %T", v)
	}
}

func origin(p domain.Props) (float64, float64, error) {
	left, err := optionalNumber(p, "left", 0)
	if err != nil {
		return 0, 0, err
	}
	top, err := optionalNumber(p, "top", 0)
	if err != nil {
		return 0, 0, err
	}
	return left, top, nil
}

func scale(p domain.Props) (float64, float64, error) {
	sx, err := optionalNumber(p, "scaleX", 1)
	if err != nil {
		return 0, 0, err
	}
	sy, err := optionalNumber(p, "scaleY", 1)
	if err != nil {
		return 0, 0, err
	}
	return sx, sy, nil
}

func optionalNumber(p domain.Props, key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s must be a finite number", key)
	}
	return f, nil
}

func requireNonNegative(p domain.Props, key string) (float64, error) {
	if _, ok := p[key]; !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, err := optionalNumber(p, key, 0)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return f, nil
}

func optionalStrings(p domain.Props, keys ...string) error {
	for _, key := range keys {
		if v, ok := p[key]; ok && v != nil {
			if _, isStr := v.(string); !isStr {
				return fmt.Errorf("%s must be a string", key)
			}
		}
	}
	return nil
}
