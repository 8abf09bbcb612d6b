package warp

import "fmt"

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// Landmark5 holds the five alignment points in order:
// left eye, right eye, nose, left mouth corner, right mouth corner.
type Landmark5 [5]Point

// Template is a canonical 5-point layout a model was trained against
type Template int

const (
	TemplateArcFace112V1 Template = iota
	TemplateArcFace112V2
	TemplateArcFace128V2
	TemplateFFHQ512
)

// templatePoints are normalised to a unit crop; multiply by the crop size.
var templatePoints = map[Template]Landmark5{
	TemplateArcFace112V1: {
		{X: 0.35473214, Y: 0.45658929},
		{X: 0.64526786, Y: 0.45658929},
		{X: 0.50000000, Y: 0.61154464},
		{X: 0.37913393, Y: 0.77687500},
		{X: 0.62086607, Y: 0.77687500},
	},
	TemplateArcFace112V2: {
		{X: 0.34191607, Y: 0.46157411},
		{X: 0.65653393, Y: 0.45983393},
		{X: 0.50022500, Y: 0.64050536},
		{X: 0.37097589, Y: 0.82469196},
		{X: 0.63151696, Y: 0.82325089},
	},
	TemplateArcFace128V2: {
		{X: 0.36167656, Y: 0.40387734},
		{X: 0.63696719, Y: 0.40235469},
		{X: 0.50019687, Y: 0.56044219},
		{X: 0.38710391, Y: 0.72160547},
		{X: 0.61507734, Y: 0.72034453},
	},
	TemplateFFHQ512: {
		{X: 0.37691676, Y: 0.46864664},
		{X: 0.62285697, Y: 0.46912813},
		{X: 0.50123859, Y: 0.61331904},
		{X: 0.39308822, Y: 0.72541100},
		{X: 0.61150205, Y: 0.72490465},
	},
}

var templateNames = map[Template]string{
	TemplateArcFace112V1: "arcface_112_v1",
	TemplateArcFace112V2: "arcface_112_v2",
	TemplateArcFace128V2: "arcface_128_v2",
	TemplateFFHQ512:      "ffhq_512",
}

func (t Template) String() string {
	if name, ok := templateNames[t]; ok {
		return name
	}
	return fmt.Sprintf("template(%d)", int(t))
}

// Points returns the template scaled to a width x height crop
func (t Template) Points(width, height int) (Landmark5, error) {
	normed, ok := templatePoints[t]
	if !ok {
		return Landmark5{}, fmt.Errorf("unknown warp template %v", t)
	}
	var scaled Landmark5
	for i, p := range normed {
		scaled[i] = Point{X: p.X * float32(width), Y: p.Y * float32(height)}
	}
	return scaled, nil
}
