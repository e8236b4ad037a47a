package zootracer

import (
	"math"

	"github.com/microsoft/ZooTracer/trace"
)

type Shape int

const (
	ShapeRect Shape = iota
	ShapePath
)

type Role int

const (
	RoleCursor Role = iota
	RoleMatch
	RoleTrace
)

type Vec struct {
	X float64
	Y float64
}

// OverlayItem is something drawn over the video. Rect items use Min and
// Size, path items use Points. Coordinates are in video pixels until
// rescaled.
type OverlayItem struct {
	Shape  Shape
	Role   Role
	Min    Vec
	Size   Vec
	Points []Vec
}

// Viewport maps video pixels to display units.
type Viewport struct {
	Scale  float64
	Offset Vec
}

// FitViewport letterboxes a w×h video into a width×height display.
func FitViewport(w, h int, width, height float64) Viewport {
	if w <= 0 || h <= 0 {
		return Viewport{Scale: 1}
	}
	scale := math.Min(width/float64(w), height/float64(h))
	return Viewport{
		Scale:  scale,
		Offset: Vec{X: (width - scale*float64(w)) / 2, Y: (height - scale*float64(h)) / 2},
	}
}

func (v Viewport) Map(p Vec) Vec {
	return Vec{X: v.Offset.X + v.Scale*p.X, Y: v.Offset.Y + v.Scale*p.Y}
}

func (it OverlayItem) Rescale(v Viewport) OverlayItem {
	out := OverlayItem{Shape: it.Shape, Role: it.Role}
	switch it.Shape {
	case ShapeRect:
		out.Min = v.Map(it.Min)
		out.Size = Vec{X: it.Size.X * v.Scale, Y: it.Size.Y * v.Scale}
	case ShapePath:
		out.Points = make([]Vec, len(it.Points))
		for i, p := range it.Points {
			out.Points[i] = v.Map(p)
		}
	}
	return out
}

// overlayWindow is how many frames of trace are drawn on either side of the current one.
const overlayWindow = 100

// Overlay lists what to draw over the current frame, rescaled to v: the
// trace around the current frame as paths broken at hidden frames, the
// object's patch, the cursor patch and its matches.
func (t *Tracer) Overlay(v Viewport) []OverlayItem {
	var items []OverlayItem
	_ = t.call(func() error {
		items = t.overlay()
		return nil
	})
	for i := range items {
		items[i] = items[i].Rescale(v)
	}
	return items
}

func (t *Tracer) overlay() []OverlayItem {
	if t.model == nil {
		return nil
	}
	size := float64(t.cfg.PatchSize)
	half := size / 2
	rect := func(role Role, pt trace.Point) OverlayItem {
		return OverlayItem{Shape: ShapeRect, Role: role, Min: Vec{float64(pt.X), float64(pt.Y)}, Size: Vec{size, size}}
	}
	var items []OverlayItem
	var path []Vec
	flush := func() {
		if len(path) > 1 {
			items = append(items, OverlayItem{Shape: ShapePath, Role: RoleTrace, Points: path})
		}
		path = nil
	}
	for f := max(0, t.frame-overlayWindow); f <= min(t.model.MaxFrame(), t.frame+overlayWindow); f++ {
		pt, ok := t.model.Point(f)
		if !ok {
			flush()
			continue
		}
		path = append(path, Vec{float64(pt.X) + half, float64(pt.Y) + half})
	}
	flush()
	if pt, ok := t.model.Point(t.frame); ok {
		items = append(items, rect(RoleTrace, pt))
	}
	if t.hasCursor {
		items = append(items, rect(RoleCursor, t.cursor))
		if ix, err := t.currentIndex(); err == nil {
			if a, err := t.anchor(t.frame, t.cursor.X, t.cursor.Y); err == nil {
				for _, m := range ix.QueryApprox(t.frame, a.Descriptor, t.cfg.MatchesPerKeyframe, t.cfg.IndexApproxRatio) {
					items = append(items, rect(RoleMatch, trace.Point{X: m.X, Y: m.Y}))
				}
			}
		}
	}
	return items
}
