// Package trace holds the per-frame trajectory of the tracked object: the
// user's fixed and force-occluded frames, and the optimizer's result for
// everything else.
package trace

type Kind int

const (
	Auto Kind = iota
	Fixed
	Occluded
)

func (k Kind) String() string {
	switch k {
	case Auto:
		return "auto"
	case Fixed:
		return "fixed"
	case Occluded:
		return "occluded"
	}
	return "unknown"
}

// Located is an optional point.
type Located struct {
	Point
	OK bool
}

// Result is an optimizer output, one entry per frame.
type Result struct {
	Points []Located
}

func (r *Result) At(f int) (Point, bool) {
	if r == nil || f < 0 || f >= len(r.Points) {
		return Point{}, false
	}
	return r.Points[f].Point, r.Points[f].OK
}

// Trace is owned by the coordinator; it is not safe for concurrent use.
// A frame is never both fixed and force-occluded.
type Trace struct {
	kinds   []Kind
	anchors *AnchorList
	result  *Result
}

func New(frames int) *Trace {
	return &Trace{kinds: make([]Kind, frames), anchors: NewAnchorList()}
}

func (t *Trace) Frames() int {
	return len(t.kinds)
}

func (t *Trace) MaxFrame() int {
	return len(t.kinds) - 1
}

func (t *Trace) valid(f int) bool {
	return f >= 0 && f < len(t.kinds)
}

func (t *Trace) Anchors() *AnchorList {
	return t.anchors
}

func (t *Trace) Kind(f int) Kind {
	if !t.valid(f) {
		return Auto
	}
	return t.kinds[f]
}

func (t *Trace) IsFixed(f int) bool {
	return t.Kind(f) == Fixed
}

func (t *Trace) IsForceOccluded(f int) bool {
	return t.Kind(f) == Occluded
}

// Fix marks a.Frame fixed by the user and stores its anchor.
func (t *Trace) Fix(a Anchor) bool {
	if !t.valid(a.Frame) {
		return false
	}
	t.kinds[a.Frame] = Fixed
	t.anchors.Set(a)
	return true
}

// Occlude force-occludes f and drops its anchor. It reports whether
// anything changed.
func (t *Trace) Occlude(f int) bool {
	if !t.valid(f) || t.kinds[f] == Occluded {
		return false
	}
	t.kinds[f] = Occluded
	t.anchors.Remove(f)
	return true
}

// Clear returns f to automatic placement.
func (t *Trace) Clear(f int) bool {
	if !t.valid(f) || t.kinds[f] == Auto {
		return false
	}
	t.kinds[f] = Auto
	t.anchors.Remove(f)
	return true
}

func (t *Trace) ClearAll() {
	for f := range t.kinds {
		t.kinds[f] = Auto
	}
	t.anchors.Clear()
	t.result = nil
}

// StartHere trims the trace to start at cur by occluding every earlier
// frame. If they all are occluded already it undoes the trim instead,
// clearing them and the occluded run starting at cur.
func (t *Trace) StartHere(cur int) bool {
	if !t.valid(cur) {
		return false
	}
	trimmed := true
	for f := 0; f < cur; f++ {
		if t.kinds[f] != Occluded {
			trimmed = false
			break
		}
	}
	changed := false
	if !trimmed {
		for f := 0; f < cur; f++ {
			changed = t.Occlude(f) || changed
		}
		return changed
	}
	for f := 0; f < cur; f++ {
		changed = t.Clear(f) || changed
	}
	for f := cur; f < len(t.kinds) && t.kinds[f] == Occluded; f++ {
		changed = t.Clear(f) || changed
	}
	return changed
}

// StopHere is StartHere for the end of the trace.
func (t *Trace) StopHere(cur int) bool {
	if !t.valid(cur) {
		return false
	}
	trimmed := true
	for f := cur + 1; f < len(t.kinds); f++ {
		if t.kinds[f] != Occluded {
			trimmed = false
			break
		}
	}
	changed := false
	if !trimmed {
		for f := cur + 1; f < len(t.kinds); f++ {
			changed = t.Occlude(f) || changed
		}
		return changed
	}
	for f := cur + 1; f < len(t.kinds); f++ {
		changed = t.Clear(f) || changed
	}
	for f := cur; f >= 0 && t.kinds[f] == Occluded; f-- {
		changed = t.Clear(f) || changed
	}
	return changed
}

// IsBeforeTraceEnd reports whether a frame at or after cur is not force-occluded.
func (t *Trace) IsBeforeTraceEnd(cur int) bool {
	for f := max(cur, 0); f < len(t.kinds); f++ {
		if t.kinds[f] != Occluded {
			return true
		}
	}
	return false
}

// IsAfterTraceStart reports whether a frame at or before cur is not force-occluded.
func (t *Trace) IsAfterTraceStart(cur int) bool {
	for f := min(cur, len(t.kinds)-1); f >= 0; f-- {
		if t.kinds[f] != Occluded {
			return true
		}
	}
	return false
}

func (t *Trace) Result() *Result {
	return t.result
}

func (t *Trace) SetResult(r *Result) {
	t.result = r
}

// Point is where the object is at f: the anchor for fixed frames, nothing
// for force-occluded ones, and the latest optimizer result otherwise.
func (t *Trace) Point(f int) (Point, bool) {
	switch t.Kind(f) {
	case Fixed:
		a, ok := t.anchors.Get(f)
		return a.Position, ok
	case Occluded:
		return Point{}, false
	}
	return t.result.At(f)
}

// Snapshot is an immutable copy of the directives for a background compute.
type Snapshot struct {
	Frames   int
	Anchors  []Anchor
	Occluded []bool
}

func (t *Trace) Snapshot() Snapshot {
	s := Snapshot{Frames: len(t.kinds), Anchors: t.anchors.All(), Occluded: make([]bool, len(t.kinds))}
	for f, k := range t.kinds {
		s.Occluded[f] = k == Occluded
	}
	return s
}
