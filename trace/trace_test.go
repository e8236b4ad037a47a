package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func anchorAt(frame, x, y int) Anchor {
	return Anchor{Frame: frame, Position: Point{X: x, Y: y}, Descriptor: []float32{1, 0}}
}

func TestTrace_StartHereToggles(t *testing.T) {
	tr := New(10)
	assert.True(t, tr.StartHere(5))
	for f := 0; f < 10; f++ {
		assert.Equal(t, f < 5, tr.IsForceOccluded(f), "frame %d", f)
	}
	assert.False(t, tr.IsAfterTraceStart(4))
	assert.True(t, tr.IsAfterTraceStart(5))

	assert.True(t, tr.StartHere(5))
	for f := 0; f < 10; f++ {
		assert.Equal(t, Auto, tr.Kind(f), "frame %d", f)
	}
}

func TestTrace_StartHereClearsOccludedRunAtCursor(t *testing.T) {
	tr := New(10)
	for f := 0; f < 7; f++ {
		tr.Occlude(f)
	}
	tr.StartHere(5)
	for f := 0; f < 10; f++ {
		assert.Equal(t, Auto, tr.Kind(f), "frame %d", f)
	}
}

func TestTrace_StopHereToggles(t *testing.T) {
	tr := New(10)
	tr.Fix(anchorAt(8, 1, 1))
	assert.True(t, tr.StopHere(5))
	for f := 0; f < 10; f++ {
		assert.Equal(t, f > 5, tr.IsForceOccluded(f), "frame %d", f)
	}
	assert.Equal(t, 0, tr.Anchors().Len())
	assert.False(t, tr.IsBeforeTraceEnd(6))
	assert.True(t, tr.IsBeforeTraceEnd(5))

	tr.StopHere(5)
	for f := 0; f < 10; f++ {
		assert.Equal(t, Auto, tr.Kind(f), "frame %d", f)
	}
}

func TestTrace_FixThenClear(t *testing.T) {
	tr := New(4)
	assert.True(t, tr.Fix(anchorAt(2, 3, 4)))
	pt, ok := tr.Point(2)
	assert.True(t, ok)
	assert.Equal(t, Point{3, 4}, pt)

	assert.True(t, tr.Clear(2))
	assert.Equal(t, Auto, tr.Kind(2))
	_, found := tr.Anchors().Get(2)
	assert.False(t, found)
	assert.Equal(t, 0, tr.Anchors().Len())
}

func TestTrace_FixAndOccludeExclude(t *testing.T) {
	tr := New(4)
	tr.Fix(anchorAt(1, 0, 0))
	tr.Occlude(1)
	assert.False(t, tr.IsFixed(1))
	assert.True(t, tr.IsForceOccluded(1))
	assert.Equal(t, 0, tr.Anchors().Len())
	_, ok := tr.Point(1)
	assert.False(t, ok)

	tr.Fix(anchorAt(1, 5, 5))
	assert.True(t, tr.IsFixed(1))
	assert.False(t, tr.IsForceOccluded(1))
	assert.Equal(t, 1, tr.Anchors().Len())
}

func TestTrace_OutOfRange(t *testing.T) {
	tr := New(3)
	assert.False(t, tr.Fix(anchorAt(3, 0, 0)))
	assert.False(t, tr.Occlude(-1))
	assert.False(t, tr.StartHere(7))
	assert.Equal(t, Auto, tr.Kind(99))
}

func TestTrace_PointPrefersDirectives(t *testing.T) {
	tr := New(3)
	tr.SetResult(&Result{Points: []Located{
		{Point{1, 1}, true}, {Point{2, 2}, true}, {Point{3, 3}, true},
	}})
	tr.Fix(anchorAt(0, 9, 9))
	tr.Occlude(1)
	pt, _ := tr.Point(0)
	assert.Equal(t, Point{9, 9}, pt)
	_, ok := tr.Point(1)
	assert.False(t, ok)
	pt, _ = tr.Point(2)
	assert.Equal(t, Point{3, 3}, pt)

	tr.ClearAll()
	_, ok = tr.Point(2)
	assert.False(t, ok)
}

func TestAnchorList_Observe(t *testing.T) {
	l := NewAnchorList()
	var seen []AnchorChange
	stop := l.Observe(func(c AnchorChange) { seen = append(seen, c) })

	l.Set(anchorAt(5, 0, 0))
	l.Set(anchorAt(2, 0, 0))
	l.Set(anchorAt(5, 1, 1))
	assert.True(t, l.Remove(2))
	assert.False(t, l.Remove(2))

	assert.Equal(t, []ChangeKind{Inserted, Inserted, Replaced, Removed}, kinds(seen))
	assert.Equal(t, []int{0, 0, 1, 0}, indexes(seen))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, Point{1, 1}, l.At(0).Position)

	stop()
	l.Set(anchorAt(1, 0, 0))
	assert.Len(t, seen, 4)
	assert.Equal(t, []int{1, 5}, frames(l.All()))
}

func kinds(cs []AnchorChange) (out []ChangeKind) {
	for _, c := range cs {
		out = append(out, c.Kind)
	}
	return
}

func indexes(cs []AnchorChange) (out []int) {
	for _, c := range cs {
		out = append(out, c.Index)
	}
	return
}

func frames(as []Anchor) (out []int) {
	for _, a := range as {
		out = append(out, a.Frame)
	}
	return
}
