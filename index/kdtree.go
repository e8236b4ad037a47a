package index

import (
	"slices"

	"github.com/microsoft/ZooTracer/utils"
)

const leafSize = 8

// frameTree is a kd-tree over the patch descriptors of one frame. Points,
// Xs and Ys are stored in leaf order so each leaf is a contiguous range.
type frameTree struct {
	Dim    int       `msgpack:"d"`
	Points []float32 `msgpack:"p"`
	Xs     []int32   `msgpack:"x"`
	Ys     []int32   `msgpack:"y"`
	Nodes  []kdNode  `msgpack:"n"`
}

type kdNode struct {
	Axis  int32   `msgpack:"a"` // -1 marks a leaf
	Split float32 `msgpack:"s"`
	Left  int32   `msgpack:"l"`
	Right int32   `msgpack:"r"`
	Start int32   `msgpack:"b"`
	End   int32   `msgpack:"e"`
}

// Match is a patch found by a query. Distance is the squared Euclidean
// distance between descriptors; Descriptor aliases index memory and must
// not be modified.
type Match struct {
	X          int
	Y          int
	Distance   float64
	Descriptor []float32
}

func newFrameTree(dim int, points []float32, xs, ys []int32) *frameTree {
	n := len(xs)
	perm := make([]int32, n)
	for i := range perm {
		perm[i] = int32(i)
	}
	t := &frameTree{Dim: dim}
	if n > 0 {
		t.split(points, perm, 0, n)
	}

	t.Points = make([]float32, 0, len(points))
	t.Xs = make([]int32, n)
	t.Ys = make([]int32, n)
	for i, p := range perm {
		t.Points = append(t.Points, points[int(p)*dim:int(p+1)*dim]...)
		t.Xs[i] = xs[p]
		t.Ys[i] = ys[p]
	}
	return t
}

func (t *frameTree) split(points []float32, perm []int32, lo, hi int) int32 {
	id := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, kdNode{Axis: -1, Start: int32(lo), End: int32(hi)})
	if hi-lo <= leafSize {
		return id
	}

	axis, spread := 0, float32(-1)
	for a := 0; a < t.Dim; a++ {
		lo32, hi32 := points[int(perm[lo])*t.Dim+a], points[int(perm[lo])*t.Dim+a]
		for _, p := range perm[lo:hi] {
			v := points[int(p)*t.Dim+a]
			lo32, hi32 = min(lo32, v), max(hi32, v)
		}
		if hi32-lo32 > spread {
			axis, spread = a, hi32-lo32
		}
	}
	if spread <= 0 {
		return id
	}
	slices.SortFunc(perm[lo:hi], func(a, b int32) int {
		va, vb := points[int(a)*t.Dim+axis], points[int(b)*t.Dim+axis]
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	})
	mid := (lo + hi) / 2
	split := points[int(perm[mid])*t.Dim+axis]
	left := t.split(points, perm, lo, mid)
	right := t.split(points, perm, mid, hi)
	t.Nodes[id] = kdNode{Axis: int32(axis), Split: split, Left: left, Right: right, Start: int32(lo), End: int32(hi)}
	return id
}

func (t *frameTree) Len() int {
	return len(t.Xs)
}

func (t *frameTree) point(i int) []float32 {
	return t.Points[i*t.Dim : (i+1)*t.Dim : (i+1)*t.Dim]
}

func dist2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

// search returns up to k nearest points ordered by distance. With ratio 1 the
// result is exact; smaller ratios prune far branches more eagerly.
func (t *frameTree) search(q []float32, k int, ratio float64) []Match {
	if k <= 0 || len(t.Nodes) == 0 || len(q) != t.Dim {
		return nil
	}
	best := utils.NewHeap(func(a, b Match) bool { return a.Distance > b.Distance })
	r2 := ratio * ratio

	var visit func(n int32)
	visit = func(n int32) {
		nd := &t.Nodes[n]
		if nd.Axis < 0 {
			for i := int(nd.Start); i < int(nd.End); i++ {
				d := dist2(q, t.point(i))
				if best.Len() < k {
					best.Push(Match{X: int(t.Xs[i]), Y: int(t.Ys[i]), Distance: d, Descriptor: t.point(i)})
				} else if d < best.Peek().Distance {
					best.Replace(Match{X: int(t.Xs[i]), Y: int(t.Ys[i]), Distance: d, Descriptor: t.point(i)})
				}
			}
			return
		}
		diff := float64(q[nd.Axis] - nd.Split)
		near, far := nd.Left, nd.Right
		if diff >= 0 {
			near, far = far, near
		}
		visit(near)
		if best.Len() < k || diff*diff < best.Peek().Distance*r2 {
			visit(far)
		}
	}
	visit(0)

	out := best.Drain()
	slices.Reverse(out)
	return out
}
