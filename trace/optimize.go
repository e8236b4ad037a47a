package trace

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/index"
)

// Source is the part of the index the optimizer reads. Implementations must
// be safe for concurrent queries.
type Source interface {
	Frames() int
	IsReady(frame int) bool
	QueryApprox(frame int, desc []float32, k int, ratio float64) []index.Match
}

type Params struct {
	LambdaD              float64
	LambdaU              float64
	LambdaO              float64
	MaxOcclusionDuration int
	MatchesPerKeyframe   int
	MaxMatchesPerFrame   int
	AppearanceThreshold  float64
	ApproxRatio          float64
}

func ParamsOf(s config.Settings) Params {
	return Params{
		LambdaD:              s.LambdaD,
		LambdaU:              s.LambdaU,
		LambdaO:              s.LambdaO,
		MaxOcclusionDuration: s.MaxOcclusionDuration,
		MatchesPerKeyframe:   s.MatchesPerKeyframe,
		MaxMatchesPerFrame:   s.MaxMatchesPerFrame,
		AppearanceThreshold:  s.MatchesAppearanceThreshold,
		ApproxRatio:          s.IndexApproxRatio,
	}
}

// remainOccluded is the per-frame price of staying hidden after the first.
func (p Params) remainOccluded() float64 {
	return 0.5 * p.LambdaO
}

// occlusion is the price of a hidden run of n frames.
func (p Params) occlusion(n int) float64 {
	if n <= 0 {
		return 0
	}
	return p.LambdaO + p.remainOccluded()*float64(n-1)
}

// transition prices moving from a to b with gap hidden frames between them.
// The appearance term only applies to adjacent frames.
func (p Params) transition(a, b *node, gap int) float64 {
	v := p.LambdaD*pointDist2(a.pos, b.pos)/float64(gap+1) + p.occlusion(gap)
	if gap == 0 {
		v += p.LambdaU * descDist2(a.desc, b.desc)
	}
	return v
}

type node struct {
	pos        Point
	desc       []float32
	appearance float64
}

type candidate struct {
	node
	cost  float64
	frame int // segment offset of the previous visible node, -1 for the start
	match int
}

func pointDist2(a, b Point) float64 {
	dx, dy := float64(a.X-b.X), float64(a.Y-b.Y)
	return dx*dx + dy*dy
}

func descDist2(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	s := 0.0
	for i := range a {
		d := float64(a[i] - b[i])
		s += d * d
	}
	return s
}

// Compute places the object on every ready automatic frame of snap.
// Frames that are not ready, or where the best path hides the object,
// come back not located.
func Compute(ctx context.Context, src Source, snap Snapshot, p Params) (*Result, error) {
	n := snap.Frames
	res := &Result{Points: make([]Located, n)}
	fixed := make(map[int]*Anchor, len(snap.Anchors))
	for i := range snap.Anchors {
		a := &snap.Anchors[i]
		if a.Frame >= 0 && a.Frame < n {
			fixed[a.Frame] = a
			res.Points[a.Frame] = Located{Point: a.Position, OK: true}
		}
	}
	if len(fixed) == 0 {
		return res, nil
	}

	auto := func(f int) bool {
		_, ok := fixed[f]
		return !ok && !snap.Occluded[f]
	}
	ready := make([]bool, n)
	for f := 0; f < n; f++ {
		ready[f] = src.IsReady(f)
	}

	cands := make([][]node, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for f := 0; f < n; f++ {
		if !ready[f] || !auto(f) {
			continue
		}
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cands[f] = gather(src, f, snap.Anchors, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type segment struct {
		frames     []int
		start, end *Anchor
	}
	var segs []segment
	var run []int
	var prev *Anchor
	flush := func(end *Anchor) {
		if len(run) > 0 {
			segs = append(segs, segment{frames: run, start: prev, end: end})
		}
		run = nil
	}
	for f := 0; f < n; f++ {
		if a, ok := fixed[f]; ok {
			flush(a)
			prev = a
			continue
		}
		if !ready[f] {
			flush(nil)
			prev = nil
			continue
		}
		run = append(run, f)
	}
	flush(nil)

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, s := range segs {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			steps := make([][]node, len(s.frames))
			for i, f := range s.frames {
				steps[i] = cands[f]
			}
			for i, c := range optimize(steps, s.start, s.end, p) {
				if c >= 0 {
					res.Points[s.frames[i]] = Located{Point: steps[i][c].pos, OK: true}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// gather collects the match candidates of frame f, best appearance first.
func gather(src Source, f int, anchors []Anchor, p Params) []node {
	var all []node
	for _, a := range anchors {
		for _, m := range src.QueryApprox(f, a.Descriptor, p.MatchesPerKeyframe, p.ApproxRatio) {
			all = append(all, node{
				pos:        Point{X: m.X, Y: m.Y},
				desc:       m.Descriptor,
				appearance: appearance(m.Descriptor, anchors),
			})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].appearance < all[j].appearance })
	var out []node
next:
	for _, c := range all {
		for _, o := range out {
			if pointDist2(o.pos, c.pos) < 1 {
				continue next
			}
		}
		if len(out) > 0 && c.appearance >= p.AppearanceThreshold {
			break
		}
		out = append(out, c)
		if len(out) >= p.MaxMatchesPerFrame {
			break
		}
	}
	return out
}

func appearance(desc []float32, anchors []Anchor) float64 {
	best := math.Inf(1)
	for _, a := range anchors {
		if d := descDist2(desc, a.Descriptor); d < best {
			best = d
		}
	}
	return best
}

// optimize runs the Viterbi pass over one segment and returns the chosen
// candidate per step, -1 where the object is hidden. A nil start or end is
// an open boundary: hiding there costs occlusion but is not length-bounded,
// and no velocity term applies.
func optimize(steps [][]node, start, end *Anchor, p Params) []int {
	inf := math.Inf(1)
	maxGap := p.MaxOcclusionDuration
	var first, last *node
	if start != nil {
		first = &node{pos: start.Position, desc: start.Descriptor}
	}
	if end != nil {
		last = &node{pos: end.Position, desc: end.Descriptor}
	}

	dp := make([][]candidate, len(steps))
	for i, step := range steps {
		dp[i] = make([]candidate, len(step))
		for c := range step {
			here := &step[c]
			best := candidate{node: *here, cost: inf, frame: -2}
			if first == nil {
				best.cost, best.frame = p.occlusion(i), -1
			} else if i <= maxGap {
				best.cost, best.frame = p.transition(first, here, i), -1
			}
			for j := max(0, i-1-maxGap); j < i; j++ {
				for cj := range dp[j] {
					from := &dp[j][cj]
					if math.IsInf(from.cost, 1) {
						continue
					}
					if v := from.cost + p.transition(&from.node, here, i-j-1); v < best.cost {
						best.cost, best.frame, best.match = v, j, cj
					}
				}
			}
			best.cost += here.appearance
			dp[i][c] = best
		}
	}

	m := len(steps)
	bestCost, bestFrame, bestMatch := inf, -1, 0
	switch {
	case first != nil && last != nil:
		if m <= maxGap {
			bestCost = p.transition(first, last, m)
		}
	default:
		bestCost = p.occlusion(m)
	}
	lo := 0
	if last != nil {
		lo = max(0, m-1-maxGap)
	}
	for j := lo; j < m; j++ {
		for cj := range dp[j] {
			from := &dp[j][cj]
			if math.IsInf(from.cost, 1) {
				continue
			}
			gap := m - j - 1
			v := from.cost + p.occlusion(gap)
			if last != nil {
				v = from.cost + p.transition(&from.node, last, gap)
			}
			if v < bestCost {
				bestCost, bestFrame, bestMatch = v, j, cj
			}
		}
	}

	choice := make([]int, m)
	for i := range choice {
		choice[i] = -1
	}
	for j, c := bestFrame, bestMatch; j >= 0; {
		choice[j] = c
		j, c = dp[j][c].frame, dp[j][c].match
	}
	return choice
}
