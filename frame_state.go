package zootracer

import "github.com/microsoft/ZooTracer/trace"

// FrameVisualState is how a frame is painted on the overview strip.
type FrameVisualState int

const (
	FrameDefault FrameVisualState = iota
	FrameCurrent
	FrameNotIndexed
	FrameFixed
	FrameOccluded
)

func (s FrameVisualState) String() string {
	switch s {
	case FrameDefault:
		return "default"
	case FrameCurrent:
		return "current"
	case FrameNotIndexed:
		return "not-indexed"
	case FrameFixed:
		return "fixed"
	case FrameOccluded:
		return "occluded"
	}
	return "unknown"
}

// Glyph is the one-character form used by the text strip.
func (s FrameVisualState) Glyph() byte {
	switch s {
	case FrameCurrent:
		return '@'
	case FrameNotIndexed:
		return '.'
	case FrameFixed:
		return 'F'
	case FrameOccluded:
		return 'x'
	}
	return '-'
}

type FrameInput struct {
	Current bool
	Indexed bool
	Kind    trace.Kind
}

func Classify(in FrameInput) FrameVisualState {
	switch {
	case in.Current:
		return FrameCurrent
	case !in.Indexed:
		return FrameNotIndexed
	case in.Kind == trace.Fixed:
		return FrameFixed
	case in.Kind == trace.Occluded:
		return FrameOccluded
	}
	return FrameDefault
}

// ClassifyAll classifies every frame of model. indexed may be nil when no
// index exists.
func ClassifyAll(model *trace.Trace, current int, indexed func(int) bool) []FrameVisualState {
	out := make([]FrameVisualState, model.Frames())
	for f := range out {
		out[f] = Classify(FrameInput{
			Current: f == current,
			Indexed: indexed != nil && indexed(f),
			Kind:    model.Kind(f),
		})
	}
	return out
}

// Strip renders states one glyph per frame.
func Strip(states []FrameVisualState) string {
	b := make([]byte, len(states))
	for i, s := range states {
		b[i] = s.Glyph()
	}
	return string(b)
}

// requestRefresh schedules one reclassification; requests made while one is
// pending are absorbed by it.
func (t *Tracer) requestRefresh() {
	if t.refreshPending {
		return
	}
	t.refreshPending = true
	t.post(t.refresh)
}

func (t *Tracer) refresh() {
	t.refreshPending = false
	t.refreshes++
	if t.model == nil {
		t.states = nil
		return
	}
	var indexed func(int) bool
	if t.idx != nil {
		indexed = t.idx.IsReady
	}
	t.states = ClassifyAll(t.model, t.frame, indexed)
	t.emit(Event{Kind: FrameStatesChanged})
}
