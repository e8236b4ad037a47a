package zootracer

import (
	"fmt"
	"path/filepath"

	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/index"
	"github.com/microsoft/ZooTracer/stage"
	"github.com/microsoft/ZooTracer/trace"
	"github.com/microsoft/ZooTracer/video"
	"github.com/microsoft/ZooTracer/zt_errors"
)

// Apply replaces the settings and restarts what the change invalidates.
func (t *Tracer) Apply(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return t.call(func() error {
		t.apply(s)
		return nil
	})
}

func (t *Tracer) apply(s config.Settings) {
	changed := config.Diff(t.cfg.Settings, s)
	if len(changed) == 0 {
		return
	}
	t.cfg.Settings = s
	p := Route(changed)
	if p == RestartVideo && t.pending != nil {
		t.log.Info("loaded trace dropped, the video changed", "video", t.pendingVideo)
		t.pending, t.pendingVideo = nil, ""
	}
	t.log.Info("settings changed", "keys", changed, "restart", p)
	t.restart(p)
}

// Set changes one setting.
func (t *Tracer) Set(key, value string) error {
	return t.call(func() error {
		s := t.cfg.Settings
		if err := s.Set(key, value); err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		t.apply(s)
		return nil
	})
}

// Open switches to the video at path.
func (t *Tracer) Open(path string) error {
	return t.Set(config.KeyVideoFilePath, path)
}

func (t *Tracer) Settings() config.Settings {
	var s config.Settings
	_ = t.call(func() error {
		s = t.cfg.Settings
		return nil
	})
	return s
}

type Status struct {
	Video     stage.Status
	Projector stage.Status
	Index     stage.Status
	Trace     stage.Status
	Info      video.Info
	Frame     int
	Frames    int
	Indexed   int
	Anchors   int
	// AfterTraceStart: some frame at or before Frame is not force-occluded.
	// BeforeTraceEnd: some frame at or after Frame is not force-occluded.
	AfterTraceStart bool
	BeforeTraceEnd  bool
}

func (t *Tracer) Status() Status {
	var st Status
	_ = t.call(func() error {
		st = Status{
			Video:     t.video.Status(),
			Projector: t.projector.Status(),
			Index:     t.index.Status(),
			Trace:     t.tracing.Status(),
			Frame:     t.frame,
		}
		if src, ok := t.video.Result(); ok {
			st.Info = src.Info()
		}
		if t.idx != nil {
			st.Indexed = t.idx.Ready()
		}
		if t.model != nil {
			st.Frames = t.model.Frames()
			st.Anchors = t.model.Anchors().Len()
			st.AfterTraceStart = t.model.IsAfterTraceStart(t.frame)
			st.BeforeTraceEnd = t.model.IsBeforeTraceEnd(t.frame)
		}
		return nil
	})
	return st
}

// FrameStates returns the latest classification of every frame.
func (t *Tracer) FrameStates() []FrameVisualState {
	var out []FrameVisualState
	_ = t.call(func() error {
		out = append(out, t.states...)
		return nil
	})
	return out
}

// TracePoint returns the top-left of the object patch at frame f.
func (t *Tracer) TracePoint(f int) (trace.Point, bool) {
	var pt trace.Point
	var ok bool
	_ = t.call(func() error {
		if t.model != nil {
			pt, ok = t.model.Point(f)
		}
		return nil
	})
	return pt, ok
}

func (t *Tracer) Anchors() []trace.Anchor {
	var out []trace.Anchor
	_ = t.call(func() error {
		if t.model != nil {
			out = t.model.Anchors().All()
		}
		return nil
	})
	return out
}

// editModel runs f against the trace model and follows up on a change.
func (t *Tracer) editModel(f func(m *trace.Trace) (bool, error)) error {
	return t.call(func() error {
		if t.model == nil {
			return zt_errors.ErrNoVideo
		}
		changed, err := f(t.model)
		if err != nil {
			return err
		}
		if changed {
			t.edited()
		}
		return nil
	})
}

func (t *Tracer) checkFrame(f int) error {
	if t.model == nil {
		return zt_errors.ErrNoVideo
	}
	if f < 0 || f >= t.model.Frames() {
		return fmt.Errorf("%w: %d not in [0,%d)", zt_errors.ErrBadFrame, f, t.model.Frames())
	}
	return nil
}

func (t *Tracer) SetFrame(f int) error {
	return t.call(func() error {
		if err := t.checkFrame(f); err != nil {
			return err
		}
		t.frame = f
		t.requestRefresh()
		return nil
	})
}

func (t *Tracer) Frame() int {
	var f int
	_ = t.call(func() error {
		f = t.frame
		return nil
	})
	return f
}

// SetCursor selects the patch centred on pixel (x, y) of the current frame.
func (t *Tracer) SetCursor(x, y int) error {
	return t.call(func() error {
		src, ok := t.video.Result()
		if !ok {
			return zt_errors.ErrNoVideo
		}
		info := src.Info()
		size := t.cfg.PatchSize
		cx, cy := video.ClampPatch(x-size/2, y-size/2, size, info.Width, info.Height)
		t.cursor, t.hasCursor = trace.Point{X: cx, Y: cy}, true
		return nil
	})
}

// Fix anchors the object at the cursor patch of the current frame.
func (t *Tracer) Fix() error {
	return t.editModel(func(m *trace.Trace) (bool, error) {
		if !t.hasCursor {
			return false, zt_errors.ErrNoCursor
		}
		a, err := t.anchor(t.frame, t.cursor.X, t.cursor.Y)
		if err != nil {
			return false, err
		}
		return m.Fix(a), nil
	})
}

// FixAt anchors the object at the patch with top-left (x, y) of frame.
func (t *Tracer) FixAt(frame, x, y int) error {
	return t.editModel(func(m *trace.Trace) (bool, error) {
		a, err := t.anchor(frame, x, y)
		if err != nil {
			return false, err
		}
		return m.Fix(a), nil
	})
}

// Occlude marks the current frame as hiding the object.
func (t *Tracer) Occlude() error {
	return t.editModel(func(m *trace.Trace) (bool, error) {
		return m.Occlude(t.frame), nil
	})
}

// Auto hands the current frame back to the optimizer.
func (t *Tracer) Auto() error {
	return t.editModel(func(m *trace.Trace) (bool, error) {
		return m.Clear(t.frame), nil
	})
}

func (t *Tracer) ClearAll() error {
	return t.editModel(func(m *trace.Trace) (bool, error) {
		m.ClearAll()
		return true, nil
	})
}

func (t *Tracer) StartHere() error {
	return t.editModel(func(m *trace.Trace) (bool, error) {
		return m.StartHere(t.frame), nil
	})
}

func (t *Tracer) StopHere() error {
	return t.editModel(func(m *trace.Trace) (bool, error) {
		return m.StopHere(t.frame), nil
	})
}

func (t *Tracer) currentIndex() (*index.Index, error) {
	if t.idx == nil {
		return nil, zt_errors.ErrNoIndex
	}
	if !t.idx.IsReady(t.frame) {
		return nil, fmt.Errorf("%w: frame %d not indexed yet", zt_errors.ErrNoIndex, t.frame)
	}
	return t.idx, nil
}

// Matches returns the k patches of the current frame closest to the cursor patch.
func (t *Tracer) Matches(k int) ([]index.Match, error) {
	var out []index.Match
	err := t.call(func() error {
		if !t.hasCursor {
			return zt_errors.ErrNoCursor
		}
		ix, err := t.currentIndex()
		if err != nil {
			return err
		}
		a, err := t.anchor(t.frame, t.cursor.X, t.cursor.Y)
		if err != nil {
			return err
		}
		out = ix.QueryApprox(t.frame, a.Descriptor, k, t.cfg.IndexApproxRatio)
		return nil
	})
	return out, err
}

// AnchorMatches returns the k patches of the current frame closest to anchor i.
func (t *Tracer) AnchorMatches(i, k int) ([]index.Match, error) {
	var out []index.Match
	err := t.call(func() error {
		if t.model == nil {
			return zt_errors.ErrNoVideo
		}
		if i < 0 || i >= t.model.Anchors().Len() {
			return fmt.Errorf("%w: no anchor %d", zt_errors.ErrBadValue, i)
		}
		ix, err := t.currentIndex()
		if err != nil {
			return err
		}
		a := t.model.Anchors().At(i)
		out = ix.QueryApprox(t.frame, a.Descriptor, k, t.cfg.IndexApproxRatio)
		return nil
	})
	return out, err
}

// SaveTrace writes the trace and the settings to path.
func (t *Tracer) SaveTrace(path string) error {
	var doc *trace.Document
	err := t.call(func() error {
		if t.model == nil {
			return zt_errors.ErrNoVideo
		}
		doc = trace.NewDocument(t.model, t.cfg.Settings)
		return nil
	})
	if err != nil {
		return err
	}
	if err := trace.SaveFile(path, doc); err != nil {
		return err
	}
	t.post(func() { t.say("Saved the trace to " + path) })
	return nil
}

// LoadTrace reads a trace file, reopens its video with its settings and
// restores its fixed and occluded frames once the projector is ready.
// Nothing changes unless the file parses and its video opens.
func (t *Tracer) LoadTrace(path string) error {
	doc, err := trace.LoadFile(path)
	if err != nil {
		return err
	}
	videoPath, err := t.resolveVideo(path, doc.VideoPath())
	if err != nil {
		return err
	}
	s := t.Settings()
	if err := doc.Apply(&s); err != nil {
		return fmt.Errorf("%w: %v", zt_errors.ErrFormat, err)
	}
	s.VideoFilePath = videoPath
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", zt_errors.ErrFormat, err)
	}
	return t.call(func() error {
		t.cfg.Settings = s
		t.pending, t.pendingVideo = doc, videoPath
		t.restart(RestartVideo)
		t.say("Loaded the trace from " + path)
		return nil
	})
}

// resolveVideo probes the video a trace file refers to, falling back to a
// file of the same name next to the trace file.
func (t *Tracer) resolveVideo(tracePath, videoPath string) (string, error) {
	probe := func(path string) error {
		src, err := t.opts.OpenVideo(path)
		if err != nil {
			return err
		}
		return src.Close()
	}
	err := probe(videoPath)
	if err == nil {
		return videoPath, nil
	}
	alt := filepath.Join(filepath.Dir(tracePath), filepath.Base(videoPath))
	if alt != videoPath && probe(alt) == nil {
		return alt, nil
	}
	return "", err
}
