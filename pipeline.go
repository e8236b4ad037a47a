package zootracer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/microsoft/ZooTracer/index"
	"github.com/microsoft/ZooTracer/projector"
	"github.com/microsoft/ZooTracer/stage"
	"github.com/microsoft/ZooTracer/trace"
	"github.com/microsoft/ZooTracer/utils"
	"github.com/microsoft/ZooTracer/video"
	"github.com/microsoft/ZooTracer/zt_errors"
)

// restart stops p and every stage after it, trace first, then starts p
// again if what it depends on is available.
func (t *Tracer) restart(p RestartPoint) {
	switch p {
	case RestartNone:
		return
	case RestartIndex:
		// without a projector the next projector completion starts the index anyway
		if !t.projector.IsReady() {
			return
		}
	}
	t.stopFrom(p)
	switch p {
	case RestartTrace:
		t.startTrace()
	case RestartIndex:
		t.startIndex()
	case RestartProjector:
		t.startProjector()
	case RestartVideo:
		t.startVideo()
	}
}

func (t *Tracer) stopFrom(p RestartPoint) {
	t.tracing.Stop()
	if p >= RestartIndex {
		t.index.Stop()
		t.idx = nil
		t.requestRefresh()
	}
	if p >= RestartProjector {
		t.projector.Stop()
	}
	if p >= RestartVideo {
		t.video.Stop()
	}
}

func (t *Tracer) onStage(s stage.Status) {
	t.emit(Event{Kind: StageChanged, Stage: s})
	switch s.State {
	case stage.Failed:
		t.log.Error("stage failed", "stage", s.Name, "key", s.Key, "err", s.Err)
		t.say(fmt.Sprintf("%s failed: %v", s.Name, s.Err))
		return
	case stage.Cancelled:
		t.log.Debug("stage cancelled", "stage", s.Name, "key", s.Key)
		return
	case stage.Ready:
	default:
		return
	}
	t.log.Info("stage ready", "stage", s.Name, "key", s.Key, "gen", s.Generation)
	switch s.Name {
	case "video":
		t.onVideo()
	case "projector":
		t.onProjector()
	case "index":
		t.onIndexDone()
	}
}

func (t *Tracer) startVideo() {
	path := t.cfg.VideoFilePath
	if path == "" {
		return
	}
	open := t.opts.OpenVideo
	t.video.Start(t.ctx, path, func(ctx context.Context) (video.Source, error) {
		src, err := open(path)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			_ = src.Close()
			return nil, ctx.Err()
		}
		return src, nil
	})
}

// onVideo resets the per-video state: a new video has no anchors and no
// occluded frames.
func (t *Tracer) onVideo() {
	src, _ := t.video.Result()
	info := src.Info()
	t.say(info.String())
	if t.stopAnchors != nil {
		t.stopAnchors()
	}
	t.model = trace.New(info.Frames)
	t.stopAnchors = t.model.Anchors().Observe(func(c trace.AnchorChange) {
		t.emit(Event{Kind: AnchorsChanged, Anchor: &c})
	})
	t.frame = min(t.frame, max(0, info.Frames-1))
	t.hasCursor = false
	t.requestRefresh()
	t.startProjector()
}

func (t *Tracer) startProjector() {
	src, ok := t.video.Result()
	if !ok {
		return
	}
	key := projector.KeyOf(t.cfg.Settings)
	path := key.Path(src.Info().Path)
	if projector.Exists(path) {
		p, err := projector.Load(path, key)
		if err != nil {
			t.projector.Fail(key.String(), err)
			return
		}
		t.say("Loaded the projector from " + path)
		t.projector.Ready(key.String(), p)
		return
	}
	job, err := t.opts.ProjectorJob(&t.cfg, src, key, path)
	if err != nil {
		t.projector.Fail(key.String(), err)
		return
	}
	logf := t.sayFrom("build_pca: ")
	t.projector.Start(utils.WithDefaultArgs(t.ctx, "projector", key.String()), key.String(), func(ctx context.Context) (*projector.Projector, error) {
		if err := job.Run(ctx, logf); err != nil {
			if ctx.Err() != nil {
				projector.RemoveTemp(path)
				return nil, ctx.Err()
			}
			return nil, err
		}
		p, err := projector.Load(path, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
		}
		return p, nil
	})
}

func (t *Tracer) onProjector() {
	t.refreshAnchors()
	if doc := t.pending; doc != nil {
		src, _ := t.video.Result()
		if src.Info().Path == t.pendingVideo {
			t.pending = nil
			t.replay(doc)
		}
	}
	t.startIndex()
}

// refreshAnchors recomputes anchor descriptors for the current projector.
func (t *Tracer) refreshAnchors() {
	if t.model == nil {
		return
	}
	for _, a := range t.model.Anchors().All() {
		b, err := t.anchor(a.Frame, a.Position.X, a.Position.Y)
		if err != nil {
			t.log.Warn("anchor not refreshed", "frame", a.Frame, "err", err)
			continue
		}
		t.model.Fix(b)
	}
}

// replay applies the directives of a loaded trace file in frame order.
func (t *Tracer) replay(doc *trace.Document) {
	patch := t.cfg.PatchSize
	fixed, occluded := 0, 0
	for f, row := range doc.Rows {
		if f >= t.model.Frames() {
			t.log.Warn("trace file is longer than the video", "rows", len(doc.Rows), "frames", t.model.Frames())
			break
		}
		switch row.Kind {
		case trace.Fixed:
			pt := row.TopLeft(patch)
			a, err := t.anchor(f, pt.X, pt.Y)
			if err != nil {
				t.log.Warn("fixed frame not restored", "frame", f, "err", err)
				continue
			}
			t.model.Fix(a)
			fixed++
		case trace.Occluded:
			t.model.Occlude(f)
			occluded++
		}
	}
	t.say(fmt.Sprintf("Restored %d fixed and %d occluded frames", fixed, occluded))
	t.edited()
}

func (t *Tracer) indexKey() string {
	return fmt.Sprintf("%s/%d", projector.KeyOf(t.cfg.Settings), t.cfg.IndexAccuracy)
}

func (t *Tracer) startIndex() {
	src, ok := t.video.Result()
	if !ok {
		return
	}
	p, ok := t.projector.Result()
	if !ok {
		return
	}
	key := t.indexKey()
	if t.index.Building() && t.index.Key() == key {
		return
	}
	t.tracing.Stop()
	t.index.Stop()
	ix := index.New(src, p, index.Options{
		Step:       t.cfg.IndexAccuracy,
		Workers:    t.cfg.Workers(),
		StoreDir:   filepath.Join(p.Key.Dir(src.Info().Path), "index"),
		Log:        t.log,
		Registerer: t.opts.Registerer,
	})
	t.index.Start(utils.WithDefaultArgs(t.ctx, "index", key), key, func(ctx context.Context) (*index.Index, error) {
		err := ix.Build(ctx, func(frame, complete int) {
			t.post(func() { t.onIndexProgress(ix, frame, complete) })
		})
		if err != nil {
			_ = ix.Close()
			return nil, err
		}
		return ix, nil
	})
	t.idx = ix
	t.requestRefresh()
	t.startTrace()
}

func (t *Tracer) onIndexProgress(ix *index.Index, frame, complete int) {
	if t.idx != ix {
		return
	}
	t.emit(Event{Kind: IndexProgress, Frame: frame, Complete: complete})
	if n := ix.Frames(); complete < n && complete%max(1, n/10) == 0 {
		t.say(fmt.Sprintf("Indexed %d of %d frames, %s left", complete, n, ix.Remaining().Round(time.Second)))
	}
	t.requestTrace()
	t.requestRefresh()
}

func (t *Tracer) onIndexDone() {
	if ix, ok := t.index.Result(); ok {
		t.say(fmt.Sprintf("Indexed %d frames (%d from cache)", ix.Ready(), ix.Loaded()))
	}
	t.requestTrace()
	t.requestRefresh()
}

// startTrace needs an index, complete or not.
func (t *Tracer) startTrace() {
	if t.idx == nil || t.model == nil {
		return
	}
	params := trace.ParamsOf(t.cfg.Settings)
	r := trace.NewRunner(t.idx, params, t.post, t.model.Snapshot, t.applyTrace)
	t.tracing.Ready(fmt.Sprintf("%+v", params), r)
	r.Request()
}

func (t *Tracer) requestTrace() {
	if r, ok := t.tracing.Result(); ok {
		r.Request()
	}
}

func (t *Tracer) applyTrace(res *trace.Result, err error) {
	if err != nil {
		t.log.Error("trace: optimization failed", "err", err)
		t.say(fmt.Sprintf("trace failed: %v", err))
		return
	}
	if t.model == nil || len(res.Points) != t.model.Frames() {
		// computed for a previous video
		return
	}
	t.model.SetResult(res)
	t.emit(Event{Kind: TraceUpdated})
	t.requestRefresh()
}

// edited follows every directive change.
func (t *Tracer) edited() {
	t.requestTrace()
	t.requestRefresh()
}

// anchor builds the anchor for the patch at top-left (x, y) of frame.
func (t *Tracer) anchor(frame, x, y int) (trace.Anchor, error) {
	src, ok := t.video.Result()
	if !ok {
		return trace.Anchor{}, zt_errors.ErrNoVideo
	}
	p, ok := t.projector.Result()
	if !ok {
		return trace.Anchor{}, fmt.Errorf("%w: projector is %s", zt_errors.ErrNoIndex, t.projector.State())
	}
	if frame < 0 || frame >= src.Info().Frames {
		return trace.Anchor{}, fmt.Errorf("%w: %d", zt_errors.ErrBadFrame, frame)
	}
	fr, err := src.Frame(frame)
	if err != nil {
		return trace.Anchor{}, err
	}
	x, y, patch := fr.Patch(x, y, p.Key.PatchSize)
	desc := p.Project(patch)
	return trace.Anchor{
		Frame:      frame,
		Position:   trace.Point{X: x, Y: y},
		Descriptor: desc,
		Image:      p.Reconstruct(desc),
	}, nil
}
