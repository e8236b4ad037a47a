package zootracer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/jobs"
	"github.com/microsoft/ZooTracer/projector"
	"github.com/microsoft/ZooTracer/stage"
	"github.com/microsoft/ZooTracer/trace"
	"github.com/microsoft/ZooTracer/utils"
	"github.com/microsoft/ZooTracer/video"
	"github.com/microsoft/ZooTracer/zt_errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = utils.NewDefaultLogger(slog.LevelError)

const settle = 20 * time.Second

// squareAt is the top-left of a bright 6×6 square moving right 2 pixels a frame.
func squareAt(i int) (int, int) {
	return 4 + 2*i, 10
}

func clipFrames(n int) []*video.Frame {
	return video.NewFrames(n, 40, 32, func(i, x, y int) uint8 {
		sx, sy := squareAt(i)
		if x >= sx && x < sx+6 && y >= sy && y < sy+6 {
			return 250
		}
		return uint8((x*7 + y*13) % 60)
	})
}

type fixture struct {
	t      *testing.T
	dir    string
	frames []*video.Frame
	cfg    *config.Config
	opts   Options
	builds atomic.Int32
	tracer *Tracer
}

func newFixture(t *testing.T, n int) *fixture {
	fx := &fixture{t: t, dir: t.TempDir(), frames: clipFrames(n)}
	cfg := config.DefaultConfig()
	cfg.Path = filepath.Join(fx.dir, "zootracer.toml")
	cfg.VideoFilePath = fx.video("clip.y4m")
	cfg.PatchSize = 6
	cfg.PCADim = 6
	cfg.NumPCAData = 400
	cfg.IndexAccuracy = 2
	cfg.IndexApproxRatio = 1
	cfg.Index.Workers = 2
	fx.cfg = cfg
	fx.opts = Options{
		Config:    cfg,
		Log:       quiet,
		OpenVideo: fx.open,
		ProjectorJob: func(cfg *config.Config, src video.Source, key projector.Key, path string) (jobs.Runner, error) {
			fx.builds.Add(1)
			return InProcess(cfg, src, key, path)
		},
	}
	return fx
}

func (fx *fixture) video(name string) string {
	return filepath.Join(fx.dir, name)
}

// open serves the clip for any .y4m path inside the fixture directory.
func (fx *fixture) open(path string) (video.Source, error) {
	if filepath.Dir(path) != fx.dir || filepath.Ext(path) != ".y4m" {
		return nil, fmt.Errorf("%w: %s", zt_errors.ErrNotFound, path)
	}
	return video.NewMemory(path, 25, fx.frames), nil
}

func (fx *fixture) start() *Tracer {
	fx.tracer = New(fx.opts)
	fx.t.Cleanup(func() { _ = fx.tracer.Close() })
	return fx.tracer
}

// settled waits for every stage to be ready and every frame indexed.
func (fx *fixture) settled() Status {
	var st Status
	require.Eventually(fx.t, func() bool {
		st = fx.tracer.Status()
		return st.Video.State == stage.Ready && st.Projector.State == stage.Ready &&
			st.Index.State == stage.Ready && st.Trace.State == stage.Ready &&
			st.Indexed == st.Frames
	}, settle, 10*time.Millisecond)
	return st
}

func TestTracer_RestartCascade(t *testing.T) {
	fx := newFixture(t, 6)
	tr := fx.start()
	st0 := fx.settled()
	assert.Equal(t, int32(1), fx.builds.Load())

	require.NoError(t, tr.Set(config.KeyLambdaD, "0.5"))
	st1 := fx.settled()
	assert.Equal(t, st0.Video.Generation, st1.Video.Generation)
	assert.Equal(t, st0.Projector.Generation, st1.Projector.Generation)
	assert.Equal(t, st0.Index.Generation, st1.Index.Generation)
	assert.Greater(t, st1.Trace.Generation, st0.Trace.Generation)

	require.NoError(t, tr.Set(config.KeyIndexAccuracy, "3"))
	st2 := fx.settled()
	assert.Equal(t, st1.Video.Generation, st2.Video.Generation)
	assert.Equal(t, st1.Projector.Generation, st2.Projector.Generation)
	assert.Greater(t, st2.Index.Generation, st1.Index.Generation)
	assert.Greater(t, st2.Trace.Generation, st1.Trace.Generation)
	assert.True(t, strings.HasSuffix(st2.Index.Key, "/3"))

	require.NoError(t, tr.Set(config.KeyPatchSize, "8"))
	st3 := fx.settled()
	assert.Equal(t, st2.Video.Generation, st3.Video.Generation)
	assert.Greater(t, st3.Projector.Generation, st2.Projector.Generation)
	assert.Greater(t, st3.Index.Generation, st2.Index.Generation)
	assert.Greater(t, st3.Trace.Generation, st2.Trace.Generation)
	assert.Equal(t, int32(2), fx.builds.Load())

	require.NoError(t, tr.Open(fx.video("other.y4m")))
	st4 := fx.settled()
	assert.Greater(t, st4.Video.Generation, st3.Video.Generation)
	assert.Greater(t, st4.Projector.Generation, st3.Projector.Generation)
	assert.Greater(t, st4.Index.Generation, st3.Index.Generation)
	assert.Greater(t, st4.Trace.Generation, st3.Trace.Generation)
	assert.Equal(t, fx.video("other.y4m"), st4.Info.Path)

	// unchanged settings restart nothing
	require.NoError(t, tr.Apply(tr.Settings()))
	assert.Equal(t, st4.Trace.Generation, tr.Status().Trace.Generation)
}

func TestTracer_ProjectorCacheIsReused(t *testing.T) {
	fx := newFixture(t, 4)
	fx.start()
	fx.settled()
	require.NoError(t, fx.tracer.Close())
	assert.True(t, projector.Exists(projector.KeyOf(fx.cfg.Settings).Path(fx.cfg.VideoFilePath)))

	fx.start()
	fx.settled()
	assert.Equal(t, int32(1), fx.builds.Load())
	assert.Contains(t, strings.Join(fx.tracer.Console(), "\n"), "Loaded the projector")
}

func TestTracer_FollowsSquare(t *testing.T) {
	fx := newFixture(t, 12)
	fx.opts.Registerer = prometheus.NewRegistry()
	tr := fx.start()
	fx.settled()

	x0, y0 := squareAt(0)
	x1, y1 := squareAt(11)
	require.NoError(t, tr.FixAt(0, x0, y0))
	require.NoError(t, tr.FixAt(11, x1, y1))
	assert.Len(t, tr.Anchors(), 2)

	assert.Eventually(t, func() bool {
		for f := 0; f < 12; f++ {
			x, y := squareAt(f)
			if pt, ok := tr.TracePoint(f); !ok || pt != (trace.Point{X: x, Y: y}) {
				return false
			}
		}
		return true
	}, settle, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		states := tr.FrameStates()
		return len(states) == 12 && states[0] == FrameCurrent && states[11] == FrameFixed && states[5] == FrameDefault
	}, settle, 10*time.Millisecond)

	require.NoError(t, tr.SetFrame(5))
	sx, sy := squareAt(5)
	require.NoError(t, tr.SetCursor(sx+3, sy+3))
	matches, err := tr.Matches(3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, sx, matches[0].X)
	assert.Equal(t, sy, matches[0].Y)

	byAnchor, err := tr.AnchorMatches(0, 1)
	require.NoError(t, err)
	require.Len(t, byAnchor, 1)
	assert.Equal(t, sx, byAnchor[0].X)

	items := tr.Overlay(Viewport{Scale: 2})
	var roles []Role
	for _, it := range items {
		roles = append(roles, it.Role)
	}
	assert.Contains(t, roles, RoleTrace)
	assert.Contains(t, roles, RoleCursor)
	assert.Contains(t, roles, RoleMatch)
}

func TestTracer_Directives(t *testing.T) {
	fx := newFixture(t, 10)
	tr := fx.start()
	fx.settled()

	st := tr.Status()
	assert.True(t, st.AfterTraceStart)
	assert.True(t, st.BeforeTraceEnd)
	require.NoError(t, tr.SetFrame(9))
	st = tr.Status()
	assert.True(t, st.AfterTraceStart)
	assert.True(t, st.BeforeTraceEnd)

	require.NoError(t, tr.SetFrame(5))
	require.NoError(t, tr.StartHere())
	st = tr.Status()
	// frame 5 itself still traces
	assert.True(t, st.AfterTraceStart)
	require.NoError(t, tr.SetFrame(4))
	assert.False(t, tr.Status().AfterTraceStart)
	assert.True(t, tr.Status().BeforeTraceEnd)
	require.NoError(t, tr.SetFrame(5))
	assert.Eventually(t, func() bool {
		states := tr.FrameStates()
		return len(states) == 10 && states[0] == FrameOccluded && states[4] == FrameOccluded && states[6] == FrameDefault
	}, settle, 10*time.Millisecond)
	require.NoError(t, tr.StartHere())
	assert.True(t, tr.Status().AfterTraceStart)

	require.NoError(t, tr.SetCursor(10, 10))
	require.NoError(t, tr.Fix())
	assert.Len(t, tr.Anchors(), 1)
	require.NoError(t, tr.Occlude())
	assert.Empty(t, tr.Anchors())
	_, ok := tr.TracePoint(5)
	assert.False(t, ok)
	require.NoError(t, tr.Auto())
	require.NoError(t, tr.ClearAll())

	assert.ErrorIs(t, tr.SetFrame(10), zt_errors.ErrBadFrame)
	assert.ErrorIs(t, tr.FixAt(-1, 0, 0), zt_errors.ErrBadFrame)
	_, err := tr.AnchorMatches(0, 1)
	assert.ErrorIs(t, err, zt_errors.ErrBadValue)
	assert.ErrorIs(t, tr.Set("colour", "red"), zt_errors.ErrUnknownKey)
	assert.ErrorIs(t, tr.Set(config.KeyPatchSize, "2"), zt_errors.ErrBadValue)
}

func TestTracer_SaveLoad(t *testing.T) {
	src := newFixture(t, 12)
	src.cfg.LambdaD = 0.25
	tr := src.start()
	src.settled()
	x0, y0 := squareAt(0)
	x1, y1 := squareAt(11)
	require.NoError(t, tr.FixAt(0, x0, y0))
	require.NoError(t, tr.FixAt(11, x1, y1))
	require.NoError(t, tr.SetFrame(5))
	require.NoError(t, tr.Occlude())

	dst := newFixture(t, 12)
	dst.cfg.VideoFilePath = ""
	dst.start()
	path := filepath.Join(dst.dir, "clip.trace.csv")
	require.NoError(t, tr.SaveTrace(path))

	// the saved video path is only reachable through the trace directory
	require.NoError(t, dst.tracer.LoadTrace(path))
	assert.Equal(t, 0.25, dst.tracer.Settings().LambdaD)
	assert.Equal(t, dst.video("clip.y4m"), dst.tracer.Settings().VideoFilePath)
	dst.settled()

	assert.Eventually(t, func() bool {
		anchors := dst.tracer.Anchors()
		return len(anchors) == 2 && anchors[0].Position == (trace.Point{X: x0, Y: y0}) &&
			anchors[1].Position == (trace.Point{X: x1, Y: y1})
	}, settle, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		states := dst.tracer.FrameStates()
		return len(states) == 12 && states[5] == FrameOccluded && states[11] == FrameFixed
	}, settle, 10*time.Millisecond)
}

func TestTracer_OpenDropsLoadedRows(t *testing.T) {
	saved := newFixture(t, 6)
	tr := saved.start()
	saved.settled()
	x, y := squareAt(2)
	require.NoError(t, tr.FixAt(2, x, y))
	require.NoError(t, tr.SetFrame(3))
	require.NoError(t, tr.Occlude())

	dst := newFixture(t, 6)
	dst.cfg.VideoFilePath = ""
	gate := make(chan struct{})
	dst.opts.ProjectorJob = func(cfg *config.Config, src video.Source, key projector.Key, path string) (jobs.Runner, error) {
		build, err := InProcess(cfg, src, key, path)
		if err != nil {
			return nil, err
		}
		return jobs.Func(func(ctx context.Context, logf func(string)) error {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
			return build.Run(ctx, logf)
		}), nil
	}
	dst.start()
	path := filepath.Join(dst.dir, "clip.trace.csv")
	require.NoError(t, tr.SaveTrace(path))

	// the rows belong to clip.y4m, whose projector is still building
	require.NoError(t, dst.tracer.LoadTrace(path))
	require.NoError(t, dst.tracer.Open(dst.video("other.y4m")))
	close(gate)
	st := dst.settled()
	assert.Equal(t, dst.video("other.y4m"), st.Info.Path)
	assert.Empty(t, dst.tracer.Anchors())
	states := dst.tracer.FrameStates()
	require.Len(t, states, 6)
	assert.NotEqual(t, FrameOccluded, states[3])
	assert.NotEqual(t, FrameFixed, states[2])
}

func TestTracer_LoadFailureLeavesSession(t *testing.T) {
	fx := newFixture(t, 4)
	tr := fx.start()
	before := fx.settled()

	missing := filepath.Join(fx.dir, "missing.csv")
	text := "x,y,code\n,,0\n\nID,Column,Variable Name,Data Type,Rank,Missing Value,Dimensions\n\n" +
		"Variable,Key,Type,Value\n0,videofilepath,System.String,/nowhere/none.mp4\n0,lambda_d,System.Double,9\n"
	require.NoError(t, os.WriteFile(missing, []byte(text), 0o644))
	assert.ErrorIs(t, tr.LoadTrace(missing), zt_errors.ErrNotFound)

	broken := filepath.Join(fx.dir, "broken.csv")
	require.NoError(t, os.WriteFile(broken, []byte("x,y,code\n1,2,9\n"), 0o644))
	assert.ErrorIs(t, tr.LoadTrace(broken), zt_errors.ErrFormat)

	assert.Equal(t, fx.cfg.Settings, tr.Settings())
	after := tr.Status()
	assert.Equal(t, before.Video.Generation, after.Video.Generation)
	assert.Equal(t, before.Trace.Generation, after.Trace.Generation)
}

func TestTracer_VideoFailure(t *testing.T) {
	fx := newFixture(t, 4)
	fx.opts.OpenVideo = func(path string) (video.Source, error) {
		return nil, fmt.Errorf("%w: %s", zt_errors.ErrUnreadable, path)
	}
	tr := fx.start()
	assert.Eventually(t, func() bool { return tr.Status().Video.State == stage.Failed }, settle, 10*time.Millisecond)
	st := tr.Status()
	assert.ErrorIs(t, st.Video.Err, zt_errors.ErrUnreadable)
	assert.Equal(t, stage.Idle, st.Projector.State)
	assert.Equal(t, stage.Idle, st.Index.State)
	assert.Equal(t, stage.Idle, st.Trace.State)
	assert.Contains(t, strings.Join(tr.Console(), "\n"), "video failed")
	assert.ErrorIs(t, tr.Occlude(), zt_errors.ErrNoVideo)
}

func TestTracer_ProjectorFailure(t *testing.T) {
	fx := newFixture(t, 4)
	fx.opts.ProjectorJob = func(*config.Config, video.Source, projector.Key, string) (jobs.Runner, error) {
		return jobs.Func(func(ctx context.Context, logf func(string)) error {
			logf("giving up")
			return fmt.Errorf("%w: exited with status 1", zt_errors.ErrBuildFailed)
		}), nil
	}
	tr := fx.start()
	assert.Eventually(t, func() bool { return tr.Status().Projector.State == stage.Failed }, settle, 10*time.Millisecond)
	assert.Equal(t, stage.Idle, tr.Status().Index.State)
	assert.Eventually(t, func() bool {
		return strings.Contains(strings.Join(tr.Console(), "\n"), "build_pca: giving up")
	}, settle, 10*time.Millisecond)
}

func TestTracer_IndexChangeWithoutProjector(t *testing.T) {
	fx := newFixture(t, 4)
	release := make(chan struct{})
	var cancelled atomic.Int32
	fx.opts.ProjectorJob = func(cfg *config.Config, src video.Source, key projector.Key, path string) (jobs.Runner, error) {
		return jobs.Func(func(ctx context.Context, logf func(string)) error {
			select {
			case <-release:
				return projector.BuildToCache(ctx, src, key, path, logf)
			case <-ctx.Done():
				cancelled.Add(1)
				return ctx.Err()
			}
		}), nil
	}
	tr := fx.start()
	assert.Eventually(t, func() bool { return tr.Status().Projector.State == stage.Building }, settle, 10*time.Millisecond)

	require.NoError(t, tr.Set(config.KeyIndexAccuracy, "3"))
	st := tr.Status()
	assert.Equal(t, stage.Idle, st.Index.State)
	assert.Equal(t, uint64(0), st.Index.Generation)
	assert.Equal(t, int32(0), cancelled.Load())

	// a projector change cancels the build in flight exactly once
	require.NoError(t, tr.Set(config.KeyPCADim, "5"))
	assert.Equal(t, int32(1), cancelled.Load())
	assert.Equal(t, stage.Building, tr.Status().Projector.State)

	close(release)
	st = fx.settled()
	assert.True(t, strings.HasSuffix(st.Index.Key, "/3"))
	assert.Equal(t, "6_5_400/3", st.Index.Key)
}

func TestTracer_RefreshIsThrottled(t *testing.T) {
	fx := newFixture(t, 4)
	fx.cfg.VideoFilePath = ""
	tr := fx.start()
	var before int
	require.NoError(t, tr.call(func() error {
		before = tr.refreshes
		tr.requestRefresh()
		tr.requestRefresh()
		tr.requestRefresh()
		return nil
	}))
	require.NoError(t, tr.call(func() error {
		assert.Equal(t, before+1, tr.refreshes)
		assert.False(t, tr.refreshPending)
		return nil
	}))
}

func TestTracer_Subscribe(t *testing.T) {
	fx := newFixture(t, 4)
	tr := fx.start()
	fx.settled()

	kinds := make(chan EventKind, 4096)
	stop := tr.Subscribe(func(e Event) {
		select {
		case kinds <- e.Kind:
		default:
		}
	})
	require.NoError(t, tr.Set(config.KeyIndexAccuracy, "3"))
	fx.settled()
	stop()

	seen := map[EventKind]bool{}
	for len(kinds) > 0 {
		seen[<-kinds] = true
	}
	assert.True(t, seen[StageChanged])
	assert.True(t, seen[IndexProgress])
	assert.True(t, seen[FrameStatesChanged])

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.SetFrame(0), zt_errors.ErrClosed)
}

func TestConsole_KeepsLastLines(t *testing.T) {
	c := NewConsole(3)
	assert.Empty(t, c.Lines())
	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprint(i))
	}
	assert.Equal(t, []string{"2", "3", "4"}, c.Lines())
}
