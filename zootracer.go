// Package zootracer coordinates the tracing pipeline: a video is opened, a
// patch projector is built for it, every frame is indexed, and the object
// trajectory is optimized from the user's anchors. Each stage restarts only
// when a setting it depends on changes.
package zootracer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/index"
	"github.com/microsoft/ZooTracer/jobs"
	"github.com/microsoft/ZooTracer/projector"
	"github.com/microsoft/ZooTracer/stage"
	"github.com/microsoft/ZooTracer/trace"
	"github.com/microsoft/ZooTracer/utils"
	"github.com/microsoft/ZooTracer/video"
	"github.com/microsoft/ZooTracer/zt_errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
)

// ProjectorJob returns the job that writes the projector for key to path.
type ProjectorJob func(cfg *config.Config, src video.Source, key projector.Key, path string) (jobs.Runner, error)

type Options struct {
	Config *config.Config
	Log    utils.Logger
	// Registerer receives the pipeline metrics; nil disables them.
	Registerer prometheus.Registerer
	// OpenVideo defaults to video.Open.
	OpenVideo func(path string) (video.Source, error)
	// ProjectorJob defaults to ChildProcess.
	ProjectorJob ProjectorJob
	ConsoleLines int
}

func (o *Options) SetDefaults() {
	if o.Config == nil {
		o.Config = config.DefaultConfig()
	}
	if o.Log == nil {
		o.Log = utils.NewDefaultLogger(utils.ParseLevel(o.Config.Log.Level))
	}
	if o.OpenVideo == nil {
		o.OpenVideo = func(path string) (video.Source, error) { return video.Open(path) }
	}
	if o.ProjectorJob == nil {
		o.ProjectorJob = ChildProcess
	}
	if o.ConsoleLines <= 0 {
		o.ConsoleLines = 500
	}
}

// ChildProcess runs "build_pca" in a copy of this executable. The settings
// are saved first so the child reads the same configuration.
func ChildProcess(cfg *config.Config, _ video.Source, _ projector.Key, _ string) (jobs.Runner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
	}
	if err := cfg.Save(); err != nil {
		return nil, fmt.Errorf("%w: saving settings: %v", zt_errors.ErrBuildFailed, err)
	}
	return &jobs.Process{
		Path: exe,
		Args: []string{"build_pca"},
		Env:  []string{config.EnvConfig + "=" + cfg.Path},
	}, nil
}

// InProcess builds the projector on a goroutine of this process.
func InProcess(_ *config.Config, src video.Source, key projector.Key, path string) (jobs.Runner, error) {
	return jobs.Func(func(ctx context.Context, logf func(string)) error {
		return projector.BuildToCache(ctx, src, key, path, logf)
	}), nil
}

// Tracer owns the pipeline. Its state is only touched by the coordinator
// goroutine; exported methods hand their work to it and wait.
type Tracer struct {
	opts Options
	cfg  config.Config
	log  utils.Logger

	box    *utils.Mailbox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	video     *stage.Slot[video.Source]
	projector *stage.Slot[*projector.Projector]
	index     *stage.Slot[*index.Index]
	tracing   *stage.Slot[*trace.Runner]

	// idx is the index of the current index generation, usable while it builds
	idx *index.Index

	model          *trace.Trace
	stopAnchors    func()
	// pending holds the rows of a loaded trace file until the projector of
	// pendingVideo is ready
	pending        *trace.Document
	pendingVideo   string
	frame          int
	cursor         trace.Point
	hasCursor      bool
	states         []FrameVisualState
	refreshPending bool
	refreshes      int

	subscribers *xsync.MapOf[uuid.UUID, func(Event)]
	console     *Console
}

func register(reg prometheus.Registerer, log utils.Logger) {
	if reg == nil {
		return
	}
	cs := append(stage.Collectors(), index.Collectors()...)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				log.Warn("metrics: collector not registered", "err", err)
			}
		}
	}
}

// New starts a Tracer. If the config names a video it is opened at once.
func New(opts Options) *Tracer {
	opts.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracer{
		opts:        opts,
		cfg:         *opts.Config,
		log:         opts.Log,
		box:         utils.NewMailbox(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: xsync.NewMapOf[uuid.UUID, func(Event)](),
		console:     NewConsole(opts.ConsoleLines),
	}
	register(opts.Registerer, t.log)
	t.video = stage.New("video", t.post,
		stage.WithRelease(func(src video.Source) { _ = src.Close() }),
		stage.WithListener[video.Source](t.onStage))
	t.projector = stage.New("projector", t.post,
		stage.WithListener[*projector.Projector](t.onStage))
	t.index = stage.New("index", t.post,
		stage.WithRelease(func(ix *index.Index) { _ = ix.Close() }),
		stage.WithListener[*index.Index](t.onStage))
	t.tracing = stage.New("trace", t.post,
		stage.WithRelease(func(r *trace.Runner) { r.Close() }),
		stage.WithListener[*trace.Runner](t.onStage))

	go func() {
		defer close(t.done)
		t.box.Run(ctx)
	}()
	t.post(t.startVideo)
	return t
}

func (t *Tracer) post(f func()) bool {
	return t.box.Post(f)
}

// call runs f on the coordinator and returns its error.
func (t *Tracer) call(f func() error) error {
	res := make(chan error, 1)
	if !t.post(func() { res <- f() }) {
		return zt_errors.ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-t.done:
		select {
		case err := <-res:
			return err
		default:
			return zt_errors.ErrClosed
		}
	}
}

// Close stops every stage, releasing the index, the projector and the
// video, and ends the coordinator.
func (t *Tracer) Close() error {
	err := t.call(func() error {
		t.stopFrom(RestartVideo)
		return nil
	})
	t.box.Close()
	<-t.done
	t.cancel()
	if errors.Is(err, zt_errors.ErrClosed) {
		return nil
	}
	return err
}

func (t *Tracer) Console() []string {
	return t.console.Lines()
}
