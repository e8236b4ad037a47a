// Package index builds, frame by frame, a nearest-neighbour index over the
// patch descriptors of a video. Frames become queryable as soon as they are
// built, so the index is usable while the build is still running.
package index

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microsoft/ZooTracer/projector"
	"github.com/microsoft/ZooTracer/utils"
	"github.com/microsoft/ZooTracer/video"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Step is the pixel distance between indexed patches (index_accuracy).
	Step    int
	Workers int
	// StoreDir enables persistence of built frames; empty disables it.
	StoreDir   string
	CacheSize  int
	Log        utils.Logger
	Registerer prometheus.Registerer
}

type Index struct {
	src     video.Source
	proj    *projector.Projector
	step    int
	workers int
	log     utils.Logger

	store     *Store
	collector *PebbleCollector
	reg       prometheus.Registerer

	frames    []atomic.Pointer[frameTree]
	ready     atomic.Int64
	loaded    atomic.Int64
	failed    atomic.Int64
	frameTime utils.Mean
	cache     *lru.Cache[uint64, []Match]
}

func New(src video.Source, proj *projector.Projector, opts Options) *Index {
	if opts.Step < 1 {
		opts.Step = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.CacheSize < 1 {
		opts.CacheSize = 4096
	}
	if opts.Log == nil {
		opts.Log = utils.NewDefaultLogger(0)
	}
	cache, _ := lru.New[uint64, []Match](opts.CacheSize)
	ix := &Index{
		src:     src,
		proj:    proj,
		step:    opts.Step,
		workers: opts.Workers,
		log:     opts.Log,
		frames:  make([]atomic.Pointer[frameTree], src.Info().Frames),
		cache:   cache,
		reg:     opts.Registerer,
	}
	if opts.StoreDir != "" {
		store, err := OpenStore(opts.StoreDir, opts.Log)
		if err != nil {
			ix.log.Warn("index: frame store unavailable, frames will not be persisted", "dir", opts.StoreDir, "err", err)
		} else {
			ix.store = store
			if ix.reg != nil {
				ix.collector = NewPebbleCollector(store.DB())
				if err := ix.reg.Register(ix.collector); err != nil {
					ix.log.Warn("index: pebble metrics not registered", "err", err)
					ix.collector = nil
				}
			}
		}
	}
	FramesReady.Set(0)
	return ix
}

// Build indexes every frame on the worker pool, calling progress after each
// frame is published. It returns only once every worker has stopped.
func (ix *Index) Build(ctx context.Context, progress func(frame, complete int)) error {
	if progress == nil {
		progress = func(int, int) {}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for f := range ix.frames {
		if gctx.Err() != nil {
			break
		}
		if ix.frames[f].Load() != nil {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			t, err := ix.frameTree(gctx, f)
			if err != nil {
				if gctx.Err() == nil {
					ix.failed.Add(1)
					ix.log.ErrorCtx(gctx, "index: frame failed", "frame", f, "err", err)
				}
				return nil
			}
			ix.frames[f].Store(t)
			complete := ix.ready.Add(1)
			FramesReady.Set(float64(complete))
			progress(f, int(complete))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := ix.failed.Load(); n > 0 {
		ix.log.WarnCtx(ctx, "index: some frames could not be indexed", "failed", n, "frames", len(ix.frames))
	}
	return nil
}

func (ix *Index) frameTree(ctx context.Context, f int) (*frameTree, error) {
	if ix.store != nil {
		t, err := ix.store.Get(ix.step, f)
		if err != nil {
			ix.log.WarnCtx(ctx, "index: stored frame unreadable, rebuilding", "frame", f, "err", err)
		} else if t != nil && t.Dim == ix.proj.Dim() {
			ix.loaded.Add(1)
			FramesBuilt.WithLabelValues("store").Inc()
			return t, nil
		}
	}

	start := time.Now()
	frame, err := ix.src.Frame(f)
	if err != nil {
		return nil, err
	}
	size := ix.proj.Key.PatchSize
	dim := ix.proj.Dim()
	var points []float32
	var xs, ys []int32
	for y := 0; y+size <= frame.Height; y += ix.step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x+size <= frame.Width; x += ix.step {
			points = append(points, ix.proj.Features(frame, x, y)...)
			xs = append(xs, int32(x))
			ys = append(ys, int32(y))
		}
	}
	t := newFrameTree(dim, points, xs, ys)
	elapsed := time.Since(start)
	ix.frameTime.Add(elapsed)
	FrameDuration.Observe(elapsed.Seconds())
	FramesBuilt.WithLabelValues("computed").Inc()

	if ix.store != nil {
		if err := ix.store.Put(ix.step, f, t); err != nil {
			ix.log.WarnCtx(ctx, "index: frame not persisted", "frame", f, "err", err)
		}
	}
	return t, nil
}

func (ix *Index) Frames() int {
	return len(ix.frames)
}

func (ix *Index) Step() int {
	return ix.step
}

func (ix *Index) IsReady(f int) bool {
	return f >= 0 && f < len(ix.frames) && ix.frames[f].Load() != nil
}

// Ready is the number of frames built so far.
func (ix *Index) Ready() int {
	return int(ix.ready.Load())
}

// Loaded is the number of frames taken from the store instead of computed.
func (ix *Index) Loaded() int {
	return int(ix.loaded.Load())
}

// FrameTime is the mean time spent computing one frame.
func (ix *Index) FrameTime() time.Duration {
	return ix.frameTime.Value()
}

// Remaining estimates the time left to build the unbuilt frames.
func (ix *Index) Remaining() time.Duration {
	left := len(ix.frames) - ix.Ready() - int(ix.failed.Load())
	return ix.frameTime.Remaining(left, ix.workers)
}

// Query returns the k patches of frame nearest to desc, nearest first.
// An unbuilt frame yields no matches.
func (ix *Index) Query(frame int, desc []float32, k int) []Match {
	return ix.QueryApprox(frame, desc, k, 1)
}

// QueryApprox is Query with an approximation ratio in (0, 1]. The returned
// slice is shared and must not be modified.
func (ix *Index) QueryApprox(frame int, desc []float32, k int, ratio float64) []Match {
	if frame < 0 || frame >= len(ix.frames) {
		return nil
	}
	t := ix.frames[frame].Load()
	if t == nil {
		Queries.WithLabelValues("unready").Inc()
		return nil
	}
	ratio = min(1, max(ratio, 1e-3))
	key := queryKey(frame, desc, k, ratio)
	if m, ok := ix.cache.Get(key); ok {
		Queries.WithLabelValues("cached").Inc()
		return m
	}
	m := t.search(desc, k, ratio)
	ix.cache.Add(key, m)
	Queries.WithLabelValues("searched").Inc()
	return m
}

func queryKey(frame int, desc []float32, k int, ratio float64) uint64 {
	buf := make([]byte, 0, 16+4*len(desc))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(frame))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(k))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(ratio))
	for _, v := range desc {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return xxhash.Sum64(buf)
}

// Close releases the frame store. It must only be called once Build has returned.
func (ix *Index) Close() error {
	var errs []error
	if ix.collector != nil {
		ix.reg.Unregister(ix.collector)
		ix.collector = nil
	}
	if ix.store != nil {
		if err := ix.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("index store: %w", err))
		}
		ix.store = nil
	}
	ix.cache.Purge()
	return errors.Join(errs...)
}
