// Package projector computes and caches the patch projection that maps a
// square luma patch to a short descriptor.
package projector

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/microsoft/ZooTracer/video"
	"github.com/microsoft/ZooTracer/zt_errors"
)

const powerIterations = 200

// Projector is a weighted PCA basis. Descriptors of similar patches are
// close in Euclidean distance.
type Projector struct {
	Key    Key
	Mean   []float32
	Weight []float32
	Axes   [][]float32
}

func (p *Projector) Dim() int {
	return len(p.Axes)
}

// Project maps a PatchSize² luma patch to a descriptor.
func (p *Projector) Project(patch []uint8) []float32 {
	centered := make([]float32, len(p.Mean))
	for j := range centered {
		centered[j] = p.Weight[j] * (float32(patch[j])/255 - p.Mean[j])
	}
	out := make([]float32, len(p.Axes))
	for k, axis := range p.Axes {
		var sum float32
		for j, a := range axis {
			sum += a * centered[j]
		}
		out[k] = sum
	}
	return out
}

// Features is the descriptor of the patch at top-left (x, y), clamped to the frame.
func (p *Projector) Features(f *video.Frame, x, y int) []float32 {
	_, _, patch := f.Patch(x, y, p.Key.PatchSize)
	return p.Project(patch)
}

// Reconstruct approximates the luma patch a descriptor came from.
func (p *Projector) Reconstruct(desc []float32) []uint8 {
	out := make([]uint8, len(p.Mean))
	for j := range out {
		var v float32
		for k, axis := range p.Axes {
			if k < len(desc) {
				v += desc[k] * axis[j]
			}
		}
		x := p.Mean[j] + v/p.Weight[j]
		out[j] = uint8(math.Round(float64(255 * min(1, max(0, x)))))
	}
	return out
}

func gaussianWeights(size int) []float32 {
	sigma := float64(size) / 2
	c := float64(size-1) / 2
	w := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			w[y*size+x] = float32(math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma)))
		}
	}
	return w
}

// Build samples key.SampleCount patches from about sqrt(SampleCount) evenly
// spaced frames and computes the weighted principal axes. logf receives
// progress lines.
func Build(ctx context.Context, src video.Source, key Key, logf func(string)) (*Projector, error) {
	if logf == nil {
		logf = func(string) {}
	}
	info := src.Info()
	size := key.PatchSize
	d := size * size
	if info.Frames < 1 {
		return nil, fmt.Errorf("%w: %s has no frames", zt_errors.ErrUnreadable, info.Path)
	}
	if info.Width < size || info.Height < size {
		return nil, fmt.Errorf("%w: %dx%d video is smaller than a %d pixel patch", zt_errors.ErrUnreadable, info.Width, info.Height, size)
	}
	if key.OutputDim < 1 || key.OutputDim > d || key.SampleCount < key.OutputDim {
		return nil, fmt.Errorf("%w: projector %s", zt_errors.ErrBadValue, key)
	}

	nFrames := min(info.Frames, max(1, int(math.Round(math.Sqrt(float64(key.SampleCount))))))
	perFrame := (key.SampleCount + nFrames - 1) / nFrames
	rng := rand.New(rand.NewPCG(uint64(key.PatchSize), uint64(key.SampleCount)))
	weight := gaussianWeights(size)

	samples := make([][]float32, 0, nFrames*perFrame)
	mean := make([]float64, d)
	for i := 0; i < nFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := src.Frame(i * info.Frames / nFrames)
		if err != nil {
			return nil, err
		}
		for s := 0; s < perFrame && len(samples) < key.SampleCount; s++ {
			x := rng.IntN(info.Width - size + 1)
			y := rng.IntN(info.Height - size + 1)
			_, _, patch := frame.Patch(x, y, size)
			v := make([]float32, d)
			for j, px := range patch {
				v[j] = float32(px) / 255
				mean[j] += float64(v[j])
			}
			samples = append(samples, v)
		}
		if (i+1)%max(1, nFrames/10) == 0 {
			logf(fmt.Sprintf("Read %d of %d frames", i+1, nFrames))
		}
	}
	logf("Finished reading video file, starting PCA...")

	n := float64(len(samples))
	for j := range mean {
		mean[j] /= n
	}
	cov := make([]float64, d*d)
	centered := make([]float64, d)
	for s, v := range samples {
		if s%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := range centered {
			centered[j] = float64(weight[j]) * (float64(v[j]) - mean[j])
		}
		for a := 0; a < d; a++ {
			ca := centered[a]
			if ca == 0 {
				continue
			}
			row := cov[a*d : (a+1)*d]
			for b := a; b < d; b++ {
				row[b] += ca * centered[b]
			}
		}
	}
	for a := 0; a < d; a++ {
		for b := a; b < d; b++ {
			cov[a*d+b] /= n
			cov[b*d+a] = cov[a*d+b]
		}
	}

	basis := make([][]float64, 0, key.OutputDim)
	for len(basis) < key.OutputDim {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		basis = append(basis, principalAxis(cov, d, basis, rng))
	}
	axes := make([][]float32, len(basis))
	for k, u := range basis {
		axes[k] = make([]float32, d)
		for j, x := range u {
			axes[k][j] = float32(x)
		}
	}
	logf("Finished PCA, saving the projector...")

	p := &Projector{Key: key, Mean: make([]float32, d), Weight: weight, Axes: axes}
	for j, m := range mean {
		p.Mean[j] = float32(m)
	}
	return p, nil
}

// principalAxis finds the dominant eigenvector of cov orthogonal to prev
// by power iteration.
func principalAxis(cov []float64, d int, prev [][]float64, rng *rand.Rand) []float64 {
	v := make([]float64, d)
	for j := range v {
		v[j] = rng.Float64() - 0.5
	}
	orthogonalize(v, prev)
	normalize(v)
	next := make([]float64, d)
	for it := 0; it < powerIterations; it++ {
		for a := 0; a < d; a++ {
			var sum float64
			row := cov[a*d : (a+1)*d]
			for b, x := range v {
				sum += row[b] * x
			}
			next[a] = sum
		}
		orthogonalize(next, prev)
		if normalize(next) == 0 {
			break
		}
		var delta float64
		for j := range v {
			delta += math.Abs(next[j] - v[j])
		}
		v, next = next, v
		if delta < 1e-10 {
			break
		}
	}
	return v
}

func orthogonalize(v []float64, prev [][]float64) {
	for _, u := range prev {
		var dot float64
		for j := range v {
			dot += v[j] * u[j]
		}
		for j := range v {
			v[j] -= dot * u[j]
		}
	}
}

func normalize(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return 0
	}
	for j := range v {
		v[j] /= norm
	}
	return norm
}
