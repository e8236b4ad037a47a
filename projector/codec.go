package projector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/learn-decentralized-systems/toytlv"
	"github.com/microsoft/ZooTracer/zt_errors"
)

const formatVersion = 1

// Encode serializes p as a sequence of TLV records: version V, key K,
// mean M, weights W, then one A record per axis.
func (p *Projector) Encode() []byte {
	var key []byte
	key = binary.BigEndian.AppendUint32(key, uint32(p.Key.PatchSize))
	key = binary.BigEndian.AppendUint32(key, uint32(p.Key.OutputDim))
	key = binary.BigEndian.AppendUint32(key, uint32(p.Key.SampleCount))
	recs := [][]byte{
		toytlv.Record('V', []byte{formatVersion}),
		toytlv.Record('K', key),
		toytlv.Record('M', floats(p.Mean)),
		toytlv.Record('W', floats(p.Weight)),
	}
	for _, axis := range p.Axes {
		recs = append(recs, toytlv.Record('A', floats(axis)))
	}
	return toytlv.Concat(recs...)
}

func floats(v []float32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, x := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(x))
	}
	return out
}

func unfloats(b []byte, n int) ([]float32, bool) {
	if len(b) != 4*n {
		return nil, false
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, true
}

var errCorrupt = errors.New("corrupt projector")

func Decode(data []byte) (*Projector, error) {
	take := func(lit byte) []byte {
		if data == nil {
			return nil
		}
		body, rest, err := toytlv.TakeWary(lit, data)
		if err != nil {
			data = nil
			return nil
		}
		data = rest
		return body
	}
	fail := func(what string) (*Projector, error) {
		return nil, fmt.Errorf("%w: %w: %s", zt_errors.ErrUnreadable, errCorrupt, what)
	}

	if v := take('V'); len(v) != 1 || v[0] != formatVersion {
		return fail("version")
	}
	k := take('K')
	if len(k) != 12 {
		return fail("key")
	}
	p := &Projector{Key: Key{
		PatchSize:   int(binary.BigEndian.Uint32(k[0:])),
		OutputDim:   int(binary.BigEndian.Uint32(k[4:])),
		SampleCount: int(binary.BigEndian.Uint32(k[8:])),
	}}
	d := p.Key.PatchSize * p.Key.PatchSize
	var ok bool
	if p.Mean, ok = unfloats(take('M'), d); !ok {
		return fail("mean")
	}
	if p.Weight, ok = unfloats(take('W'), d); !ok {
		return fail("weights")
	}
	for len(p.Axes) < p.Key.OutputDim {
		axis, ok := unfloats(take('A'), d)
		if !ok {
			return fail("axis " + strconv.Itoa(len(p.Axes)))
		}
		p.Axes = append(p.Axes, axis)
	}
	if len(data) != 0 {
		return fail("trailing data")
	}
	return p, nil
}

var tmpSeq atomic.Uint64

// TempPrefix marks unpublished projector files.
const TempPrefix = FileName + ".tmp-"

// Save publishes p at path atomically: a reader sees either no file or a
// complete one.
func (p *Projector) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf("%s%d-%d", TempPrefix, os.Getpid(), tmpSeq.Add(1)))
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
	}
	_, err = file.Write(p.Encode())
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
	}
	return nil
}

// Load reads a projector saved by Save and checks it was built for want.
func Load(path string, want Key) (*Projector, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", zt_errors.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zt_errors.ErrUnreadable, err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Key != want {
		return nil, fmt.Errorf("%w: %s holds projector %s, want %s", zt_errors.ErrUnreadable, path, p.Key, want)
	}
	return p, nil
}

// Exists reports whether a published projector file is at path.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// RemoveTemp deletes unpublished files left next to path by killed builds.
func RemoveTemp(path string) {
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), TempPrefix+"*"))
	for _, m := range matches {
		os.Remove(m)
	}
}
