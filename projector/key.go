package projector

import (
	"fmt"
	"path/filepath"

	"github.com/microsoft/ZooTracer/config"
)

// Key identifies a projector; it doubles as the cache directory name.
type Key struct {
	PatchSize   int
	OutputDim   int
	SampleCount int
}

func KeyOf(s config.Settings) Key {
	return Key{PatchSize: s.PatchSize, OutputDim: s.PCADim, SampleCount: s.NumPCAData}
}

func (k Key) DirName() string {
	return fmt.Sprintf("%d_%d_%d", k.PatchSize, k.OutputDim, k.SampleCount)
}

func (k Key) String() string {
	return k.DirName()
}

// CacheDir is the per-video cache root.
func CacheDir(videoPath string) string {
	return videoPath + ".cache"
}

// Dir holds the projector file and everything derived from it.
func (k Key) Dir(videoPath string) string {
	return filepath.Join(CacheDir(videoPath), k.DirName())
}

// Path is the projector artifact file.
func (k Key) Path(videoPath string) string {
	return filepath.Join(k.Dir(videoPath), FileName)
}

const FileName = "pca"
