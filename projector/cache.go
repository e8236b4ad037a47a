package projector

import (
	"context"
	"fmt"

	"github.com/microsoft/ZooTracer/video"
)

// BuildToCache builds the projector for key and publishes it at path.
func BuildToCache(ctx context.Context, src video.Source, key Key, path string, logf func(string)) error {
	if logf == nil {
		logf = func(string) {}
	}
	p, err := Build(ctx, src, key, logf)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Save(path); err != nil {
		return err
	}
	logf(fmt.Sprintf("Wrote the projector to %s", path))
	return nil
}
