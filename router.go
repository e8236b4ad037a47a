package zootracer

import "github.com/microsoft/ZooTracer/config"

// RestartPoint is the most upstream stage a settings change invalidates.
// Restarting a stage restarts everything downstream of it.
type RestartPoint int

const (
	RestartNone RestartPoint = iota
	RestartTrace
	RestartIndex
	RestartProjector
	RestartVideo
)

func (p RestartPoint) String() string {
	switch p {
	case RestartNone:
		return "none"
	case RestartTrace:
		return "trace"
	case RestartIndex:
		return "index"
	case RestartProjector:
		return "projector"
	case RestartVideo:
		return "video"
	}
	return "unknown"
}

func restartFor(key string) RestartPoint {
	switch key {
	case config.KeyVideoFilePath:
		return RestartVideo
	case config.KeyPatchSize, config.KeyPCADim, config.KeyNumPCAData:
		return RestartProjector
	case config.KeyIndexAccuracy:
		return RestartIndex
	}
	return RestartTrace
}

// Route maps changed setting keys to the restart they require.
func Route(changed []string) RestartPoint {
	p := RestartNone
	for _, key := range changed {
		p = max(p, restartFor(key))
	}
	return p
}
