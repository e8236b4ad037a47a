package zootracer

import (
	"testing"

	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/trace"
	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	cases := []struct {
		changed []string
		want    RestartPoint
	}{
		{nil, RestartNone},
		{[]string{config.KeyLambdaD}, RestartTrace},
		{[]string{config.KeyMatchesPerKeyframe, config.KeyMaxOcclusionDuration}, RestartTrace},
		{[]string{config.KeyIndexAccuracy}, RestartIndex},
		{[]string{config.KeyLambdaU, config.KeyIndexAccuracy}, RestartIndex},
		{[]string{config.KeyPatchSize}, RestartProjector},
		{[]string{config.KeyPCADim}, RestartProjector},
		{[]string{config.KeyNumPCAData, config.KeyIndexAccuracy}, RestartProjector},
		{[]string{config.KeyLambdaO, config.KeyVideoFilePath}, RestartVideo},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Route(c.changed), "%v", c.changed)
	}
	assert.Equal(t, RestartIndex, Route(config.Diff(config.Defaults(), func() config.Settings {
		s := config.Defaults()
		s.IndexAccuracy = 7
		return s
	}())))
}

func TestClassify_Precedence(t *testing.T) {
	cases := []struct {
		in   FrameInput
		want FrameVisualState
	}{
		{FrameInput{Current: true, Indexed: false, Kind: trace.Fixed}, FrameCurrent},
		{FrameInput{Indexed: false, Kind: trace.Fixed}, FrameNotIndexed},
		{FrameInput{Indexed: true, Kind: trace.Fixed}, FrameFixed},
		{FrameInput{Indexed: true, Kind: trace.Occluded}, FrameOccluded},
		{FrameInput{Indexed: true, Kind: trace.Auto}, FrameDefault},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.in), "%+v", c.in)
	}
}

func TestClassifyAll(t *testing.T) {
	model := trace.New(5)
	model.Fix(trace.Anchor{Frame: 1})
	model.Occlude(3)
	states := ClassifyAll(model, 2, func(f int) bool { return f != 4 })
	assert.Equal(t, []FrameVisualState{FrameDefault, FrameFixed, FrameCurrent, FrameOccluded, FrameNotIndexed}, states)
	assert.Equal(t, "-F@x.", Strip(states))

	assert.Equal(t, "....", Strip(ClassifyAll(trace.New(4), -1, nil)))
}

func TestOverlay_Rescale(t *testing.T) {
	v := FitViewport(40, 20, 200, 200)
	assert.Equal(t, 5.0, v.Scale)
	assert.Equal(t, Vec{0, 50}, v.Offset)

	r := OverlayItem{Shape: ShapeRect, Role: RoleCursor, Min: Vec{2, 4}, Size: Vec{6, 6}}.Rescale(v)
	assert.Equal(t, Vec{10, 70}, r.Min)
	assert.Equal(t, Vec{30, 30}, r.Size)

	p := OverlayItem{Shape: ShapePath, Role: RoleTrace, Points: []Vec{{0, 0}, {40, 20}}}.Rescale(v)
	assert.Equal(t, []Vec{{0, 50}, {200, 150}}, p.Points)

	assert.Equal(t, 1.0, FitViewport(0, 0, 10, 10).Scale)
}
