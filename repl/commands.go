package repl

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	zootracer "github.com/microsoft/ZooTracer"
	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/index"
	"github.com/microsoft/ZooTracer/stage"
)

var (
	HelpOpen    = errors.New("open path/to/video.y4m")
	HelpLoad    = errors.New("load path/to/trace.csv")
	HelpSave    = errors.New("save path/to/trace.csv")
	HelpSet     = errors.New("set key value")
	HelpFrame   = errors.New("frame [n]")
	HelpCursor  = errors.New("cursor x y")
	HelpFix     = errors.New("fix [frame x y]")
	HelpPoint   = errors.New("point [frame]")
	HelpMatches = errors.New("matches [k] [anchor]")
	HelpLog     = errors.New("log [lines]")
	HelpOverlay = errors.New("overlay [width height]")
)

var helps = []error{HelpOpen, HelpLoad, HelpSave, HelpSet, HelpFrame, HelpCursor, HelpFix, HelpPoint, HelpMatches, HelpLog, HelpOverlay}

func ints(args []string, help error) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, help
		}
		out[i] = n
	}
	return out, nil
}

func (repl *REPL) CommandHelp(args []string) error {
	for _, h := range helps {
		repl.printf("  %s\n", h)
	}
	repl.printf("  get [key] | next | prev | occlude | auto | clearall | starthere | stophere\n")
	repl.printf("  status | strip | anchors | exit\n")
	return nil
}

func (repl *REPL) CommandOpen(args []string) error {
	if len(args) == 0 {
		return HelpOpen
	}
	return repl.Host.Open(strings.Join(args, " "))
}

func (repl *REPL) CommandLoad(args []string) error {
	if len(args) == 0 {
		return HelpLoad
	}
	return repl.Host.LoadTrace(strings.Join(args, " "))
}

func (repl *REPL) CommandSave(args []string) error {
	if len(args) == 0 {
		return HelpSave
	}
	return repl.Host.SaveTrace(strings.Join(args, " "))
}

func (repl *REPL) CommandSet(args []string) error {
	if len(args) < 2 {
		return HelpSet
	}
	// paths may contain spaces
	return repl.Host.Set(args[0], strings.Join(args[1:], " "))
}

func (repl *REPL) CommandGet(args []string) error {
	s := repl.Host.Settings()
	keys := args
	if len(keys) == 0 {
		keys = config.Keys()
	}
	for _, key := range keys {
		v, err := s.Get(key)
		if err != nil {
			return err
		}
		repl.printf("%s = %s\n", key, v)
	}
	return nil
}

func (repl *REPL) CommandFrame(args []string) error {
	if len(args) == 0 {
		repl.printf("frame %d\n", repl.Host.Frame())
		return nil
	}
	n, err := ints(args, HelpFrame)
	if err != nil || len(n) != 1 {
		return HelpFrame
	}
	return repl.Host.SetFrame(n[0])
}

func (repl *REPL) step(d int) error {
	if err := repl.Host.SetFrame(repl.Host.Frame() + d); err != nil {
		return err
	}
	repl.printf("frame %d\n", repl.Host.Frame())
	return nil
}

func (repl *REPL) CommandCursor(args []string) error {
	n, err := ints(args, HelpCursor)
	if err != nil || len(n) != 2 {
		return HelpCursor
	}
	return repl.Host.SetCursor(n[0], n[1])
}

func (repl *REPL) CommandFix(args []string) error {
	if len(args) == 0 {
		return repl.Host.Fix()
	}
	n, err := ints(args, HelpFix)
	if err != nil || len(n) != 3 {
		return HelpFix
	}
	return repl.Host.FixAt(n[0], n[1], n[2])
}

func (repl *REPL) CommandStatus(args []string) error {
	st := repl.Host.Status()
	for _, s := range []stage.Status{st.Video, st.Projector, st.Index, st.Trace} {
		repl.printf("%-10s %-9s gen %d %s", s.Name, s.State, s.Generation, s.Key)
		if s.Err != nil {
			repl.printf(" (%v)", s.Err)
		}
		repl.printf("\n")
	}
	if st.Frames > 0 {
		repl.printf("frame %d/%d, %d indexed, %d anchors\n", st.Frame, st.Frames, st.Indexed, st.Anchors)
	}
	return nil
}

func (repl *REPL) CommandStrip(args []string) error {
	states := repl.Host.FrameStates()
	const width = 100
	for i := 0; i < len(states); i += width {
		end := min(len(states), i+width)
		repl.printf("%6d %s\n", i, zootracer.Strip(states[i:end]))
	}
	return nil
}

func (repl *REPL) CommandPoint(args []string) error {
	f := repl.Host.Frame()
	if len(args) > 0 {
		n, err := ints(args, HelpPoint)
		if err != nil || len(n) != 1 {
			return HelpPoint
		}
		f = n[0]
	}
	pt, ok := repl.Host.TracePoint(f)
	if !ok {
		repl.printf("frame %d: not located\n", f)
		return nil
	}
	repl.printf("frame %d: %d,%d\n", f, pt.X, pt.Y)
	return nil
}

func (repl *REPL) CommandMatches(args []string) error {
	n, err := ints(args, HelpMatches)
	if err != nil || len(n) > 2 {
		return HelpMatches
	}
	k := repl.Host.Settings().MatchesPerKeyframe
	if len(n) > 0 {
		k = n[0]
	}
	var ms []index.Match
	if len(n) == 2 {
		ms, err = repl.Host.AnchorMatches(n[1], k)
	} else {
		ms, err = repl.Host.Matches(k)
	}
	if err != nil {
		return err
	}
	for i, m := range ms {
		repl.printf("%3d %4d,%-4d %.4g\n", i, m.X, m.Y, m.Distance)
	}
	return nil
}

func (repl *REPL) CommandAnchors(args []string) error {
	anchors := repl.Host.Anchors()
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Frame < anchors[j].Frame })
	for i, a := range anchors {
		repl.printf("%3d frame %d at %d,%d\n", i, a.Frame, a.Position.X, a.Position.Y)
	}
	return nil
}

func (repl *REPL) CommandLog(args []string) error {
	lines := repl.Host.Console()
	if len(args) > 0 {
		n, err := ints(args, HelpLog)
		if err != nil || len(n) != 1 {
			return HelpLog
		}
		lines = lines[max(0, len(lines)-n[0]):]
	}
	for _, l := range lines {
		repl.printf("%s\n", l)
	}
	return nil
}

var roles = map[zootracer.Role]string{
	zootracer.RoleCursor: "cursor",
	zootracer.RoleMatch:  "match",
	zootracer.RoleTrace:  "trace",
}

// CommandOverlay lists the shapes drawn over the current frame, in video
// pixels or fitted to a width×height display.
func (repl *REPL) CommandOverlay(args []string) error {
	n, err := ints(args, HelpOverlay)
	if err != nil || (len(n) != 0 && len(n) != 2) {
		return HelpOverlay
	}
	v := zootracer.Viewport{Scale: 1}
	if len(n) == 2 {
		info := repl.Host.Status().Info
		v = zootracer.FitViewport(info.Width, info.Height, float64(n[0]), float64(n[1]))
	}
	for _, it := range repl.Host.Overlay(v) {
		switch it.Shape {
		case zootracer.ShapeRect:
			repl.printf("%-6s rect %.1f,%.1f %.1fx%.1f\n", roles[it.Role], it.Min.X, it.Min.Y, it.Size.X, it.Size.Y)
		case zootracer.ShapePath:
			repl.printf("%-6s path %d points\n", roles[it.Role], len(it.Points))
		}
	}
	return nil
}
