// Package repl is the interactive console of the tracer.
package repl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"
	zootracer "github.com/microsoft/ZooTracer"
	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/index"
	"github.com/microsoft/ZooTracer/trace"
)

// Host is what the console drives; *zootracer.Tracer implements it.
type Host interface {
	Open(path string) error
	Set(key, value string) error
	Settings() config.Settings
	SetFrame(f int) error
	Frame() int
	SetCursor(x, y int) error
	Fix() error
	FixAt(frame, x, y int) error
	Occlude() error
	Auto() error
	ClearAll() error
	StartHere() error
	StopHere() error
	Status() zootracer.Status
	FrameStates() []zootracer.FrameVisualState
	TracePoint(f int) (trace.Point, bool)
	Matches(k int) ([]index.Match, error)
	AnchorMatches(i, k int) ([]index.Match, error)
	Anchors() []trace.Anchor
	Overlay(v zootracer.Viewport) []zootracer.OverlayItem
	SaveTrace(path string) error
	LoadTrace(path string) error
	Console() []string
}

var _ Host = (*zootracer.Tracer)(nil)

// REPL per se.
type REPL struct {
	Host        Host
	Out         io.Writer
	HistoryFile string
	rl          *readline.Instance
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("load"),
	readline.PcItem("save"),

	readline.PcItem("set", settingItems()...),
	readline.PcItem("get", settingItems()...),

	readline.PcItem("frame"),
	readline.PcItem("next"),
	readline.PcItem("prev"),
	readline.PcItem("cursor"),
	readline.PcItem("fix"),
	readline.PcItem("occlude"),
	readline.PcItem("auto"),
	readline.PcItem("clearall"),
	readline.PcItem("starthere"),
	readline.PcItem("stophere"),

	readline.PcItem("status"),
	readline.PcItem("strip"),
	readline.PcItem("point"),
	readline.PcItem("matches"),
	readline.PcItem("anchors"),
	readline.PcItem("overlay"),
	readline.PcItem("log"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func settingItems() []*readline.PrefixCompleter {
	var items []*readline.PrefixCompleter
	for _, key := range config.Keys() {
		items = append(items, readline.PcItem(key))
	}
	return items
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	if repl.HistoryFile == "" {
		repl.HistoryFile = ".zootracer_cmd_log.txt"
	}
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◎ ",
		HistoryFile:     repl.HistoryFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

func (repl *REPL) out() io.Writer {
	if repl.Out == nil {
		return os.Stdout
	}
	return repl.Out
}

func (repl *REPL) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(repl.out(), format, args...)
}

// REPL reads and runs one line. It returns io.EOF on exit.
func (repl *REPL) REPL() error {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}
	return repl.Execute(line)
}

// Run reads lines until exit or end of input, printing command errors.
func (repl *REPL) Run() error {
	for {
		err := repl.REPL()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, readline.ErrInterrupt):
			return nil
		default:
			repl.printf("%s\n", err.Error())
		}
	}
}

// Execute runs one command line.
func (repl *REPL) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		return repl.CommandHelp(args)
	case "exit", "quit":
		return io.EOF
	case "open":
		return repl.CommandOpen(args)
	case "load":
		return repl.CommandLoad(args)
	case "save":
		return repl.CommandSave(args)
	case "set":
		return repl.CommandSet(args)
	case "get":
		return repl.CommandGet(args)
	case "frame":
		return repl.CommandFrame(args)
	case "next":
		return repl.step(+1)
	case "prev":
		return repl.step(-1)
	case "cursor":
		return repl.CommandCursor(args)
	case "fix":
		return repl.CommandFix(args)
	case "occlude":
		return repl.Host.Occlude()
	case "auto":
		return repl.Host.Auto()
	case "clearall":
		return repl.Host.ClearAll()
	case "starthere":
		return repl.Host.StartHere()
	case "stophere":
		return repl.Host.StopHere()
	case "status":
		return repl.CommandStatus(args)
	case "strip":
		return repl.CommandStrip(args)
	case "point":
		return repl.CommandPoint(args)
	case "matches":
		return repl.CommandMatches(args)
	case "anchors":
		return repl.CommandAnchors(args)
	case "overlay":
		return repl.CommandOverlay(args)
	case "log":
		return repl.CommandLog(args)
	}
	return fmt.Errorf("command unknown: %s", cmd)
}
