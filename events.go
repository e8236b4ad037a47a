package zootracer

import (
	"sync"

	"github.com/google/uuid"
	"github.com/microsoft/ZooTracer/stage"
	"github.com/microsoft/ZooTracer/trace"
)

type EventKind int

const (
	StageChanged EventKind = iota
	IndexProgress
	TraceUpdated
	FrameStatesChanged
	ConsoleLine
	AnchorsChanged
)

func (k EventKind) String() string {
	switch k {
	case StageChanged:
		return "stage"
	case IndexProgress:
		return "index-progress"
	case TraceUpdated:
		return "trace"
	case FrameStatesChanged:
		return "frames"
	case ConsoleLine:
		return "console"
	case AnchorsChanged:
		return "anchors"
	}
	return "unknown"
}

// Event is delivered to subscribers. Only the fields of its Kind are set.
type Event struct {
	Kind     EventKind
	Stage    stage.Status
	Frame    int
	Complete int
	Line     string
	Anchor   *trace.AnchorChange
}

// Subscribe registers fn for every event. fn runs on the coordinator
// goroutine; it must not block and must not call back into the Tracer.
// The returned function unsubscribes.
func (t *Tracer) Subscribe(fn func(Event)) func() {
	id := uuid.New()
	t.subscribers.Store(id, fn)
	return func() { t.subscribers.Delete(id) }
}

func (t *Tracer) emit(e Event) {
	t.subscribers.Range(func(_ uuid.UUID, fn func(Event)) bool {
		fn(e)
		return true
	})
}

// Console keeps the last lines shown to the user.
type Console struct {
	lock  sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewConsole(size int) *Console {
	return &Console{lines: make([]string, max(1, size))}
}

func (c *Console) Add(line string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lines[c.next] = line
	c.next = (c.next + 1) % len(c.lines)
	if c.next == 0 {
		c.full = true
	}
}

// Lines returns the kept lines, oldest first.
func (c *Console) Lines() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.full {
		return append([]string(nil), c.lines[:c.next]...)
	}
	out := make([]string, 0, len(c.lines))
	out = append(out, c.lines[c.next:]...)
	return append(out, c.lines[:c.next]...)
}

// say puts a line on the console. It runs on the coordinator.
func (t *Tracer) say(line string) {
	t.console.Add(line)
	t.emit(Event{Kind: ConsoleLine, Line: line})
}

// sayFrom returns a line sink usable from any goroutine.
func (t *Tracer) sayFrom(prefix string) func(string) {
	return func(line string) {
		t.post(func() { t.say(prefix + line) })
	}
}
