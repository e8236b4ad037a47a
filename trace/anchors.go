package trace

import "sort"

// Point is the top-left corner of a patch.
type Point struct {
	X int
	Y int
}

// Anchor is a user-fixed position. Descriptor and Image belong to the patch
// at Position and are never modified once the anchor is stored.
type Anchor struct {
	Frame      int
	Position   Point
	Descriptor []float32
	Image      []uint8
}

type ChangeKind int

const (
	Inserted ChangeKind = iota
	Replaced
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Removed:
		return "removed"
	}
	return "unknown"
}

type AnchorChange struct {
	Kind   ChangeKind
	Index  int
	Anchor Anchor
}

// AnchorList keeps anchors sorted by frame, at most one per frame, and tells
// observers about every insertion, replacement and removal.
type AnchorList struct {
	items     []Anchor
	observers map[int]func(AnchorChange)
	nextID    int
}

func NewAnchorList() *AnchorList {
	return &AnchorList{observers: make(map[int]func(AnchorChange))}
}

// Observe registers fn and returns a function that unregisters it.
func (l *AnchorList) Observe(fn func(AnchorChange)) func() {
	id := l.nextID
	l.nextID++
	l.observers[id] = fn
	return func() { delete(l.observers, id) }
}

func (l *AnchorList) notify(c AnchorChange) {
	for _, fn := range l.observers {
		fn(c)
	}
}

func (l *AnchorList) Len() int {
	return len(l.items)
}

func (l *AnchorList) At(i int) Anchor {
	return l.items[i]
}

// Find returns the position of frame's anchor, or where it would be inserted.
func (l *AnchorList) Find(frame int) (int, bool) {
	i := sort.Search(len(l.items), func(i int) bool { return l.items[i].Frame >= frame })
	return i, i < len(l.items) && l.items[i].Frame == frame
}

func (l *AnchorList) Get(frame int) (Anchor, bool) {
	i, ok := l.Find(frame)
	if !ok {
		return Anchor{}, false
	}
	return l.items[i], true
}

// Set inserts a, replacing the anchor already at a.Frame.
func (l *AnchorList) Set(a Anchor) {
	i, ok := l.Find(a.Frame)
	if ok {
		l.items[i] = a
		l.notify(AnchorChange{Kind: Replaced, Index: i, Anchor: a})
		return
	}
	l.items = append(l.items, Anchor{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = a
	l.notify(AnchorChange{Kind: Inserted, Index: i, Anchor: a})
}

func (l *AnchorList) Remove(frame int) bool {
	i, ok := l.Find(frame)
	if !ok {
		return false
	}
	a := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.notify(AnchorChange{Kind: Removed, Index: i, Anchor: a})
	return true
}

func (l *AnchorList) Clear() {
	for len(l.items) > 0 {
		l.Remove(l.items[len(l.items)-1].Frame)
	}
}

// All returns a copy of the anchors in frame order.
func (l *AnchorList) All() []Anchor {
	return append([]Anchor(nil), l.items...)
}
