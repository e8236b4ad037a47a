package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/microsoft/ZooTracer/utils"
	"github.com/vmihailenco/msgpack/v5"
)

var WriteOptions = pebble.WriteOptions{Sync: false}

// Store persists built frame trees so reopening a video skips recomputing
// them. Keys are 'F', step and frame, big-endian.
type Store struct {
	db  *pebble.DB
	dir string
}

func OpenStore(dir string, log utils.Logger) (*Store, error) {
	opts := pebble.Options{}
	if log != nil {
		opts.Logger = pebbleLogger{log}
	}
	db, err := pebble.Open(dir, &opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dir: dir}, nil
}

func frameKey(step, frame int) []byte {
	key := []byte{'F'}
	key = binary.BigEndian.AppendUint32(key, uint32(step))
	key = binary.BigEndian.AppendUint32(key, uint32(frame))
	return key
}

// Get returns nil without error when the frame was never stored.
func (s *Store) Get(step, frame int) (*frameTree, error) {
	val, closer, err := s.db.Get(frameKey(step, frame))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	t := &frameTree{}
	if err := msgpack.Unmarshal(val, t); err != nil {
		return nil, fmt.Errorf("frame %d: %w", frame, err)
	}
	return t, nil
}

func (s *Store) Put(step, frame int, t *frameTree) error {
	val, err := msgpack.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Set(frameKey(step, frame), val, &WriteOptions)
}

// Drop removes every frame stored for step.
func (s *Store) Drop(step int) error {
	return s.db.DeleteRange(frameKey(step, 0), frameKey(step+1, 0), &WriteOptions)
}

func (s *Store) DB() *pebble.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// pebbleLogger routes pebble's own messages into the zootracer log.
type pebbleLogger struct {
	log utils.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debug("pebble: " + fmt.Sprintf(format, args...))
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.log.Error("pebble: " + fmt.Sprintf(format, args...))
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log.Error("pebble: " + msg)
	panic(msg)
}
