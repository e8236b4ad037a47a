// Provides common zootracer errors definitions.
package zt_errors

import "errors"

var (
	ErrNotFound    = errors.New("zootracer: not found")
	ErrUnreadable  = errors.New("zootracer: unreadable or unsupported data")
	ErrBuildFailed = errors.New("zootracer: build failed")
	ErrCancelled   = errors.New("zootracer: cancelled")
	ErrFormat      = errors.New("zootracer: malformed trace file")

	ErrNoVideo    = errors.New("zootracer: no video open")
	ErrNoIndex    = errors.New("zootracer: index is not available")
	ErrBadFrame   = errors.New("zootracer: frame out of range")
	ErrBadValue   = errors.New("zootracer: invalid setting value")
	ErrUnknownKey = errors.New("zootracer: unknown setting")
	ErrClosed     = errors.New("zootracer: tracer is closed")
	ErrNoCursor   = errors.New("zootracer: no patch selected")
)
