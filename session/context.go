// Package session persists the mapping from FIX composite identity to
// internal session ids in a sector-checksummed memory-mapped file, and
// tracks which session ids are currently authenticated.
package session

import (
	"errors"
	"math"

	"fixlog/infra/sector"
)

const (
	// LowestValidSessionID is the first id ever assigned.
	LowestValidSessionID = int64(1)

	// UnknownSessionID is returned for composite keys never seen.
	UnknownSessionID = int64(-1)

	// UnknownSequenceIndex marks a context before its first reset epoch
	// is known.
	UnknownSequenceIndex = int32(-1)

	// NoLogonTime marks a context that has never completed a logon.
	NoLogonTime = int64(math.MinInt64)
)

var (
	// ErrDuplicateSession reports a logon for a session id that is
	// already authenticated.
	ErrDuplicateSession = errors.New("session: already authenticated")

	// ErrSessionsStillAuthenticated prevents a reset while sessions are
	// live. This is a programmer error, not an operational condition.
	ErrSessionsStillAuthenticated = errors.New("session: sessions still authenticated")
)

// Context is the internal identity of one FIX session. FilePosition is
// the byte offset of its mutable fields in the contexts file, or
// sector.OutOfSpace when the record could not be persisted; such a
// context still runs but is non-durable.
type Context struct {
	SessionID     int64
	SequenceIndex int32
	LogonTime     int64
	FilePosition  int
}

// Persisted reports whether the context has a durable record.
func (c *Context) Persisted() bool {
	return c.FilePosition != sector.OutOfSpace
}
