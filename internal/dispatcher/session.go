// Package dispatcher owns the session table and the per-batch dispatch
// loop: decode a batch, reserve a tag and a queue-depth slot per frame,
// run the state-machine handler, and emit responses in input order. An
// out-of-band control plane bridges into the data-plane loop via a
// drained event queue.
package dispatcher

import (
	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/model"
	"github.com/cohesix/ninedoor/internal/namespace"
	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/session"
)

// AuthState is a derived session-state enum for introspection (tests,
// observability); dispatch logic itself gates on the plain booleans
// below rather than this derived enum, since a Failed value is
// informational and never blocks a subsequent well-formed request.
type AuthState int

const (
	StateStart AuthState = iota
	StateVersionNegotiated
	StateAttached
	StateFailed
)

func (s AuthState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateVersionNegotiated:
		return "version-negotiated"
	case StateAttached:
		return "attached"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FidState binds a session-local fid to a namespace location and its
// open mode, per the Data Model's `fid: (view_path, canonical_path,
// qid, open_mode?)`.
type FidState struct {
	ViewPath      string
	CanonicalPath string
	Qid           proto.Qid
	OpenMode      *proto.OpenMode
}

// Session is the per-connection dispatch state. It is never accessed
// concurrently with itself: the server mutex serializes every Dispatch
// call across the whole session table, so no dedicated goroutine per
// session is needed.
type Session struct {
	id uint64

	msize uint32

	versionNegotiated  bool
	attached           bool
	lastOpFailed       bool
	firstRequestLogged bool

	role     model.Role
	workerID string
	gpuScope string

	fids map[uint32]*FidState

	budgetState *budget.State
	mountTable  *namespace.MountTable

	tagWindow  *session.TagWindow
	queueDepth *session.QueueDepth
}

// ID returns the session's opaque monotonic identifier.
func (s *Session) ID() uint64 { return s.id }

// AuthState computes the introspectable state-machine position.
func (s *Session) AuthState() AuthState {
	switch {
	case s.lastOpFailed:
		return StateFailed
	case s.attached:
		return StateAttached
	case s.versionNegotiated:
		return StateVersionNegotiated
	default:
		return StateStart
	}
}

// Attached reports whether the session has completed a successful Attach.
func (s *Session) Attached() bool { return s.attached }

// Role returns the session's bound role (meaningful only once Attached).
func (s *Session) Role() model.Role { return s.role }

// WorkerID returns the session's bound worker identity, empty for queen
// sessions.
func (s *Session) WorkerID() string { return s.workerID }

// Msize returns the negotiated message size, 0 before negotiation.
func (s *Session) Msize() uint32 { return s.msize }
