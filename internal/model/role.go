// Package model holds the cross-cutting data-model types shared between
// the dispatcher, ticket, access-policy, and control-plane packages so
// none of them needs to depend on the root ninedoor package (which in
// turn assembles all of them), split out purely to avoid import cycles
// between the main package and its internal collaborators.
package model

import (
	"fmt"

	"github.com/cohesix/ninedoor/internal/budget"
)

// Role is the tagged role variant. Printed labels are fixed strings; the
// wire attach identity uses the label optionally suffixed ":"<identity>.
type Role int

const (
	RoleQueen Role = iota
	RoleWorkerHeartbeat
	RoleWorkerGpu
)

func (r Role) String() string {
	switch r {
	case RoleQueen:
		return "queen"
	case RoleWorkerHeartbeat:
		return "worker-heartbeat"
	case RoleWorkerGpu:
		return "worker-gpu"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole parses the label portion of an attach uname (before any
// ":"<identity> suffix).
func ParseRole(label string) (Role, bool) {
	switch label {
	case "queen":
		return RoleQueen, true
	case "worker-heartbeat":
		return RoleWorkerHeartbeat, true
	case "worker-gpu":
		return RoleWorkerGpu, true
	default:
		return 0, false
	}
}

// IsWorker reports whether the role is one of the sandboxed worker
// roles (as opposed to the privileged queen).
func (r Role) IsWorker() bool {
	return r == RoleWorkerHeartbeat || r == RoleWorkerGpu
}

// WorkerKind distinguishes the two worker record kinds tracked by the
// control plane.
type WorkerKind int

const (
	KindHeartbeat WorkerKind = iota
	KindGpu
)

// GpuLease describes an active GPU lease held by a worker of Gpu kind.
type GpuLease struct {
	GpuID    string
	MemMB    int
	Streams  int
	TTLS     uint64
	Priority int
	Owner    string // worker id
}

// WorkerRecord is the control plane's server-owned bookkeeping entry
// for one spawned worker. Lease is non-nil only for Kind == KindGpu.
type WorkerRecord struct {
	ID     string
	Kind   WorkerKind
	Budget budget.Spec
	Lease  *GpuLease
}
