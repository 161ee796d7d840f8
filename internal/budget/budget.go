// Package budget implements the per-session residual counters for
// operation count, telemetry tick count, and wall-clock TTL, plus the
// ticket/worker-record clamping rule: a small struct of residual
// counters checked before dispatch, on axes that only ever decrease and
// latch a revoked reason once tripped.
package budget

import "time"

// Spec is a budget declaration: nil means unbounded on that axis.
type Spec struct {
	Ticks *uint64
	Ops   *uint64
	TTLS  *uint64
}

func u64p(v uint64) *uint64 { return &v }

// Unbounded returns a Spec with every axis unbounded.
func Unbounded() Spec { return Spec{} }

// Min reconciles two specs by taking the pointwise minimum across each
// axis, treating a nil axis as +∞. Used when a ticket's budget override
// is clamped against a registered worker record's budget.
func Min(a, b Spec) Spec {
	return Spec{
		Ticks: minAxis(a.Ticks, b.Ticks),
		Ops:   minAxis(a.Ops, b.Ops),
		TTLS:  minAxis(a.TTLS, b.TTLS),
	}
}

func minAxis(a, b *uint64) *uint64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a < *b:
		return u64p(*a)
	default:
		return u64p(*b)
	}
}

// State tracks the residual counters for one session, plus the latched
// revocation reason. Once RevokedReason is non-empty it never clears.
type State struct {
	ticksRemaining *uint64
	opsRemaining   *uint64
	deadline       *time.Time
	revokedReason  string
}

// NewState derives a fresh budget state from a spec, anchoring the TTL
// deadline at now.
func NewState(spec Spec, now time.Time) *State {
	s := &State{}
	if spec.Ticks != nil {
		v := *spec.Ticks
		s.ticksRemaining = &v
	}
	if spec.Ops != nil {
		v := *spec.Ops
		s.opsRemaining = &v
	}
	if spec.TTLS != nil {
		d := now.Add(time.Duration(*spec.TTLS) * time.Second)
		s.deadline = &d
	}
	return s
}

// Verdict is the result of a pre-dispatch budget hook.
type Verdict int

const (
	Active Verdict = iota
	Revoked
)

// RevokedReason returns the latched reason, or "" if never revoked.
func (s *State) RevokedReason() string { return s.revokedReason }

func (s *State) revoke(reason string) Verdict {
	if s.revokedReason == "" {
		s.revokedReason = reason
	}
	return Revoked
}

// Check returns Revoked if the TTL deadline has been reached.
func (s *State) Check(now time.Time) Verdict {
	if s.revokedReason != "" {
		return Revoked
	}
	if s.deadline != nil && !now.Before(*s.deadline) {
		return s.revoke("ttl deadline exceeded")
	}
	return Active
}

// ConsumeOp decrements the ops axis, revoking on exhaustion.
func (s *State) ConsumeOp() Verdict {
	if s.revokedReason != "" {
		return Revoked
	}
	if s.opsRemaining == nil {
		return Active
	}
	if *s.opsRemaining == 0 {
		return s.revoke("op budget exhausted")
	}
	// the operation that drains the budget to zero still succeeds; the
	// next request observes exhaustion via the guard above.
	*s.opsRemaining--
	return Active
}

// ConsumeTick decrements the ticks axis; called only before telemetry
// writes. Exhaustion revokes with "tick budget exhausted".
func (s *State) ConsumeTick() Verdict {
	if s.revokedReason != "" {
		return Revoked
	}
	if s.ticksRemaining == nil {
		return Active
	}
	if *s.ticksRemaining == 0 {
		return s.revoke("tick budget exhausted")
	}
	*s.ticksRemaining--
	return Active
}

// Revoke latches an explicit external revocation reason (e.g. queen
// kill, ticket revoke propagation).
func (s *State) Revoke(reason string) {
	s.revoke(reason)
}

// TicksRemaining reports the residual tick count, or nil if unbounded.
func (s *State) TicksRemaining() *uint64 { return s.ticksRemaining }

// OpsRemaining reports the residual op count, or nil if unbounded.
func (s *State) OpsRemaining() *uint64 { return s.opsRemaining }
