package ticket

import (
	"fmt"

	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/model"
)

// Resolved is the outcome of a successful verification: the identity to
// bind the session to and the final, clamped budget.
type Resolved struct {
	Identity string
	Budget   budget.Spec
}

// VerifyWorker enforces the worker-attach contract: the ticket must
// decode under the role's key, its role must match wantRole, it must
// supply a non-empty subject equal to the attach identity (or become
// the identity if none was supplied at attach time), and its budget is
// clamped against the registered worker record's budget.
//
// registeredBudget is nil when the caller has no worker record to clamp
// against; in that case the ticket's own budget is used unclamped.
func VerifyWorker(store *KeyStore, wantRole model.Role, raw []byte, attachIdentity string, registeredBudget *budget.Spec) (Resolved, error) {
	if len(raw) == 0 {
		return Resolved{}, fmt.Errorf("ticket required for worker attach")
	}
	claims, err := Decode(store, wantRole, raw)
	if err != nil {
		return Resolved{}, err
	}
	if claims.Role != wantRole {
		return Resolved{}, fmt.Errorf("ticket role %s does not match requested role %s", claims.Role, wantRole)
	}

	identity := claims.Subject
	if identity == "" {
		return Resolved{}, fmt.Errorf("worker ticket requires a non-empty subject")
	}
	if attachIdentity != "" && identity != attachIdentity {
		return Resolved{}, fmt.Errorf("ticket subject %q does not match attach identity %q", identity, attachIdentity)
	}

	spec := claims.Budget
	if registeredBudget != nil {
		spec = budget.Min(spec, *registeredBudget)
	}

	return Resolved{Identity: identity, Budget: spec}, nil
}

// VerifyQueen handles the optional queen ticket: absent is always
// fine; present, it is decoded as unverified metadata supplying a
// budget override (no subject/role cross-check, since the queen role
// is intrinsically privileged regardless of ticket content).
func VerifyQueen(store *KeyStore, raw []byte) (budget.Spec, error) {
	if len(raw) == 0 {
		return budget.Unbounded(), nil
	}
	claims, err := Decode(store, model.RoleQueen, raw)
	if err != nil {
		return budget.Spec{}, err
	}
	return claims.Budget, nil
}
