package ticket

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/model"
)

func TestSignDecodeRoundTrip(t *testing.T) {
	store := NewKeyStore()
	store.Register(model.RoleWorkerHeartbeat, []byte("secret"))

	ticks := uint64(3)
	raw, err := Sign(store, model.RoleWorkerHeartbeat, "worker-1", budget.Spec{Ticks: &ticks})
	require.NoError(t, err)

	claims, err := Decode(store, model.RoleWorkerHeartbeat, raw)
	require.NoError(t, err)
	require.Equal(t, model.RoleWorkerHeartbeat, claims.Role)
	require.Equal(t, "worker-1", claims.Subject)
	require.Equal(t, uint64(3), *claims.Budget.Ticks)
}

func TestVerifyWorkerMissingTicket(t *testing.T) {
	store := NewKeyStore()
	store.Register(model.RoleWorkerHeartbeat, []byte("secret"))

	_, err := VerifyWorker(store, model.RoleWorkerHeartbeat, nil, "", nil)
	require.Error(t, err)
}

func TestVerifyWorkerEmptySubjectRejected(t *testing.T) {
	store := NewKeyStore()
	store.Register(model.RoleWorkerHeartbeat, []byte("secret"))
	raw, err := Sign(store, model.RoleWorkerHeartbeat, "", budget.Unbounded())
	require.NoError(t, err)

	_, err = VerifyWorker(store, model.RoleWorkerHeartbeat, raw, "worker-1", nil)
	require.Error(t, err)
}

func TestVerifyWorkerIdentityBinding(t *testing.T) {
	store := NewKeyStore()
	store.Register(model.RoleWorkerHeartbeat, []byte("secret"))
	raw, err := Sign(store, model.RoleWorkerHeartbeat, "worker-1", budget.Unbounded())
	require.NoError(t, err)

	resolved, err := VerifyWorker(store, model.RoleWorkerHeartbeat, raw, "", nil)
	require.NoError(t, err)
	require.Equal(t, "worker-1", resolved.Identity)

	_, err = VerifyWorker(store, model.RoleWorkerHeartbeat, raw, "worker-2", nil)
	require.Error(t, err)
}

func TestVerifyWorkerBudgetClamp(t *testing.T) {
	store := NewKeyStore()
	store.Register(model.RoleWorkerHeartbeat, []byte("secret"))
	ticketTicks := uint64(10)
	raw, err := Sign(store, model.RoleWorkerHeartbeat, "worker-1", budget.Spec{Ticks: &ticketTicks})
	require.NoError(t, err)

	recordTicks := uint64(2)
	record := budget.Spec{Ticks: &recordTicks}
	resolved, err := VerifyWorker(store, model.RoleWorkerHeartbeat, raw, "worker-1", &record)
	require.NoError(t, err)
	require.Equal(t, uint64(2), *resolved.Budget.Ticks)
}

func TestVerifyQueenOptional(t *testing.T) {
	store := NewKeyStore()
	spec, err := VerifyQueen(store, nil)
	require.NoError(t, err)
	require.Nil(t, spec.Ops)
}
