package controlplane

import (
	"testing"

	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/namespace"
	"github.com/cohesix/ninedoor/internal/protoerr"
	"github.com/cohesix/ninedoor/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController() (*Controller, *namespace.Tree) {
	sink := trace.NewSink(trace.DefaultOptions())
	tree := namespace.New(namespace.Options{TraceSink: sink})
	tree.InstallGpuNode("gpu0", []byte("nvidia"))
	ctl := New(tree, sink, budget.Unbounded())
	ctl.RegisterGpuNode("gpu0")
	return ctl, tree
}

func ticks(n uint64) *uint64 { return &n }

func TestSpawnHeartbeatOverridesOnlyGivenAxes(t *testing.T) {
	ctl, tree := newTestController()
	ctl.defaultBudget = budget.Spec{Ticks: ticks(10), Ops: ticks(20), TTLS: ticks(30)}

	err := ctl.Process([]byte(`{"spawn":"heartbeat","ticks":3}`), nil)
	require.NoError(t, err)

	record, ok := ctl.Worker("worker-1")
	require.True(t, ok)
	require.NotNil(t, record.Budget.Ticks)
	assert.Equal(t, uint64(3), *record.Budget.Ticks)
	require.NotNil(t, record.Budget.Ops)
	assert.Equal(t, uint64(20), *record.Budget.Ops)
	require.NotNil(t, record.Budget.TTLS)
	assert.Equal(t, uint64(30), *record.Budget.TTLS)

	_, err = tree.Lookup([]string{"worker", "worker-1", "telemetry"})
	require.NoError(t, err)
}

func TestSpawnHeartbeatBudgetOverrideField(t *testing.T) {
	ctl, _ := newTestController()
	ctl.defaultBudget = budget.Spec{Ticks: ticks(10), Ops: ticks(20), TTLS: ticks(30)}

	err := ctl.Process([]byte(`{"spawn":"heartbeat","budget":{"ttl_s":5}}`), nil)
	require.NoError(t, err)

	record, ok := ctl.Worker("worker-1")
	require.True(t, ok)
	require.NotNil(t, record.Budget.TTLS)
	assert.Equal(t, uint64(5), *record.Budget.TTLS)
	require.NotNil(t, record.Budget.Ops)
	assert.Equal(t, uint64(20), *record.Budget.Ops)
}

func TestSpawnGpuLeaseLifecycle(t *testing.T) {
	ctl, tree := newTestController()

	err := ctl.Process([]byte(`{"spawn":"gpu","lease":{"gpu_id":"gpu0","mem_mb":512,"streams":2,"ttl_s":60}}`), nil)
	require.NoError(t, err)

	_, busy := ctl.activeLeases["gpu0"]
	assert.True(t, busy)

	ctlFile, err := tree.GpuCtl("gpu0")
	require.NoError(t, err)
	data, err := ctlFile.ReadAt(0, 1024)
	require.NoError(t, err)
	assert.Contains(t, string(data), "LEASE worker-1 mem=512 streams=2")

	err = ctl.Process([]byte(`{"spawn":"gpu","lease":{"gpu_id":"gpu0","mem_mb":512,"streams":1,"ttl_s":60}}`), nil)
	require.Error(t, err)
	assert.True(t, protoerr.IsCode(err, protoerr.CodeBusy))

	err = ctl.Process([]byte(`{"kill":"worker-1"}`), nil)
	require.NoError(t, err)

	_, busy = ctl.activeLeases["gpu0"]
	assert.False(t, busy)

	statusFile, err := tree.GpuStatus("gpu0")
	require.NoError(t, err)
	data, err = statusFile.ReadAt(0, 1024)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker-1 LEASE-ENDED killed by queen")

	log := string(tree.QueenLog().Snapshot())
	assert.Contains(t, log, "killed worker-1")
	assert.Contains(t, log, "revoked worker-1: killed by queen")

	revocations := ctl.DrainRevocations()
	require.Len(t, revocations, 1)
	assert.Equal(t, "worker-1", revocations[0].WorkerID)
	assert.Equal(t, "killed by queen", revocations[0].Reason)
}

func TestSpawnGpuUnregisteredNode(t *testing.T) {
	ctl, _ := newTestController()
	err := ctl.Process([]byte(`{"spawn":"gpu","lease":{"gpu_id":"missing","mem_mb":1,"streams":1,"ttl_s":1}}`), nil)
	require.Error(t, err)
	assert.True(t, protoerr.IsCode(err, protoerr.CodeNotFound))
}

func TestKillUnknownWorker(t *testing.T) {
	ctl, _ := newTestController()
	err := ctl.Process([]byte(`{"kill":"worker-404"}`), nil)
	require.Error(t, err)
	assert.True(t, protoerr.IsCode(err, protoerr.CodeNotFound))
}

func TestUpdateDefaultBudget(t *testing.T) {
	ctl, _ := newTestController()
	err := ctl.Process([]byte(`{"budget":{"ttl_s":42,"ops":7}}`), nil)
	require.NoError(t, err)
	require.NotNil(t, ctl.defaultBudget.TTLS)
	assert.Equal(t, uint64(42), *ctl.defaultBudget.TTLS)
	require.NotNil(t, ctl.defaultBudget.Ops)
	assert.Equal(t, uint64(7), *ctl.defaultBudget.Ops)
}

func TestBindAndMountCommands(t *testing.T) {
	ctl, _ := newTestController()
	ctl.RegisterService("models", "/models/1")

	table := namespace.NewMountTable()

	err := ctl.Process([]byte(`{"bind":{"from":"/host/data","to":"/data"}}`), table)
	require.NoError(t, err)
	assert.Equal(t, "/data/x", table.Resolve("/host/data/x"))

	err = ctl.Process([]byte(`{"mount":{"service":"models","at":"/models/current"}}`), table)
	require.NoError(t, err)
	assert.Equal(t, "/models/1/weights", table.Resolve("/models/current/weights"))

	err = ctl.Process([]byte(`{"mount":{"service":"unknown","at":"/x"}}`), table)
	require.Error(t, err)
	assert.True(t, protoerr.IsCode(err, protoerr.CodeNotFound))
}

func TestProcessContinuesAfterMalformedLine(t *testing.T) {
	ctl, _ := newTestController()
	payload := "not json\n{\"spawn\":\"heartbeat\"}\n"
	err := ctl.Process([]byte(payload), nil)
	require.Error(t, err)

	_, ok := ctl.Worker("worker-1")
	assert.True(t, ok, "second line should still have been applied")
}

func TestRevokeWorkerBudgetReleasesGpuLease(t *testing.T) {
	ctl, tree := newTestController()
	require.NoError(t, ctl.Process([]byte(`{"spawn":"gpu","lease":{"gpu_id":"gpu0","mem_mb":1,"streams":1,"ttl_s":1}}`), nil))

	ctl.RevokeWorkerBudget("worker-1", "ticks exhausted")

	_, busy := ctl.activeLeases["gpu0"]
	assert.False(t, busy)

	statusFile, err := tree.GpuStatus("gpu0")
	require.NoError(t, err)
	data, err := statusFile.ReadAt(0, 1024)
	require.NoError(t, err)
	assert.Contains(t, string(data), "LEASE-ENDED ticks exhausted")

	revocations := ctl.DrainRevocations()
	require.Len(t, revocations, 1)
	assert.Equal(t, "ticks exhausted", revocations[0].Reason)
}
