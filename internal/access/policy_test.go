package access

import (
	"testing"

	"github.com/cohesix/ninedoor/internal/model"
	"github.com/cohesix/ninedoor/internal/protoerr"
	"github.com/stretchr/testify/assert"
)

func TestQueenAlwaysAllowed(t *testing.T) {
	assert.NoError(t, Check(model.RoleQueen, "", "", "/queen/ctl", Read|Write))
	assert.NoError(t, Check(model.RoleQueen, "", "", "/host/etc/passwd", Write))
	assert.NoError(t, Check(model.RoleQueen, "", "", "/gpu/0/job", Write))
}

func TestHostMountReadOnlyForWorkers(t *testing.T) {
	assert.NoError(t, Check(model.RoleWorkerHeartbeat, "worker-1", "", "/host/config", Read))
	err := Check(model.RoleWorkerHeartbeat, "worker-1", "", "/host/config", Write)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))
}

func TestOwnWorkerTelemetryWritable(t *testing.T) {
	assert.NoError(t, Check(model.RoleWorkerHeartbeat, "worker-1", "", "/worker/worker-1/telemetry", Write))

	err := Check(model.RoleWorkerHeartbeat, "worker-1", "", "/worker/worker-1/other", Write)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))

	assert.NoError(t, Check(model.RoleWorkerHeartbeat, "worker-1", "", "/worker/worker-1/other", Read))
}

func TestOtherWorkerDenied(t *testing.T) {
	err := Check(model.RoleWorkerHeartbeat, "worker-1", "", "/worker/worker-2/telemetry", Read)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))
}

func TestGpuScopeRules(t *testing.T) {
	assert.NoError(t, Check(model.RoleWorkerGpu, "worker-3", "gpu0", "/gpu/gpu0/status", Read))
	err := Check(model.RoleWorkerGpu, "worker-3", "gpu0", "/gpu/gpu0/status", Write)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))

	assert.NoError(t, Check(model.RoleWorkerGpu, "worker-3", "gpu0", "/gpu/gpu0/job", Write))

	err = Check(model.RoleWorkerHeartbeat, "worker-1", "", "/gpu/gpu0/status", Read)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))

	err = Check(model.RoleWorkerGpu, "worker-3", "gpu0", "/gpu/other/job", Write)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))
}

func TestQueenOnlyFilesDenied(t *testing.T) {
	err := Check(model.RoleWorkerHeartbeat, "worker-1", "", "/queen/ctl", Read)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))
	err = Check(model.RoleWorkerGpu, "worker-3", "gpu0", "/policy/defaults", Read)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))
}

func TestBootFilesReadOnlyForWorkers(t *testing.T) {
	assert.NoError(t, Check(model.RoleWorkerHeartbeat, "worker-1", "", "/proc/boot", Read))
	err := Check(model.RoleWorkerHeartbeat, "worker-1", "", "/proc/boot", Write)
	assert.True(t, protoerr.IsCode(err, protoerr.CodePermission))
}
