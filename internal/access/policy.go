// Package access implements the NineDoor access-control matrix: a pure
// function over (role, worker identity, gpu scope, path, mode), written
// as a single-function, exhaustive-switch table rather than a
// data-driven rule engine.
package access

import (
	"strings"

	"github.com/cohesix/ninedoor/internal/model"
	"github.com/cohesix/ninedoor/internal/protoerr"
)

// Mode mirrors the read/write intent of an Open call; it is a subset
// of proto.OpenMode kept local to avoid a proto import for a two-bit
// check.
type Mode uint8

const (
	Read Mode = 1 << iota
	Write
)

// Check evaluates the access table for one path/mode pair. workerID and
// gpuScope identify the calling session's own worker and, for
// WorkerGpu sessions, its bound GPU id; both are empty for Queen.
func Check(role model.Role, workerID, gpuScope, path string, mode Mode) error {
	if role == model.RoleQueen {
		return nil
	}

	switch {
	case isHostMount(path):
		return denyIf(mode&Write != 0, path)

	case path == "/proc/boot", path == "/log/queen.log":
		return denyIf(mode&Write != 0, path)

	case isOwnWorkerPath(path, workerID):
		if mode&Write != 0 && path != "/worker/"+workerID+"/telemetry" {
			return permissionDenied(path)
		}
		return nil

	case strings.HasPrefix(path, "/worker/"):
		return permissionDenied(path)

	case isGpuInfoStatusCtl(path, gpuScope):
		if role != model.RoleWorkerGpu {
			return permissionDenied(path)
		}
		return denyIf(mode&Write != 0, path)

	case isGpuJob(path, gpuScope):
		if role != model.RoleWorkerGpu {
			return permissionDenied(path)
		}
		return nil

	case strings.HasPrefix(path, "/gpu/"):
		return permissionDenied(path)

	case path == "/queen/ctl", strings.HasPrefix(path, "/policy/"), strings.HasPrefix(path, "/audit/"):
		return permissionDenied(path)

	default:
		// Unlisted infrastructure paths (/proc/tests/*, /trace/*, /kmesg,
		// /models/*, ...) default to queen-writable/worker-readable, the
		// same posture as the explicitly named boot-layout files above.
		return denyIf(mode&Write != 0, path)
	}
}

func isHostMount(path string) bool {
	return path == "/host" || strings.HasPrefix(path, "/host/")
}

func isOwnWorkerPath(path, workerID string) bool {
	if workerID == "" {
		return false
	}
	prefix := "/worker/" + workerID
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isGpuInfoStatusCtl(path, gpuScope string) bool {
	if gpuScope == "" {
		return false
	}
	switch path {
	case "/gpu/" + gpuScope + "/info", "/gpu/" + gpuScope + "/status", "/gpu/" + gpuScope + "/ctl":
		return true
	default:
		return false
	}
}

func isGpuJob(path, gpuScope string) bool {
	return gpuScope != "" && path == "/gpu/"+gpuScope+"/job"
}

func denyIf(deny bool, path string) error {
	if deny {
		return permissionDenied(path)
	}
	return nil
}

func permissionDenied(path string) error {
	return protoerr.NewPathError("access", path, protoerr.CodePermission, "access denied")
}
