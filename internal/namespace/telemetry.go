package namespace

import (
	"fmt"
	"sync"

	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
)

// AuditFunc is invoked by a Telemetry node on every read, an optional
// audit record on each observation. Nodes are injected with a sink
// rather than importing the trace package directly: the namespace
// package defines the capability it needs, callers provide the
// implementation.
type AuditFunc func(worker string, bytesRead int)

// TelemetryFile is a bounded ring: appends are quota-limited and must
// land entirely within the remaining capacity. Rather than silently
// overwriting unread data on wrap, a write that would require wrapping
// is rejected outright, so no telemetry byte is ever silently lost to a
// wraparound.
type TelemetryFile struct {
	mu       sync.Mutex
	qid      proto.Qid
	worker   string
	data     []byte
	capacity int
	quota    int
	written  int // cumulative bytes ever accepted, checked against quota
	audit    AuditFunc
}

func NewTelemetryFile(components []string, worker string, capacity, quota int, audit AuditFunc) *TelemetryFile {
	return &TelemetryFile{
		qid:      QidFor(proto.QidAppendOnly, components),
		worker:   worker,
		capacity: capacity,
		quota:    quota,
		audit:    audit,
	}
}

func (f *TelemetryFile) Qid() proto.Qid { return f.qid }
func (f *TelemetryFile) IsDir() bool    { return false }
func (f *TelemetryFile) Writable() bool { return true }

func (f *TelemetryFile) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func (f *TelemetryFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	f.mu.Lock()
	out, err := sliceAt(f.data, offset, count)
	f.mu.Unlock()
	if err == nil && f.audit != nil {
		f.audit(f.worker, len(out))
	}
	return out, err
}

func (f *TelemetryFile) WriteAt(offset uint64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset != proto.AppendOffset && offset != uint64(len(f.data)) {
		return 0, protoerr.NewError("write", protoerr.CodeInvalid, "telemetry write requires offset==len or offset==u64::MAX")
	}

	if f.written+len(data) > f.quota {
		return 0, protoerr.NewError("write", protoerr.CodeTooBig, "telemetry quota exceeded")
	}

	if len(f.data)+len(data) > f.capacity {
		return 0, protoerr.NewError("write", protoerr.CodeInvalid,
			fmt.Sprintf("telemetry ring would wrap: expected %d / wrote 0", len(data)))
	}

	f.data = append(f.data, data...)
	f.written += len(data)
	return len(data), nil
}
