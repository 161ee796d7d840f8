package namespace

import (
	"sync"

	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
)

// TraceSink is the capability the trace filesystem nodes need from the
// trace package, injected rather than imported directly so namespace
// stays a leaf package with respect to internal/trace (the same
// inversion as AuditFunc in telemetry.go).
type TraceSink interface {
	// Configure applies a "SET <category> <level>" control line.
	Configure(line string) error
	// Render returns the current structured event log rendered as bytes
	// (used by /trace/events reads).
	Render() []byte
	// KernelMessages returns the current kernel-message buffer.
	KernelMessages() []byte
	// TaskTrace returns the event buffer scoped to one worker/task.
	TaskTrace(worker string) []byte
}

// TraceControlFile is /trace/ctl: append-only, each accepted write line
// reconfigures the sink's filters/levels.
type TraceControlFile struct {
	mu   sync.Mutex
	qid  proto.Qid
	sink TraceSink
	buf  []byte
}

func NewTraceControlFile(components []string, sink TraceSink) *TraceControlFile {
	return &TraceControlFile{qid: QidFor(proto.QidAppendOnly, components), sink: sink}
}

func (f *TraceControlFile) Qid() proto.Qid { return f.qid }
func (f *TraceControlFile) IsDir() bool    { return false }
func (f *TraceControlFile) Writable() bool { return true }

func (f *TraceControlFile) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

func (f *TraceControlFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sliceAt(f.buf, offset, count)
}

func (f *TraceControlFile) WriteAt(offset uint64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset != proto.AppendOffset && offset != uint64(len(f.buf)) {
		return 0, protoerr.NewError("write", protoerr.CodeInvalid, "trace control write requires offset==len or offset==u64::MAX")
	}
	if err := f.sink.Configure(string(data)); err != nil {
		return 0, err
	}
	f.buf = append(f.buf, data...)
	return len(data), nil
}

// TraceEventsFile is /trace/events: read-only, writes always rejected.
type TraceEventsFile struct {
	qid  proto.Qid
	sink TraceSink
}

func NewTraceEventsFile(components []string, sink TraceSink) *TraceEventsFile {
	return &TraceEventsFile{qid: QidFor(proto.QidFile, components), sink: sink}
}

func (f *TraceEventsFile) Qid() proto.Qid { return f.qid }
func (f *TraceEventsFile) IsDir() bool    { return false }
func (f *TraceEventsFile) Writable() bool { return false }
func (f *TraceEventsFile) Len() int       { return len(f.sink.Render()) }
func (f *TraceEventsFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	return sliceAt(f.sink.Render(), offset, count)
}
func (f *TraceEventsFile) WriteAt(uint64, []byte) (int, error) {
	return 0, protoerr.NewError("write", protoerr.CodePermission, "trace events is read-only")
}

// KernelMessagesFile is /kmesg: read-only kernel-style log stream.
type KernelMessagesFile struct {
	qid  proto.Qid
	sink TraceSink
}

func NewKernelMessagesFile(components []string, sink TraceSink) *KernelMessagesFile {
	return &KernelMessagesFile{qid: QidFor(proto.QidFile, components), sink: sink}
}

func (f *KernelMessagesFile) Qid() proto.Qid { return f.qid }
func (f *KernelMessagesFile) IsDir() bool    { return false }
func (f *KernelMessagesFile) Writable() bool { return false }
func (f *KernelMessagesFile) Len() int       { return len(f.sink.KernelMessages()) }
func (f *KernelMessagesFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	return sliceAt(f.sink.KernelMessages(), offset, count)
}
func (f *KernelMessagesFile) WriteAt(uint64, []byte) (int, error) {
	return 0, protoerr.NewError("write", protoerr.CodePermission, "kmesg is read-only")
}

// TaskTraceFile is the per-worker trace view delegated to the sink,
// scoped at construction time to one worker id.
type TaskTraceFile struct {
	qid    proto.Qid
	sink   TraceSink
	worker string
}

func NewTaskTraceFile(components []string, sink TraceSink, worker string) *TaskTraceFile {
	return &TaskTraceFile{qid: QidFor(proto.QidFile, components), sink: sink, worker: worker}
}

func (f *TaskTraceFile) Qid() proto.Qid { return f.qid }
func (f *TaskTraceFile) IsDir() bool    { return false }
func (f *TaskTraceFile) Writable() bool { return false }
func (f *TaskTraceFile) Len() int       { return len(f.sink.TaskTrace(f.worker)) }
func (f *TaskTraceFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	return sliceAt(f.sink.TaskTrace(f.worker), offset, count)
}
func (f *TaskTraceFile) WriteAt(uint64, []byte) (int, error) {
	return 0, protoerr.NewError("write", protoerr.CodePermission, "task trace is read-only")
}
