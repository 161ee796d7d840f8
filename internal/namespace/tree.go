package namespace

import (
	"strconv"
	"sync"

	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
)

const (
	DefaultTelemetryCapacity = 64 * 1024
	DefaultTelemetryQuota    = 4 * 1024 * 1024
)

// SelftestFixture names one compiled-in selftest source exposed under
// /proc/tests.
type SelftestFixture struct {
	Name string
	Body []byte
}

// HostMountSource backs a /host/* read-through subtree with named byte
// blobs. No implementation is bundled; /host exists only when one is
// supplied.
type HostMountSource interface {
	Names() []string
	Read(name string) ([]byte, bool)
}

// Options configures the boot layout built by New. Only the fields
// that are non-nil/non-empty create their optional subtree; the boot
// layout is otherwise fixed once New returns and must not depend on
// runtime mutation.
type Options struct {
	Selftests         []SelftestFixture
	HostMount         HostMountSource
	TraceSink         TraceSink
	TelemetryAudit    AuditFunc
	TelemetryCapacity int
	TelemetryQuota    int
	WithPolicyDir     bool
	WithAuditDir      bool
	WithReplayDir     bool
	WithUpdatesDir    bool
	WithModelsDir     bool
}

// Tree is the synthetic namespace root: a fixed boot layout plus the
// mutable /worker and /gpu subtrees the control plane spawns into.
// Exactly one Tree exists per server and it is owned exclusively by
// the dispatcher's single-threaded session task, so its exported
// mutation methods assume external serialization except where guarded
// by their own locks (the Dir/File node types are independently safe
// for the rare case a read races a concurrent control-plane mutation).
type Tree struct {
	mu      sync.Mutex
	root    *Dir
	worker  *Dir
	gpu     *Dir
	cas     *CasStore
	opts    Options
	workerN uint64
}

// New builds the fixed boot layout exactly once.
func New(opts Options) *Tree {
	t := &Tree{
		root: NewDir(nil),
		opts: opts,
		cas:  NewCasStore(),
	}

	proc := NewDir([]string{"proc"})
	proc.Add("boot", NewReadOnlyFile([]string{"proc", "boot"}, []byte("ninedoor boot image\n")))
	tests := NewDir([]string{"proc", "tests"})
	for _, fx := range opts.Selftests {
		tests.Add(fx.Name, NewReadOnlyFile([]string{"proc", "tests", fx.Name}, fx.Body))
	}
	proc.Add("tests", tests)
	t.root.Add("proc", proc)

	logDir := NewDir([]string{"log"})
	queenLog := NewAppendOnlyFile([]string{"log", "queen.log"})
	queenLog.WriteAt(proto.AppendOffset, []byte("Cohesix boot: root-task online\n"))
	logDir.Add("queen.log", queenLog)
	t.root.Add("log", logDir)

	queenDir := NewDir([]string{"queen"})
	queenDir.Add("ctl", NewAppendOnlyFile([]string{"queen", "ctl"}))
	t.root.Add("queen", queenDir)

	t.worker = NewDir([]string{"worker"})
	t.root.Add("worker", t.worker)

	t.gpu = NewDir([]string{"gpu"})
	t.root.Add("gpu", t.gpu)

	if opts.TraceSink != nil {
		traceDir := NewDir([]string{"trace"})
		traceDir.Add("ctl", NewTraceControlFile([]string{"trace", "ctl"}, opts.TraceSink))
		traceDir.Add("events", NewTraceEventsFile([]string{"trace", "events"}, opts.TraceSink))
		t.root.Add("trace", traceDir)
		t.root.Add("kmesg", NewKernelMessagesFile([]string{"kmesg"}, opts.TraceSink))
	}

	if opts.HostMount != nil {
		hostDir := NewDir([]string{"host"})
		for _, name := range opts.HostMount.Names() {
			data, _ := opts.HostMount.Read(name)
			hostDir.Add(name, NewReadOnlyFile([]string{"host", name}, data))
		}
		t.root.Add("host", hostDir)
	}

	if opts.WithPolicyDir {
		t.root.Add("policy", NewDir([]string{"policy"}))
	}
	if opts.WithAuditDir {
		t.root.Add("audit", NewDir([]string{"audit"}))
	}
	if opts.WithReplayDir {
		t.root.Add("replay", NewDir([]string{"replay"}))
	}
	if opts.WithUpdatesDir {
		t.root.Add("updates", NewDir([]string{"updates"}))
	}
	if opts.WithModelsDir {
		t.root.Add("models", NewDir([]string{"models"}))
	}

	return t
}

func (t *Tree) Root() *Dir { return t.root }

// Cas exposes the tree's content-addressed store. Its entries are not
// installed under /models.
func (t *Tree) Cas() *CasStore { return t.cas }

// QueenLog returns the append-only audit log node, a convenience
// accessor so control-plane code doesn't have to re-walk the tree.
func (t *Tree) QueenLog() *AppendOnlyFile {
	n, _ := t.root.Get("log")
	logDir := n.(*Dir)
	f, _ := logDir.Get("queen.log")
	return f.(*AppendOnlyFile)
}

// QueenCtl returns the queen control-plane append-only node.
func (t *Tree) QueenCtl() *AppendOnlyFile {
	n, _ := t.root.Get("queen")
	queenDir := n.(*Dir)
	f, _ := queenDir.Get("ctl")
	return f.(*AppendOnlyFile)
}

// Lookup walks canonical path components from the root, returning
// NotFound if any intermediate component is missing or not a
// directory.
func (t *Tree) Lookup(components []string) (Node, error) {
	var cur Node = t.root
	for i, c := range components {
		dir, ok := cur.(*Dir)
		if !ok {
			return nil, protoerr.NewError("walk", protoerr.CodeNotFound, "not a directory: "+JoinPath(components[:i]))
		}
		child, ok := dir.Get(c)
		if !ok {
			return nil, protoerr.NewError("walk", protoerr.CodeNotFound, "no such path: "+JoinPath(components[:i+1]))
		}
		cur = child
	}
	return cur, nil
}

// SpawnHeartbeat creates /worker/<id>/telemetry for a newly allocated
// heartbeat worker and returns its id.
func (t *Tree) SpawnHeartbeat() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workerN++
	id := workerID(t.workerN)
	t.addWorkerDir(id)
	return id
}

// SpawnGpu creates /worker/<id>/telemetry for a newly allocated GPU
// worker and marks the existing /gpu/<gpuID> node with a job-owner file.
func (t *Tree) SpawnGpu(gpuID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.gpu.Get(gpuID)
	if !ok {
		return "", protoerr.NewError("spawn", protoerr.CodeNotFound, "no such gpu node: "+gpuID)
	}
	gpuDir := n.(*Dir)
	if _, busy := gpuDir.Get("job-owner"); busy {
		return "", protoerr.NewError("spawn", protoerr.CodeBusy, "gpu lease already active: "+gpuID)
	}
	t.workerN++
	id := workerID(t.workerN)
	t.addWorkerDir(id)
	gpuDir.Add("job-owner", NewReadOnlyFile([]string{"gpu", gpuID, "job-owner"}, []byte(id)))
	return id, nil
}

func (t *Tree) addWorkerDir(id string) {
	wdir := NewDir([]string{"worker", id})
	capacity := t.opts.TelemetryCapacity
	if capacity == 0 {
		capacity = DefaultTelemetryCapacity
	}
	quota := t.opts.TelemetryQuota
	if quota == 0 {
		quota = DefaultTelemetryQuota
	}
	wdir.Add("telemetry", NewTelemetryFile([]string{"worker", id, "telemetry"}, id, capacity, quota, t.opts.TelemetryAudit))
	if t.opts.TraceSink != nil {
		wdir.Add("trace", NewTaskTraceFile([]string{"worker", id, "trace"}, t.opts.TraceSink, id))
	}
	t.worker.Add(id, wdir)
}

// Kill removes a worker's subtree and, for GPU workers, clears the
// lease marker on its gpu node.
func (t *Tree) Kill(id string, gpuID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.worker.Remove(id)
	if gpuID == "" {
		return
	}
	if n, ok := t.gpu.Get(gpuID); ok {
		n.(*Dir).Remove("job-owner")
	}
}

// InstallGpuNode creates the fixed /gpu/<id>/{info,status,ctl,job}
// subtree.
func (t *Tree) InstallGpuNode(gpuID string, info []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gdir := NewDir([]string{"gpu", gpuID})
	gdir.Add("info", NewReadOnlyFile([]string{"gpu", gpuID, "info"}, info))
	status := NewAppendOnlyFile([]string{"gpu", gpuID, "status"})
	status.WriteAt(proto.AppendOffset, []byte("idle\n"))
	gdir.Add("status", status)
	gdir.Add("ctl", NewAppendOnlyFile([]string{"gpu", gpuID, "ctl"}))
	gdir.Add("job", NewAppendOnlyFile([]string{"gpu", gpuID, "job"}))
	t.gpu.Add(gpuID, gdir)
}

// GpuCtl returns the append-only control node for the given gpu id, an
// accessor control-plane code uses to append RELEASE lines without
// re-walking the tree.
func (t *Tree) GpuCtl(gpuID string) (*AppendOnlyFile, error) {
	n, ok := t.gpu.Get(gpuID)
	if !ok {
		return nil, protoerr.NewError("lookup", protoerr.CodeNotFound, "no such gpu node: "+gpuID)
	}
	f, _ := n.(*Dir).Get("ctl")
	return f.(*AppendOnlyFile), nil
}

// GpuStatus returns the append-only status node for the given gpu id.
func (t *Tree) GpuStatus(gpuID string) (*AppendOnlyFile, error) {
	n, ok := t.gpu.Get(gpuID)
	if !ok {
		return nil, protoerr.NewError("lookup", protoerr.CodeNotFound, "no such gpu node: "+gpuID)
	}
	f, _ := n.(*Dir).Get("status")
	return f.(*AppendOnlyFile), nil
}

// Bind aliases a namespace subtree under a mount point on the given
// per-session mount table.
func (t *Tree) Bind(table *MountTable, from, to string) error {
	return table.Bind(from, to)
}

func workerID(n uint64) string {
	return "worker-" + strconv.FormatUint(n, 10)
}

var _ Node = (*Dir)(nil)
var _ File = (*ReadOnlyFile)(nil)
var _ File = (*AppendOnlyFile)(nil)
var _ File = (*TelemetryFile)(nil)
var _ File = (*TraceControlFile)(nil)
var _ File = (*TraceEventsFile)(nil)
var _ File = (*KernelMessagesFile)(nil)
var _ File = (*TaskTraceFile)(nil)
var _ File = (*CasManifestFile)(nil)
