// Package controlplane parses queen commands appended to /queen/ctl,
// creates and removes worker namespaces, manages GPU lease state, and
// appends audit events to /log/queen.log and the trace filesystem. Its
// out-of-band device-lifecycle shape (spawn/kill operating independently
// of the data-plane dispatch loop) follows a fixed JSON command grammar,
// with spawn/kill side effects ordered append-verbatim-then-parse-line-
// by-line, and RELEASE/LEASE-ENDED wording on lease transitions.
package controlplane

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/model"
	"github.com/cohesix/ninedoor/internal/namespace"
	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
	"github.com/cohesix/ninedoor/internal/trace"
)

// Revocation is one cross-session broadcast event: every session bound
// to WorkerID must fail its next request with Closed(Reason). The
// dispatcher drains these at batch boundaries, so cross-session effects
// flow through an event queue rather than a direct control-plane to
// session-table dependency.
type Revocation struct {
	WorkerID string
	Reason   string
}

// Controller owns the worker table, GPU lease table, and registered
// service paths. It is driven exclusively by the single server task, so
// no internal locking is required.
type Controller struct {
	tree *namespace.Tree
	sink *trace.Sink

	workers       map[string]*model.WorkerRecord
	services      map[string]string
	gpuNodes      map[string]bool
	activeLeases  map[string]string // gpu id -> worker id
	defaultBudget budget.Spec

	pending []Revocation
}

// New constructs a Controller bound to tree (which must already have
// had its GPU nodes installed via InstallGpuNode for any gpu ids this
// controller should accept spawn/bind/mount commands for).
func New(tree *namespace.Tree, sink *trace.Sink, defaultHeartbeatBudget budget.Spec) *Controller {
	return &Controller{
		tree:          tree,
		sink:          sink,
		workers:       make(map[string]*model.WorkerRecord),
		services:      make(map[string]string),
		gpuNodes:      make(map[string]bool),
		activeLeases:  make(map[string]string),
		defaultBudget: defaultHeartbeatBudget,
	}
}

// RegisterGpuNode marks gpuID as a valid lease target; call once per
// gpu id installed in the namespace.
func (c *Controller) RegisterGpuNode(gpuID string) {
	c.gpuNodes[gpuID] = true
}

// RegisterService binds a named service to a namespace path, the
// target a later {"mount":...} command resolves against.
func (c *Controller) RegisterService(name, path string) {
	c.services[name] = path
}

// Worker looks up a worker record by id (used by the dispatcher/ticket
// verification path to clamp a ticket's budget against the registered
// record).
func (c *Controller) Worker(id string) (*model.WorkerRecord, bool) {
	w, ok := c.workers[id]
	return w, ok
}

// DrainRevocations returns and clears the pending cross-session
// revocation events.
func (c *Controller) DrainRevocations() []Revocation {
	out := c.pending
	c.pending = nil
	return out
}

// RevokeWorkerBudget propagates a budget exhaustion: called by the
// dispatcher when a worker-bound session observes its own budget
// revoked. It removes the worker record and its GPU lease
// (if any), audits the removal, and broadcasts a revocation so every
// other session bound to the same worker also fails closed.
func (c *Controller) RevokeWorkerBudget(workerID, reason string) {
	record, ok := c.workers[workerID]
	if !ok {
		return
	}
	delete(c.workers, workerID)
	c.releaseLease(workerID, record, reason)
	c.tree.Kill(workerID, leaseGpuID(record))
	c.audit("queen", trace.LevelWarn, workerID, fmt.Sprintf("revoked %s: %s", workerID, reason))
	c.pending = append(c.pending, Revocation{WorkerID: workerID, Reason: reason})
}

// Process decodes the newline-delimited JSON command stream appended to
// /queen/ctl (the append to the node itself must already have happened
// by the time Process is called) and applies each non-empty line's side
// effects in order. callerMount is the issuing queen
// session's own mount table, the target of bind/mount commands.
//
// Processing does not stop at the first malformed or rejected line:
// every line is independently parsed, applied, and audited, matching
// the per-frame all-or-nothing contract only at the level of a single
// command, not the whole batch. The first error encountered is
// returned to the caller (surfaced as the Write response's error), but
// later lines still run.
func (c *Controller) Process(payload []byte, callerMount *namespace.MountTable) error {
	var firstErr error
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := c.processLine(line, callerMount); err != nil {
			c.audit("queen", trace.LevelWarn, "", fmt.Sprintf("command failed: %s: %v", line, err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

type envelope map[string]json.RawMessage

func (c *Controller) processLine(line string, callerMount *namespace.MountTable) error {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return protoerr.NewError("ctl", protoerr.CodeInvalid, "malformed control command: "+err.Error())
	}

	switch {
	case env["spawn"] != nil:
		return c.spawn(env)
	case env["kill"] != nil:
		return c.kill(env)
	case env["budget"] != nil:
		return c.updateDefaultBudget(env["budget"])
	case env["bind"] != nil:
		return c.bind(env["bind"], callerMount)
	case env["mount"] != nil:
		return c.mount(env["mount"], callerMount)
	default:
		return protoerr.NewError("ctl", protoerr.CodeInvalid, "unknown control command: "+line)
	}
}

// --- spawn ---

type budgetFields struct {
	TTLS  *uint64 `json:"ttl_s,omitempty"`
	Ops   *uint64 `json:"ops,omitempty"`
	Ticks *uint64 `json:"ticks,omitempty"`
}

type leaseFields struct {
	GpuID    string `json:"gpu_id"`
	MemMB    int    `json:"mem_mb"`
	Streams  int    `json:"streams"`
	TTLS     uint64 `json:"ttl_s"`
	Priority int    `json:"priority,omitempty"`
}

func (c *Controller) spawn(env envelope) error {
	var target string
	if err := json.Unmarshal(env["spawn"], &target); err != nil {
		return protoerr.NewError("spawn", protoerr.CodeInvalid, "spawn target must be a string")
	}

	var budgetOverride budgetFields
	if raw, ok := env["budget"]; ok {
		if err := json.Unmarshal(raw, &budgetOverride); err != nil {
			return protoerr.NewError("spawn", protoerr.CodeInvalid, "malformed budget: "+err.Error())
		}
	}

	switch target {
	case "heartbeat":
		var ticks *uint64
		if raw, ok := env["ticks"]; ok {
			var t uint64
			if err := json.Unmarshal(raw, &t); err != nil {
				return protoerr.NewError("spawn", protoerr.CodeInvalid, "malformed ticks: "+err.Error())
			}
			ticks = &t
		}
		spec := c.defaultBudget
		if budgetOverride.TTLS != nil {
			spec.TTLS = budgetOverride.TTLS
		}
		if budgetOverride.Ops != nil {
			spec.Ops = budgetOverride.Ops
		}
		if ticks != nil {
			spec.Ticks = ticks
		}
		id := c.tree.SpawnHeartbeat()
		c.workers[id] = &model.WorkerRecord{ID: id, Kind: model.KindHeartbeat, Budget: spec}
		c.audit("worker", trace.LevelInfo, id, fmt.Sprintf("spawned %s ticks=%s ttl=%s ops=%s",
			id, formatBudgetValue(spec.Ticks), formatBudgetValue(spec.TTLS), formatBudgetValue(spec.Ops)))
		return nil

	case "gpu":
		var lease leaseFields
		raw, ok := env["lease"]
		if !ok {
			return protoerr.NewError("spawn", protoerr.CodeInvalid, "gpu spawn requires a lease object")
		}
		if err := json.Unmarshal(raw, &lease); err != nil {
			return protoerr.NewError("spawn", protoerr.CodeInvalid, "malformed lease: "+err.Error())
		}
		if !c.gpuNodes[lease.GpuID] {
			return protoerr.NewError("spawn", protoerr.CodeNotFound, "gpu "+lease.GpuID+" not registered")
		}
		if _, busy := c.activeLeases[lease.GpuID]; busy {
			return protoerr.NewError("spawn", protoerr.CodeBusy, "gpu "+lease.GpuID+" already leased")
		}

		id, err := c.tree.SpawnGpu(lease.GpuID)
		if err != nil {
			return errors.Wrap(err, "spawn gpu worker")
		}
		spec := budget.Unbounded()
		if budgetOverride.TTLS != nil {
			spec.TTLS = budgetOverride.TTLS
		}
		if budgetOverride.Ops != nil {
			spec.Ops = budgetOverride.Ops
		}
		if budgetOverride.Ticks != nil {
			spec.Ticks = budgetOverride.Ticks
		}
		modelLease := &model.GpuLease{
			GpuID: lease.GpuID, MemMB: lease.MemMB, Streams: lease.Streams,
			TTLS: lease.TTLS, Priority: lease.Priority, Owner: id,
		}
		c.workers[id] = &model.WorkerRecord{ID: id, Kind: model.KindGpu, Budget: spec, Lease: modelLease}
		c.activeLeases[lease.GpuID] = id

		ctl, err := c.tree.GpuCtl(lease.GpuID)
		if err != nil {
			return errors.Wrap(err, "append gpu ctl")
		}
		line := fmt.Sprintf("LEASE %s mem=%d streams=%d priority=%d\n", id, lease.MemMB, lease.Streams, lease.Priority)
		if _, err := ctl.WriteAt(proto.AppendOffset, []byte(line)); err != nil {
			return err
		}

		c.audit("worker", trace.LevelInfo, id, fmt.Sprintf("spawned %s gpu=%s ttl=%d streams=%d",
			id, lease.GpuID, lease.TTLS, lease.Streams))
		return nil

	default:
		return protoerr.NewError("spawn", protoerr.CodeInvalid, "unknown spawn target: "+target)
	}
}

// --- kill ---

func (c *Controller) kill(env envelope) error {
	var workerID string
	if err := json.Unmarshal(env["kill"], &workerID); err != nil {
		return protoerr.NewError("kill", protoerr.CodeInvalid, "kill target must be a string")
	}
	record, ok := c.workers[workerID]
	if !ok {
		return protoerr.NewError("kill", protoerr.CodeNotFound, "worker "+workerID+" not found")
	}
	delete(c.workers, workerID)
	c.releaseLease(workerID, record, "killed by queen")
	c.tree.Kill(workerID, leaseGpuID(record))
	c.audit("queen", trace.LevelInfo, workerID, "killed "+workerID)
	c.pending = append(c.pending, Revocation{WorkerID: workerID, Reason: "killed by queen"})
	c.audit("queen", trace.LevelWarn, workerID, "revoked "+workerID+": killed by queen")
	return nil
}

func leaseGpuID(r *model.WorkerRecord) string {
	if r.Lease == nil {
		return ""
	}
	return r.Lease.GpuID
}

// releaseLease appends the RELEASE ctl line and LEASE-ENDED status line
// for a GPU-kind worker being removed. No-op for heartbeat workers.
func (c *Controller) releaseLease(workerID string, record *model.WorkerRecord, reason string) {
	if record.Lease == nil {
		return
	}
	gpuID := record.Lease.GpuID
	delete(c.activeLeases, gpuID)

	if ctl, err := c.tree.GpuCtl(gpuID); err == nil {
		line := fmt.Sprintf("RELEASE %s %s\n", workerID, reason)
		ctl.WriteAt(proto.AppendOffset, []byte(line))
	}
	if status, err := c.tree.GpuStatus(gpuID); err == nil {
		line := fmt.Sprintf("%s LEASE-ENDED %s\n", workerID, reason)
		status.WriteAt(proto.AppendOffset, []byte(line))
	}
}

// --- budget ---

func (c *Controller) updateDefaultBudget(raw json.RawMessage) error {
	var fields budgetFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return protoerr.NewError("budget", protoerr.CodeInvalid, "malformed budget: "+err.Error())
	}
	if fields.TTLS != nil {
		c.defaultBudget.TTLS = fields.TTLS
	}
	if fields.Ops != nil {
		c.defaultBudget.Ops = fields.Ops
	}
	if fields.Ticks != nil {
		c.defaultBudget.Ticks = fields.Ticks
	}
	c.audit("queen", trace.LevelInfo, "", fmt.Sprintf("updated default budget ttl=%s ops=%s ticks=%s",
		formatBudgetValue(c.defaultBudget.TTLS), formatBudgetValue(c.defaultBudget.Ops), formatBudgetValue(c.defaultBudget.Ticks)))
	return nil
}

// --- bind / mount ---

type bindFields struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (c *Controller) bind(raw json.RawMessage, callerMount *namespace.MountTable) error {
	var fields bindFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return protoerr.NewError("bind", protoerr.CodeInvalid, "malformed bind: "+err.Error())
	}
	if err := callerMount.Bind(fields.From, fields.To); err != nil {
		return err
	}
	c.audit("queen", trace.LevelInfo, "", fmt.Sprintf("bind %s -> %s", fields.From, fields.To))
	return nil
}

type mountFields struct {
	Service string `json:"service"`
	At      string `json:"at"`
}

func (c *Controller) mount(raw json.RawMessage, callerMount *namespace.MountTable) error {
	var fields mountFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return protoerr.NewError("mount", protoerr.CodeInvalid, "malformed mount: "+err.Error())
	}
	target, ok := c.services[fields.Service]
	if !ok {
		return protoerr.NewError("mount", protoerr.CodeNotFound, "service not registered: "+fields.Service)
	}
	if err := callerMount.Bind(fields.At, target); err != nil {
		return err
	}
	c.audit("queen", trace.LevelInfo, "", fmt.Sprintf("mount %s at %s -> %s", fields.Service, fields.At, target))
	return nil
}

// --- audit ---

// audit mirrors a message to both the structured trace sink and
// /log/queen.log, matching the original's log_event (record + append
// to the plain-text audit log) in lockstep.
func (c *Controller) audit(category string, level trace.Level, task, message string) {
	c.sink.Record(level, category, task, message)
	log := c.tree.QueenLog()
	log.WriteAt(proto.AppendOffset, []byte(message+"\n"))
}

// AuditHostWriteDenied records a host-mount write denial, logged before
// the caller observes Permission.
func (c *Controller) AuditHostWriteDenied(path, role string) {
	c.audit("host", trace.LevelWarn, "", fmt.Sprintf("host write denied: role=%s path=%s", role, path))
}

// AuditTicketFailure appends a ticket-verification failure to the
// audit log.
func (c *Controller) AuditTicketFailure(uname, reason string) {
	c.audit("ticket", trace.LevelWarn, "", fmt.Sprintf("ticket verification failed for %s: %s", uname, reason))
}

// AuditAttach records a successful attach audit line.
func (c *Controller) AuditAttach(uname, identity string) {
	task := identity
	c.audit("session", trace.LevelInfo, task, "ATTACH "+uname)
}

func formatBudgetValue(v *uint64) string {
	if v == nil {
		return "unbounded"
	}
	return fmt.Sprintf("%d", *v)
}
