package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cohesix/ninedoor/internal/access"
	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/controlplane"
	"github.com/cohesix/ninedoor/internal/model"
	"github.com/cohesix/ninedoor/internal/namespace"
	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
	"github.com/cohesix/ninedoor/internal/session"
	"github.com/cohesix/ninedoor/internal/ticket"
	"github.com/cohesix/ninedoor/internal/trace"
)

// Clock is the monotonic time source the server reads for budget TTL
// checks, injected so tests can control the passage of time instead of
// sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Metrics is the capability the dispatcher needs from the root metrics
// struct. Defined here rather than imported from the root ninedoor
// package (which itself must import this package to assemble a server)
// so the dispatcher never depends on its own assembler.
type Metrics interface {
	IncOps()
	IncBackpressure()
	IncRevocations()
	AddTelemetryBytes(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncOps()               {}
func (noopMetrics) IncBackpressure()      {}
func (noopMetrics) IncRevocations()       {}
func (noopMetrics) AddTelemetryBytes(int) {}

// Options configures a Server. Every field has a zero-value-safe
// default applied in New.
type Options struct {
	ProtocolVersion   string
	MaxMsize          uint32
	MaxPathComponents int
	TagWindowCapacity int
	QueueDepthLimit   int
	Clock             Clock
	Metrics           Metrics
}

// Server owns the session table, the namespace tree, and the control
// plane, and runs the per-batch dispatch loop. A single mutex serializes
// every Dispatch call: access is serialized by single-task discipline
// with an explicit lock rather than a dedicated per-session goroutine,
// since nothing in this repo's scope requires genuine cross-session
// concurrency within the server itself.
type Server struct {
	mu sync.Mutex

	tree       *namespace.Tree
	controller *controlplane.Controller
	traceSink  *trace.Sink
	ticketKeys *ticket.KeyStore

	protocolVersion   string
	maxMsize          uint32
	maxPathComponents int
	tagWindowCapacity int
	queueDepthLimit   int

	clock   Clock
	metrics Metrics

	sessions      map[uint64]*Session
	nextSessionID uint64
}

// New constructs a Server bound to an already-populated namespace tree,
// control plane, trace sink, and ticket key store.
func New(tree *namespace.Tree, controller *controlplane.Controller, traceSink *trace.Sink, ticketKeys *ticket.KeyStore, opts Options) *Server {
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = "9P2000.c"
	}
	if opts.MaxMsize == 0 {
		opts.MaxMsize = 1 << 20
	}
	if opts.MaxPathComponents == 0 {
		opts.MaxPathComponents = 8
	}
	if opts.TagWindowCapacity == 0 {
		opts.TagWindowCapacity = 64
	}
	if opts.QueueDepthLimit == 0 {
		opts.QueueDepthLimit = 128
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Server{
		tree:              tree,
		controller:        controller,
		traceSink:         traceSink,
		ticketKeys:        ticketKeys,
		protocolVersion:   opts.ProtocolVersion,
		maxMsize:          opts.MaxMsize,
		maxPathComponents: opts.MaxPathComponents,
		tagWindowCapacity: opts.TagWindowCapacity,
		queueDepthLimit:   opts.QueueDepthLimit,
		clock:             opts.Clock,
		metrics:           opts.Metrics,
		sessions:          make(map[uint64]*Session),
	}
}

// NewSession allocates a fresh session id and state: an opaque
// monotonic u64, allocated by the server on channel accept, never
// reused.
func (s *Server) NewSession() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	id := s.nextSessionID
	s.sessions[id] = &Session{
		id:         id,
		fids:       make(map[uint32]*FidState),
		tagWindow:  session.NewTagWindow(s.tagWindowCapacity),
		queueDepth: session.NewQueueDepth(s.queueDepthLimit),
	}
	return id
}

// CloseSession tears the session down on channel close, per the
// lifecycle rule that a session is never silently re-used.
func (s *Server) CloseSession(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Session returns a read-only view of session state for callers (tests,
// introspection endpoints) that need to inspect it outside of dispatch.
func (s *Server) Session(id uint64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

type reservation struct {
	tag   bool
	queue bool
}

// Dispatch decodes one batch, reserves and dispatches every contained
// frame, and returns the joined response batch. A non-nil error is
// fatal: a non-protocol error aborts the current batch and the caller
// must tear down the session.
func (s *Server) Dispatch(sessionID uint64, batch []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("ninedoor: dispatch: unknown session %d", sessionID)
	}

	rawFrames, err := proto.SplitBatch(batch)
	if err != nil {
		return nil, err
	}

	limit := sess.msize
	if limit == 0 {
		limit = s.maxMsize
	}
	batchOverLimit := uint32(len(batch)) > limit

	frames := make([]proto.Frame, len(rawFrames))
	tooBig := make([]bool, len(rawFrames))
	for i, rf := range rawFrames {
		f, derr := proto.DecodeFrame(rf.Payload)
		if derr != nil {
			return nil, derr
		}
		frames[i] = f
		tooBig[i] = batchOverLimit || uint32(len(rf.Payload)) > limit
	}

	acks := make([]reservation, len(frames))
	out := make([][]byte, len(frames))
	for i, f := range frames {
		body := s.dispatchFrame(sess, f, tooBig[i], &acks[i])
		out[i] = proto.EncodeFrame(f.Tag, body)
	}
	for i, f := range frames {
		if acks[i].tag {
			sess.tagWindow.Release(f.Tag)
		}
		if acks[i].queue {
			sess.queueDepth.Release(1)
		}
	}

	return proto.JoinBatch(out), nil
}

// dispatchFrame reserves, dispatches, and translates the result for one
// frame. Reservations are held by the caller (Dispatch) until every
// frame in the batch has a response, so queue-depth and tag-window
// exhaustion reflect the whole batch's concurrency rather than
// resetting between frames.
func (s *Server) dispatchFrame(sess *Session, f proto.Frame, tooBig bool, ack *reservation) proto.Body {
	if tooBig {
		return proto.ErrorResponse{Code: proto.WireTooBig, Message: "frame exceeds negotiated msize"}
	}

	switch sess.tagWindow.Reserve(f.Tag) {
	case session.InUse:
		return proto.ErrorResponse{Code: proto.WireInvalid, Message: "tag already in flight"}
	case session.WindowFull:
		s.metrics.IncBackpressure()
		return proto.ErrorResponse{Code: proto.WireBusy, Message: "tag window full"}
	}
	ack.tag = true

	if !sess.queueDepth.Reserve(1) {
		s.metrics.IncBackpressure()
		return proto.ErrorResponse{Code: proto.WireBusy, Message: "queue depth exceeded"}
	}
	ack.queue = true

	body, err := s.handle(sess, f.Body)
	s.metrics.IncOps()
	if err != nil {
		sess.lastOpFailed = true
		return errorResponse(err)
	}
	sess.lastOpFailed = false
	return body
}

func errorResponse(err error) proto.ErrorResponse {
	var pe *protoerr.Error
	if errors.As(err, &pe) {
		return proto.ErrorResponse{Code: wireCodeFor(pe.Code), Message: pe.Message}
	}
	return proto.ErrorResponse{Code: proto.WireInvalid, Message: err.Error()}
}

func wireCodeFor(c protoerr.Code) proto.WireCode {
	switch c {
	case protoerr.CodeInvalid:
		return proto.WireInvalid
	case protoerr.CodeNotFound:
		return proto.WireNotFound
	case protoerr.CodePermission:
		return proto.WirePermission
	case protoerr.CodeBusy:
		return proto.WireBusy
	case protoerr.CodeClosed:
		return proto.WireClosed
	case protoerr.CodeTooBig:
		return proto.WireTooBig
	default:
		return proto.WireInvalid
	}
}

// handle routes one decoded body through the session state machine,
// applying the pre-dispatch budget hooks to every operation except
// Version/Attach.
func (s *Server) handle(sess *Session, body proto.Body) (proto.Body, error) {
	now := s.clock.Now()

	switch req := body.(type) {
	case proto.VersionRequest:
		return s.handleVersion(sess, req)
	case proto.AttachRequest:
		return s.handleAttach(sess, req, now)
	}

	if !sess.attached {
		return nil, protoerr.NewError("dispatch", protoerr.CodeInvalid, "session not attached")
	}
	if v := sess.budgetState.Check(now); v == budget.Revoked {
		return nil, s.closedErr(sess)
	}
	if !sess.firstRequestLogged {
		sess.firstRequestLogged = true
		s.traceSink.Record(trace.LevelDebug, "session", sess.workerID, "first request after attach")
	}
	if v := sess.budgetState.ConsumeOp(); v == budget.Revoked {
		return nil, s.closedErr(sess)
	}

	switch req := body.(type) {
	case proto.WalkRequest:
		return s.handleWalk(sess, req)
	case proto.OpenRequest:
		return s.handleOpen(sess, req)
	case proto.ReadRequest:
		return s.handleRead(sess, req)
	case proto.WriteRequest:
		return s.handleWrite(sess, req)
	case proto.ClunkRequest:
		return s.handleClunk(sess, req)
	default:
		return nil, protoerr.NewError("dispatch", protoerr.CodeInvalid, "unsupported request body")
	}
}

func (s *Server) handleVersion(sess *Session, req proto.VersionRequest) (proto.Body, error) {
	if req.Version != s.protocolVersion {
		return nil, protoerr.NewError("version", protoerr.CodeInvalid, "unsupported protocol version: "+req.Version)
	}
	msize := req.Msize
	if msize > s.maxMsize {
		msize = s.maxMsize
	}
	sess.msize = msize
	sess.versionNegotiated = true
	return proto.VersionResponse{Msize: msize, Version: s.protocolVersion}, nil
}

func (s *Server) handleAttach(sess *Session, req proto.AttachRequest, now time.Time) (proto.Body, error) {
	if !sess.versionNegotiated {
		return nil, protoerr.NewError("attach", protoerr.CodeInvalid, "attach requires prior version negotiation")
	}
	if _, exists := sess.fids[req.Fid]; exists {
		return nil, protoerr.NewFidError("attach", req.Fid, protoerr.CodeBusy, "fid already in use")
	}

	label, identity := splitUname(req.Uname)
	role, ok := model.ParseRole(label)
	if !ok {
		return nil, protoerr.NewError("attach", protoerr.CodeInvalid, "unknown role label: "+label)
	}

	var spec budget.Spec
	workerID := ""
	gpuScope := ""

	if role == model.RoleQueen {
		b, err := ticket.VerifyQueen(s.ticketKeys, req.Ticket)
		if err != nil {
			s.controller.AuditTicketFailure(req.Uname, err.Error())
			return nil, protoerr.NewError("attach", protoerr.CodePermission, err.Error())
		}
		spec = b
	} else {
		var registered *budget.Spec
		if identity != "" {
			if rec, ok := s.controller.Worker(identity); ok {
				registered = &rec.Budget
			}
		}
		resolved, err := ticket.VerifyWorker(s.ticketKeys, role, req.Ticket, identity, registered)
		if err != nil {
			s.controller.AuditTicketFailure(req.Uname, err.Error())
			return nil, protoerr.NewError("attach", protoerr.CodePermission, err.Error())
		}
		spec = resolved.Budget
		workerID = resolved.Identity
		if registered == nil {
			if rec, ok := s.controller.Worker(workerID); ok {
				spec = budget.Min(spec, rec.Budget)
			}
		}
		if rec, ok := s.controller.Worker(workerID); ok && rec.Lease != nil {
			gpuScope = rec.Lease.GpuID
		}
	}

	sess.role = role
	sess.workerID = workerID
	sess.gpuScope = gpuScope
	sess.budgetState = budget.NewState(spec, now)
	sess.mountTable = namespace.NewMountTable()
	sess.attached = true
	sess.firstRequestLogged = false

	root := s.tree.Root()
	sess.fids[req.Fid] = &FidState{ViewPath: "/", CanonicalPath: "/", Qid: root.Qid()}

	if role.IsWorker() {
		s.controller.AuditAttach(req.Uname, workerID)
	}

	return proto.AttachResponse{Qid: root.Qid()}, nil
}

func (s *Server) handleWalk(sess *Session, req proto.WalkRequest) (proto.Body, error) {
	fid, ok := sess.fids[req.Fid]
	if !ok {
		return nil, protoerr.NewFidError("walk", req.Fid, protoerr.CodeClosed, "fid not open")
	}
	if req.Newfid != req.Fid {
		if _, exists := sess.fids[req.Newfid]; exists {
			return nil, protoerr.NewFidError("walk", req.Newfid, protoerr.CodeBusy, "newfid already in use")
		}
	}

	baseComponents, err := namespace.SplitPath(fid.ViewPath, s.maxPathComponents)
	if err != nil {
		return nil, err
	}
	for _, n := range req.Wnames {
		if n == "" || n == "." || n == ".." || strings.IndexByte(n, 0) >= 0 {
			return nil, protoerr.NewError("walk", protoerr.CodeInvalid, "invalid path component: "+n)
		}
	}
	newComponents := append(append([]string{}, baseComponents...), req.Wnames...)
	if len(newComponents) > s.maxPathComponents {
		return nil, protoerr.NewError("walk", protoerr.CodeInvalid, "path exceeds maximum component depth")
	}

	newViewPath := namespace.JoinPath(newComponents)
	canonicalPath := sess.mountTable.Resolve(newViewPath)
	canonicalComponents, err := namespace.SplitPath(canonicalPath, s.maxPathComponents)
	if err != nil {
		return nil, err
	}

	qids := make([]proto.Qid, 0, len(canonicalComponents))
	finalNode := namespace.Node(s.tree.Root())
	for i := range canonicalComponents {
		node, err := s.tree.Lookup(canonicalComponents[:i+1])
		if err != nil {
			return nil, err
		}
		qids = append(qids, node.Qid())
		finalNode = node
	}
	if len(qids) == 0 {
		qids = append(qids, finalNode.Qid())
	}

	if err := access.Check(sess.role, sess.workerID, sess.gpuScope, canonicalPath, access.Read); err != nil {
		return nil, err
	}

	sess.fids[req.Newfid] = &FidState{ViewPath: newViewPath, CanonicalPath: canonicalPath, Qid: finalNode.Qid()}
	return proto.WalkResponse{Qids: qids}, nil
}

func (s *Server) handleOpen(sess *Session, req proto.OpenRequest) (proto.Body, error) {
	fid, ok := sess.fids[req.Fid]
	if !ok {
		return nil, protoerr.NewFidError("open", req.Fid, protoerr.CodeClosed, "fid not open")
	}

	components, err := namespace.SplitPath(fid.CanonicalPath, s.maxPathComponents)
	if err != nil {
		return nil, err
	}
	node, err := s.tree.Lookup(components)
	if err != nil {
		return nil, err
	}

	mode := access.Read
	wantWrite := req.Mode&proto.ModeWrite != 0
	if wantWrite {
		mode |= access.Write
	}
	if err := access.Check(sess.role, sess.workerID, sess.gpuScope, fid.CanonicalPath, mode); err != nil {
		if wantWrite && isHostMountPath(fid.CanonicalPath) {
			s.controller.AuditHostWriteDenied(fid.CanonicalPath, sess.role.String())
		}
		return nil, err
	}

	if wantWrite {
		f, isFile := node.(namespace.File)
		if node.IsDir() || !isFile {
			return nil, protoerr.NewPathError("open", fid.CanonicalPath, protoerr.CodePermission, "directory is not writable")
		}
		if !f.Writable() {
			return nil, protoerr.NewPathError("open", fid.CanonicalPath, protoerr.CodePermission, "file is read-only")
		}
		if requiresAppendMode(node) && req.Mode&proto.ModeAppend == 0 {
			return nil, protoerr.NewPathError("open", fid.CanonicalPath, protoerr.CodeInvalid, "append-only file requires WRITE|APPEND")
		}
	}

	m := req.Mode
	fid.OpenMode = &m
	return proto.OpenResponse{Qid: node.Qid()}, nil
}

func (s *Server) handleRead(sess *Session, req proto.ReadRequest) (proto.Body, error) {
	fid, ok := sess.fids[req.Fid]
	if !ok {
		return nil, protoerr.NewFidError("read", req.Fid, protoerr.CodeClosed, "fid not open")
	}
	if fid.OpenMode == nil {
		return nil, protoerr.NewFidError("read", req.Fid, protoerr.CodeInvalid, "fid not opened")
	}
	if *fid.OpenMode&proto.ModeRead == 0 {
		return nil, protoerr.NewFidError("read", req.Fid, protoerr.CodePermission, "fid not opened for read")
	}

	components, err := namespace.SplitPath(fid.CanonicalPath, s.maxPathComponents)
	if err != nil {
		return nil, err
	}
	node, err := s.tree.Lookup(components)
	if err != nil {
		return nil, err
	}
	if err := access.Check(sess.role, sess.workerID, sess.gpuScope, fid.CanonicalPath, access.Read); err != nil {
		return nil, err
	}

	f, ok := node.(readableNode)
	if !ok {
		return nil, protoerr.NewPathError("read", fid.CanonicalPath, protoerr.CodeInvalid, "not a readable node")
	}
	data, err := f.ReadAt(req.Offset, req.Count)
	if err != nil {
		return nil, err
	}
	return proto.ReadResponse{Data: data}, nil
}

func (s *Server) handleWrite(sess *Session, req proto.WriteRequest) (proto.Body, error) {
	fid, ok := sess.fids[req.Fid]
	if !ok {
		return nil, protoerr.NewFidError("write", req.Fid, protoerr.CodeClosed, "fid not open")
	}
	if fid.OpenMode == nil || *fid.OpenMode&proto.ModeWrite == 0 {
		return nil, protoerr.NewFidError("write", req.Fid, protoerr.CodePermission, "fid not opened for write")
	}

	components, err := namespace.SplitPath(fid.CanonicalPath, s.maxPathComponents)
	if err != nil {
		return nil, err
	}
	node, err := s.tree.Lookup(components)
	if err != nil {
		return nil, err
	}

	if err := access.Check(sess.role, sess.workerID, sess.gpuScope, fid.CanonicalPath, access.Write); err != nil {
		if isHostMountPath(fid.CanonicalPath) {
			s.controller.AuditHostWriteDenied(fid.CanonicalPath, sess.role.String())
		}
		return nil, err
	}

	if node.IsDir() {
		return nil, protoerr.NewPathError("write", fid.CanonicalPath, protoerr.CodePermission, "cannot write a directory")
	}
	f, isFile := node.(namespace.File)
	if !isFile || !f.Writable() {
		return nil, protoerr.NewPathError("write", fid.CanonicalPath, protoerr.CodePermission, "file is read-only")
	}

	_, isTelemetry := node.(*namespace.TelemetryFile)
	if isTelemetry {
		if v := sess.budgetState.ConsumeTick(); v == budget.Revoked {
			return nil, s.closedErr(sess)
		}
	}

	n, err := f.WriteAt(req.Offset, req.Data)
	if err != nil {
		return nil, err
	}
	if isTelemetry {
		s.metrics.AddTelemetryBytes(n)
	}

	if fid.CanonicalPath == "/queen/ctl" {
		procErr := s.controller.Process(req.Data, sess.mountTable)
		s.drainRevocations()
		if procErr != nil {
			return nil, procErr
		}
	}

	return proto.WriteResponse{Count: uint32(n)}, nil
}

func (s *Server) handleClunk(sess *Session, req proto.ClunkRequest) (proto.Body, error) {
	if _, ok := sess.fids[req.Fid]; !ok {
		return nil, protoerr.NewFidError("clunk", req.Fid, protoerr.CodeClosed, "fid not open")
	}
	delete(sess.fids, req.Fid)
	return proto.ClunkResponse{}, nil
}

// closedErr finalizes a budget-revocation verdict: it propagates the
// revoke to the control plane (removing the worker record and its GPU
// lease) and drains the resulting cross-session revocation events
// before reporting Closed to the caller.
func (s *Server) closedErr(sess *Session) error {
	reason := sess.budgetState.RevokedReason()
	if sess.role.IsWorker() && sess.workerID != "" {
		s.controller.RevokeWorkerBudget(sess.workerID, reason)
		s.drainRevocations()
	}
	return protoerr.NewError("dispatch", protoerr.CodeClosed, reason)
}

// drainRevocations applies every pending cross-session revocation to
// every live session bound to the named worker, so each fails its next
// request with Closed. Revoke is idempotent, so re-applying to the
// session that originated the revocation is harmless.
func (s *Server) drainRevocations() {
	for _, rev := range s.controller.DrainRevocations() {
		s.metrics.IncRevocations()
		for _, other := range s.sessions {
			if other.attached && other.workerID == rev.WorkerID {
				other.budgetState.Revoke(rev.Reason)
			}
		}
	}
}

// readableNode is satisfied by every namespace node, directories
// included: Dir only renders a listing and never accepts writes, so it
// does not implement namespace.File (no WriteAt), but it is still a
// valid Read target.
type readableNode interface {
	ReadAt(offset uint64, count uint32) ([]byte, error)
}

func requiresAppendMode(n namespace.Node) bool {
	switch n.(type) {
	case *namespace.AppendOnlyFile, *namespace.TelemetryFile, *namespace.TraceControlFile:
		return true
	default:
		return false
	}
}

func isHostMountPath(path string) bool {
	return path == "/host" || strings.HasPrefix(path, "/host/")
}

func splitUname(uname string) (label, identity string) {
	if i := strings.IndexByte(uname, ':'); i >= 0 {
		return uname[:i], uname[i+1:]
	}
	return uname, ""
}
