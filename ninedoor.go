package ninedoor

import (
	"context"
	"fmt"

	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/controlplane"
	"github.com/cohesix/ninedoor/internal/dispatcher"
	"github.com/cohesix/ninedoor/internal/manifest"
	"github.com/cohesix/ninedoor/internal/model"
	"github.com/cohesix/ninedoor/internal/namespace"
	"github.com/cohesix/ninedoor/internal/ticket"
	"github.com/cohesix/ninedoor/internal/trace"
	"github.com/cohesix/ninedoor/internal/transport"
)

// Server is the assembled NineDoor server: namespace tree, control
// plane, trace sink, ticket keys, and the dispatcher that binds them to
// sessions, plus the metrics any transport records through. One struct
// wiring together the pieces a bare constructor function would
// otherwise have to build inline.
type Server struct {
	Tree       *namespace.Tree
	Controller *controlplane.Controller
	TraceSink  *trace.Sink
	TicketKeys *ticket.KeyStore
	Metrics    *Metrics

	dispatcher *dispatcher.Server
}

// Options configures New. Ticket keys are registered by the caller
// before construction (a server with no keys registered simply refuses
// every ticket it is shown, which is a safe default, not a panic).
type Options struct {
	Manifest   manifest.Manifest
	TicketKeys *ticket.KeyStore
	HostMount  namespace.HostMountSource
	Selftests  []namespace.SelftestFixture
}

// New assembles a Server from a manifest, wiring the namespace tree,
// trace sink, control plane, and dispatcher together as one direct
// construction, since NineDoor has no kernel-side control device to
// open before the rest of the server can exist.
func New(opts Options) *Server {
	m := opts.Manifest

	traceSink := trace.NewSink(trace.Options{
		MaxRecords: m.Trace.MaxRecords,
		ByteQuota:  m.Trace.ByteQuota,
		KmesgQuota: m.Trace.KmesgQuota,
	})

	tree := namespace.New(namespace.Options{
		Selftests: opts.Selftests,
		HostMount: opts.HostMount,
		TraceSink: traceSink,
		TelemetryAudit: func(worker string, bytesRead int) {
			traceSink.Record(trace.LevelDebug, "telemetry", worker, fmt.Sprintf("read %d bytes", bytesRead))
		},
		TelemetryCapacity: m.Telemetry.RingCapacityBytes,
		TelemetryQuota:    m.Telemetry.QuotaBytes,
		WithPolicyDir:     m.Boot.WithPolicyDir,
		WithAuditDir:      m.Boot.WithAuditDir,
		WithReplayDir:     m.Boot.WithReplayDir,
		WithUpdatesDir:    m.Boot.WithUpdatesDir,
		WithModelsDir:     m.Boot.WithModelsDir,
	})

	defaultBudget := m.DefaultHeartbeatBudget.ToSpec()
	if defaultBudget == (budget.Spec{}) {
		defaultBudget = budget.Unbounded()
	}
	controller := controlplane.New(tree, traceSink, defaultBudget)

	for _, g := range m.GpuNodes {
		tree.InstallGpuNode(g.ID, []byte(g.Info))
		controller.RegisterGpuNode(g.ID)
	}

	ticketKeys := opts.TicketKeys
	if ticketKeys == nil {
		ticketKeys = ticket.NewKeyStore()
	}

	metrics := NewMetrics()

	d := dispatcher.New(tree, controller, traceSink, ticketKeys, dispatcher.Options{
		ProtocolVersion:   m.ProtocolVersion,
		MaxMsize:          m.MaxMsize,
		MaxPathComponents: m.MaxPathComponents,
		TagWindowCapacity: m.TagWindow.Capacity,
		QueueDepthLimit:   m.QueueDepth.Limit,
		Metrics:           metrics,
	})

	return &Server{
		Tree:       tree,
		Controller: controller,
		TraceSink:  traceSink,
		TicketKeys: ticketKeys,
		Metrics:    metrics,
		dispatcher: d,
	}
}

// RegisterGpuNode installs the /gpu/<id>/{info,status,ctl,job} subtree
// and marks the id as a valid lease target, the pair of steps a GPU
// spawn command needs before it can succeed. info is the payload served
// by /gpu/<id>/info.
func (s *Server) RegisterGpuNode(gpuID string, info []byte) {
	s.Tree.InstallGpuNode(gpuID, info)
	s.Controller.RegisterGpuNode(gpuID)
}

// RegisterService forwards to the control plane, kept on Server so
// callers assembling a boot-time topology don't need to reach into
// Server.Controller directly.
func (s *Server) RegisterService(name, path string) { s.Controller.RegisterService(name, path) }

// RegisterTicketKey binds a signing key to a role, delegating to the
// server's key store.
func (s *Server) RegisterTicketKey(role model.Role, key []byte) {
	s.TicketKeys.Register(role, key)
}

// Dispatcher exposes the underlying dispatcher for transports, without
// widening Server's own method set to every dispatch operation.
func (s *Server) Dispatcher() *dispatcher.Server { return s.dispatcher }

// Serve runs the server's dispatcher against every connection l
// accepts until ctx is cancelled, a thin wrapper around
// transport.Serve that exists so callers never need to import
// internal/dispatcher or internal/transport themselves.
func Serve(ctx context.Context, l transport.Listener, s *Server) error {
	return transport.Serve(ctx, l, s.dispatcher)
}

// NewFromManifestFile loads a manifest file and assembles a Server from
// it, the common case for cmd/ninedoor-serve.
func NewFromManifestFile(path string, opts Options) (*Server, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, fmt.Errorf("ninedoor: %w", err)
	}
	opts.Manifest = m
	return New(opts), nil
}
