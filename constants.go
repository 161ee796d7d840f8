package ninedoor

import "time"

// Protocol constants. MAX_MSIZE and the version string are compatibility
// contracts: changing either breaks wire compatibility with existing
// clients (cohsh and worker runtimes).
const (
	// ProtocolVersion is the fixed ASCII version string negotiated by
	// Version frames. Any other requested version is rejected with
	// CodeInvalid.
	ProtocolVersion = "9P2000.c"

	// MaxMsize is the hard ceiling on negotiated frame size. Version
	// negotiation returns min(requested, MaxMsize).
	MaxMsize = 1 << 20 // 1 MiB

	// MaxPathComponents bounds namespace path depth.
	MaxPathComponents = 8

	// DefaultTagWindowCapacity is the default number of distinct
	// in-flight tags a session may hold concurrently.
	DefaultTagWindowCapacity = 64

	// DefaultQueueDepthLimit is the default ceiling on in-flight
	// requests per session before Busy is returned.
	DefaultQueueDepthLimit = 128

	// DefaultTelemetryRingSize is the default byte capacity of a
	// worker's telemetry ring.
	DefaultTelemetryRingSize = 64 * 1024

	// DefaultTelemetryQuota bounds the cumulative bytes a single
	// telemetry file will accept before TooBig.
	DefaultTelemetryQuota = 4 * 1024 * 1024

	// DefaultTraceRingRecords bounds the number of retained trace
	// events in the sink's single event ring.
	DefaultTraceRingRecords = 4096

	// DefaultTraceByteQuota bounds the rendered bytes of retained trace
	// events.
	DefaultTraceByteQuota = 1 << 20
)

// Budget-axis sentinel: an unbounded axis is represented as a nil pointer
// at the data-model layer; this constant is only used for display.
const Unbounded = "unbounded"

// DefaultAttachTimeout is a resource-hygiene value for unattached
// sessions, not part of the wire protocol. Neither the dispatcher nor the
// transports read it, so idle unattached sessions are not torn down.
const DefaultAttachTimeout = 30 * time.Second
