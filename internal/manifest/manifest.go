// Package manifest loads the YAML server configuration that bounds a
// NineDoor server: negotiated-size/window/quota defaults, the boot
// layout's optional subtrees, and the default heartbeat budget. It
// follows the shape of ehrlich-b-wingthing's internal/config.WingConfig
// (a yaml.v3-tagged struct loaded once at startup, optionally re-read
// on change), generalized from a CLI tool's user config to a server
// manifest.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cohesix/ninedoor/internal/budget"
)

// Manifest is the on-disk server configuration.
type Manifest struct {
	ProtocolVersion   string `yaml:"protocol_version,omitempty"`
	MaxMsize          uint32 `yaml:"max_msize,omitempty"`
	MaxPathComponents int    `yaml:"max_path_components,omitempty"`

	TagWindow  TagWindowConfig  `yaml:"tag_window,omitempty"`
	QueueDepth QueueDepthConfig `yaml:"queue_depth,omitempty"`

	DefaultHeartbeatBudget BudgetConfig `yaml:"default_heartbeat_budget,omitempty"`

	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Trace     TraceConfig     `yaml:"trace,omitempty"`

	Boot BootLayoutConfig `yaml:"boot,omitempty"`

	GpuNodes []GpuNodeConfig `yaml:"gpu_nodes,omitempty"`

	Cursor CursorConfig `yaml:"cursor,omitempty"`
}

// GpuNodeConfig declares one GPU node installed at boot as a lease
// target for gpu spawn commands.
type GpuNodeConfig struct {
	ID   string `yaml:"id"`
	Info string `yaml:"info,omitempty"`
}

// TagWindowConfig bounds the per-session in-flight tag set.
type TagWindowConfig struct {
	Capacity int `yaml:"capacity,omitempty"`
}

// QueueDepthConfig bounds the per-session in-flight request count.
type QueueDepthConfig struct {
	Limit int `yaml:"limit,omitempty"`
}

// BudgetConfig mirrors budget.Spec with YAML-friendly optional fields.
type BudgetConfig struct {
	Ticks *uint64 `yaml:"ticks,omitempty"`
	Ops   *uint64 `yaml:"ops,omitempty"`
	TTLS  *uint64 `yaml:"ttl_s,omitempty"`
}

// ToSpec converts a manifest budget entry into the runtime budget.Spec.
func (b BudgetConfig) ToSpec() budget.Spec {
	return budget.Spec{Ticks: b.Ticks, Ops: b.Ops, TTLS: b.TTLS}
}

// TelemetryConfig bounds the default telemetry ring per worker.
type TelemetryConfig struct {
	RingCapacityBytes int `yaml:"ring_capacity_bytes,omitempty"`
	QuotaBytes        int `yaml:"quota_bytes,omitempty"`
}

// TraceConfig bounds the trace sink's record ring and byte quotas.
type TraceConfig struct {
	MaxRecords int `yaml:"max_records,omitempty"`
	ByteQuota  int `yaml:"byte_quota,omitempty"`
	KmesgQuota int `yaml:"kmesg_quota,omitempty"`
}

// BootLayoutConfig toggles the optional subtrees namespace.Options
// exposes.
type BootLayoutConfig struct {
	WithPolicyDir  bool `yaml:"with_policy_dir,omitempty"`
	WithAuditDir   bool `yaml:"with_audit_dir,omitempty"`
	WithReplayDir  bool `yaml:"with_replay_dir,omitempty"`
	WithUpdatesDir bool `yaml:"with_updates_dir,omitempty"`
	WithModelsDir  bool `yaml:"with_models_dir,omitempty"`
}

// CursorConfig controls telemetry-snapshot persistence across restarts,
// backed by internal/manifeststore when enabled.
type CursorConfig struct {
	RetainOnBoot bool   `yaml:"retain_on_boot,omitempty"`
	StorePath    string `yaml:"store_path,omitempty"`
}

// Default returns the manifest used when no file is supplied: a
// zero-config fallback sized for a single-node development deployment.
func Default() Manifest {
	return Manifest{
		ProtocolVersion:   "9P2000.c",
		MaxMsize:          1 << 20,
		MaxPathComponents: 8,
		TagWindow:         TagWindowConfig{Capacity: 64},
		QueueDepth:        QueueDepthConfig{Limit: 128},
		Telemetry: TelemetryConfig{
			RingCapacityBytes: 64 * 1024,
			QuotaBytes:        4 * 1024 * 1024,
		},
		Trace: TraceConfig{
			MaxRecords: 4096,
			ByteQuota:  1 << 20,
			KmesgQuota: 1 << 20,
		},
	}
}

// Load reads and parses a manifest file, filling any zero-valued field
// left unset in the YAML with Default()'s value.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m := Default()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return m, nil
}
