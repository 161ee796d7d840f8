package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFiltersByConfiguredLevel(t *testing.T) {
	s := NewSink(DefaultOptions())
	s.Record(LevelInfo, "worker", "worker-1", "spawned")
	require.NoError(t, s.Configure("SET worker warn"))
	s.Record(LevelInfo, "worker", "worker-1", "should be dropped")
	s.Record(LevelWarn, "worker", "worker-1", "should survive")

	rendered := string(s.Render())
	assert.Contains(t, rendered, "spawned")
	assert.NotContains(t, rendered, "should be dropped")
	assert.Contains(t, rendered, "should survive")
}

func TestConfigureRejectsMalformedLines(t *testing.T) {
	s := NewSink(DefaultOptions())
	err := s.Configure("SET worker")
	assert.Error(t, err)

	err = s.Configure("SET worker bogus-level")
	assert.Error(t, err)

	err = s.Configure("SET worker warn\nSET queen debug")
	assert.NoError(t, err)
}

func TestTaskTraceScopesToWorker(t *testing.T) {
	s := NewSink(DefaultOptions())
	s.Record(LevelInfo, "worker", "worker-1", "a")
	s.Record(LevelInfo, "worker", "worker-2", "b")
	s.Record(LevelInfo, "worker", "worker-1", "c")

	got := string(s.TaskTrace("worker-1"))
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "c")
	assert.NotContains(t, got, "b")
}

func TestKernelMessagesOnlyAcceptsKernelCategories(t *testing.T) {
	s := NewSink(DefaultOptions())
	s.Record(LevelInfo, "boot", "", "booted")
	s.Record(LevelInfo, "policy", "", "denied write")

	kmesg := string(s.KernelMessages())
	assert.Contains(t, kmesg, "booted")
	assert.NotContains(t, kmesg, "denied write")
}

func TestEventRingBoundedByMaxRecords(t *testing.T) {
	s := NewSink(Options{MaxRecords: 2, ByteQuota: 1 << 20, KmesgQuota: 1 << 20})
	s.Record(LevelInfo, "queen", "", "one")
	s.Record(LevelInfo, "queen", "", "two")
	s.Record(LevelInfo, "queen", "", "three")

	rendered := string(s.Render())
	assert.NotContains(t, rendered, "one")
	assert.Contains(t, rendered, "two")
	assert.Contains(t, rendered, "three")
}
