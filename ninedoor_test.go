package ninedoor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cohesix/ninedoor/internal/manifest"
	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/transport"
)

func decodeBatch(t *testing.T, batch []byte) []proto.Frame {
	t.Helper()
	raws, err := proto.SplitBatch(batch)
	require.NoError(t, err)
	out := make([]proto.Frame, len(raws))
	for i, raw := range raws {
		f, err := proto.DecodeFrame(raw.Payload)
		require.NoError(t, err)
		out[i] = f
	}
	return out
}

// A queen client negotiates, attaches with no ticket, walks to
// /log/queen.log, and reads back the boot banner through the assembled
// server and the in-process transport.
func TestServe_QueenTailsBootBanner(t *testing.T) {
	srv := New(Options{Manifest: manifest.Default()})

	ln := transport.NewInProcessListener()
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = Serve(ctx, ln, srv) }()

	conn, err := ln.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	batch := proto.JoinBatch([][]byte{
		proto.EncodeFrame(1, proto.VersionRequest{Msize: 65536, Version: "9P2000.c"}),
		proto.EncodeFrame(2, proto.AttachRequest{Fid: 1, Uname: "queen"}),
	})
	require.NoError(t, conn.WriteBatch(ctx, batch))
	out, err := conn.ReadBatch(ctx)
	require.NoError(t, err)
	frames := decodeBatch(t, out)
	require.Len(t, frames, 2)
	version, ok := frames[0].Body.(proto.VersionResponse)
	require.True(t, ok, "expected a version response, got %T", frames[0].Body)
	require.Equal(t, uint32(65536), version.Msize)
	require.IsType(t, proto.AttachResponse{}, frames[1].Body)

	batch = proto.JoinBatch([][]byte{
		proto.EncodeFrame(1, proto.WalkRequest{Fid: 1, Newfid: 2, Wnames: []string{"log", "queen.log"}}),
		proto.EncodeFrame(2, proto.OpenRequest{Fid: 2, Mode: proto.ModeRead}),
		proto.EncodeFrame(3, proto.ReadRequest{Fid: 2, Offset: 0, Count: 4096}),
	})
	require.NoError(t, conn.WriteBatch(ctx, batch))
	out, err = conn.ReadBatch(ctx)
	require.NoError(t, err)
	frames = decodeBatch(t, out)
	require.Len(t, frames, 3)
	require.IsType(t, proto.WalkResponse{}, frames[0].Body)
	require.IsType(t, proto.OpenResponse{}, frames[1].Body)
	read, ok := frames[2].Body.(proto.ReadResponse)
	require.True(t, ok, "expected a read response, got %T", frames[2].Body)
	require.Contains(t, string(read.Data), "Cohesix boot: root-task online")

	require.GreaterOrEqual(t, srv.Metrics.Snapshot().Ops, uint64(5))
}

// A manifest-declared GPU node is installed at construction, so a gpu
// spawn command issued through the assembled server succeeds end to end.
func TestNew_ManifestGpuNodeEnablesGpuSpawn(t *testing.T) {
	m := manifest.Default()
	m.GpuNodes = []manifest.GpuNodeConfig{{ID: "gpu0", Info: "nvidia a100"}}
	srv := New(Options{Manifest: m})

	d := srv.Dispatcher()
	sid := d.NewSession()

	dispatch := func(bodies ...proto.Body) []proto.Frame {
		t.Helper()
		frames := make([][]byte, len(bodies))
		for i, b := range bodies {
			frames[i] = proto.EncodeFrame(uint16(i+1), b)
		}
		out, err := d.Dispatch(sid, proto.JoinBatch(frames))
		require.NoError(t, err)
		return decodeBatch(t, out)
	}

	resp := dispatch(
		proto.VersionRequest{Msize: 65536, Version: "9P2000.c"},
		proto.AttachRequest{Fid: 0, Uname: "queen"},
	)
	require.IsType(t, proto.AttachResponse{}, resp[1].Body)

	resp = dispatch(proto.WalkRequest{Fid: 0, Newfid: 1, Wnames: []string{"queen", "ctl"}})
	require.IsType(t, proto.WalkResponse{}, resp[0].Body)
	resp = dispatch(proto.OpenRequest{Fid: 1, Mode: proto.ModeWrite | proto.ModeAppend})
	require.IsType(t, proto.OpenResponse{}, resp[0].Body)

	resp = dispatch(proto.WriteRequest{
		Fid:    1,
		Offset: proto.AppendOffset,
		Data:   []byte(`{"spawn":"gpu","lease":{"gpu_id":"gpu0","mem_mb":512,"streams":2,"ttl_s":60}}` + "\n"),
	})
	require.IsType(t, proto.WriteResponse{}, resp[0].Body)

	_, err := srv.Tree.Lookup([]string{"worker", "worker-1", "telemetry"})
	require.NoError(t, err)
	ctlFile, err := srv.Tree.GpuCtl("gpu0")
	require.NoError(t, err)
	data, err := ctlFile.ReadAt(0, 1024)
	require.NoError(t, err)
	require.Contains(t, string(data), "LEASE worker-1 mem=512 streams=2")
}
