package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Body{
		VersionRequest{Msize: 65536, Version: "9P2000.c"},
		VersionResponse{Msize: 65536, Version: "9P2000.c"},
		AttachRequest{Fid: 1, Uname: "queen", Aname: ""},
		AttachRequest{Fid: 2, Uname: "worker-heartbeat", Aname: "", Ticket: []byte("tok")},
		AttachResponse{Qid: Qid{Type: QidDirectory, Version: 1, Path: 42}},
		WalkRequest{Fid: 1, Newfid: 2, Wnames: []string{"log", "queen.log"}},
		WalkResponse{Qids: []Qid{{Type: QidDirectory, Path: 1}, {Type: QidAppendOnly, Path: 2}}},
		OpenRequest{Fid: 2, Mode: ModeRead},
		OpenResponse{Qid: Qid{Type: QidFile, Path: 7}},
		ReadRequest{Fid: 2, Offset: 0, Count: 4096},
		ReadResponse{Data: []byte("hello")},
		WriteRequest{Fid: 2, Offset: AppendOffset, Data: []byte("heartbeat 1\n")},
		WriteResponse{Count: 12},
		ClunkRequest{Fid: 2},
		ClunkResponse{},
		ErrorResponse{Code: WireBusy, Message: "queue depth exceeded"},
	}

	for _, body := range cases {
		encoded := EncodeFrame(7, body)
		// strip the 4-byte length prefix the way SplitBatch would.
		raws, err := SplitBatch(encoded)
		require.NoError(t, err)
		require.Len(t, raws, 1)

		frame, err := DecodeFrame(raws[0].Payload)
		require.NoError(t, err)
		require.Equal(t, uint16(7), frame.Tag)
		require.Equal(t, body, frame.Body)
	}
}

func TestSplitBatchMultipleFrames(t *testing.T) {
	f1 := EncodeFrame(1, ClunkRequest{Fid: 1})
	f2 := EncodeFrame(2, ClunkRequest{Fid: 2})
	buf := JoinBatch([][]byte{f1, f2})

	raws, err := SplitBatch(buf)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	f1d, err := DecodeFrame(raws[0].Payload)
	require.NoError(t, err)
	require.Equal(t, uint16(1), f1d.Tag)

	f2d, err := DecodeFrame(raws[1].Payload)
	require.NoError(t, err)
	require.Equal(t, uint16(2), f2d.Tag)
}

func TestSplitBatchMalformedLength(t *testing.T) {
	buf := []byte{0, 0, 0, 100, 1, 2, 3} // claims 100 bytes, has 3
	_, err := SplitBatch(buf)
	require.Error(t, err)
}

func TestDecodeUnknownBodyTag(t *testing.T) {
	payload := []byte{0, 1, 99} // tag=1, body_tag=99 (unknown)
	_, err := DecodeFrame(payload)
	require.Error(t, err)
	require.True(t, IsDecodeError(err))
}

func TestDecodeStringWithNUL(t *testing.T) {
	// Attach with a Uname containing a NUL byte must fail.
	raw := []byte{0, 1, byte(TagAttach)}
	raw = appendU32(raw, 1)
	raw = appendString(raw, "bad\x00name")
	raw = appendString(raw, "")
	raw = appendBytes(raw, nil)
	_, err := DecodeFrame(raw)
	require.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := DecodeFrame([]byte{0, 1})
	require.Error(t, err)
}
