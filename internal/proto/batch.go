package proto

import "encoding/binary"

// RawFrame is a length-delimited slice pulled out of a batch buffer,
// still encoded as tag+body_tag+fields (the length prefix has already
// been consumed).
type RawFrame struct {
	Payload []byte
}

// SplitBatch splits a concatenated buffer of length-prefixed frames into
// their raw payloads. It yields frames until the buffer is exhausted or
// a malformed length is encountered, in which case the error return is
// non-nil and the caller must fail the whole batch. A single frame's
// body failing to decode is reported separately by DecodeFrame; the
// dispatcher fails the whole batch on that error too.
func SplitBatch(buf []byte) ([]RawFrame, error) {
	var frames []RawFrame
	pos := 0
	for pos < len(buf) {
		if pos+4 > len(buf) {
			return nil, newDecodeError("truncated batch: short length prefix")
		}
		n := binary.BigEndian.Uint32(buf[pos : pos+4])
		pos += 4
		if pos+int(n) > len(buf) {
			return nil, newDecodeError("malformed frame length")
		}
		frames = append(frames, RawFrame{Payload: buf[pos : pos+int(n)]})
		pos += int(n)
	}
	return frames, nil
}

// JoinBatch concatenates already-encoded frames (see EncodeFrame) into a
// single output buffer, preserving order.
func JoinBatch(frames [][]byte) []byte {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
