// Package proto implements the NineDoor wire codec: length-prefixed
// frames carrying a tag and a tagged-variant body.
//
// Wire layout (bit-for-bit, a compatibility contract):
//
//	Frame:  u32 length (big-endian) || body-bytes
//	body:   u16 tag || u8 body_tag || body_fields
//	String: u16 len || len bytes (UTF-8)
//
// Fields are packed with explicit binary.ByteOrder calls rather than
// reflection or a serialization library, fixed-width where the wire
// layout is fixed-width and length-prefixed where it isn't.
package proto

import (
	"encoding/binary"
	"fmt"
)

// BodyTag identifies the variant carried by a frame body.
type BodyTag uint8

const (
	TagVersion BodyTag = 1
	TagAttach  BodyTag = 2
	TagWalk    BodyTag = 3
	TagOpen    BodyTag = 4
	TagRead    BodyTag = 5
	TagWrite   BodyTag = 6
	TagClunk   BodyTag = 7
	TagError   BodyTag = 8
)

func (t BodyTag) String() string {
	switch t {
	case TagVersion:
		return "Version"
	case TagAttach:
		return "Attach"
	case TagWalk:
		return "Walk"
	case TagOpen:
		return "Open"
	case TagRead:
		return "Read"
	case TagWrite:
		return "Write"
	case TagClunk:
		return "Clunk"
	case TagError:
		return "Error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// WireCode is the u16 wire encoding of the error taxonomy.
type WireCode uint16

const (
	WireInvalid    WireCode = 1
	WireNotFound   WireCode = 2
	WirePermission WireCode = 3
	WireBusy       WireCode = 4
	WireClosed     WireCode = 5
	WireTooBig     WireCode = 6
)

// QidType distinguishes the three namespace node kinds.
type QidType uint8

const (
	QidDirectory QidType = iota
	QidFile
	QidAppendOnly
)

// Qid is the stable per-path identity triple.
type Qid struct {
	Type    QidType
	Version uint32
	Path    uint64
}

func (q Qid) marshal(buf []byte) []byte {
	buf = append(buf, byte(q.Type))
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], q.Version)
	buf = append(buf, v[:]...)
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], q.Path)
	buf = append(buf, p[:]...)
	return buf
}

func unmarshalQid(r *reader) (Qid, error) {
	typ, err := r.byte()
	if err != nil {
		return Qid{}, err
	}
	ver, err := r.u32()
	if err != nil {
		return Qid{}, err
	}
	path, err := r.u64()
	if err != nil {
		return Qid{}, err
	}
	return Qid{Type: QidType(typ), Version: ver, Path: path}, nil
}

// OpenMode bits. Append-only nodes require WRITE|APPEND.
type OpenMode uint8

const (
	ModeRead   OpenMode = 0x01
	ModeWrite  OpenMode = 0x02
	ModeAppend OpenMode = 0x04
)

// MaxStringLen bounds a single wire string; anything larger is malformed.
const MaxStringLen = 1 << 16

// Frame is a decoded tag + body pair, direction-agnostic.
type Frame struct {
	Tag  uint16
	Body Body
}

// Body is implemented by every request and response variant.
type Body interface {
	bodyTag() BodyTag
	marshal() []byte
}

// --- Request bodies ---

type VersionRequest struct {
	Msize   uint32
	Version string
}

func (VersionRequest) bodyTag() BodyTag { return TagVersion }
func (v VersionRequest) marshal() []byte {
	buf := make([]byte, 0, 8+len(v.Version))
	buf = appendU32(buf, v.Msize)
	buf = appendString(buf, v.Version)
	return buf
}

type AttachRequest struct {
	Fid    uint32
	Uname  string
	Aname  string
	Ticket []byte // empty means no ticket presented
}

func (AttachRequest) bodyTag() BodyTag { return TagAttach }
func (a AttachRequest) marshal() []byte {
	buf := make([]byte, 0, 16+len(a.Uname)+len(a.Aname)+len(a.Ticket))
	buf = appendU32(buf, a.Fid)
	buf = appendString(buf, a.Uname)
	buf = appendString(buf, a.Aname)
	buf = appendBytes(buf, a.Ticket)
	return buf
}

type WalkRequest struct {
	Fid    uint32
	Newfid uint32
	Wnames []string
}

func (WalkRequest) bodyTag() BodyTag { return TagWalk }
func (w WalkRequest) marshal() []byte {
	buf := make([]byte, 0, 16)
	buf = appendU32(buf, w.Fid)
	buf = appendU32(buf, w.Newfid)
	buf = appendU16(buf, uint16(len(w.Wnames)))
	for _, n := range w.Wnames {
		buf = appendString(buf, n)
	}
	return buf
}

type OpenRequest struct {
	Fid  uint32
	Mode OpenMode
}

func (OpenRequest) bodyTag() BodyTag { return TagOpen }
func (o OpenRequest) marshal() []byte {
	buf := make([]byte, 0, 5)
	buf = appendU32(buf, o.Fid)
	buf = append(buf, byte(o.Mode))
	return buf
}

type ReadRequest struct {
	Fid    uint32
	Offset uint64
	Count  uint32
}

func (ReadRequest) bodyTag() BodyTag { return TagRead }
func (r ReadRequest) marshal() []byte {
	buf := make([]byte, 0, 16)
	buf = appendU32(buf, r.Fid)
	buf = appendU64(buf, r.Offset)
	buf = appendU32(buf, r.Count)
	return buf
}

// AppendOffset is the sentinel offset requesting "append at end".
const AppendOffset = ^uint64(0)

type WriteRequest struct {
	Fid    uint32
	Offset uint64
	Data   []byte
}

func (WriteRequest) bodyTag() BodyTag { return TagWrite }
func (w WriteRequest) marshal() []byte {
	buf := make([]byte, 0, 16+len(w.Data))
	buf = appendU32(buf, w.Fid)
	buf = appendU64(buf, w.Offset)
	buf = appendBytes(buf, w.Data)
	return buf
}

type ClunkRequest struct {
	Fid uint32
}

func (ClunkRequest) bodyTag() BodyTag { return TagClunk }
func (c ClunkRequest) marshal() []byte {
	return appendU32(nil, c.Fid)
}

// --- Response bodies ---

type VersionResponse struct {
	Msize   uint32
	Version string
}

func (VersionResponse) bodyTag() BodyTag { return TagVersion }
func (v VersionResponse) marshal() []byte {
	buf := make([]byte, 0, 8+len(v.Version))
	buf = appendU32(buf, v.Msize)
	buf = appendString(buf, v.Version)
	return buf
}

type AttachResponse struct {
	Qid Qid
}

func (AttachResponse) bodyTag() BodyTag { return TagAttach }
func (a AttachResponse) marshal() []byte {
	return a.Qid.marshal(nil)
}

// WalkResponse carries one Qid per successfully resolved path component,
// allowing partial-walk detection the way a real 9P peer expects.
type WalkResponse struct {
	Qids []Qid
}

func (WalkResponse) bodyTag() BodyTag { return TagWalk }
func (w WalkResponse) marshal() []byte {
	buf := appendU16(nil, uint16(len(w.Qids)))
	for _, q := range w.Qids {
		buf = q.marshal(buf)
	}
	return buf
}

type OpenResponse struct {
	Qid Qid
}

func (OpenResponse) bodyTag() BodyTag { return TagOpen }
func (o OpenResponse) marshal() []byte {
	return o.Qid.marshal(nil)
}

type ReadResponse struct {
	Data []byte
}

func (ReadResponse) bodyTag() BodyTag { return TagRead }
func (r ReadResponse) marshal() []byte {
	return appendBytes(nil, r.Data)
}

type WriteResponse struct {
	Count uint32
}

func (WriteResponse) bodyTag() BodyTag { return TagWrite }
func (w WriteResponse) marshal() []byte {
	return appendU32(nil, w.Count)
}

type ClunkResponse struct{}

func (ClunkResponse) bodyTag() BodyTag { return TagClunk }
func (ClunkResponse) marshal() []byte  { return nil }

type ErrorResponse struct {
	Code    WireCode
	Message string
}

func (ErrorResponse) bodyTag() BodyTag { return TagError }
func (e ErrorResponse) marshal() []byte {
	buf := appendU16(nil, uint16(e.Code))
	buf = appendString(buf, e.Message)
	return buf
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendU16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendU32(buf, uint32(len(b)))
	return append(buf, b...)
}
