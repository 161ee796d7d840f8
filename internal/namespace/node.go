package namespace

import (
	"fmt"
	"sync"

	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
)

// Node is the common interface for every namespace entry.
type Node interface {
	Qid() proto.Qid
	IsDir() bool
}

// File is implemented by every non-directory node. ReadAt/WriteAt
// operate in terms of already access-checked, already open-mode-checked
// calls; the dispatcher is responsible for policy, the node only
// enforces its own structural semantics (append offsets, quotas).
type File interface {
	Node
	ReadAt(offset uint64, count uint32) ([]byte, error)
	// WriteAt appends data at offset (which must be AppendOffset or the
	// current length) and returns the number of bytes written.
	WriteAt(offset uint64, data []byte) (int, error)
	// Writable reports whether this node ever accepts writes,
	// independent of the caller's open mode.
	Writable() bool
	// Len reports the current byte length (used for offset==len checks
	// and directory rendering).
	Len() int
}

// --- Directory ---

// Dir is an ordered map from child name to Node, preserving insertion
// order for listing.
type Dir struct {
	mu       sync.RWMutex
	qid      proto.Qid
	names    []string
	children map[string]Node
}

func NewDir(components []string) *Dir {
	return &Dir{
		qid:      QidFor(proto.QidDirectory, components),
		children: make(map[string]Node),
	}
}

func (d *Dir) Qid() proto.Qid { return d.qid }
func (d *Dir) IsDir() bool    { return true }

// Add inserts or replaces a child, appending to the ordering only on
// first insertion.
func (d *Dir) Add(name string, n Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; !exists {
		d.names = append(d.names, name)
	}
	d.children[name] = n
}

// Remove deletes a child by name, if present.
func (d *Dir) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; !exists {
		return
	}
	delete(d.children, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
}

// Get looks up a child by name.
func (d *Dir) Get(name string) (Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.children[name]
	return n, ok
}

// Names returns the child names in insertion order (a fresh copy; safe
// for the caller to hold onto).
func (d *Dir) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Render produces the flat newline-terminated listing buffer. It is a
// pure function of the current child ordering and is never cached.
func (d *Dir) Render() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf []byte
	for _, n := range d.names {
		buf = append(buf, n...)
		buf = append(buf, '\n')
	}
	return buf
}

// ReadAt on a directory slices its rendered listing.
func (d *Dir) ReadAt(offset uint64, count uint32) ([]byte, error) {
	buf := d.Render()
	return sliceAt(buf, offset, count)
}

func (d *Dir) Writable() bool { return false }
func (d *Dir) Len() int       { return len(d.Render()) }

func sliceAt(buf []byte, offset uint64, count uint32) ([]byte, error) {
	if offset > uint64(len(buf)) {
		return nil, protoerr.NewError("read", protoerr.CodeInvalid, "offset beyond end of file")
	}
	end := offset + uint64(count)
	if end > uint64(len(buf)) {
		end = uint64(len(buf))
	}
	return buf[offset:end], nil
}

// --- ReadOnly ---

type ReadOnlyFile struct {
	qid  proto.Qid
	data []byte
}

func NewReadOnlyFile(components []string, data []byte) *ReadOnlyFile {
	return &ReadOnlyFile{qid: QidFor(proto.QidFile, components), data: data}
}

func (f *ReadOnlyFile) Qid() proto.Qid  { return f.qid }
func (f *ReadOnlyFile) IsDir() bool     { return false }
func (f *ReadOnlyFile) Writable() bool  { return false }
func (f *ReadOnlyFile) Len() int        { return len(f.data) }
func (f *ReadOnlyFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	return sliceAt(f.data, offset, count)
}
func (f *ReadOnlyFile) WriteAt(uint64, []byte) (int, error) {
	return 0, protoerr.NewError("write", protoerr.CodePermission, "file is read-only")
}

// --- AppendOnly ---

type AppendOnlyFile struct {
	mu   sync.Mutex
	qid  proto.Qid
	data []byte
}

func NewAppendOnlyFile(components []string) *AppendOnlyFile {
	return &AppendOnlyFile{qid: QidFor(proto.QidAppendOnly, components)}
}

func (f *AppendOnlyFile) Qid() proto.Qid { return f.qid }
func (f *AppendOnlyFile) IsDir() bool    { return false }
func (f *AppendOnlyFile) Writable() bool { return true }

func (f *AppendOnlyFile) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func (f *AppendOnlyFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sliceAt(f.data, offset, count)
}

// WriteAt enforces the append-only offset contract: offset must be
// AppendOffset (u64::MAX) or exactly the current length.
func (f *AppendOnlyFile) WriteAt(offset uint64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset != proto.AppendOffset && offset != uint64(len(f.data)) {
		return 0, protoerr.NewError("write", protoerr.CodeInvalid, "append-only write requires offset==len or offset==u64::MAX")
	}
	before := len(f.data)
	f.data = append(f.data, data...)
	wrote := len(f.data) - before
	if wrote != len(data) {
		return wrote, protoerr.NewError("write", protoerr.CodeInvalid,
			fmt.Sprintf("partial append: expected %d / wrote %d", len(data), wrote))
	}
	return wrote, nil
}

// Snapshot returns a copy of the current contents (used by tests and by
// control-plane code that needs to inspect /log/queen.log).
func (f *AppendOnlyFile) Snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}
