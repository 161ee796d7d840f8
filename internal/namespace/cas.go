package namespace

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
)

// CasStore is an in-memory content-addressed store of
// manifest/chunk/model entries addressed by digest. The tree does not
// mount it: /models is created as an empty directory. Content is
// immutable once registered: there is no update, only Register under a
// new epoch or digest.
type CasStore struct {
	mu       sync.RWMutex
	manifest map[int][]string // epoch -> digests registered in that epoch
	chunks   map[string][]byte
	models   map[string]casModelEntry
}

type casModelEntry struct {
	Kind string
	Data []byte
}

func NewCasStore() *CasStore {
	return &CasStore{
		manifest: make(map[int][]string),
		chunks:   make(map[string][]byte),
		models:   make(map[string]casModelEntry),
	}
}

// RegisterChunk adds an immutable chunk payload under digest, recording
// it in the given epoch's manifest.
func (s *CasStore) RegisterChunk(epoch int, digest string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[digest] = data
	s.manifest[epoch] = append(s.manifest[epoch], digest)
}

// RegisterModel adds an immutable model payload under digest.
func (s *CasStore) RegisterModel(epoch int, digest, kind string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[digest] = casModelEntry{Kind: kind, Data: data}
	s.manifest[epoch] = append(s.manifest[epoch], digest)
}

func (s *CasStore) manifestJSON(epoch int) []byte {
	s.mu.RLock()
	digests := append([]string(nil), s.manifest[epoch]...)
	s.mu.RUnlock()
	sort.Strings(digests)
	out, _ := json.Marshal(struct {
		Epoch   int      `json:"epoch"`
		Digests []string `json:"digests"`
	}{Epoch: epoch, Digests: digests})
	return out
}

// CasManifestFile renders the registered digests for one epoch as a
// read-only JSON document, computed fresh on every read.
type CasManifestFile struct {
	qid   proto.Qid
	store *CasStore
	epoch int
}

func NewCasManifestFile(components []string, store *CasStore, epoch int) *CasManifestFile {
	return &CasManifestFile{qid: QidFor(proto.QidFile, components), store: store, epoch: epoch}
}

func (f *CasManifestFile) Qid() proto.Qid { return f.qid }
func (f *CasManifestFile) IsDir() bool    { return false }
func (f *CasManifestFile) Writable() bool { return false }
func (f *CasManifestFile) Len() int       { return len(f.store.manifestJSON(f.epoch)) }
func (f *CasManifestFile) ReadAt(offset uint64, count uint32) ([]byte, error) {
	return sliceAt(f.store.manifestJSON(f.epoch), offset, count)
}
func (f *CasManifestFile) WriteAt(uint64, []byte) (int, error) {
	return 0, protoerr.NewError("write", protoerr.CodePermission, "cas manifest is read-only")
}

// CasChunkFile and CasModelFile are both immutable payloads looked up
// by digest at construction time; they share ReadOnlyFile's semantics
// exactly, so they are thin named wrappers rather than a reimplementation.

type CasChunkFile struct{ *ReadOnlyFile }

func NewCasChunkFile(components []string, store *CasStore, digest string) (*CasChunkFile, error) {
	store.mu.RLock()
	data, ok := store.chunks[digest]
	store.mu.RUnlock()
	if !ok {
		return nil, protoerr.NewError("lookup", protoerr.CodeNotFound, "no such chunk: "+digest)
	}
	return &CasChunkFile{ReadOnlyFile: NewReadOnlyFile(components, data)}, nil
}

type CasModelFile struct {
	*ReadOnlyFile
	Kind string
}

func NewCasModelFile(components []string, store *CasStore, digest string) (*CasModelFile, error) {
	store.mu.RLock()
	entry, ok := store.models[digest]
	store.mu.RUnlock()
	if !ok {
		return nil, protoerr.NewError("lookup", protoerr.CodeNotFound, "no such model: "+digest)
	}
	return &CasModelFile{ReadOnlyFile: NewReadOnlyFile(components, entry.Data), Kind: entry.Kind}, nil
}
