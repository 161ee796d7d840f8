package namespace

import (
	"sort"
	"strings"

	"github.com/cohesix/ninedoor/internal/protoerr"
)

// mountEntry is one binding in a per-session mount table.
type mountEntry struct {
	from string // view-side prefix, canonical ("/a/b")
	to   string // target canonical path it resolves to
}

// MountTable resolves a per-session view path against its bindings:
// sorted by descending mount depth (component count), longest-prefix
// match wins, no match returns the input path unchanged.
type MountTable struct {
	entries []mountEntry
}

func NewMountTable() *MountTable {
	return &MountTable{}
}

// Bind registers a mount: every view path under from resolves through
// to to instead. Binding an empty mount point fails with Invalid.
func (t *MountTable) Bind(from, to string) error {
	if from == "" {
		return protoerr.NewError("bind", protoerr.CodeInvalid, "mount point must not be empty")
	}
	from = strings.TrimSuffix(from, "/")
	to = strings.TrimSuffix(to, "/")
	t.entries = append(t.entries, mountEntry{from: from, to: to})
	sort.SliceStable(t.entries, func(i, j int) bool {
		return depth(t.entries[i].from) > depth(t.entries[j].from)
	})
	return nil
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/")
}

// Resolve returns the canonical path viewPath maps to: the longest
// registered mount prefix is replaced by its target, or viewPath is
// returned unchanged if nothing matches.
func (t *MountTable) Resolve(viewPath string) string {
	for _, e := range t.entries {
		if viewPath == e.from {
			return e.to
		}
		if strings.HasPrefix(viewPath, e.from+"/") {
			return e.to + strings.TrimPrefix(viewPath, e.from)
		}
	}
	return viewPath
}
