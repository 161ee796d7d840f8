// Package namespace implements the synthetic file tree NineDoor exposes
// to clients: directories, read-only/append-only/telemetry files, and
// the trace/CAS delegate nodes. Append offset rules, directory
// rendering, and Qid hashing follow small typed structs with
// constructors, compile-time interface assertions, and pure helper
// functions for path handling.
package namespace

import (
	"hash/fnv"
	"strings"

	"github.com/cohesix/ninedoor/internal/proto"
	"github.com/cohesix/ninedoor/internal/protoerr"
)

// SplitPath validates and splits an absolute path into components,
// collapsing empty components (repeated, leading or trailing slashes) and
// rejecting ".", "..", embedded NUL bytes, and paths deeper than
// maxComponents.
func SplitPath(p string, maxComponents int) ([]string, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, errInvalid("path must be absolute: " + p)
	}
	if strings.IndexByte(p, 0) >= 0 {
		return nil, errInvalid("path contains NUL byte")
	}
	raw := strings.Split(p, "/")
	var out []string
	for _, c := range raw {
		if c == "" {
			continue // collapse repeated/leading/trailing slashes
		}
		if c == "." || c == ".." {
			return nil, errInvalid("path component " + c + " is rejected")
		}
		out = append(out, c)
	}
	if len(out) > maxComponents {
		return nil, errInvalid("path exceeds maximum component depth")
	}
	return out, nil
}

// JoinPath renders components back into a canonical absolute path.
func JoinPath(components []string) string {
	return "/" + strings.Join(components, "/")
}

// PathID computes the stable 64-bit Qid path identifier for a canonical
// component list. Renames are not supported, so this hash is the only
// source of Qid path stability across reboots.
func PathID(components []string) uint64 {
	h := fnv.New64a()
	for _, c := range components {
		_, _ = h.Write([]byte{0}) // separator, distinguishes ["ab","c"] from ["a","bc"]
		_, _ = h.Write([]byte(c))
	}
	return h.Sum64()
}

func errInvalid(msg string) error {
	return protoerr.NewError("path", protoerr.CodeInvalid, msg)
}

// QidFor builds the Qid for a node at the given canonical path.
func QidFor(typ proto.QidType, components []string) proto.Qid {
	return proto.Qid{Type: typ, Version: 1, Path: PathID(components)}
}
