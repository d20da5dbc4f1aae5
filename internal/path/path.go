// Package path addresses nested positions inside a value.Value as
// dot-delimited strings, the way node.Node in the teacher repository
// addresses file positions inside a directory tree by splitting on
// "/" and descending one segment at a time. Here the tree being
// descended is a live map[string]any/[]any document instead of a
// fixed set of file-path strings, and a numeric segment is a sequence
// index rather than always a map key.
package path

import (
	"strconv"
	"strings"

	"github.com/rcowham/replicant/internal/value"
)

// Path is a parsed sequence of accessors. A string accessor indexes a
// mapping; an int accessor indexes a sequence.
type Path []any

// Parse splits a dotted path string into accessors. The empty string
// parses to the root (zero-length) path. Segments that look numeric
// are kept as strings here — whether they address a sequence index or
// a map key depends on the container found at traversal time, not on
// the segment's own spelling.
func Parse(s string) Path {
	if s == "" {
		return Path{}
	}
	parts := strings.Split(s, ".")
	p := make(Path, len(parts))
	for i, part := range parts {
		p[i] = part
	}
	return p
}

// String renders a Path back to its dotted form.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = segmentString(seg)
	}
	return strings.Join(parts, ".")
}

func segmentString(seg any) string {
	switch s := seg.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	default:
		return ""
	}
}

func asIndex(seg string) (int, bool) {
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Get returns the value at p within root, and whether that position
// exists.
func Get(root value.Value, p Path) (value.Value, bool) {
	cur := root
	for _, segAny := range p {
		seg := segmentString(segAny)
		switch container := cur.(type) {
		case map[string]any:
			v, ok := container[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := asIndex(seg)
			if !ok || idx < 0 || idx >= len(container) {
				return nil, false
			}
			cur = container[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes v at p within root, creating intermediate mappings as
// needed. The last segment may address a sequence index, in which
// case the sequence is grown with nils if the index is beyond its
// current length. Set never creates an intermediate sequence; a
// numeric intermediate segment still creates a mapping keyed by its
// string spelling, matching spec.md's "numeric segments are
// interpreted as sequence indices when the parent is already a
// sequence; otherwise as string keys."
func Set(root value.Value, p Path, v value.Value) value.Value {
	if len(p) == 0 {
		return v
	}
	return setAt(root, p, v)
}

func setAt(cur value.Value, p Path, v value.Value) value.Value {
	seg := segmentString(p[0])
	rest := p[1:]

	if seq, ok := cur.([]any); ok {
		idx, isIdx := asIndex(seg)
		if isIdx {
			for idx >= len(seq) {
				seq = append(seq, nil)
			}
			if len(rest) == 0 {
				seq[idx] = v
			} else {
				seq[idx] = setAt(seq[idx], rest, v)
			}
			return seq
		}
	}

	m, ok := cur.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	if len(rest) == 0 {
		m[seg] = v
	} else {
		m[seg] = setAt(m[seg], rest, v)
	}
	return m
}

// Delete removes the position at p within root, if present. It
// returns the (possibly unchanged) root.
func Delete(root value.Value, p Path) value.Value {
	if len(p) == 0 {
		return nil
	}
	return deleteAt(root, p)
}

func deleteAt(cur value.Value, p Path) value.Value {
	seg := segmentString(p[0])
	rest := p[1:]

	switch container := cur.(type) {
	case map[string]any:
		if len(rest) == 0 {
			delete(container, seg)
			return container
		}
		if child, ok := container[seg]; ok {
			container[seg] = deleteAt(child, rest)
		}
		return container
	case []any:
		idx, ok := asIndex(seg)
		if !ok || idx < 0 || idx >= len(container) {
			return container
		}
		if len(rest) == 0 {
			return append(container[:idx], container[idx+1:]...)
		}
		container[idx] = deleteAt(container[idx], rest)
		return container
	default:
		return cur
	}
}
