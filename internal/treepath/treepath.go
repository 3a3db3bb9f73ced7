// Package treepath provides the materialized-path value type for hierarchy records.
package treepath

import "strings"

// Delimiter separates path segments in the stored string form.
const Delimiter = "#"

// Path is the ordered ancestor chain of a hierarchy node, root token first.
// The zero value is invalid; use Root or Parse to construct one.
type Path []string

// Root returns the path of a node attached directly under the type root.
func Root(token string) Path {
	return Path{token}
}

// Parse splits the stored string form back into segments.
// Empty input yields a nil Path.
func Parse(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, Delimiter))
}

// String returns the delimiter-joined stored form.
func (p Path) String() string {
	return strings.Join([]string(p), Delimiter)
}

// Child returns a copy of p with id appended. This is the path a child of the
// node identified by id would carry when p is that node's own path.
func (p Path) Child(id string) Path {
	child := make(Path, 0, len(p)+1)
	child = append(child, p...)
	return append(child, id)
}

// Contains reports whether id appears as any segment of p.
// Used for cycle detection: a node must never appear in its own ancestor chain.
func (p Path) Contains(id string) bool {
	for _, seg := range p {
		if seg == id {
			return true
		}
	}
	return false
}

// Ancestors returns the node identifiers in p, dropping the leading root token,
// in root-to-parent order.
func (p Path) Ancestors() []string {
	if len(p) <= 1 {
		return nil
	}
	return append([]string(nil), p[1:]...)
}

// Depth is the number of ancestors above the node, the root token excluded.
func (p Path) Depth() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// HasPrefix reports whether p starts with the full segment sequence of prefix.
// Segment-wise comparison avoids the string-level ambiguity where "task#AB"
// would match a begins_with on "task#A".
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, seg := range prefix {
		if p[i] != seg {
			return false
		}
	}
	return true
}

// Rebase replaces oldPrefix at the head of p with newPrefix, preserving the
// suffix. The second return is false when p does not start with oldPrefix.
func Rebase(p, oldPrefix, newPrefix Path) (Path, bool) {
	if !p.HasPrefix(oldPrefix) {
		return nil, false
	}
	rebased := make(Path, 0, len(newPrefix)+len(p)-len(oldPrefix))
	rebased = append(rebased, newPrefix...)
	rebased = append(rebased, p[len(oldPrefix):]...)
	return rebased, true
}
