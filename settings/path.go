package settings

import (
	"strings"
)

// Separator joins path segments in the textual form of a Path.
const Separator = "/"

// Path is a case-normalized sequence of segments addressing a node within
// a settings tree. The zero value is the root path.
//
// Paths are comparable and may be used as map keys.
type Path struct {
	s string
}

// Root is the path addressing the whole tree.
var Root = Path{}

// ParsePath parses a slash- or backslash-separated path. Empty segments are
// dropped and segments are lowercased, so "/Foo//Bar/" and "foo\bar" denote
// the same path.
func ParsePath(s string) Path {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	return NewPath(fields...)
}

// NewPath builds a path from raw segments.
func NewPath(segments ...string) Path {
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		clean = append(clean, strings.ToLower(seg))
	}
	return Path{s: strings.Join(clean, Separator)}
}

// IsRoot reports whether p addresses the whole tree.
func (p Path) IsRoot() bool {
	return p.s == ""
}

// Segments returns the path segments. The root path has none.
func (p Path) Segments() []string {
	if p.s == "" {
		return nil
	}
	return strings.Split(p.s, Separator)
}

// Len returns the number of segments.
func (p Path) Len() int {
	if p.s == "" {
		return 0
	}
	return strings.Count(p.s, Separator) + 1
}

// Child returns p extended by one segment.
func (p Path) Child(segment string) Path {
	return NewPath(append(p.Segments(), segment)...)
}

// Parent returns the path one segment shorter. The root has no parent.
func (p Path) Parent() (Path, bool) {
	if p.s == "" {
		return Root, false
	}
	i := strings.LastIndex(p.s, Separator)
	if i < 0 {
		return Root, true
	}
	return Path{s: p.s[:i]}, true
}

// IsPrefixOf reports whether q lies within the subtree addressed by p.
// Every path is a prefix of itself and the root is a prefix of every path.
func (p Path) IsPrefixOf(q Path) bool {
	if p.s == "" {
		return true
	}
	if !strings.HasPrefix(q.s, p.s) {
		return false
	}
	return len(q.s) == len(p.s) || q.s[len(p.s)] == Separator[0]
}

// TrimPrefix returns the remainder of p below prefix. It returns p
// unchanged if prefix is not a prefix of p.
func (p Path) TrimPrefix(prefix Path) Path {
	if !prefix.IsPrefixOf(p) {
		return p
	}
	if prefix.s == "" {
		return p
	}
	rest := strings.TrimPrefix(p.s[len(prefix.s):], Separator)
	return Path{s: rest}
}

// String returns the normalized textual form, without leading separator.
func (p Path) String() string {
	return p.s
}
