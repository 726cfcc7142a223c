package state

import (
	"fmt"
	"sort"

	"github.com/steveyegge/clusterconfig/internal/wire"
	"github.com/steveyegge/clusterconfig/settings"
)

// RemoteTree is a serialized settings tree received from the service,
// together with the format needed to read it. Its bytes are never modified
// after construction.
type RemoteTree struct {
	data        []byte
	format      wire.TreeFormat
	description string
}

// NewRemoteTree wraps a received payload.
func NewRemoteTree(data []byte, format wire.TreeFormat, description string) *RemoteTree {
	return &RemoteTree{data: data, format: format, description: description}
}

// Bytes returns the raw payload. Callers must not modify it.
func (t *RemoteTree) Bytes() []byte { return t.data }

// Size returns the payload length.
func (t *RemoteTree) Size() int { return len(t.data) }

// Format returns the tree format of the payload.
func (t *RemoteTree) Format() wire.TreeFormat { return t.format }

// Description is a free-form label the server attached to the payload.
func (t *RemoteTree) Description() string { return t.description }

// Settings decodes the subtree at path.
func (t *RemoteTree) Settings(path settings.Path) (*settings.Node, error) {
	if t == nil {
		return nil, nil
	}
	node, err := t.format.Deserialize(t.data, path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s tree at %q: %w", t.format.Name(), path, err)
	}
	return node, nil
}

// SubtreeState tells whether the service has answered for a prefix yet.
type SubtreeState uint8

const (
	// SubtreePending means no response has been received for the prefix.
	SubtreePending SubtreeState = iota
	// SubtreeAbsent means the service reported nothing exists at the prefix.
	SubtreeAbsent
	// SubtreePresent means a tree was received for the prefix.
	SubtreePresent
)

func (s SubtreeState) String() string {
	switch s {
	case SubtreePending:
		return "pending"
	case SubtreeAbsent:
		return "absent"
	case SubtreePresent:
		return "present"
	default:
		return fmt.Sprintf("SubtreeState(%d)", uint8(s))
	}
}

// SubtreeEntry describes the answer for one requested prefix.
type SubtreeEntry struct {
	Path  settings.Path
	State SubtreeState
	Tree  *RemoteTree
}

// RemoteSubtreeSet is an immutable set of subtrees keyed by prefix path.
type RemoteSubtreeSet struct {
	entries map[settings.Path]SubtreeEntry
}

// NewRemoteSubtreeSet builds a set. Pending entries are dropped: a prefix
// that is not in the set is pending by definition.
func NewRemoteSubtreeSet(entries ...SubtreeEntry) *RemoteSubtreeSet {
	s := &RemoteSubtreeSet{entries: make(map[settings.Path]SubtreeEntry, len(entries))}
	for _, e := range entries {
		switch e.State {
		case SubtreePresent:
			if e.Tree == nil {
				e.State = SubtreeAbsent
			}
		case SubtreeAbsent:
			e.Tree = nil
		default:
			continue
		}
		s.entries[e.Path] = e
	}
	return s
}

// Lookup returns the entry registered exactly at path.
func (s *RemoteSubtreeSet) Lookup(path settings.Path) (SubtreeState, *RemoteTree) {
	if s == nil {
		return SubtreePending, nil
	}
	e, ok := s.entries[path]
	if !ok {
		return SubtreePending, nil
	}
	return e.State, e.Tree
}

// Len returns the number of answered prefixes.
func (s *RemoteSubtreeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Size returns the total payload size of all present subtrees.
func (s *RemoteSubtreeSet) Size() int {
	if s == nil {
		return 0
	}
	total := 0
	for _, e := range s.entries {
		if e.Tree != nil {
			total += e.Tree.Size()
		}
	}
	return total
}

// Paths returns the answered prefixes in sorted order.
func (s *RemoteSubtreeSet) Paths() []settings.Path {
	if s == nil {
		return nil
	}
	paths := make([]settings.Path, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].String() < paths[j].String() })
	return paths
}

// covering returns the longest registered prefix of path.
func (s *RemoteSubtreeSet) covering(path settings.Path) (SubtreeEntry, bool) {
	if s == nil {
		return SubtreeEntry{}, false
	}
	for p := path; ; {
		if e, ok := s.entries[p]; ok {
			return e, true
		}
		parent, ok := p.Parent()
		if !ok {
			return SubtreeEntry{}, false
		}
		p = parent
	}
}

// Covers reports whether some answered prefix covers path.
func (s *RemoteSubtreeSet) Covers(path settings.Path) bool {
	_, ok := s.covering(path)
	return ok
}

// Settings returns the remote settings at path, read from the longest
// registered prefix that covers it. It returns nil when the covering
// prefix is absent or when no prefix covers path.
func (s *RemoteSubtreeSet) Settings(path settings.Path) (*settings.Node, error) {
	e, ok := s.covering(path)
	if !ok || e.State != SubtreePresent {
		return nil, nil
	}
	node, err := e.Tree.Settings(path.TrimPrefix(e.Path))
	if err != nil {
		return nil, err
	}
	if path == e.Path && !path.IsRoot() {
		// Subtree payloads are rooted at the prefix and carry no name of
		// their own.
		segments := path.Segments()
		node = node.WithName(segments[len(segments)-1])
	}
	return node, nil
}
