// Package state holds the immutable snapshot the client publishes after
// every successful update cycle, and the extraction logic that answers
// path queries against it.
package state

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/steveyegge/clusterconfig/settings"
)

// Snapshot is one published version of the client's view: the local tree,
// the remote data (either a whole zone tree or a set of subtrees), and a
// version that strictly increases from one snapshot to the next.
//
// All fields are read-only after construction.
type Snapshot struct {
	LocalTree      *settings.Node
	RemoteTree     *RemoteTree
	RemoteSubtrees *RemoteSubtreeSet
	Version        int64

	cache *lru.Cache[settings.Path, *settings.Node]
}

// NewSnapshot builds a snapshot with a bounded extraction cache. A
// non-positive capacity disables caching.
func NewSnapshot(local *settings.Node, tree *RemoteTree, subtrees *RemoteSubtreeSet, version int64, cacheCapacity int) *Snapshot {
	s := &Snapshot{
		LocalTree:      local,
		RemoteTree:     tree,
		RemoteSubtrees: subtrees,
		Version:        version,
	}
	if cacheCapacity > 0 {
		// lru.New only fails for a non-positive size.
		s.cache, _ = lru.New[settings.Path, *settings.Node](cacheCapacity)
	}
	return s
}

// HasRemote reports whether the snapshot carries any remote data.
func (s *Snapshot) HasRemote() bool {
	return s.RemoteTree != nil || s.RemoteSubtrees != nil
}

// CachedPaths returns how many extraction results are cached.
func (s *Snapshot) CachedPaths() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}
