package state

import (
	"github.com/steveyegge/clusterconfig/settings"
)

// Extract returns the effective settings at path: the remote settings
// found there with the local tree deep-merged on top. Results are cached
// per snapshot.
//
// A cached ancestor result is reused only when the remote data behind it
// comes from the same source as the remote data for path. With a subtree
// set, a narrower prefix may hold the freshest data for path, and reading
// through an ancestor computed from a broader prefix would hide it.
func (s *Snapshot) Extract(path settings.Path) (*settings.Node, error) {
	if s.cache != nil {
		if node, ok := s.cache.Get(path); ok {
			return node, nil
		}
	}

	node, err := s.extractFromAncestor(path)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(path, node)
	}
	return node, nil
}

func (s *Snapshot) extractFromAncestor(path settings.Path) (*settings.Node, error) {
	if s.cache != nil && !path.IsRoot() {
		source := s.remoteSource(path)
		for p, ok := path.Parent(); ok; p, ok = p.Parent() {
			if s.remoteSource(p) != source {
				break
			}
			if ancestor, hit := s.cache.Peek(p); hit {
				return ancestor.Scope(path.TrimPrefix(p).Segments()...), nil
			}
		}
	}
	return s.compute(path)
}

// remoteSource identifies which remote payload answers for path.
func (s *Snapshot) remoteSource(path settings.Path) string {
	if s.RemoteSubtrees == nil {
		return ""
	}
	e, ok := s.RemoteSubtrees.covering(path)
	if !ok {
		return "\x00none"
	}
	return "/" + e.Path.String()
}

func (s *Snapshot) compute(path settings.Path) (*settings.Node, error) {
	var (
		remote *settings.Node
		err    error
	)
	switch {
	case s.RemoteSubtrees != nil:
		remote, err = s.RemoteSubtrees.Settings(path)
	case s.RemoteTree != nil:
		remote, err = s.RemoteTree.Settings(path)
	}
	if err != nil {
		return nil, err
	}
	local := s.LocalTree.ScopePath(path)
	return settings.Merge(remote, local), nil
}
