package dashboard

import (
	"context"

	"github.com/steveyegge/clusterconfig"
	"github.com/steveyegge/clusterconfig/settings"
)

// Watcher yields successive values of one path.
type Watcher interface {
	Next(ctx context.Context) (*settings.Node, int64, error)
	Close()
}

// Source is what the dashboard reads from.
type Source interface {
	Watch(path string) Watcher
	Zone() string
	Version() int64
	HasInitialized() bool
}

// FromClient adapts a client to a Source.
func FromClient(c *clusterconfig.Client) Source {
	return clientSource{c}
}

type clientSource struct {
	*clusterconfig.Client
}

func (s clientSource) Watch(path string) Watcher {
	return versionedWatcher{s.ObserveWithVersions(path)}
}

type versionedWatcher struct {
	w *clusterconfig.VersionedWatch
}

func (v versionedWatcher) Next(ctx context.Context) (*settings.Node, int64, error) {
	vs, err := v.w.Next(ctx)
	return vs.Settings, vs.Version, err
}

func (v versionedWatcher) Close() { v.w.Close() }
