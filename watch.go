package clusterconfig

import (
	"context"
	"sync"

	"github.com/steveyegge/clusterconfig/internal/observe"
	"github.com/steveyegge/clusterconfig/internal/state"
	"github.com/steveyegge/clusterconfig/settings"
)

// Watch follows the settings at one path. Next returns every distinct
// value in version order; a reader that falls behind skips straight to the
// latest snapshot.
//
// A Watch is meant for a single reading goroutine.
type Watch struct {
	path settings.Path

	ready       chan struct{}
	unsubscribe func()

	mu      sync.Mutex
	pending *state.Snapshot
	err     error

	// Owned by the reader.
	last        *settings.Node
	lastVersion int64
	delivered   bool
}

// VersionedSettings is one value delivered by a VersionedWatch.
type VersionedSettings struct {
	Settings *settings.Node
	Version  int64
}

// VersionedWatch is a Watch that also reports snapshot versions.
type VersionedWatch struct {
	w *Watch
}

// Observe starts watching path. The first value is delivered once the
// client has fetched the path. Close the watch when done.
func (c *Client) Observe(path string) *Watch {
	return c.observe(settings.ParsePath(path))
}

// ObserveWithVersions is like Observe and pairs each value with the
// version of the snapshot it came from.
func (c *Client) ObserveWithVersions(path string) *VersionedWatch {
	return &VersionedWatch{w: c.observe(settings.ParsePath(path))}
}

func (c *Client) observe(path settings.Path) *Watch {
	w := &Watch{path: path, ready: make(chan struct{}, 1)}
	if c.disposed() {
		w.fail(ErrDisposed)
		w.unsubscribe = func() {}
		return w
	}

	added, _, stream := c.tracker.TryAddSubtree(path)
	c.ensureStarted()
	if added {
		c.wakeUp()
	}
	w.unsubscribe = stream.Subscribe(observe.Funcs[*state.Snapshot]{
		Next:  w.push,
		Error: w.fail,
	})
	return w
}

// push keeps only the newest snapshot. It never blocks the publisher.
func (w *Watch) push(snap *state.Snapshot) {
	w.mu.Lock()
	if w.pending == nil || snap.Version >= w.pending.Version {
		w.pending = snap
	}
	w.mu.Unlock()
	w.signal()
}

func (w *Watch) fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	w.signal()
}

func (w *Watch) signal() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// Next blocks until the settings change and returns the new value. After
// the watch terminates it returns the terminal error, ErrDisposed once the
// client is disposed.
func (w *Watch) Next(ctx context.Context) (*settings.Node, error) {
	node, _, err := w.next(ctx)
	return node, err
}

func (w *Watch) next(ctx context.Context) (*settings.Node, int64, error) {
	for {
		w.mu.Lock()
		snap, err := w.pending, w.err
		w.pending = nil
		w.mu.Unlock()

		if snap != nil {
			if w.delivered && snap.Version < w.lastVersion {
				continue
			}
			node, xerr := extract(snap, w.path)
			if xerr != nil {
				return nil, 0, xerr
			}
			if w.delivered && settings.Equal(node, w.last) {
				w.lastVersion = snap.Version
				continue
			}
			w.last, w.lastVersion, w.delivered = node, snap.Version, true
			return node, snap.Version, nil
		}
		if err != nil {
			return nil, 0, err
		}

		select {
		case <-w.ready:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

// Close stops the watch. Next then returns ErrWatchClosed.
func (w *Watch) Close() {
	w.unsubscribe()
	w.fail(ErrWatchClosed)
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

// Next blocks until the settings change and returns the new value with
// its snapshot version.
func (v *VersionedWatch) Next(ctx context.Context) (VersionedSettings, error) {
	node, version, err := v.w.next(ctx)
	if err != nil {
		return VersionedSettings{}, err
	}
	return VersionedSettings{Settings: node, Version: version}, nil
}

// Close stops the watch.
func (v *VersionedWatch) Close() {
	v.w.Close()
}
