package clusterconfig

import (
	"context"

	"github.com/steveyegge/clusterconfig/internal/state"
	"github.com/steveyegge/clusterconfig/settings"
)

// Get returns the merged settings at path, or nil when nothing is
// configured there. The first call for a path waits until the client has
// fetched it.
func (c *Client) Get(ctx context.Context, path string) (*settings.Node, error) {
	node, _, err := c.GetWithVersion(ctx, path)
	return node, err
}

// GetWithVersion is like Get and also returns the version of the
// snapshot the settings were read from.
func (c *Client) GetWithVersion(ctx context.Context, path string) (*settings.Node, int64, error) {
	p := settings.ParsePath(path)
	snap, err := c.waitForPath(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	node, err := extract(snap, p)
	if err != nil {
		return nil, 0, err
	}
	return node, snap.Version, nil
}

// Result is the outcome of an asynchronous query.
type Result struct {
	Settings *settings.Node
	Version  int64
	Err      error
}

// GetAsync runs Get in the background. The returned channel receives
// exactly one Result and is then closed.
func (c *Client) GetAsync(ctx context.Context, path string) <-chan Result {
	return c.GetWithVersionAsync(ctx, path)
}

// GetWithVersionAsync runs GetWithVersion in the background. The
// returned channel receives exactly one Result and is then closed.
func (c *Client) GetWithVersionAsync(ctx context.Context, path string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		node, version, err := c.GetWithVersion(ctx, path)
		out <- Result{Settings: node, Version: version, Err: err}
	}()
	return out
}

// waitForPath registers interest in path and waits until a snapshot
// holding its data is published.
func (c *Client) waitForPath(ctx context.Context, path settings.Path) (*state.Snapshot, error) {
	if c.disposed() {
		return nil, ErrDisposed
	}

	added, signal, _ := c.tracker.TryAddSubtree(path)
	c.ensureStarted()
	if added {
		c.wakeUp()
	}

	if _, err := signal.Wait(ctx); err != nil {
		return nil, err
	}
	if c.disposed() {
		return nil, ErrDisposed
	}
	snap := c.snapshot()
	if snap == nil {
		// Signals only resolve after a publish.
		return nil, ErrDisposed
	}
	return snap, nil
}

func extract(snap *state.Snapshot, path settings.Path) (*settings.Node, error) {
	node, err := snap.Extract(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	return node, nil
}
