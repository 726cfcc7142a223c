package clusterconfig

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/clusterconfig/internal/local"
	"github.com/steveyegge/clusterconfig/internal/metrics"
	"github.com/steveyegge/clusterconfig/internal/observe"
	"github.com/steveyegge/clusterconfig/internal/remote"
	"github.com/steveyegge/clusterconfig/internal/state"
	"github.com/steveyegge/clusterconfig/internal/tracker"
	"github.com/steveyegge/clusterconfig/settings"
)

// cycleState is owned by the update loop goroutine.
type cycleState struct {
	protocol   remote.ProtocolVersion
	lastLocal  *local.UpdateResult
	lastRemote *remote.UpdateResult
}

func (c *Client) run() {
	defer c.wg.Done()

	cs := &cycleState{protocol: c.settings.ForcedProtocolVersion}
	if cs.protocol == 0 {
		cs.protocol = remote.DefaultProtocol
	}

	c.log.WithFields(logrus.Fields{
		"period":   c.settings.UpdatePeriod,
		"protocol": cs.protocol,
	}).Debug("Update loop running")

	for {
		// A token left by a registration during the previous cycle is
		// served by the cycle that starts now.
		select {
		case <-c.wake:
		default:
		}

		started := time.Now()
		err := c.cycle(c.ctx, cs)
		if c.ctx.Err() != nil {
			return
		}
		metrics.ReportCycle(c.settings.Zone, time.Since(started), err)
		metrics.ReportObservedPaths(c.settings.Zone, c.tracker.Len())

		timer := time.NewTimer(c.settings.UpdatePeriod)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cycle performs one update and publishes a new snapshot if anything
// changed.
func (c *Client) cycle(ctx context.Context, cs *cycleState) error {
	// Whole-zone protocols fetch everything, so the root answers every path.
	if cs.protocol < remote.V3 || !c.settings.EnableClusterSettings {
		c.tracker.TryAddSubtree(settings.Root)
	}
	requested := c.tracker.PathsToRequest()
	subtrees := make([]remote.SubtreeRequest, 0, len(requested))
	for _, p := range requested {
		subtrees = append(subtrees, remote.SubtreeRequest{Path: p.Path, LastVersion: p.LastVersion})
	}

	var (
		lr *local.UpdateResult
		rr *remote.UpdateResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lr, err = c.local.Update(cs.lastLocal)
		return err
	})
	g.Go(func() error {
		var err error
		rr, err = c.remote.Update(gctx, subtrees, cs.protocol, cs.lastRemote)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.handleFailure(requested, err)
		return err
	}

	cs.lastLocal, cs.lastRemote = lr, rr
	c.switchProtocol(cs, rr.RecommendedProtocol)

	old := c.snapshot()
	changed := old == nil || lr.Changed || rr.Changed
	if changed {
		snap := state.NewSnapshot(lr.Tree, rr.Tree, rr.Subtrees, c.nextVersion(old, rr), c.settings.CacheCapacity)
		c.publish(snap)
		metrics.ReportSnapshot(c.settings.Zone, snap.Version, remoteSize(snap))
	}

	// An unchanged result may be a stale replica that knows nothing of new
	// paths. An empty one holds no remote data to wait for.
	if changed || rr.IsEmpty() {
		c.tracker.FinalizeSubtrees(ctx, requested, rr.Version, answerFor(rr), observe.Resolved(c.root))
	}
	return nil
}

// answerFor classifies requested paths against a subtree result. Whole
// zone and empty results answer every path.
func answerFor(rr *remote.UpdateResult) func(settings.Path) tracker.Answer {
	if rr.Subtrees == nil {
		return nil
	}
	return func(p settings.Path) tracker.Answer {
		if st, _ := rr.Subtrees.Lookup(p); st != state.SubtreePending {
			return tracker.Answered
		}
		if rr.Subtrees.Covers(p) {
			return tracker.Covered
		}
		return tracker.Unanswered
	}
}

func (c *Client) switchProtocol(cs *cycleState, recommended remote.ProtocolVersion) {
	if recommended == 0 || recommended == cs.protocol || c.settings.ForcedProtocolVersion != 0 {
		return
	}
	c.log.WithFields(logrus.Fields{
		"old": cs.protocol,
		"new": recommended,
	}).Info("Protocol changed via server recommendation")
	cs.protocol = recommended
}

// nextVersion numbers snapshots. With only remote settings in play the
// server's timestamp is used, so that clients of one zone agree on it.
func (c *Client) nextVersion(old *state.Snapshot, rr *remote.UpdateResult) int64 {
	var prev int64
	if old != nil {
		prev = old.Version
	}
	if !c.settings.EnableLocalSettings && c.settings.EnableClusterSettings && !rr.Version.IsZero() {
		if v := rr.Version.UnixNano(); v >= prev {
			return v
		}
	}
	return prev + 1
}

func (c *Client) publish(snap *state.Snapshot) {
	c.mu.Lock()
	c.current = snap
	if !c.initial.Resolve(snap) {
		if _, err, _ := c.initial.Result(); err != nil && !IsDisposed(err) {
			c.initial = observe.Resolved(snap)
		}
	}
	c.mu.Unlock()

	c.root.Next(snap)
}

// handleFailure surfaces the error to callers still waiting for their
// first settings. A client that has settings keeps serving them.
func (c *Client) handleFailure(requested []tracker.ObservedPath, err error) {
	syncErr := &SyncError{Zone: c.settings.Zone, Err: err}

	c.mu.Lock()
	hasState := c.current != nil
	if !hasState {
		c.initial.Fail(syncErr)
	}
	c.mu.Unlock()

	if hasState {
		c.log.WithError(err).Warn("Periodical settings update has failed")
	} else {
		c.log.WithError(err).Error("Failure in initial settings update")
	}
	c.tracker.FailUnfinalizedSubtrees(requested, syncErr)
}

func remoteSize(snap *state.Snapshot) int {
	if snap.RemoteTree != nil {
		return snap.RemoteTree.Size()
	}
	return snap.RemoteSubtrees.Size()
}
