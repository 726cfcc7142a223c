// Package tracker keeps the set of settings paths the application has asked
// about, decides which of them must be requested from the service, and
// wakes up the callers waiting for their first data.
//
// Paths are kept in insertion order. A path that lies under an already
// observed path shares that entry. Once the number of entries reaches the
// configured limit, every new path is promoted to the root, which covers
// everything.
package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/clusterconfig/internal/observe"
	"github.com/steveyegge/clusterconfig/internal/state"
	"github.com/steveyegge/clusterconfig/settings"
)

// Stream is the per-path change stream handed to observers.
type Stream = observe.ReplayLatest[*state.Snapshot]

// Signal completes once a path's first data is available.
type Signal = observe.Future[bool]

type entry struct {
	path   settings.Path
	signal *Signal
	stream *Stream

	// Guarded by Tracker.mu.
	lastVersion time.Time
	finalized   bool
}

// ObservedPath is a point-in-time copy of one tracked entry, as returned
// by PathsToRequest and passed back to the finalize calls.
type ObservedPath struct {
	Path        settings.Path
	LastVersion time.Time

	entry *entry
}

// Tracker is safe for concurrent use. Insertions and finalization are
// serialized by a mutex; the fast path of TryAddSubtree reads an
// immutable snapshot of the entry list without locking.
type Tracker struct {
	maxSubtrees int

	mu        sync.Mutex
	entries   atomic.Pointer[[]*entry]
	cancelErr error
}

// New returns a tracker that promotes new paths to the root once
// maxSubtrees entries exist. A non-positive limit means no limit.
func New(maxSubtrees int) *Tracker {
	t := &Tracker{maxSubtrees: maxSubtrees}
	empty := []*entry{}
	t.entries.Store(&empty)
	return t
}

func (t *Tracker) snapshot() []*entry {
	return *t.entries.Load()
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	return len(t.snapshot())
}

func findCovering(entries []*entry, path settings.Path) *entry {
	for _, e := range entries {
		if e.path.IsPrefixOf(path) {
			return e
		}
	}
	return nil
}

// TryAddSubtree registers interest in path. When an existing entry
// already covers path, its signal and stream are returned with added set
// to false. Once the tracker is cancelled, every call returns a completed
// signal and a terminated stream.
func (t *Tracker) TryAddSubtree(path settings.Path) (added bool, signal *Signal, stream *Stream) {
	if e := findCovering(t.snapshot(), path); e != nil {
		return false, e.signal, e.stream
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelErr != nil {
		return false, observe.Failed[bool](t.cancelErr), failedStream(t.cancelErr)
	}

	current := t.snapshot()
	if e := findCovering(current, path); e != nil {
		return false, e.signal, e.stream
	}
	if t.maxSubtrees > 0 && len(current) >= t.maxSubtrees {
		path = settings.Root
		if e := findCovering(current, path); e != nil {
			return false, e.signal, e.stream
		}
	}

	e := &entry{
		path:   path,
		signal: observe.NewFuture[bool](),
		stream: observe.NewReplayLatest[*state.Snapshot](),
	}
	next := make([]*entry, len(current), len(current)+1)
	copy(next, current)
	next = append(next, e)
	t.entries.Store(&next)

	return true, e.signal, e.stream
}

// PathsToRequest returns the minimal set of entries to fetch: entries
// nested under another tracked entry are left out, since the broader
// request answers for them.
func (t *Tracker) PathsToRequest() []ObservedPath {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snapshot()
	kept := make([]*entry, 0, len(current))
	for i := len(current) - 1; i >= 0; i-- {
		e := current[i]
		covered := false
		for _, k := range kept {
			if k.path.IsPrefixOf(e.path) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, e)
		}
	}

	out := make([]ObservedPath, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		e := kept[i]
		out = append(out, ObservedPath{Path: e.path, LastVersion: e.lastVersion, entry: e})
	}
	return out
}

// Answer tells how a response answered one requested path.
type Answer uint8

const (
	// Unanswered means the response holds nothing for the path. The entry
	// stays pending and is requested again.
	Unanswered Answer = iota
	// Covered means the path's data arrived under a broader prefix. The
	// entry is finalized but keeps its last version.
	Covered
	// Answered means the response answered the path itself.
	Answered
)

// FinalizeSubtrees records a successful fetch of the requested entries.
//
// answer classifies each requested path; nil answers every path. Answered
// entries take version as their last known version. Entries that had not
// yet received data and are answered or covered get their signal
// completed and their stream subscribed to the shared snapshot stream once
// root resolves. Unfinished entries inserted earlier and nested under a
// finalized entry are completed the same way and dropped, since that entry
// now answers for them. Entries whose previous fetch failed are replaced
// by fresh ones.
func (t *Tracker) FinalizeSubtrees(ctx context.Context, requested []ObservedPath, version time.Time, answer func(settings.Path) Answer, root *observe.Future[*Stream]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelErr != nil {
		return
	}

	current := t.snapshot()
	next := make([]*entry, 0, len(current))
	next = append(next, current...)

	var completed []*entry
	for _, req := range requested {
		idx := indexOf(next, req.entry)
		if idx < 0 {
			continue
		}
		e := next[idx]

		a := Answered
		if answer != nil {
			a = answer(e.path)
		}
		if a == Unanswered {
			continue
		}
		if a == Answered {
			e.lastVersion = version
		}

		if !e.finalized {
			if failedEntry(e) {
				e = &entry{
					path:        e.path,
					signal:      observe.NewFuture[bool](),
					stream:      observe.NewReplayLatest[*state.Snapshot](),
					lastVersion: e.lastVersion,
				}
				next[idx] = e
			}
			e.finalized = true
			completed = append(completed, e)
		}

		// Drop nested entries inserted before this one.
		for j := idx - 1; j >= 0; j-- {
			other := next[j]
			if other.path == e.path || !e.path.IsPrefixOf(other.path) {
				continue
			}
			if !other.finalized {
				other.finalized = true
				completed = append(completed, other)
			}
			next = append(next[:j], next[j+1:]...)
		}
	}

	t.entries.Store(&next)

	for _, e := range completed {
		subscribeWhenReady(ctx, e, root)
	}
}

func indexOf(entries []*entry, target *entry) int {
	for i, e := range entries {
		if e == target {
			return i
		}
	}
	return -1
}

func failedEntry(e *entry) bool {
	_, err, done := e.signal.Result()
	return done && err != nil
}

func subscribeWhenReady(ctx context.Context, e *entry, root *observe.Future[*Stream]) {
	attach := func(stream *Stream, err error) {
		if err != nil {
			e.stream.Error(err)
			e.signal.Fail(err)
			return
		}
		stream.Subscribe(observe.Funcs[*state.Snapshot]{
			Next:  e.stream.Next,
			Error: e.stream.Error,
		})
		e.signal.Resolve(true)
	}

	if stream, err, done := root.Result(); done {
		attach(stream, err)
		return
	}
	go func() {
		stream, err := root.Wait(ctx)
		if ctx.Err() != nil {
			return
		}
		attach(stream, err)
	}()
}

// FailUnfinalizedSubtrees fails every requested entry that has not yet
// received data, along with unfinished entries nested under one, since
// those were waiting on the same request. Entries that already hold data
// keep it: a failed cycle never takes settings away.
func (t *Tracker) FailUnfinalizedSubtrees(requested []ObservedPath, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.snapshot() {
		if e.finalized {
			continue
		}
		for _, req := range requested {
			if req.Path.IsPrefixOf(e.path) {
				e.stream.Error(err)
				e.signal.Fail(err)
				break
			}
		}
	}
}

// Cancel terminates the tracker. Pending signals and all streams fail
// with err, and later insertions return already-failed handles.
func (t *Tracker) Cancel(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelErr != nil {
		return
	}
	t.cancelErr = err
	for _, e := range t.snapshot() {
		e.signal.Fail(err)
		e.stream.Error(err)
	}
}

func failedStream(err error) *Stream {
	s := observe.NewReplayLatest[*state.Snapshot]()
	s.Error(err)
	return s
}
