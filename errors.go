package clusterconfig

import (
	"errors"
	"fmt"

	"github.com/steveyegge/clusterconfig/settings"
)

var (
	// ErrDisposed is returned by every operation on a client after
	// Dispose, and terminates every open watch.
	ErrDisposed = errors.New("cluster config client has been disposed")

	// ErrWatchClosed is returned by Next after the watch was closed.
	ErrWatchClosed = errors.New("watch closed")
)

// SyncError reports a failed update cycle. Callers only see it while the
// client has never produced settings; later failures are logged and the
// last good settings keep being served.
//
// Unwrap exposes a *remote.UpdateError for service failures and a
// *local.UpdateError for local folder failures.
type SyncError struct {
	Zone string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to update settings of zone %q: %v", e.Zone, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a failure to produce the settings of one path
// from otherwise valid data, typically an undecodable remote payload.
type ExtractionError struct {
	Path settings.Path
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract settings at %q: %v", e.Path.String(), e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsDisposed reports whether err was caused by a disposed client.
func IsDisposed(err error) bool {
	return errors.Is(err, ErrDisposed)
}
