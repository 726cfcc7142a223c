package remote

import (
	"time"

	"github.com/steveyegge/clusterconfig/internal/state"
)

// PatchFailure names why a patch could not be used. It is sent back to
// the server as the forceFull reason of the next request.
type PatchFailure string

const (
	// PatchApplyFailed means the patch did not fit the held tree.
	PatchApplyFailed PatchFailure = "ApplyPatchFailed"
	// PatchHashMismatch means the patched tree did not hash to the value
	// the server announced.
	PatchHashMismatch PatchFailure = "HashMismatch"
)

// UpdateResult is the outcome of one remote update. Exactly one of Tree
// and Subtrees is set, depending on the protocol, unless the zone is
// missing or remote settings are disabled, in which case both are nil.
type UpdateResult struct {
	// Changed reports whether the data differs from the previous result.
	Changed bool

	Tree     *state.RemoteTree
	Subtrees *state.RemoteSubtreeSet

	// Protocol is the protocol the data was received with, or zero for an
	// empty result.
	Protocol ProtocolVersion

	// Version is the server's Last-Modified time of the data, zero for an
	// empty result.
	Version time.Time

	// RecommendedProtocol is the protocol the server asked the client to
	// switch to, or zero.
	RecommendedProtocol ProtocolVersion

	// PatchFailure is set when a patch was received but discarded.
	PatchFailure PatchFailure
}

// IsEmpty reports whether the result carries no remote data at all.
func (r *UpdateResult) IsEmpty() bool {
	return r == nil || (r.Tree == nil && r.Subtrees == nil && r.Version.IsZero())
}

// UpdateEvent describes one accepted remote payload. It is emitted through
// the updater's hook for diagnostics.
type UpdateEvent struct {
	Zone        string
	Replica     string
	Protocol    ProtocolVersion
	Version     time.Time
	Patch       bool
	Subtrees    int
	Size        int
	Description string
	ReceivedAt  time.Time
}
