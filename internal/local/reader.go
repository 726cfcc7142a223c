package local

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig/settings"
)

// UpdateResult is the outcome of one local read.
type UpdateResult struct {
	// Changed is true when Tree differs from the previous read.
	Changed bool
	// Tree is the parsed folder, nil when local settings are disabled or
	// the folder does not exist.
	Tree *settings.Node
}

// UpdateError reports a failure to read the local settings folder.
type UpdateError struct {
	Folder string
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to read local settings from %s: %v", e.Folder, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Reader reads the local settings folder on every update cycle.
type Reader struct {
	enabled     bool
	folder      string
	maxFileSize int64
	log         logrus.FieldLogger
}

// NewReader creates a reader for folder. A disabled reader always yields
// an empty tree.
func NewReader(enabled bool, folder string, maxFileSize int64, log logrus.FieldLogger) *Reader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reader{
		enabled:     enabled,
		folder:      folder,
		maxFileSize: maxFileSize,
		log:         log.WithField("folder", folder),
	}
}

// Folder returns the folder the reader parses.
func (r *Reader) Folder() string { return r.folder }

// Enabled reports whether the reader parses anything at all.
func (r *Reader) Enabled() bool { return r.enabled }

// Update re-reads the folder and compares it with last, which is nil on
// the first cycle.
func (r *Reader) Update(last *UpdateResult) (*UpdateResult, error) {
	if !r.enabled {
		return &UpdateResult{Changed: last == nil || last.Tree != nil}, nil
	}

	tree, err := ParseFolder(r.folder, r.maxFileSize, r.log)
	if err != nil {
		return nil, &UpdateError{Folder: r.folder, Err: err}
	}

	changed := last == nil || !settings.Equal(last.Tree, tree)
	if changed && last != nil {
		r.log.Debug("Local settings changed")
	}
	return &UpdateResult{Changed: changed, Tree: tree}, nil
}
