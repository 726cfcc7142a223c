package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FolderEvent represents a change somewhere under the settings folder.
type FolderEvent struct {
	// Path is the absolute path that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// FolderWatcher watches a settings folder and all of its subdirectories.
// Directories created after Start are picked up as they appear.
type FolderWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FolderEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewFolderWatcher creates a new FolderWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFolderWatcher() (*FolderWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FolderWatcher{
		watcher: watcher,
		events:  make(chan FolderEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching folder and everything below it.
func (fw *FolderWatcher) Start(folder string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	root, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("failed to resolve settings folder %s: %w", folder, err)
	}
	fw.root = root

	if err := fw.addTree(root); err != nil {
		return err
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// addTree watches dir and its subdirectories.
func (fw *FolderWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FolderWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FolderEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FolderWatcher) Events() <-chan FolderEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FolderWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FolderWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			folderEvent, ok := fw.convertEvent(event)
			if !ok {
				continue
			}
			if folderEvent.Op == OpCreate {
				if info, err := os.Stat(folderEvent.Path); err == nil && info.IsDir() {
					if err := fw.addTree(folderEvent.Path); err != nil {
						fw.sendError(err)
					}
				}
			}
			select {
			case fw.events <- folderEvent:
			case <-fw.done:
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sendError(err)
		}
	}
}

func (fw *FolderWatcher) sendError(err error) {
	select {
	case fw.errors <- err:
	case <-fw.done:
	default:
		// Nobody is draining errors; drop rather than stall events.
	}
}

// convertEvent converts an fsnotify event to a FolderEvent.
// Returns false for events that cannot change the parsed settings.
func (fw *FolderWatcher) convertEvent(event fsnotify.Event) (FolderEvent, bool) {
	if ignored(filepath.Base(event.Name)) {
		return FolderEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FolderEvent{}, false
	}

	return FolderEvent{Path: event.Name, Op: op}, true
}

// ignored reports whether a file name is hidden or an editor leftover.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".tmp")
}

// IsRunning returns true if the watcher is currently running.
func (fw *FolderWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// Root returns the absolute path of the watched folder.
func (fw *FolderWatcher) Root() string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.root
}
