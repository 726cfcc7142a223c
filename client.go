package clusterconfig

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig/internal/config"
	"github.com/steveyegge/clusterconfig/internal/local"
	"github.com/steveyegge/clusterconfig/internal/observe"
	"github.com/steveyegge/clusterconfig/internal/remote"
	"github.com/steveyegge/clusterconfig/internal/state"
	"github.com/steveyegge/clusterconfig/internal/tracker"
)

// Settings configures a Client. See DefaultSettings for the defaults.
type Settings = config.Settings

// ProtocolVersion selects the wire protocol spoken with the service.
type ProtocolVersion = remote.ProtocolVersion

// Protocol versions, oldest first.
const (
	ProtocolV1   = remote.V1
	ProtocolV2   = remote.V2
	ProtocolV3   = remote.V3
	ProtocolV3_1 = remote.V3_1
)

// Cluster resolves the replicas of the cluster config service.
type Cluster = remote.Cluster

// StaticCluster is a fixed list of replica addresses.
type StaticCluster = remote.StaticCluster

// UpdateEvent describes a payload accepted from the service. It is
// passed to Settings.UpdateHook.
type UpdateEvent = remote.UpdateEvent

// NewDNSCluster resolves replicas from the addresses behind host.
func NewDNSCluster(host string, port int) Cluster {
	return remote.NewDNSCluster(host, port)
}

// ParseProtocolVersion accepts spellings such as "V2", "v3_1" and "3.1".
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	return remote.ParseProtocolVersion(s)
}

// DefaultSettings returns the built-in client settings.
func DefaultSettings() *Settings {
	return config.DefaultSettings()
}

const (
	stateNotStarted int32 = iota
	stateStarted
	stateDisposed
)

// Client mirrors one zone of the cluster config service, overlaid with
// local settings files, and answers path queries against the latest
// snapshot.
//
// The background update loop starts with the first query. A Client must
// be disposed to stop it.
type Client struct {
	settings *Settings
	log      logrus.FieldLogger

	local   *local.Reader
	remote  *remote.Updater
	tracker *tracker.Tracker

	lifecycle atomic.Int32
	startMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	wake      chan struct{}
	watcher   *local.FolderWatcher

	// root receives every published snapshot. Per-path streams subscribe
	// to it once their path has been fetched.
	root *tracker.Stream

	mu      sync.Mutex
	current *state.Snapshot
	initial *observe.Future[*state.Snapshot]
}

// New creates a client from the default settings, including those of
// an optional configuration file next to the default settings folder.
func New() (*Client, error) {
	return NewWithSettings(nil)
}

// NewWithSettings creates a client. Fields of s that differ from the
// built-in defaults override the default settings. s may be nil.
func NewWithSettings(s *Settings) (*Client, error) {
	defaults, err := config.Defaults()
	if err != nil {
		return nil, fmt.Errorf("failed to load default settings: %w", err)
	}
	return newClient(config.Merge(defaults, s))
}

func newClient(s *Settings) (*Client, error) {
	log := s.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("zone", s.Zone)

	httpConfig := remote.DefaultHTTPConfig()
	httpConfig.Timeout = s.RequestTimeout
	httpConfig.Logger = log

	transport := s.Transport
	if transport == nil && s.EnableClusterSettings {
		if s.Cluster == nil {
			return nil, fmt.Errorf("cluster cannot be nil when cluster settings are enabled")
		}
		t, err := remote.NewHTTPTransport(s.Cluster, httpConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		transport = t
	}

	updater, err := remote.NewUpdater(remote.UpdaterConfig{
		Enabled:             s.EnableClusterSettings,
		Zone:                s.Zone,
		Transport:           transport,
		AssumeDeployed:      s.AssumeClusterConfigDeployed,
		MaxDecompressedSize: httpConfig.MaxResponseSize,
		Logger:              log,
		OnUpdate:            s.UpdateHook,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote updater: %w", err)
	}

	folder := local.Locate("", s.LocalFolder, local.DefaultMaxHops)
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		settings: s,
		log:      log,
		local:    local.NewReader(s.EnableLocalSettings, folder, s.MaximumFileSize, log),
		remote:   updater,
		tracker:  tracker.New(s.MaximumSubtrees),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		root:     observe.NewReplayLatest[*state.Snapshot](),
		initial:  observe.NewFuture[*state.Snapshot](),
	}, nil
}

// Zone returns the name of the mirrored zone.
func (c *Client) Zone() string {
	return c.settings.Zone
}

// Version returns the version of the latest snapshot, or 0 before the
// first one.
func (c *Client) Version() int64 {
	if snap := c.snapshot(); snap != nil {
		return snap.Version
	}
	return 0
}

// HasInitialized reports whether a snapshot has been published.
func (c *Client) HasInitialized() bool {
	return c.snapshot() != nil
}

// WaitForInitialization starts the client if needed and blocks until
// the first snapshot is published. It returns the first cycle's
// *SyncError if that cycle failed.
func (c *Client) WaitForInitialization(ctx context.Context) error {
	if c.disposed() {
		return ErrDisposed
	}
	c.ensureStarted()

	c.mu.Lock()
	initial := c.initial
	c.mu.Unlock()

	_, err := initial.Wait(ctx)
	return err
}

func (c *Client) snapshot() *state.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) disposed() bool {
	return c.lifecycle.Load() == stateDisposed
}

// ensureStarted launches the update loop on first use.
func (c *Client) ensureStarted() {
	if !c.lifecycle.CompareAndSwap(stateNotStarted, stateStarted) {
		return
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.disposed() {
		return
	}

	c.log.WithFields(logrus.Fields{
		"local":   c.settings.EnableLocalSettings,
		"cluster": c.settings.EnableClusterSettings,
		"folder":  c.local.Folder(),
	}).Info("Starting updates")

	if c.settings.EnableLocalSettings {
		c.startWatcher()
	}

	c.wg.Add(1)
	go c.run()
}

// startWatcher refreshes the client as soon as the local folder changes.
// A folder that cannot be watched is only polled.
func (c *Client) startWatcher() {
	fw, err := local.NewFolderWatcher()
	if err != nil {
		c.log.WithError(err).Debug("Local settings folder will only be polled")
		return
	}
	if err := fw.Start(c.local.Folder()); err != nil {
		_ = fw.Stop()
		c.log.WithError(err).Debug("Local settings folder will only be polled")
		return
	}
	c.watcher = fw

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		events, errs := fw.Events(), fw.Errors()
		for events != nil || errs != nil {
			select {
			case _, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				c.wakeUp()
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				c.log.WithError(err).Debug("Local settings folder watch error")
			}
		}
	}()
}

// wakeUp makes the loop start its next cycle without waiting for the
// update period.
func (c *Client) wakeUp() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Dispose stops the client. Pending and future queries fail with
// ErrDisposed, and every watch terminates with it. Dispose waits for the
// update loop to exit and may be called more than once.
func (c *Client) Dispose() {
	if c.lifecycle.Swap(stateDisposed) == stateDisposed {
		return
	}

	c.cancel()
	c.tracker.Cancel(ErrDisposed)
	c.root.Error(ErrDisposed)

	c.mu.Lock()
	if !c.initial.Fail(ErrDisposed) {
		c.initial = observe.Failed[*state.Snapshot](ErrDisposed)
	}
	c.mu.Unlock()

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.watcher != nil {
		if err := c.watcher.Stop(); err != nil {
			c.log.WithError(err).Debug("Failed to stop local settings watcher")
		}
	}
	c.wg.Wait()
}

// Close disposes the client. It implements io.Closer.
func (c *Client) Close() error {
	c.Dispose()
	return nil
}
