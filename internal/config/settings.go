package config

import (
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig/internal/remote"
)

// Defaults for client settings.
const (
	DefaultZone            = "default"
	DefaultDNS             = "clusterconfig"
	DefaultPort            = 9000
	DefaultLocalFolder     = "settings"
	DefaultConfigFile      = "clusterconfig"
	DefaultCacheCapacity   = 25
	DefaultMaxFileSize     = 1024 * 1024
	DefaultUpdatePeriod    = 20 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaximumSubtrees = 30
)

// Settings configures a cluster config client.
type Settings struct {
	// EnableLocalSettings turns on reading LocalFolder.
	EnableLocalSettings bool
	// EnableClusterSettings turns on fetching Zone from Cluster.
	EnableClusterSettings bool

	// Zone is the name of the remote zone to mirror.
	Zone string
	// LocalFolder holds local overrides. Relative folders are located
	// against the working directory and its parents.
	LocalFolder string

	// Cluster resolves the service replicas.
	Cluster remote.Cluster
	// Transport, if set, replaces the HTTP transport built from Cluster.
	Transport remote.Transport

	UpdatePeriod   time.Duration
	RequestTimeout time.Duration

	// CacheCapacity bounds the per-snapshot extraction cache. Zero or
	// less disables it.
	CacheCapacity int
	// MaximumFileSize skips larger local files.
	MaximumFileSize int64
	// MaximumSubtrees is how many distinct observed paths are requested
	// before the client falls back to the whole zone.
	MaximumSubtrees int

	// ForcedProtocolVersion pins the protocol and ignores server
	// recommendations. Zero means not forced.
	ForcedProtocolVersion remote.ProtocolVersion

	// AssumeClusterConfigDeployed makes a service without replicas an
	// error instead of an empty zone.
	AssumeClusterConfigDeployed bool

	Logger logrus.FieldLogger

	// UpdateHook, if set, observes every accepted remote payload.
	UpdateHook func(remote.UpdateEvent)
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		EnableLocalSettings:   true,
		EnableClusterSettings: true,
		Zone:                  DefaultZone,
		LocalFolder:           DefaultLocalFolder,
		Cluster:               remote.NewDNSCluster(DefaultDNS, DefaultPort),
		UpdatePeriod:          DefaultUpdatePeriod,
		RequestTimeout:        DefaultRequestTimeout,
		CacheCapacity:         DefaultCacheCapacity,
		MaximumFileSize:       DefaultMaxFileSize,
		MaximumSubtrees:       DefaultMaximumSubtrees,
	}
}

// Clone returns a shallow copy of s.
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

// Merge returns base overridden by every field of user that differs from
// the built-in default. Either argument may be nil.
func Merge(base, user *Settings) *Settings {
	def := DefaultSettings()
	if base == nil {
		base = def
	}
	if user == nil {
		return base.Clone()
	}
	out := base.Clone()

	if user.EnableLocalSettings != def.EnableLocalSettings {
		out.EnableLocalSettings = user.EnableLocalSettings
	}
	if user.EnableClusterSettings != def.EnableClusterSettings {
		out.EnableClusterSettings = user.EnableClusterSettings
	}
	if user.Zone != def.Zone && user.Zone != "" {
		out.Zone = user.Zone
	}
	if user.LocalFolder != def.LocalFolder && user.LocalFolder != "" {
		out.LocalFolder = user.LocalFolder
	}
	if user.Cluster != nil && !reflect.DeepEqual(user.Cluster, def.Cluster) {
		out.Cluster = user.Cluster
	}
	if user.Transport != nil {
		out.Transport = user.Transport
	}
	if user.UpdatePeriod != def.UpdatePeriod && user.UpdatePeriod > 0 {
		out.UpdatePeriod = user.UpdatePeriod
	}
	if user.RequestTimeout != def.RequestTimeout && user.RequestTimeout > 0 {
		out.RequestTimeout = user.RequestTimeout
	}
	if user.CacheCapacity != def.CacheCapacity {
		out.CacheCapacity = user.CacheCapacity
	}
	if user.MaximumFileSize != def.MaximumFileSize && user.MaximumFileSize > 0 {
		out.MaximumFileSize = user.MaximumFileSize
	}
	if user.MaximumSubtrees != def.MaximumSubtrees && user.MaximumSubtrees > 0 {
		out.MaximumSubtrees = user.MaximumSubtrees
	}
	if user.ForcedProtocolVersion != def.ForcedProtocolVersion {
		out.ForcedProtocolVersion = user.ForcedProtocolVersion
	}
	if user.AssumeClusterConfigDeployed != def.AssumeClusterConfigDeployed {
		out.AssumeClusterConfigDeployed = user.AssumeClusterConfigDeployed
	}
	if user.Logger != nil {
		out.Logger = user.Logger
	}
	if user.UpdateHook != nil {
		out.UpdateHook = user.UpdateHook
	}
	return out
}
