package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/clusterconfig/internal/local"
	"github.com/steveyegge/clusterconfig/internal/remote"
)

// EnvPrefix prefixes environment overrides, e.g. CLUSTERCONFIG_ZONE.
const EnvPrefix = "CLUSTERCONFIG"

// Each setting may be spelled by its field name or by its legacy key.
// Viper keys are case-insensitive.
var keys = struct {
	enableLocal, enableCluster, period, timeout, zone, folder [2]string
}{
	enableLocal:   [2]string{"EnableLocalSettings", "enableLocalSettings"},
	enableCluster: [2]string{"EnableClusterSettings", "enableClusterSettings"},
	period:        [2]string{"UpdatePeriod", "refreshPeriod"},
	timeout:       [2]string{"RequestTimeout", "requestTimeout"},
	zone:          [2]string{"Zone", "clusterSettingsZoneName"},
	folder:        [2]string{"LocalFolder", "localSettingsDirectory"},
}

// LoadFile applies the configuration file found in folder, plus
// CLUSTERCONFIG_* environment variables, on top of base. A missing file
// is not an error.
//
// The file is named "clusterconfig", either with an extension viper
// understands or with none, in which case it is read in the same
// "key = value" line format as local settings files.
func LoadFile(folder string, base *Settings) (*Settings, error) {
	if base == nil {
		base = DefaultSettings()
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	plain := filepath.Join(folder, DefaultConfigFile)
	if info, err := os.Stat(plain); err == nil && !info.IsDir() {
		node, err := local.ParseFile(plain)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %s: %w", plain, err)
		}
		if m, ok := node.Interface().(map[string]any); ok {
			if err := v.MergeConfigMap(m); err != nil {
				return nil, fmt.Errorf("failed to load configuration file %s: %w", plain, err)
			}
		}
		return apply(v, base.Clone())
	}

	v.SetConfigName(DefaultConfigFile)
	v.AddConfigPath(folder)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file in %s: %w", folder, err)
		}
	}
	return apply(v, base.Clone())
}

func apply(v *viper.Viper, s *Settings) (*Settings, error) {
	if raw, ok := lookup(v, keys.enableLocal); ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", keys.enableLocal[0], raw, err)
		}
		s.EnableLocalSettings = b
	}
	if raw, ok := lookup(v, keys.enableCluster); ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", keys.enableCluster[0], raw, err)
		}
		s.EnableClusterSettings = b
	}
	if raw, ok := lookup(v, keys.period); ok {
		d, err := ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", keys.period[0], raw, err)
		}
		s.UpdatePeriod = d
	}
	if raw, ok := lookup(v, keys.timeout); ok {
		d, err := ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", keys.timeout[0], raw, err)
		}
		s.RequestTimeout = d
	}
	if raw, ok := lookup(v, keys.zone); ok {
		s.Zone = raw
	}
	if raw, ok := lookup(v, keys.folder); ok {
		s.LocalFolder = raw
	}

	if host := strings.TrimSpace(v.GetString("clusterConfigHost")); host != "" {
		// Malformed legacy endpoints are ignored.
		name, portStr, found := strings.Cut(host, ":")
		if port, err := strconv.Atoi(portStr); found && name != "" && err == nil {
			s.Cluster = remote.NewDNSCluster(name, port)
		}
	} else if v.IsSet("ServerDNS") || v.IsSet("ServerPort") {
		name := DefaultDNS
		if dns := strings.TrimSpace(v.GetString("ServerDNS")); dns != "" {
			name = dns
		}
		port := DefaultPort
		if p, err := strconv.Atoi(strings.TrimSpace(v.GetString("ServerPort"))); err == nil && p != 0 {
			port = p
		}
		s.Cluster = remote.NewDNSCluster(name, port)
	}
	return s, nil
}

func lookup(v *viper.Viper, names [2]string) (string, bool) {
	for _, name := range names {
		if v.IsSet(name) {
			if raw := strings.TrimSpace(v.GetString(name)); raw != "" {
				return raw, true
			}
		}
	}
	return "", false
}

// ParseDuration accepts Go durations ("1m5s") as well as clock-style
// "hh:mm:ss" and "d.hh:mm:ss" values. A bare number is seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}

	var days int64
	if head, rest, ok := strings.Cut(s, "."); ok && !strings.Contains(head, ":") {
		d, err := strconv.ParseInt(head, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad day count: %w", err)
		}
		days, s = d, rest
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("expected hh:mm[:ss]")
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad hours: %w", err)
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad minutes: %w", err)
	}
	var sec float64
	if len(parts) == 3 {
		if sec, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return 0, fmt.Errorf("bad seconds: %w", err)
		}
	}
	total := time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second))
	return total, nil
}

var (
	defaultsOnce sync.Once
	defaults     *Settings
	defaultsErr  error
)

// Defaults returns the process-wide default settings: the built-in
// defaults with the configuration file from the located default folder
// applied. The result is computed once.
func Defaults() (*Settings, error) {
	defaultsOnce.Do(func() {
		folder := local.Locate("", DefaultLocalFolder, local.DefaultMaxHops)
		defaults, defaultsErr = LoadFile(folder, DefaultSettings())
	})
	if defaultsErr != nil {
		return nil, defaultsErr
	}
	return defaults.Clone(), nil
}
