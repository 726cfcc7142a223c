package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig"
)

func resetFlags(t *testing.T) {
	t.Helper()
	zoneFlag, folderFlag, protocolFlag = "", "", ""
	clusterFlag = nil
	periodFlag = 0
	noLocalFlag, noRemoteFlag = false, false
	logFileFlag, logLevelFlag, journalFlag = "", "warn", ""
	t.Cleanup(func() {
		zoneFlag, folderFlag, protocolFlag = "", "", ""
		clusterFlag = nil
		periodFlag = 0
		noLocalFlag, noRemoteFlag = false, false
		logFileFlag, logLevelFlag, journalFlag = "", "warn", ""
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{})
	})
}

func TestClientSettingsFromFlags(t *testing.T) {
	resetFlags(t)
	zoneFlag = "prod"
	folderFlag = "/etc/settings"
	clusterFlag = []string{"10.0.0.1:9000", "10.0.0.2:9000"}
	protocolFlag = "v3_1"
	periodFlag = 5 * time.Second
	noLocalFlag = true

	s, err := clientSettings()
	if err != nil {
		t.Fatalf("Failed to build settings: %v", err)
	}
	if s.Zone != "prod" {
		t.Errorf("Expected zone prod, got %q", s.Zone)
	}
	if s.LocalFolder != "/etc/settings" {
		t.Errorf("Expected folder /etc/settings, got %q", s.LocalFolder)
	}
	if s.ForcedProtocolVersion != clusterconfig.ProtocolV3_1 {
		t.Errorf("Expected V3_1, got %v", s.ForcedProtocolVersion)
	}
	if s.UpdatePeriod != 5*time.Second {
		t.Errorf("Expected period 5s, got %v", s.UpdatePeriod)
	}
	if s.EnableLocalSettings {
		t.Error("Expected local settings to be disabled")
	}
	if !s.EnableClusterSettings {
		t.Error("Expected cluster settings to stay enabled")
	}
	cluster, ok := s.Cluster.(clusterconfig.StaticCluster)
	if !ok {
		t.Fatalf("Expected a static cluster, got %T", s.Cluster)
	}
	if diff := cmp.Diff(clusterconfig.StaticCluster{"10.0.0.1:9000", "10.0.0.2:9000"}, cluster); diff != "" {
		t.Errorf("Cluster mismatch (-want +got):\n%s", diff)
	}
}

func TestClientSettingsErrors(t *testing.T) {
	tests := []struct {
		name  string
		apply func()
	}{
		{"bad protocol", func() { protocolFlag = "V9" }},
		{"nothing enabled", func() { noLocalFlag, noRemoteFlag = true, true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			tt.apply()
			if _, err := clientSettings(); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestSetupLogging(t *testing.T) {
	resetFlags(t)

	logLevelFlag = "loud"
	if err := setupLogging(); err == nil {
		t.Error("Expected error for unknown log level")
	}

	logLevelFlag = "debug"
	logFileFlag = filepath.Join(t.TempDir(), "ccctl.log")
	if err := setupLogging(); err != nil {
		t.Fatalf("Failed to set up logging: %v", err)
	}
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		t.Error("Expected debug logging to be enabled")
	}
}

func TestSplitPaths(t *testing.T) {
	if diff := cmp.Diff([]string{""}, splitPaths(nil)); diff != "" {
		t.Errorf("Empty args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a/b", "c"}, splitPaths([]string{" a/b ", "c"})); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
}
