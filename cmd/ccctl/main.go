// Command ccctl queries and watches cluster config zones from the shell.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/clusterconfig"
	"github.com/steveyegge/clusterconfig/internal/journal"
)

var (
	zoneFlag     string
	folderFlag   string
	clusterFlag  []string
	protocolFlag string
	periodFlag   time.Duration
	noLocalFlag  bool
	noRemoteFlag bool
	logFileFlag  string
	logLevelFlag string
	journalFlag  string

	logger = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "ccctl",
	Short: "Query and watch cluster config zones",
	Long: `ccctl runs a cluster config client and reads settings through it.

Remote settings come from the cluster config service (resolved through DNS,
or listed with --cluster). Files in the local settings folder are merged on
top of them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "query", Title: "Query Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "advanced", Title: "Advanced Commands:"})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&zoneFlag, "zone", "z", "", "Zone to mirror (default from configuration)")
	flags.StringVar(&folderFlag, "folder", "", "Local settings folder")
	flags.StringSliceVar(&clusterFlag, "cluster", nil, "Replica addresses (host:port), bypassing DNS")
	flags.StringVar(&protocolFlag, "protocol", "", "Force a protocol version (V1, V2, V3, V3_1)")
	flags.DurationVar(&periodFlag, "period", 0, "Update period (default from configuration)")
	flags.BoolVar(&noLocalFlag, "no-local", false, "Ignore local settings files")
	flags.BoolVar(&noRemoteFlag, "no-remote", false, "Do not contact the cluster config service")
	flags.StringVar(&logFileFlag, "log-file", "", "Write logs to a rotating file instead of stderr")
	flags.StringVar(&logLevelFlag, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&journalFlag, "journal", "", "Record accepted remote updates in this sqlite file")
}

func setupLogging() error {
	level, err := logrus.ParseLevel(logLevelFlag)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	var out io.Writer = os.Stderr
	if logFileFlag != "" {
		out = &lumberjack.Logger{
			Filename:   logFileFlag,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetOutput(out)
	return nil
}

// clientSettings builds client settings from the default configuration
// and the command line flags.
func clientSettings() (*clusterconfig.Settings, error) {
	s := clusterconfig.DefaultSettings()
	s.Logger = logger

	if zoneFlag != "" {
		s.Zone = zoneFlag
	}
	if folderFlag != "" {
		s.LocalFolder = folderFlag
	}
	if len(clusterFlag) > 0 {
		s.Cluster = clusterconfig.StaticCluster(clusterFlag)
	}
	if protocolFlag != "" {
		v, err := clusterconfig.ParseProtocolVersion(protocolFlag)
		if err != nil {
			return nil, err
		}
		s.ForcedProtocolVersion = v
	}
	if periodFlag > 0 {
		s.UpdatePeriod = periodFlag
	}
	if noLocalFlag {
		s.EnableLocalSettings = false
	}
	if noRemoteFlag {
		s.EnableClusterSettings = false
	}
	if !s.EnableLocalSettings && !s.EnableClusterSettings {
		return nil, fmt.Errorf("--no-local and --no-remote leave nothing to read")
	}
	return s, nil
}

// session is a running client plus whatever the flags attached to it.
type session struct {
	client  *clusterconfig.Client
	journal *journal.Journal
}

// openSession starts a client. Extra hooks receive every accepted remote
// update after the journal has recorded it.
func openSession(hooks ...func(clusterconfig.UpdateEvent)) (*session, error) {
	s, err := clientSettings()
	if err != nil {
		return nil, err
	}

	sess := &session{}
	if journalFlag != "" {
		j, err := journal.Open(journalFlag)
		if err != nil {
			return nil, err
		}
		sess.journal = j
		hooks = append([]func(clusterconfig.UpdateEvent){j.Hook(logger)}, hooks...)
	}
	if len(hooks) > 0 {
		s.UpdateHook = func(ev clusterconfig.UpdateEvent) {
			for _, h := range hooks {
				h(ev)
			}
		}
	}

	client, err := clusterconfig.NewWithSettings(s)
	if err != nil {
		if sess.journal != nil {
			_ = sess.journal.Close()
		}
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	sess.client = client
	return sess, nil
}

func (s *session) Close() {
	s.client.Dispose()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close journal")
		}
	}
}

func splitPaths(args []string) []string {
	if len(args) == 0 {
		return []string{""}
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, strings.TrimSpace(a))
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
