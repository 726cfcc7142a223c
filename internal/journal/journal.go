// Package journal keeps a sqlite record of the remote updates a client
// accepted. It backs the history command and helps diagnose replicas
// that serve stale or inconsistent data.
//
// The database runs in WAL mode so that a CLI can read the journal while
// a long-running client writes to it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig/internal/remote"
)

// Journal wraps the sqlite connection.
type Journal struct {
	conn *sql.DB
	path string
}

// Entry is one recorded update.
type Entry struct {
	ID          int64
	Zone        string
	Replica     string
	Protocol    string
	Version     time.Time
	Patch       bool
	Subtrees    int
	Size        int
	Description string
	ReceivedAt  time.Time
}

// Open opens or creates the journal at path and makes sure its schema
// exists. The caller must Close it.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	j := &Journal{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = j.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := j.initSchema(context.Background()); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close checkpoints the WAL and closes the connection.
func (j *Journal) Close() error {
	if j.conn == nil {
		return nil
	}
	if _, err := j.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := j.conn.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	j.conn = nil
	return nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		zone TEXT NOT NULL,
		replica TEXT NOT NULL,
		protocol TEXT NOT NULL,
		version TEXT NOT NULL,
		patch INTEGER NOT NULL DEFAULT 0,
		subtrees INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL,
		description TEXT,
		received_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_updates_zone ON updates(zone, id);
	`
	if _, err := j.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Record stores one update event.
func (j *Journal) Record(ctx context.Context, ev remote.UpdateEvent) error {
	received := ev.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	patch := 0
	if ev.Patch {
		patch = 1
	}

	query := `
	INSERT INTO updates (
		zone, replica, protocol, version, patch,
		subtrees, size, description, received_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.conn.ExecContext(ctx, query,
		ev.Zone,
		ev.Replica,
		ev.Protocol.String(),
		ev.Version.UTC().Format(time.RFC3339),
		patch,
		ev.Subtrees,
		ev.Size,
		ev.Description,
		received.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record update of zone %s: %w", ev.Zone, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty zone
// matches every zone.
func (j *Journal) Recent(ctx context.Context, zone string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, zone, replica, protocol, version, patch,
	       subtrees, size, COALESCE(description, ''), received_at
	FROM updates
	WHERE (? = '' OR zone = ?)
	ORDER BY id DESC
	LIMIT ?
	`
	rows, err := j.conn.QueryContext(ctx, query, zone, zone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query updates: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			patch             int
			version, received string
		)
		if err := rows.Scan(&e.ID, &e.Zone, &e.Replica, &e.Protocol, &version, &patch,
			&e.Subtrees, &e.Size, &e.Description, &received); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		e.Patch = patch != 0
		if e.Version, err = time.Parse(time.RFC3339, version); err != nil {
			return nil, fmt.Errorf("failed to parse version %q: %w", version, err)
		}
		if e.ReceivedAt, err = time.Parse(time.RFC3339Nano, received); err != nil {
			return nil, fmt.Errorf("failed to parse received_at %q: %w", received, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate updates: %w", err)
	}
	return entries, nil
}

// Prune deletes all but the newest keep entries.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := j.conn.ExecContext(ctx, `
	DELETE FROM updates
	WHERE id NOT IN (SELECT id FROM updates ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune updates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned updates: %w", err)
	}
	return n, nil
}

// Hook returns an update hook for client settings that records every
// event. Failures are logged, never returned to the client.
func (j *Journal) Hook(log logrus.FieldLogger) func(remote.UpdateEvent) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(ev remote.UpdateEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.Record(ctx, ev); err != nil {
			log.WithError(err).Warn("Failed to journal update")
		}
	}
}
