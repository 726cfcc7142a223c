package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/clusterconfig/internal/remote"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenCreatesSchema(t *testing.T) {
	j := openTestJournal(t)

	var count int
	err := j.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='updates'`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query schema: %v", err)
	}
	if count != 1 {
		t.Error("updates table does not exist")
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	received := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	events := []remote.UpdateEvent{
		{Zone: "a", Replica: "http://r1", Protocol: remote.V2, Version: time.Unix(1000, 0), Size: 10, ReceivedAt: received},
		{Zone: "b", Replica: "http://r2", Protocol: remote.V3, Version: time.Unix(2000, 0), Subtrees: 2, Size: 20, ReceivedAt: received},
		{Zone: "a", Replica: "http://r1", Protocol: remote.V2, Version: time.Unix(3000, 0), Patch: true, Size: 5, Description: "tree", ReceivedAt: received},
	}
	for _, ev := range events {
		if err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	got, err := j.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	want := []Entry{
		{ID: 3, Zone: "a", Replica: "http://r1", Protocol: "V2", Version: time.Unix(3000, 0).UTC(), Patch: true, Size: 5, Description: "tree", ReceivedAt: received},
		{ID: 1, Zone: "a", Replica: "http://r1", Protocol: "V2", Version: time.Unix(1000, 0).UTC(), Size: 10, ReceivedAt: received},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recent() mismatch (-want +got):\n%s", diff)
	}

	all, err := j.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != 3 {
		t.Errorf("Recent(all, 2) = %d entries starting at %d, want 2 starting at 3", len(all), all[0].ID)
	}
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := j.Record(ctx, remote.UpdateEvent{Zone: "z", Protocol: remote.V2, Version: time.Unix(int64(i), 0)}); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}
	n, err := j.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Prune() removed %d, want 3", n)
	}
	left, err := j.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("%d entries left, want 2", len(left))
	}
}

func TestHookRecords(t *testing.T) {
	j := openTestJournal(t)
	j.Hook(nil)(remote.UpdateEvent{Zone: "hooked", Protocol: remote.V1, Version: time.Unix(1, 0)})

	got, err := j.Recent(context.Background(), "hooked", 1)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 1 || got[0].Protocol != "V1" {
		t.Errorf("Recent() = %+v, want one V1 entry", got)
	}
}
