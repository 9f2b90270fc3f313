package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/model"
)

func newTestHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()
	db, err := NewHistoryDB(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewHistoryDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testSnapshot builds a two-series snapshot for the given user and time.
// Statistics are arbitrary: the repository stores what it is given; the
// service layer owns the math.
func testSnapshot(userID string, ts time.Time) *model.Snapshot {
	return &model.Snapshot{
		UserID:       userID,
		RunTimestamp: ts,
		Summary: model.SnapshotSummary{
			SeriesCount:  2,
			EpisodeTotal: 30,
			TotalBytes:   3_000_000_000,
			MeanAvgBytes: 100_000_000,
			StddevBytes:  0,
		},
		Records: []model.SeriesRecord{
			{SeriesName: "Breaking Sand", EpisodeCount: 10, TotalBytes: 1_000_000_000, AvgBytes: 100_000_000},
			{SeriesName: "The Wire Frame", EpisodeCount: 20, TotalBytes: 2_000_000_000, AvgBytes: 100_000_000},
		},
	}
}

func TestHistorySaveAndGet(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	snap := testSnapshot("alice", ts)
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if snap.ID == "" {
		t.Error("SaveSnapshot() did not assign an ID")
	}

	loaded, err := db.GetSnapshot(ctx, "alice", ts)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if !loaded.RunTimestamp.Equal(ts) {
		t.Errorf("RunTimestamp = %v, want %v", loaded.RunTimestamp, ts)
	}
	if len(loaded.Records) != 2 {
		t.Fatalf("loaded %d records, want 2", len(loaded.Records))
	}
	if loaded.Summary.TotalBytes != 3_000_000_000 {
		t.Errorf("Summary.TotalBytes = %d, want 3000000000", loaded.Summary.TotalBytes)
	}
}

func TestHistorySave_DuplicateRunFails(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := db.SaveSnapshot(ctx, testSnapshot("alice", ts)); err != nil {
		t.Fatalf("first SaveSnapshot() error = %v", err)
	}

	err := db.SaveSnapshot(ctx, testSnapshot("alice", ts))
	if !errors.Is(err, apperror.ErrInvalidSnapshot) {
		t.Errorf("duplicate SaveSnapshot() error = %v, want ErrInvalidSnapshot", err)
	}

	// The original snapshot must be untouched by the failed save.
	loaded, err := db.GetSnapshot(ctx, "alice", ts)
	if err != nil {
		t.Fatalf("GetSnapshot() after duplicate error = %v", err)
	}
	if len(loaded.Records) != 2 {
		t.Errorf("records after failed duplicate = %d, want 2", len(loaded.Records))
	}
}

func TestHistorySave_SameTimestampDifferentUsers(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := db.SaveSnapshot(ctx, testSnapshot("alice", ts)); err != nil {
		t.Fatalf("SaveSnapshot(alice) error = %v", err)
	}
	// Uniqueness is per (user, timestamp), not global.
	if err := db.SaveSnapshot(ctx, testSnapshot("bob", ts)); err != nil {
		t.Errorf("SaveSnapshot(bob, same ts) error = %v", err)
	}
}

func TestHistoryGetSnapshot_NotFound(t *testing.T) {
	db := newTestHistoryDB(t)

	_, err := db.GetSnapshot(context.Background(), "alice", time.Now())
	if !errors.Is(err, apperror.ErrSnapshotNotFound) {
		t.Errorf("GetSnapshot() error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestHistoryList_NewestFirstAndIsolated(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, ts := range []time.Time{t1, t3, t2} {
		if err := db.SaveSnapshot(ctx, testSnapshot("alice", ts)); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
	}
	if err := db.SaveSnapshot(ctx, testSnapshot("bob", t1)); err != nil {
		t.Fatalf("SaveSnapshot(bob) error = %v", err)
	}

	snaps, err := db.ListSnapshots(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("ListSnapshots(alice) returned %d, want 3 (bob's must not appear)", len(snaps))
	}
	if !snaps[0].RunTimestamp.Equal(t3) || !snaps[2].RunTimestamp.Equal(t1) {
		t.Errorf("ListSnapshots() order = [%v %v %v], want newest first",
			snaps[0].RunTimestamp, snaps[1].RunTimestamp, snaps[2].RunTimestamp)
	}
	if len(snaps[0].Records) != 0 {
		t.Error("ListSnapshots() should not load records")
	}
}

func TestHistorySeriesTrend(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	s1 := testSnapshot("alice", t1)
	if err := db.SaveSnapshot(ctx, s1); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	s2 := testSnapshot("alice", t2)
	s2.Records[0].EpisodeCount = 12
	s2.Records[0].TotalBytes = 1_300_000_000
	if err := db.SaveSnapshot(ctx, s2); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	points, err := db.SeriesTrend(ctx, "alice", "Breaking Sand")
	if err != nil {
		t.Fatalf("SeriesTrend() error = %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("SeriesTrend() returned %d points, want 2", len(points))
	}
	if !points[0].RunTimestamp.Equal(t1) || !points[1].RunTimestamp.Equal(t2) {
		t.Error("SeriesTrend() should be ordered oldest first")
	}
	if points[1].EpisodeCount != 12 {
		t.Errorf("points[1].EpisodeCount = %d, want 12", points[1].EpisodeCount)
	}

	// A series that never appeared: empty, not an error.
	none, err := db.SeriesTrend(ctx, "alice", "No Such Show")
	if err != nil {
		t.Fatalf("SeriesTrend(absent) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("SeriesTrend(absent) returned %d points, want 0", len(none))
	}
}

func TestHistoryGlobalTrend(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{t2, t1} {
		if err := db.SaveSnapshot(ctx, testSnapshot("alice", ts)); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
	}

	points, err := db.GlobalTrend(ctx, "alice")
	if err != nil {
		t.Fatalf("GlobalTrend() error = %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("GlobalTrend() returned %d points, want 2", len(points))
	}
	if !points[0].RunTimestamp.Equal(t1) {
		t.Error("GlobalTrend() should be ordered oldest first")
	}
	if points[0].Summary.SeriesCount != 2 {
		t.Errorf("Summary.SeriesCount = %d, want 2", points[0].Summary.SeriesCount)
	}
}

func TestHistoryDeleteSnapshot(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{t1, t2} {
		if err := db.SaveSnapshot(ctx, testSnapshot("alice", ts)); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
	}
	if err := db.SaveSnapshot(ctx, testSnapshot("bob", t1)); err != nil {
		t.Fatalf("SaveSnapshot(bob) error = %v", err)
	}

	if err := db.DeleteSnapshot(ctx, "alice", t1); err != nil {
		t.Fatalf("DeleteSnapshot() error = %v", err)
	}

	if _, err := db.GetSnapshot(ctx, "alice", t1); !errors.Is(err, apperror.ErrSnapshotNotFound) {
		t.Errorf("GetSnapshot() after delete error = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := db.GetSnapshot(ctx, "alice", t2); err != nil {
		t.Errorf("the other run should survive: %v", err)
	}
	// Bob's snapshot at the same timestamp is untouched.
	if _, err := db.GetSnapshot(ctx, "bob", t1); err != nil {
		t.Errorf("bob's snapshot should survive: %v", err)
	}

	// Records cascade with the deleted snapshot.
	points, err := db.SeriesTrend(ctx, "alice", "Breaking Sand")
	if err != nil {
		t.Fatalf("SeriesTrend() error = %v", err)
	}
	if len(points) != 1 {
		t.Errorf("trend has %d points after delete, want 1", len(points))
	}

	// A second delete of the same run misses.
	if err := db.DeleteSnapshot(ctx, "alice", t1); !errors.Is(err, apperror.ErrSnapshotNotFound) {
		t.Errorf("second DeleteSnapshot() error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestHistoryDeleteOlderThan(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{t1, t2, t3} {
		if err := db.SaveSnapshot(ctx, testSnapshot("alice", ts)); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
	}
	if err := db.SaveSnapshot(ctx, testSnapshot("bob", t1)); err != nil {
		t.Fatalf("SaveSnapshot(bob) error = %v", err)
	}

	// Strictly older than t2: only t1 goes. The cutoff itself survives.
	n, err := db.DeleteOlderThan(ctx, "alice", t2)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteOlderThan() = %d, want 1", n)
	}

	if _, err := db.GetSnapshot(ctx, "alice", t2); err != nil {
		t.Errorf("snapshot at cutoff should survive: %v", err)
	}

	// Records must cascade with their snapshot.
	points, err := db.SeriesTrend(ctx, "alice", "Breaking Sand")
	if err != nil {
		t.Fatalf("SeriesTrend() error = %v", err)
	}
	if len(points) != 2 {
		t.Errorf("trend has %d points after cleanup, want 2", len(points))
	}

	// Bob's data is untouched.
	if _, err := db.GetSnapshot(ctx, "bob", t1); err != nil {
		t.Errorf("bob's snapshot should survive alice's cleanup: %v", err)
	}
}

func TestHistoryDeleteAllForUser(t *testing.T) {
	db := newTestHistoryDB(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{t1, t2} {
		if err := db.SaveSnapshot(ctx, testSnapshot("alice", ts)); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
	}
	if err := db.SaveSnapshot(ctx, testSnapshot("bob", t1)); err != nil {
		t.Fatalf("SaveSnapshot(bob) error = %v", err)
	}

	n, err := db.DeleteAllForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteAllForUser() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteAllForUser() = %d, want 2", n)
	}

	snaps, err := db.ListSnapshots(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("alice still has %d snapshots", len(snaps))
	}
	if _, err := db.GetSnapshot(ctx, "bob", t1); err != nil {
		t.Errorf("bob's snapshot should survive: %v", err)
	}
}
