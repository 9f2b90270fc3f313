package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/model"
	"github.com/sakif/seriescope/internal/repository"
)

// Compile-time check that *HistoryDB implements repository.HistoryRepository.
var _ repository.HistoryRepository = (*HistoryDB)(nil)

// HistoryDB is the snapshot store: one SQLite file holding analysis runs
// and their per-series records.
//
// TIMESTAMP ENCODING:
// run_timestamp is stored as UTC Unix nanoseconds (INTEGER). Text datetime
// encodings make exact-equality lookups fragile (formatting, sub-second
// precision, timezones); an integer compares and sorts exactly, so the
// UNIQUE(user_id, run_timestamp) constraint is airtight.
type HistoryDB struct {
	conn *sql.DB
}

// NewHistoryDB opens (or creates) the history store at dbPath.
//
// ON DELETE CASCADE on series_records means deleting a snapshot row drops
// its records in the same statement; combined with foreign_keys=ON from
// open(), a snapshot can never lose its records without disappearing
// itself. There is no UPDATE path anywhere in this file: snapshots are
// immutable once written.
func NewHistoryDB(dbPath string) (*HistoryDB, error) {
	conn, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			run_timestamp    INTEGER NOT NULL,
			series_count     INTEGER NOT NULL,
			episode_total    INTEGER NOT NULL,
			size_total_bytes INTEGER NOT NULL,
			mean_avg_bytes   REAL NOT NULL,
			stddev_avg_bytes REAL NOT NULL,
			outlier_count    INTEGER NOT NULL,
			UNIQUE(user_id, run_timestamp)
		);
		CREATE TABLE IF NOT EXISTS series_records (
			snapshot_id      TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			series_name      TEXT NOT NULL,
			episode_count    INTEGER NOT NULL,
			total_size_bytes INTEGER NOT NULL,
			avg_size_bytes   REAL NOT NULL,
			z_score          REAL NOT NULL,
			is_outlier       INTEGER NOT NULL,
			UNIQUE(snapshot_id, series_name)
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_user ON snapshots(user_id, run_timestamp);
		CREATE INDEX IF NOT EXISTS idx_records_series ON series_records(series_name);
	`)
	if err != nil {
		conn.Close()
		return nil, apperror.StorageUnavailable(fmt.Errorf("migrating history tables: %w", err))
	}

	return &HistoryDB{conn: conn}, nil
}

// Close closes the connection pool.
func (db *HistoryDB) Close() error {
	return db.conn.Close()
}

// SaveSnapshot inserts the snapshot row and every series record in one
// transaction: either the whole run lands or none of it does. A second
// save with the same (user_id, run_timestamp) hits the UNIQUE constraint
// and comes back as ErrInvalidSnapshot; it is never merged into or
// overwrites the existing snapshot.
func (db *HistoryDB) SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	snapshot.ID = xid.New().String()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning snapshot tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, user_id, run_timestamp, series_count, episode_total,
		                        size_total_bytes, mean_avg_bytes, stddev_avg_bytes, outlier_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.ID,
		snapshot.UserID,
		snapshot.RunTimestamp.UTC().UnixNano(),
		snapshot.Summary.SeriesCount,
		snapshot.Summary.EpisodeTotal,
		snapshot.Summary.TotalBytes,
		snapshot.Summary.MeanAvgBytes,
		snapshot.Summary.StddevBytes,
		snapshot.Summary.OutlierCount,
	)
	if err != nil {
		if isUniqueViolation(err, "snapshots.user_id") {
			return apperror.InvalidSnapshot(fmt.Sprintf(
				"a snapshot already exists for %s", snapshot.RunTimestamp.UTC().Format(time.RFC3339)))
		}
		return fmt.Errorf("sqlite: inserting snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO series_records (snapshot_id, series_name, episode_count,
		                             total_size_bytes, avg_size_bytes, z_score, is_outlier)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: preparing record insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range snapshot.Records {
		_, err := stmt.ExecContext(ctx,
			snapshot.ID,
			rec.SeriesName,
			rec.EpisodeCount,
			rec.TotalBytes,
			rec.AvgBytes,
			rec.ZScore,
			rec.IsOutlier,
		)
		if err != nil {
			if isUniqueViolation(err, "series_records.snapshot_id") {
				return apperror.InvalidSnapshot(fmt.Sprintf("duplicate series %q in snapshot", rec.SeriesName))
			}
			return fmt.Errorf("sqlite: inserting record %q: %w", rec.SeriesName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing snapshot: %w", err)
	}
	return nil
}

func scanSnapshotRow(row interface{ Scan(...any) error }) (*model.Snapshot, error) {
	var (
		s     model.Snapshot
		runNS int64
	)
	err := row.Scan(
		&s.ID, &s.UserID, &runNS,
		&s.Summary.SeriesCount, &s.Summary.EpisodeTotal, &s.Summary.TotalBytes,
		&s.Summary.MeanAvgBytes, &s.Summary.StddevBytes, &s.Summary.OutlierCount,
	)
	if err != nil {
		return nil, err
	}
	s.RunTimestamp = time.Unix(0, runNS).UTC()
	return &s, nil
}

const snapshotColumns = `id, user_id, run_timestamp, series_count, episode_total,
	size_total_bytes, mean_avg_bytes, stddev_avg_bytes, outlier_count`

// GetSnapshot loads one snapshot with all its records, ordered by average
// size descending (the order the dashboard tables want).
func (db *HistoryDB) GetSnapshot(ctx context.Context, userID string, runTimestamp time.Time) (*model.Snapshot, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE user_id = ? AND run_timestamp = ?`,
		userID, runTimestamp.UTC().UnixNano())

	snapshot, err := scanSnapshotRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.SnapshotNotFound(runTimestamp.UTC().Format(time.RFC3339))
		}
		return nil, fmt.Errorf("sqlite: getting snapshot: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT series_name, episode_count, total_size_bytes, avg_size_bytes, z_score, is_outlier
		 FROM series_records WHERE snapshot_id = ?
		 ORDER BY avg_size_bytes DESC, series_name ASC`,
		snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading snapshot records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.SeriesRecord
		err := rows.Scan(&rec.SeriesName, &rec.EpisodeCount, &rec.TotalBytes,
			&rec.AvgBytes, &rec.ZScore, &rec.IsOutlier)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning record row: %w", err)
		}
		snapshot.Records = append(snapshot.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating records: %w", err)
	}

	return snapshot, nil
}

// ListSnapshots returns snapshot metadata for one user, newest first.
// Records are not loaded; callers wanting rows use GetSnapshot.
func (db *HistoryDB) ListSnapshots(ctx context.Context, userID string) ([]model.Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE user_id = ? ORDER BY run_timestamp DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []model.Snapshot{}
	for rows.Next() {
		s, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snapshot row: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// SeriesTrend returns every appearance of one series across one user's
// snapshots, oldest first. A series that never appeared yields an empty
// slice, not an error.
func (db *HistoryDB) SeriesTrend(ctx context.Context, userID, seriesName string) ([]model.TrendPoint, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT s.run_timestamp, r.episode_count, r.total_size_bytes, r.avg_size_bytes
		 FROM series_records r
		 JOIN snapshots s ON s.id = r.snapshot_id
		 WHERE s.user_id = ? AND r.series_name = ?
		 ORDER BY s.run_timestamp ASC`,
		userID, seriesName)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading series trend: %w", err)
	}
	defer rows.Close()

	points := []model.TrendPoint{}
	for rows.Next() {
		var (
			p     model.TrendPoint
			runNS int64
		)
		if err := rows.Scan(&runNS, &p.EpisodeCount, &p.TotalBytes, &p.AvgBytes); err != nil {
			return nil, fmt.Errorf("sqlite: scanning trend row: %w", err)
		}
		p.RunTimestamp = time.Unix(0, runNS).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating trend rows: %w", err)
	}

	return points, nil
}

// GlobalTrend returns one user's per-run summaries, oldest first, for
// library-wide growth charts.
func (db *HistoryDB) GlobalTrend(ctx context.Context, userID string) ([]model.GlobalTrendPoint, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_timestamp, series_count, episode_total, size_total_bytes,
		        mean_avg_bytes, stddev_avg_bytes, outlier_count
		 FROM snapshots WHERE user_id = ? ORDER BY run_timestamp ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading global trend: %w", err)
	}
	defer rows.Close()

	points := []model.GlobalTrendPoint{}
	for rows.Next() {
		var (
			p     model.GlobalTrendPoint
			runNS int64
		)
		err := rows.Scan(&runNS,
			&p.Summary.SeriesCount, &p.Summary.EpisodeTotal, &p.Summary.TotalBytes,
			&p.Summary.MeanAvgBytes, &p.Summary.StddevBytes, &p.Summary.OutlierCount)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning global trend row: %w", err)
		}
		p.RunTimestamp = time.Unix(0, runNS).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating global trend rows: %w", err)
	}

	return points, nil
}

// DeleteSnapshot removes one snapshot by its exact run timestamp; records
// cascade. Unlike the bulk deletes, a miss is an error: the caller named a
// specific run and should learn it is not there.
func (db *HistoryDB) DeleteSnapshot(ctx context.Context, userID string, runTimestamp time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM snapshots WHERE user_id = ? AND run_timestamp = ?`,
		userID, runTimestamp.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: deleting snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.SnapshotNotFound(runTimestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

// DeleteOlderThan removes one user's snapshots strictly older than the
// cutoff and returns how many snapshots were deleted. Records go with
// their snapshots via ON DELETE CASCADE.
func (db *HistoryDB) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM snapshots WHERE user_id = ? AND run_timestamp < ?`,
		userID, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting old snapshots: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting deleted snapshots: %w", err)
	}
	return int(n), nil
}

// DeleteAllForUser removes every snapshot belonging to one user, used by
// the user-delete cascade when the retention policy says purge.
func (db *HistoryDB) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM snapshots WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting snapshots for user %s: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting deleted snapshots: %w", err)
	}
	return int(n), nil
}
