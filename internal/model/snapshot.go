package model

import "time"

// SeriesInput is the raw per-series measurement supplied by the external
// collaborator that talks to the media server. Everything derived (average
// size, z-score, outlier flag) is computed at save time, never supplied.
type SeriesInput struct {
	Name         string
	EpisodeCount int64
	TotalBytes   int64
}

// SeriesRecord is one series' row inside a stored snapshot.
type SeriesRecord struct {
	SeriesName   string  `json:"seriesName"   db:"series_name"`
	EpisodeCount int64   `json:"episodeCount" db:"episode_count"`
	TotalBytes   int64   `json:"totalBytes"   db:"total_size_bytes"`
	AvgBytes     float64 `json:"avgBytes"     db:"avg_size_bytes"` // TotalBytes/EpisodeCount, 0 when no episodes
	ZScore       float64 `json:"zScore"       db:"z_score"`
	IsOutlier    bool    `json:"isOutlier"    db:"is_outlier"`
}

// SnapshotSummary is the per-run roll-up stored alongside the records.
// Mean and stddev are the population statistics the z-scores were computed
// from, persisted so trend views do not recompute them.
type SnapshotSummary struct {
	SeriesCount  int     `json:"seriesCount"  db:"series_count"`
	EpisodeTotal int64   `json:"episodeTotal" db:"episode_total"`
	TotalBytes   int64   `json:"totalBytes"   db:"size_total_bytes"`
	MeanAvgBytes float64 `json:"meanAvgBytes" db:"mean_avg_bytes"`
	StddevBytes  float64 `json:"stddevBytes"  db:"stddev_avg_bytes"`
	OutlierCount int     `json:"outlierCount" db:"outlier_count"`
}

// Snapshot is one immutable analysis run for one user. Records never change
// after the snapshot is written; a new run creates a new snapshot.
type Snapshot struct {
	ID           string          `json:"id"           db:"id"`
	UserID       string          `json:"userId"       db:"user_id"`
	RunTimestamp time.Time       `json:"runTimestamp" db:"run_timestamp"`
	Summary      SnapshotSummary `json:"summary"`
	Records      []SeriesRecord  `json:"records,omitempty"`
}

// SeriesStatus classifies a series in a two-snapshot comparison.
type SeriesStatus string

const (
	SeriesExisting SeriesStatus = "existing" // present in both snapshots
	SeriesNew      SeriesStatus = "new"      // present only in the newer snapshot
	SeriesRemoved  SeriesStatus = "removed"  // present only in the older snapshot
)

// SeriesChange is one series' delta between two snapshots. For a series
// missing from one side, that side's counts are zero and Status says which
// side it was. A series whose size is identical in both snapshots is still
// reported, with zero deltas.
type SeriesChange struct {
	SeriesName   string       `json:"seriesName"`
	Status       SeriesStatus `json:"status"`
	EpisodesA    int64        `json:"episodesA"`
	EpisodesB    int64        `json:"episodesB"`
	EpisodeDelta int64        `json:"episodeDelta"`
	BytesA       int64        `json:"bytesA"`
	BytesB       int64        `json:"bytesB"`
	BytesDelta   int64        `json:"bytesDelta"`
	PercentDelta float64      `json:"percentDelta"` // 0 when BytesA is 0
}

// Comparison is the full result of comparing snapshot A (older side of the
// call, not necessarily older in time) against snapshot B.
type Comparison struct {
	UserID       string         `json:"userId"`
	TimestampA   time.Time      `json:"timestampA"`
	TimestampB   time.Time      `json:"timestampB"`
	Series       []SeriesChange `json:"series"`
	TotalBytesA  int64          `json:"totalBytesA"`
	TotalBytesB  int64          `json:"totalBytesB"`
	TotalDelta   int64          `json:"totalDelta"`
	TotalPercent float64        `json:"totalPercent"` // 0 when TotalBytesA is 0
}

// TrendPoint is one snapshot's measurement of a single series, used to plot
// that series' growth over time.
type TrendPoint struct {
	RunTimestamp time.Time `json:"runTimestamp"`
	EpisodeCount int64     `json:"episodeCount"`
	TotalBytes   int64     `json:"totalBytes"`
	AvgBytes     float64   `json:"avgBytes"`
}

// GlobalTrendPoint is one snapshot's library-wide summary, used to plot
// total storage growth across runs.
type GlobalTrendPoint struct {
	RunTimestamp time.Time       `json:"runTimestamp"`
	Summary      SnapshotSummary `json:"summary"`
}
