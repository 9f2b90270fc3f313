package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/model"
	"github.com/sakif/seriescope/internal/repository"
)

// DefaultOutlierThreshold flags a series when its z-score exceeds this many
// standard deviations above the run mean.
const DefaultOutlierThreshold = 2.0

// OutlierOptions tunes outlier detection for one analysis run.
type OutlierOptions struct {
	// ZThreshold overrides the service default when > 0.
	ZThreshold float64
	// AbsoluteBytes, when > 0, additionally flags any series whose average
	// episode size exceeds it, regardless of z-score.
	AbsoluteBytes float64
}

// HistoryService computes per-run statistics and answers comparison and
// trend queries over the snapshot store. All reads and writes are scoped
// to one user; historical data is strictly per-user.
type HistoryService struct {
	history          repository.HistoryRepository
	defaultThreshold float64
	logger           *slog.Logger
}

// NewHistoryService creates a HistoryService. A defaultThreshold <= 0
// falls back to DefaultOutlierThreshold.
func NewHistoryService(history repository.HistoryRepository, defaultThreshold float64, logger *slog.Logger) *HistoryService {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultOutlierThreshold
	}
	return &HistoryService{
		history:          history,
		defaultThreshold: defaultThreshold,
		logger:           logger,
	}
}

// SaveSnapshot derives statistics from the raw per-series numbers and
// persists the run as one immutable snapshot.
//
// STATISTICS:
// The z-score of each series is computed from the run's own mean and
// standard deviation of average episode size. Population statistics
// (divide by N, not N-1): a snapshot is the entire library at that moment,
// not a sample of it. When the deviation is zero (all averages equal, or a
// single series) every z-score is 0.
//
// A series is an outlier when z > threshold. The check is one-sided: the
// dashboard cares about series eating unusually MUCH space per episode,
// not unusually little.
func (s *HistoryService) SaveSnapshot(ctx context.Context, userID string, runTimestamp time.Time, inputs []model.SeriesInput, opts OutlierOptions) (*model.Snapshot, error) {
	if len(inputs) == 0 {
		return nil, apperror.InvalidSnapshot("snapshot has no series records")
	}

	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in.Name == "" {
			return nil, apperror.InvalidSnapshot("series with empty name")
		}
		if seen[in.Name] {
			return nil, apperror.InvalidSnapshot(fmt.Sprintf("duplicate series %q in run", in.Name))
		}
		seen[in.Name] = true
		if in.EpisodeCount < 0 || in.TotalBytes < 0 {
			return nil, apperror.InvalidSnapshot(fmt.Sprintf("series %q has negative counts", in.Name))
		}
	}

	threshold := opts.ZThreshold
	if threshold <= 0 {
		threshold = s.defaultThreshold
	}

	records := make([]model.SeriesRecord, len(inputs))
	var sumAvg float64
	for i, in := range inputs {
		var avg float64
		if in.EpisodeCount > 0 {
			avg = float64(in.TotalBytes) / float64(in.EpisodeCount)
		}
		records[i] = model.SeriesRecord{
			SeriesName:   in.Name,
			EpisodeCount: in.EpisodeCount,
			TotalBytes:   in.TotalBytes,
			AvgBytes:     avg,
		}
		sumAvg += avg
	}

	mean := sumAvg / float64(len(records))
	var sumSq float64
	for _, rec := range records {
		d := rec.AvgBytes - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(records))) // population stddev

	summary := model.SnapshotSummary{
		SeriesCount:  len(records),
		MeanAvgBytes: mean,
		StddevBytes:  stddev,
	}
	for i := range records {
		if stddev > 0 {
			records[i].ZScore = (records[i].AvgBytes - mean) / stddev
		}
		records[i].IsOutlier = records[i].ZScore > threshold ||
			(opts.AbsoluteBytes > 0 && records[i].AvgBytes > opts.AbsoluteBytes)

		summary.EpisodeTotal += records[i].EpisodeCount
		summary.TotalBytes += records[i].TotalBytes
		if records[i].IsOutlier {
			summary.OutlierCount++
		}
	}

	snapshot := &model.Snapshot{
		UserID:       userID,
		RunTimestamp: runTimestamp.UTC(),
		Summary:      summary,
		Records:      records,
	}
	if err := s.history.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	s.logger.Info("snapshot saved",
		slog.String("userID", userID),
		slog.Time("runTimestamp", snapshot.RunTimestamp),
		slog.Int("series", summary.SeriesCount),
		slog.Int("outliers", summary.OutlierCount),
	)

	return snapshot, nil
}

// LoadSnapshot returns one snapshot with its records.
func (s *HistoryService) LoadSnapshot(ctx context.Context, userID string, runTimestamp time.Time) (*model.Snapshot, error) {
	return s.history.GetSnapshot(ctx, userID, runTimestamp)
}

// ListSnapshots returns the user's snapshot metadata, newest first.
func (s *HistoryService) ListSnapshots(ctx context.Context, userID string) ([]model.Snapshot, error) {
	return s.history.ListSnapshots(ctx, userID)
}

// Compare diffs two of the user's snapshots series by series.
//
// Every series present in either snapshot appears in the result, including
// ones whose size did not change (zero delta, not omitted). Percent change
// is relative to side A and 0 when side A had no bytes. Swapping a and b
// yields the same series set with sign-inverted deltas. Results are ordered
// by absolute size change, largest first.
func (s *HistoryService) Compare(ctx context.Context, userID string, timestampA, timestampB time.Time) (*model.Comparison, error) {
	snapA, err := s.history.GetSnapshot(ctx, userID, timestampA)
	if err != nil {
		return nil, err
	}
	snapB, err := s.history.GetSnapshot(ctx, userID, timestampB)
	if err != nil {
		return nil, err
	}

	byNameA := make(map[string]model.SeriesRecord, len(snapA.Records))
	for _, rec := range snapA.Records {
		byNameA[rec.SeriesName] = rec
	}
	byNameB := make(map[string]model.SeriesRecord, len(snapB.Records))
	for _, rec := range snapB.Records {
		byNameB[rec.SeriesName] = rec
	}

	names := make([]string, 0, len(byNameA)+len(byNameB))
	for name := range byNameA {
		names = append(names, name)
	}
	for name := range byNameB {
		if _, ok := byNameA[name]; !ok {
			names = append(names, name)
		}
	}

	cmp := &model.Comparison{
		UserID:     userID,
		TimestampA: snapA.RunTimestamp,
		TimestampB: snapB.RunTimestamp,
		Series:     make([]model.SeriesChange, 0, len(names)),
	}

	for _, name := range names {
		recA, inA := byNameA[name]
		recB, inB := byNameB[name]

		change := model.SeriesChange{SeriesName: name}
		switch {
		case inA && inB:
			change.Status = model.SeriesExisting
		case inB:
			change.Status = model.SeriesNew
		default:
			change.Status = model.SeriesRemoved
		}

		change.EpisodesA = recA.EpisodeCount
		change.EpisodesB = recB.EpisodeCount
		change.EpisodeDelta = recB.EpisodeCount - recA.EpisodeCount
		change.BytesA = recA.TotalBytes
		change.BytesB = recB.TotalBytes
		change.BytesDelta = recB.TotalBytes - recA.TotalBytes
		if change.BytesA > 0 {
			change.PercentDelta = float64(change.BytesDelta) / float64(change.BytesA) * 100
		}

		cmp.Series = append(cmp.Series, change)
		cmp.TotalBytesA += change.BytesA
		cmp.TotalBytesB += change.BytesB
	}

	cmp.TotalDelta = cmp.TotalBytesB - cmp.TotalBytesA
	if cmp.TotalBytesA > 0 {
		cmp.TotalPercent = float64(cmp.TotalDelta) / float64(cmp.TotalBytesA) * 100
	}

	sort.Slice(cmp.Series, func(i, j int) bool {
		di := absInt64(cmp.Series[i].BytesDelta)
		dj := absInt64(cmp.Series[j].BytesDelta)
		if di != dj {
			return di > dj
		}
		return cmp.Series[i].SeriesName < cmp.Series[j].SeriesName
	})

	return cmp, nil
}

// SeriesTrend returns the time-ordered history of one series for one user.
// An empty slice (not an error) when the series never appeared.
func (s *HistoryService) SeriesTrend(ctx context.Context, userID, seriesName string) ([]model.TrendPoint, error) {
	if seriesName == "" {
		return nil, apperror.ValidationFailed("seriesName", "series name must not be empty")
	}
	return s.history.SeriesTrend(ctx, userID, seriesName)
}

// GlobalTrend returns the user's per-run summaries, oldest first.
func (s *HistoryService) GlobalTrend(ctx context.Context, userID string) ([]model.GlobalTrendPoint, error) {
	return s.history.GlobalTrend(ctx, userID)
}

// DeleteSnapshot removes one of the user's snapshots by its exact run
// timestamp. Irreversible; SnapshotNotFound when no run exists there.
func (s *HistoryService) DeleteSnapshot(ctx context.Context, userID string, runTimestamp time.Time) error {
	if err := s.history.DeleteSnapshot(ctx, userID, runTimestamp); err != nil {
		return err
	}
	s.logger.Info("snapshot deleted",
		slog.String("userID", userID),
		slog.Time("runTimestamp", runTimestamp),
	)
	return nil
}

// Cleanup deletes the user's snapshots strictly older than the cutoff and
// returns how many were removed. Irreversible.
func (s *HistoryService) Cleanup(ctx context.Context, userID string, olderThan time.Time) (int, error) {
	n, err := s.history.DeleteOlderThan(ctx, userID, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("history cleanup",
			slog.String("userID", userID),
			slog.Time("olderThan", olderThan),
			slog.Int("deleted", n),
		)
	}
	return n, nil
}

// PurgeUserHistory deletes every snapshot for one user, used by the
// user-delete cascade when the deployment's retention policy says purge.
func (s *HistoryService) PurgeUserHistory(ctx context.Context, userID string) (int, error) {
	return s.history.DeleteAllForUser(ctx, userID)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
