package service

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/seriescope/internal/model"
)

// ExportComparisonCSV renders a comparison result as CSV: one row per
// series plus a trailing TOTAL row. Pure formatting; byte counts stay raw
// so spreadsheets can aggregate them, percentages get two decimals.
func ExportComparisonCSV(cmp *model.Comparison) (string, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	header := []string{
		"series_name", "status",
		"episodes_a", "episodes_b", "episode_delta",
		"bytes_a", "bytes_b", "bytes_delta", "percent_delta",
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("service/export: writing header: %w", err)
	}

	for _, c := range cmp.Series {
		row := []string{
			c.SeriesName,
			string(c.Status),
			strconv.FormatInt(c.EpisodesA, 10),
			strconv.FormatInt(c.EpisodesB, 10),
			strconv.FormatInt(c.EpisodeDelta, 10),
			strconv.FormatInt(c.BytesA, 10),
			strconv.FormatInt(c.BytesB, 10),
			strconv.FormatInt(c.BytesDelta, 10),
			strconv.FormatFloat(c.PercentDelta, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("service/export: writing row: %w", err)
		}
	}

	total := []string{
		"TOTAL", "",
		"", "", "",
		strconv.FormatInt(cmp.TotalBytesA, 10),
		strconv.FormatInt(cmp.TotalBytesB, 10),
		strconv.FormatInt(cmp.TotalDelta, 10),
		strconv.FormatFloat(cmp.TotalPercent, 'f', 2, 64),
	}
	if err := w.Write(total); err != nil {
		return "", fmt.Errorf("service/export: writing total row: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("service/export: flushing: %w", err)
	}
	return buf.String(), nil
}

// ExportTrendCSV renders a single-series trend as CSV, oldest first.
func ExportTrendCSV(seriesName string, points []model.TrendPoint) (string, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	header := []string{"series_name", "run_timestamp", "episode_count", "total_size_bytes", "avg_size_bytes"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("service/export: writing header: %w", err)
	}

	for _, p := range points {
		row := []string{
			seriesName,
			p.RunTimestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(p.EpisodeCount, 10),
			strconv.FormatInt(p.TotalBytes, 10),
			strconv.FormatFloat(p.AvgBytes, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("service/export: writing row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("service/export: flushing: %w", err)
	}
	return buf.String(), nil
}
