package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DegenerateNote is the diagnostic shown instead of charts when a run
// carries no signal: every metric mean is zero or no query produced
// metrics at all.
const DegenerateNote = "no relevant results found across the entire run; " +
	"check that the dataset's relevant_doc_ids use the same identifier " +
	"namespace as the stored chunk IDs, and that retrieval succeeded for " +
	"at least one query"

// ChartSeries is one line of the metrics-by-K chart: metric means plotted
// against the requested K values.
type ChartSeries struct {
	Metric MetricKind `json:"metric"`
	K      []int      `json:"k"`
	Means  []float64  `json:"means"`
}

// Histogram is the score distribution of one metric at one K, bucketed over
// [0,1]. Counts are raw frequencies; no normalization happens here, so a
// renderer never divides by a total that could be zero.
type Histogram struct {
	Metric MetricKind `json:"metric"`
	K      int        `json:"k"`
	Edges  []float64  `json:"edges"`
	Counts []int      `json:"counts"`
}

// ChartData holds chart-ready series derived from an evaluation run.
type ChartData struct {
	MetricsByK    []ChartSeries `json:"metrics_by_k"`
	Distributions []Histogram   `json:"distributions"`
}

// ReportBundle is the final output of an evaluation run: the structured
// aggregate record, optional per-query detail, and chart data when the run
// is not degenerate. For a degenerate run Charts is nil and Note explains
// why.
type ReportBundle struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Aggregate   AggregateResult `json:"aggregate"`
	PerQuery    []QueryMetrics  `json:"per_query,omitempty"`
	Charts      *ChartData      `json:"charts,omitempty"`
	Note        string          `json:"note,omitempty"`
}

// Render builds a report bundle from aggregated results. Chart generation is
// skipped entirely for degenerate runs; the bundle then carries a diagnostic
// note so the caller can surface it instead of an empty chart.
func Render(agg AggregateResult, perQuery []QueryMetrics) ReportBundle {
	bundle := ReportBundle{
		GeneratedAt: time.Now().UTC(),
		Aggregate:   agg,
		PerQuery:    perQuery,
	}

	if agg.Degenerate {
		bundle.Note = DegenerateNote
		return bundle
	}

	bundle.Charts = buildCharts(agg, perQuery)
	return bundle
}

func buildCharts(agg AggregateResult, perQuery []QueryMetrics) *ChartData {
	kValues := append([]int(nil), agg.KValues...)
	sort.Ints(kValues)

	charts := &ChartData{}

	for _, kind := range KindsByK {
		series := ChartSeries{Metric: kind}
		for _, k := range kValues {
			summary, ok := agg.Summary(kind, k)
			if !ok {
				continue
			}
			series.K = append(series.K, k)
			series.Means = append(series.Means, summary.Mean)
		}
		charts.MetricsByK = append(charts.MetricsByK, series)
	}

	for _, k := range kValues {
		for _, kind := range KindsByK {
			if h, ok := buildHistogram(perQuery, kind, k); ok {
				charts.Distributions = append(charts.Distributions, h)
			}
		}
	}

	return charts
}

const histogramBins = 10

// buildHistogram buckets per-query scores for one metric at one K. Returns
// false when no defined scores exist for the combination.
func buildHistogram(perQuery []QueryMetrics, kind MetricKind, k int) (Histogram, bool) {
	h := Histogram{
		Metric: kind,
		K:      k,
		Edges:  make([]float64, histogramBins+1),
		Counts: make([]int, histogramBins),
	}
	for i := 0; i <= histogramBins; i++ {
		h.Edges[i] = float64(i) / histogramBins
	}

	found := false
	for i := range perQuery {
		km, ok := perQuery[i].ByK[k]
		if !ok {
			continue
		}

		var value float64
		switch kind {
		case MetricPrecision:
			value = km.Precision
		case MetricRecall:
			if !km.RecallDefined {
				continue
			}
			value = km.Recall
		case MetricNDCG:
			value = km.NDCG
		case MetricHitRate:
			value = km.HitRate
		default:
			continue
		}

		bin := int(value * histogramBins)
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		if bin < 0 {
			bin = 0
		}
		h.Counts[bin]++
		found = true
	}

	return h, found
}

// Markdown formats the bundle as a human-readable report.
func (b *ReportBundle) Markdown() string {
	var sb strings.Builder

	sb.WriteString("# Retrieval Evaluation Report\n\n")
	fmt.Fprintf(&sb, "**Date:** %s\n\n", b.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Queries evaluated:** %d\n\n", b.Aggregate.NumQueries)

	if b.Aggregate.Degenerate {
		sb.WriteString("## ⚠ Degenerate Run\n\n")
		sb.WriteString(b.Note + "\n\n")
	}

	fmt.Fprintf(&sb, "**MRR:** %.4f (over %d queries)\n\n", b.Aggregate.MRR.Mean, b.Aggregate.MRR.Contributing)

	kValues := append([]int(nil), b.Aggregate.KValues...)
	sort.Ints(kValues)

	sb.WriteString("## Metrics by K\n\n")
	sb.WriteString("| K | Precision | Recall | NDCG | Hit Rate | Recall excluded |\n")
	sb.WriteString("|---|-----------|--------|------|----------|----------------|\n")
	for _, k := range kValues {
		ks, ok := b.Aggregate.ByK[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "| %d | %.4f | %.4f | %.4f | %.4f | %d |\n",
			k, ks.Precision.Mean, ks.Recall.Mean, ks.NDCG.Mean, ks.HitRate.Mean, ks.Recall.Excluded)
	}
	sb.WriteString("\n")

	if b.Charts == nil && !b.Aggregate.Degenerate {
		sb.WriteString("_Chart data omitted._\n")
	}

	return sb.String()
}

// Save writes the bundle to an output directory: results.json with the full
// structured record and report.md with the human-readable summary. Chart
// data is written to charts.json only when present.
func (b *ReportBundle) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "results.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(b.Markdown()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if b.Charts != nil {
		chartData, err := json.MarshalIndent(b.Charts, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chart data: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "charts.json"), chartData, 0644); err != nil {
			return fmt.Errorf("failed to write chart data: %w", err)
		}
	}

	return nil
}
