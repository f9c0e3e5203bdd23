// Package evaluation provides retrieval quality metrics and an evaluation
// harness for the RAG pipeline.
package evaluation

import (
	"math"
	"sort"
)

// MetricKind identifies a retrieval quality metric.
type MetricKind string

const (
	MetricPrecision MetricKind = "precision"
	MetricRecall    MetricKind = "recall"
	MetricNDCG      MetricKind = "ndcg"
	MetricHitRate   MetricKind = "hit_rate"
	MetricMRR       MetricKind = "mrr"
)

// KindsByK lists the metric kinds computed per cutoff depth K.
// MRR is rank-based and computed once per query, independent of K.
var KindsByK = []MetricKind{MetricPrecision, MetricRecall, MetricNDCG, MetricHitRate}

// PrecisionAtK returns the fraction of the top-K ranked IDs that are relevant.
// When fewer than K results were returned, the denominator is the number of
// results actually returned rather than K. Ranked IDs not present in the
// relevant set count as non-relevant.
func PrecisionAtK(rankedIDs []string, relevant map[string]bool, k int) float64 {
	if k <= 0 {
		return 0
	}

	limit := k
	if limit > len(rankedIDs) {
		limit = len(rankedIDs)
	}
	if limit == 0 {
		return 0
	}

	hits := 0
	for i := 0; i < limit; i++ {
		if relevant[rankedIDs[i]] {
			hits++
		}
	}

	return float64(hits) / float64(limit)
}

// RecallAtK returns the fraction of relevant IDs found within the top K.
// The second return value is false when the relevant set is empty, in which
// case recall is undefined for this query and must be excluded from
// aggregation rather than counted as zero.
func RecallAtK(rankedIDs []string, relevant map[string]bool, k int) (float64, bool) {
	if len(relevant) == 0 {
		return 0, false
	}
	if k <= 0 {
		return 0, true
	}

	limit := k
	if limit > len(rankedIDs) {
		limit = len(rankedIDs)
	}

	hits := 0
	for i := 0; i < limit; i++ {
		if relevant[rankedIDs[i]] {
			hits++
		}
	}

	return float64(hits) / float64(len(relevant)), true
}

// ReciprocalRank returns 1/rank of the first relevant ID (1-based), or 0
// when no relevant ID appears anywhere in the ranking.
func ReciprocalRank(rankedIDs []string, relevant map[string]bool) float64 {
	for i, id := range rankedIDs {
		if relevant[id] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// NDCGAtK returns the normalized discounted cumulative gain at K using
// graded relevance scores. IDs missing from the score map contribute a gain
// of zero. Returns 0 when the ideal DCG is zero, i.e. no document with
// positive relevance is known for the query.
func NDCGAtK(rankedIDs []string, scores map[string]float64, k int) float64 {
	if k <= 0 {
		return 0
	}

	limit := k
	if limit > len(rankedIDs) {
		limit = len(rankedIDs)
	}

	var dcg float64
	for i := 0; i < limit; i++ {
		dcg += scores[rankedIDs[i]] / math.Log2(float64(i+2))
	}

	ideal := make([]float64, 0, len(scores))
	for _, s := range scores {
		ideal = append(ideal, s)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))

	var idcg float64
	for i := 0; i < k && i < len(ideal); i++ {
		idcg += ideal[i] / math.Log2(float64(i+2))
	}

	if idcg == 0 {
		return 0
	}

	return dcg / idcg
}

// HitRateAtK returns 1 if at least one of the top-K ranked IDs is relevant,
// 0 otherwise.
func HitRateAtK(rankedIDs []string, relevant map[string]bool, k int) float64 {
	limit := k
	if limit > len(rankedIDs) {
		limit = len(rankedIDs)
	}

	for i := 0; i < limit; i++ {
		if relevant[rankedIDs[i]] {
			return 1.0
		}
	}
	return 0
}

// KMetrics holds the metric values for one query at one cutoff depth.
type KMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	// RecallDefined is false when the query has no relevant IDs; the recall
	// value is then meaningless and the aggregator excludes it.
	RecallDefined bool    `json:"recall_defined"`
	NDCG          float64 `json:"ndcg"`
	HitRate       float64 `json:"hit_rate"`
}

// QueryMetrics holds all metric values computed for a single query.
type QueryMetrics struct {
	Query          string           `json:"query"`
	RetrievedIDs   []string         `json:"retrieved_ids"`
	RelevantCount  int              `json:"relevant_count"`
	RetrievedCount int              `json:"retrieved_count"`
	MRR            float64          `json:"mrr"`
	ByK            map[int]KMetrics `json:"metrics_by_k"`
}

// EvaluateQuery computes all retrieval metrics for a single query at every
// requested cutoff depth. Ranked IDs outside the ground-truth identifier
// space degrade to zero scores; they never produce an error.
func EvaluateQuery(rankedIDs []string, ex Example, kValues []int) QueryMetrics {
	relevant := ex.relevantSet()

	qm := QueryMetrics{
		Query:          ex.Query,
		RetrievedIDs:   rankedIDs,
		RelevantCount:  len(ex.RelevantDocIDs),
		RetrievedCount: len(rankedIDs),
		MRR:            ReciprocalRank(rankedIDs, relevant),
		ByK:            make(map[int]KMetrics, len(kValues)),
	}

	for _, k := range kValues {
		recall, defined := RecallAtK(rankedIDs, relevant, k)
		qm.ByK[k] = KMetrics{
			Precision:     PrecisionAtK(rankedIDs, relevant, k),
			Recall:        recall,
			RecallDefined: defined,
			NDCG:          NDCGAtK(rankedIDs, ex.RelevanceScores, k),
			HitRate:       HitRateAtK(rankedIDs, relevant, k),
		}
	}

	return qm
}
