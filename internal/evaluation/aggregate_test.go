package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalAll(examples []Example, rankings [][]string, kValues []int) []QueryMetrics {
	perQuery := make([]QueryMetrics, 0, len(examples))
	for i := range examples {
		perQuery = append(perQuery, EvaluateQuery(rankings[i], examples[i], kValues))
	}
	return perQuery
}

func TestAggregate_Means(t *testing.T) {
	kValues := []int{1, 3}
	examples := []Example{
		{Query: "q1", RelevantDocIDs: []string{"a"}, RelevanceScores: map[string]float64{"a": 1}},
		{Query: "q2", RelevantDocIDs: []string{"x"}, RelevanceScores: map[string]float64{"x": 1}},
	}
	rankings := [][]string{
		{"a", "b", "c"}, // hit at rank 1
		{"y", "z", "x"}, // hit at rank 3
	}

	agg := Aggregate(evalAll(examples, rankings, kValues), kValues)

	assert.Equal(t, 2, agg.NumQueries)
	assert.False(t, agg.Degenerate)

	// MRR: (1 + 1/3) / 2
	assert.InDelta(t, (1.0+1.0/3.0)/2.0, agg.MRR.Mean, 1e-9)
	assert.Equal(t, 2, agg.MRR.Contributing)

	k1 := agg.ByK[1]
	assert.InDelta(t, 0.5, k1.Precision.Mean, 1e-9)
	assert.InDelta(t, 0.5, k1.HitRate.Mean, 1e-9)

	k3 := agg.ByK[3]
	assert.InDelta(t, (1.0/3.0+1.0/3.0)/2.0, k3.Precision.Mean, 1e-9)
	assert.InDelta(t, 1.0, k3.Recall.Mean, 1e-9)
	assert.InDelta(t, 1.0, k3.HitRate.Mean, 1e-9)
}

func TestAggregate_UndefinedRecallExcludedNotZeroed(t *testing.T) {
	kValues := []int{5}
	examples := []Example{
		{Query: "has ground truth", RelevantDocIDs: []string{"a"}, RelevanceScores: map[string]float64{"a": 1}},
		{Query: "no ground truth", RelevantDocIDs: nil, RelevanceScores: map[string]float64{}},
	}
	rankings := [][]string{
		{"a", "b"},
		{"c", "d"},
	}

	agg := Aggregate(evalAll(examples, rankings, kValues), kValues)

	recall := agg.ByK[5].Recall
	assert.Equal(t, 1, recall.Contributing)
	assert.Equal(t, 1, recall.Excluded)
	// Mean over the single defined example only. Coercing the undefined one
	// to zero would give 0.5 here.
	assert.InDelta(t, 1.0, recall.Mean, 1e-9)

	// Precision is defined for both examples.
	assert.Equal(t, 2, agg.ByK[5].Precision.Contributing)
	assert.Equal(t, 0, agg.ByK[5].Precision.Excluded)
}

func TestAggregate_DegenerateOnDisjointIdentifierSpaces(t *testing.T) {
	kValues := []int{1, 3, 5, 10}
	examples := []Example{
		{
			Query:           "q1",
			RelevantDocIDs:  []string{"chunk_intro", "chunk_methods"},
			RelevanceScores: map[string]float64{"chunk_intro": 2, "chunk_methods": 1},
		},
		{
			Query:           "q2",
			RelevantDocIDs:  []string{"chunk_results"},
			RelevanceScores: map[string]float64{"chunk_results": 1},
		},
	}
	rankings := [][]string{
		{"550e8400-e29b-41d4-a716-446655440000", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"6ba7b811-9dad-11d1-80b4-00c04fd430c8"},
	}

	agg := Aggregate(evalAll(examples, rankings, kValues), kValues)

	require.True(t, agg.Degenerate, "run with zero identifier overlap must be flagged degenerate")
	for _, k := range kValues {
		ks := agg.ByK[k]
		assert.Equal(t, 0.0, ks.Precision.Mean)
		assert.Equal(t, 0.0, ks.Recall.Mean)
		assert.Equal(t, 0.0, ks.NDCG.Mean)
		assert.Equal(t, 0.0, ks.HitRate.Mean)
	}
	assert.Equal(t, 0.0, agg.MRR.Mean)
}

func TestAggregate_NotDegenerateWithAnyNonZeroMean(t *testing.T) {
	kValues := []int{1}
	examples := []Example{
		{Query: "q", RelevantDocIDs: []string{"a"}, RelevanceScores: map[string]float64{"a": 1}},
	}
	agg := Aggregate(evalAll(examples, [][]string{{"a"}}, kValues), kValues)
	assert.False(t, agg.Degenerate)
}

func TestAggregate_EmptyInputIsDegenerate(t *testing.T) {
	// A run where no query produced metrics, for example when every
	// retrieval failed, carries no signal and must be flagged the same way
	// as an all-zero run.
	agg := Aggregate(nil, []int{1, 5})
	assert.Equal(t, 0, agg.NumQueries)
	assert.True(t, agg.Degenerate)
	assert.Equal(t, 0, agg.MRR.Contributing)
}

func TestAggregate_AllRetrievalsFailedIsDegenerate(t *testing.T) {
	agg := Aggregate([]QueryMetrics{}, []int{1, 5})
	assert.True(t, agg.Degenerate)
}

func TestAggregate_Variance(t *testing.T) {
	kValues := []int{1}
	examples := []Example{
		{Query: "q1", RelevantDocIDs: []string{"a"}, RelevanceScores: map[string]float64{"a": 1}},
		{Query: "q2", RelevantDocIDs: []string{"b"}, RelevanceScores: map[string]float64{"b": 1}},
	}
	// One perfect hit, one miss: precision@1 values are {1, 0}.
	agg := Aggregate(evalAll(examples, [][]string{{"a"}, {"z"}}, kValues), kValues)

	p := agg.ByK[1].Precision
	assert.InDelta(t, 0.5, p.Mean, 1e-9)
	assert.InDelta(t, 0.25, p.Variance, 1e-9)
}

func TestAggregateResult_Summary(t *testing.T) {
	kValues := []int{3}
	examples := []Example{
		{Query: "q", RelevantDocIDs: []string{"a"}, RelevanceScores: map[string]float64{"a": 1}},
	}
	agg := Aggregate(evalAll(examples, [][]string{{"a", "b", "c"}}, kValues), kValues)

	s, ok := agg.Summary(MetricPrecision, 3)
	require.True(t, ok)
	assert.InDelta(t, 1.0/3.0, s.Mean, 1e-9)

	s, ok = agg.Summary(MetricMRR, 0)
	require.True(t, ok)
	assert.InDelta(t, 1.0, s.Mean, 1e-9)

	_, ok = agg.Summary(MetricPrecision, 42)
	assert.False(t, ok)
}
