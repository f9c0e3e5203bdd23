package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecisionAtK(t *testing.T) {
	tests := []struct {
		name     string
		ranked   []string
		relevant map[string]bool
		k        int
		expected float64
	}{
		{
			name:     "all relevant at k=3",
			ranked:   []string{"a", "b", "c"},
			relevant: map[string]bool{"a": true, "b": true, "c": true},
			k:        3,
			expected: 1.0,
		},
		{
			name:     "half relevant at k=4",
			ranked:   []string{"a", "b", "c", "d"},
			relevant: map[string]bool{"a": true, "c": true},
			k:        4,
			expected: 0.5,
		},
		{
			name:     "none relevant",
			ranked:   []string{"a", "b"},
			relevant: map[string]bool{"x": true, "y": true},
			k:        2,
			expected: 0.0,
		},
		{
			name:     "k larger than results uses returned count",
			ranked:   []string{"a", "b"},
			relevant: map[string]bool{"a": true, "b": true},
			k:        10,
			expected: 1.0,
		},
		{
			name:     "empty results",
			ranked:   nil,
			relevant: map[string]bool{"a": true},
			k:        5,
			expected: 0.0,
		},
		{
			name:     "k zero",
			ranked:   []string{"a"},
			relevant: map[string]bool{"a": true},
			k:        0,
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrecisionAtK(tt.ranked, tt.relevant, tt.k)
			assert.InDelta(t, tt.expected, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestRecallAtK(t *testing.T) {
	ranked := []string{"a", "b", "c", "d", "e"}
	relevant := map[string]bool{"b": true, "d": true, "z": true}

	r1, ok := RecallAtK(ranked, relevant, 1)
	require.True(t, ok)
	assert.InDelta(t, 0.0, r1, 1e-9)

	r3, ok := RecallAtK(ranked, relevant, 3)
	require.True(t, ok)
	assert.InDelta(t, 1.0/3.0, r3, 1e-9)

	r5, ok := RecallAtK(ranked, relevant, 5)
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, r5, 1e-9)
}

func TestRecallAtK_UndefinedForEmptyRelevantSet(t *testing.T) {
	_, ok := RecallAtK([]string{"a", "b"}, map[string]bool{}, 5)
	assert.False(t, ok, "recall must be undefined, not zero, when no relevant IDs exist")

	_, ok = RecallAtK([]string{"a", "b"}, nil, 5)
	assert.False(t, ok)
}

func TestRecallAtK_MonotoneInK(t *testing.T) {
	ranked := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	relevant := map[string]bool{"c": true, "f": true, "h": true}

	prev := 0.0
	for k := 1; k <= 10; k++ {
		r, ok := RecallAtK(ranked, relevant, k)
		require.True(t, ok)
		assert.GreaterOrEqual(t, r, prev, "recall@%d decreased", k)
		prev = r
	}
}

func TestReciprocalRank(t *testing.T) {
	tests := []struct {
		name     string
		ranked   []string
		relevant map[string]bool
		expected float64
	}{
		{
			name:     "first ranked is relevant",
			ranked:   []string{"a", "b", "c"},
			relevant: map[string]bool{"a": true},
			expected: 1.0,
		},
		{
			name:     "third ranked is relevant",
			ranked:   []string{"a", "b", "c"},
			relevant: map[string]bool{"c": true},
			expected: 1.0 / 3.0,
		},
		{
			name:     "no relevant anywhere",
			ranked:   []string{"a", "b", "c"},
			relevant: map[string]bool{"x": true},
			expected: 0.0,
		},
		{
			name:     "empty ranking",
			ranked:   nil,
			relevant: map[string]bool{"a": true},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ReciprocalRank(tt.ranked, tt.relevant), 1e-9)
		})
	}
}

func TestNDCGAtK_PerfectRankingIsOne(t *testing.T) {
	scores := map[string]float64{"a": 3, "b": 2, "c": 1}

	// Ranked exactly by descending relevance.
	got := NDCGAtK([]string{"a", "b", "c"}, scores, 3)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestNDCGAtK_GradedRelevance(t *testing.T) {
	scores := map[string]float64{"a": 3, "b": 2, "c": 1}

	// Reversed order: DCG = 1/log2(2) + 2/log2(3) + 3/log2(4)
	dcg := 1.0/math.Log2(2) + 2.0/math.Log2(3) + 3.0/math.Log2(4)
	idcg := 3.0/math.Log2(2) + 2.0/math.Log2(3) + 1.0/math.Log2(4)

	got := NDCGAtK([]string{"c", "b", "a"}, scores, 3)
	assert.InDelta(t, dcg/idcg, got, 1e-9)
	assert.Less(t, got, 1.0)
}

func TestNDCGAtK_ZeroIdealDCG(t *testing.T) {
	// No positive-relevance documents known: must return 0, not divide by zero.
	assert.Equal(t, 0.0, NDCGAtK([]string{"a", "b"}, map[string]float64{}, 5))
	assert.Equal(t, 0.0, NDCGAtK([]string{"a", "b"}, nil, 5))
	assert.Equal(t, 0.0, NDCGAtK([]string{"a", "b"}, map[string]float64{"a": 0, "b": 0}, 5))
}

func TestNDCGAtK_UnknownIDsCountAsZeroGain(t *testing.T) {
	scores := map[string]float64{"a": 2}

	withForeign := NDCGAtK([]string{"zzz", "a"}, scores, 2)
	perfect := NDCGAtK([]string{"a"}, scores, 2)
	assert.Less(t, withForeign, perfect)
	assert.Greater(t, withForeign, 0.0)
}

func TestHitRateAtK(t *testing.T) {
	ranked := []string{"a", "b", "c", "d"}
	relevant := map[string]bool{"c": true}

	assert.Equal(t, 0.0, HitRateAtK(ranked, relevant, 1))
	assert.Equal(t, 0.0, HitRateAtK(ranked, relevant, 2))
	assert.Equal(t, 1.0, HitRateAtK(ranked, relevant, 3))
	assert.Equal(t, 1.0, HitRateAtK(ranked, relevant, 4))
}

func TestHitRateAtK_MonotoneInK(t *testing.T) {
	ranked := []string{"x", "y", "c", "z"}
	relevant := map[string]bool{"c": true, "z": true}

	prev := 0.0
	for k := 1; k <= 6; k++ {
		h := HitRateAtK(ranked, relevant, k)
		assert.GreaterOrEqual(t, h, prev)
		prev = h
	}
}

// The worked scenario from the troubleshooting runbook: five retrieved
// chunks, two of them relevant at ranks 2 and 4.
func TestEvaluateQuery_KnownScenario(t *testing.T) {
	ex := Example{
		Query:          "what are the key findings",
		RelevantDocIDs: []string{"B", "D"},
		RelevanceScores: map[string]float64{
			"B": 2,
			"D": 1,
		},
	}

	qm := EvaluateQuery([]string{"A", "B", "C", "D", "E"}, ex, []int{5})

	require.Contains(t, qm.ByK, 5)
	k5 := qm.ByK[5]

	assert.InDelta(t, 0.4, k5.Precision, 1e-9)
	assert.True(t, k5.RecallDefined)
	assert.InDelta(t, 1.0, k5.Recall, 1e-9)
	assert.InDelta(t, 0.5, qm.MRR, 1e-9)
	assert.Equal(t, 1.0, k5.HitRate)
	assert.Greater(t, k5.NDCG, 0.0)
}

// Reproduces the identifier-mismatch bug: ground truth uses human-readable
// chunk labels while the store returns UUIDs. Every metric must degrade to
// zero without error.
func TestEvaluateQuery_DisjointIdentifierSpaces(t *testing.T) {
	ex := Example{
		Query:          "summarize the skills section",
		RelevantDocIDs: []string{"resume_chunk_skills", "resume_chunk_experience"},
		RelevanceScores: map[string]float64{
			"resume_chunk_skills":     2,
			"resume_chunk_experience": 1,
		},
	}

	ranked := []string{
		"550e8400-e29b-41d4-a716-446655440000",
		"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"6ba7b811-9dad-11d1-80b4-00c04fd430c8",
		"6ba7b812-9dad-11d1-80b4-00c04fd430c8",
		"6ba7b814-9dad-11d1-80b4-00c04fd430c8",
	}

	qm := EvaluateQuery(ranked, ex, []int{5})

	k5 := qm.ByK[5]
	assert.Equal(t, 0.0, k5.Precision)
	assert.True(t, k5.RecallDefined)
	assert.Equal(t, 0.0, k5.Recall)
	assert.Equal(t, 0.0, qm.MRR)
	assert.Equal(t, 0.0, k5.HitRate)
	assert.Equal(t, 0.0, k5.NDCG)
}

func TestEvaluateQuery_MultipleKValues(t *testing.T) {
	ex := Example{
		Query:           "q",
		RelevantDocIDs:  []string{"a", "c"},
		RelevanceScores: map[string]float64{"a": 1, "c": 1},
	}

	qm := EvaluateQuery([]string{"a", "b", "c", "d"}, ex, []int{1, 3, 5, 10})

	assert.Len(t, qm.ByK, 4)
	assert.InDelta(t, 1.0, qm.ByK[1].Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, qm.ByK[3].Precision, 1e-9)
	// Only four results returned, so precision@5 and @10 divide by 4.
	assert.InDelta(t, 0.5, qm.ByK[5].Precision, 1e-9)
	assert.InDelta(t, 0.5, qm.ByK[10].Precision, 1e-9)
	assert.InDelta(t, 1.0, qm.MRR, 1e-9)
}
