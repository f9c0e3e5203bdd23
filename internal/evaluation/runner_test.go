package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRetriever returns canned rankings keyed by query text.
type stubRetriever struct {
	rankings map[string][]string
	failOn   map[string]bool
	known    map[string]bool
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, topK int) ([]string, error) {
	if s.failOn[query] {
		return nil, errors.New("search backend unavailable")
	}
	ids := s.rankings[query]
	if len(ids) > topK {
		ids = ids[:topK]
	}
	return ids, nil
}

func (s *stubRetriever) KnownChunkIDs(_ context.Context) (map[string]bool, error) {
	return s.known, nil
}

func TestRunner_Run(t *testing.T) {
	retriever := &stubRetriever{
		rankings: map[string][]string{
			"q1": {"a", "b", "c"},
			"q2": {"x", "c", "y"},
		},
		known: map[string]bool{"a": true, "b": true, "c": true, "x": true, "y": true},
	}

	dataset := &Dataset{
		Name: "unit",
		Examples: []Example{
			{Query: "q1", RelevantDocIDs: []string{"a"}},
			{Query: "q2", RelevantDocIDs: []string{"c"}},
		},
	}

	runner := NewRunner(retriever, RunnerConfig{KValues: []int{1, 3}, IncludePerQuery: true}, nil)

	result, err := runner.Run(context.Background(), dataset)
	require.NoError(t, err)

	assert.Equal(t, "unit", result.DatasetName)
	assert.Equal(t, 2, result.Aggregate.NumQueries)
	assert.Empty(t, result.Errors)
	assert.Len(t, result.PerQuery, 2)
	assert.False(t, result.Aggregate.Degenerate)
	require.NotNil(t, result.Report.Charts)
}

func TestRunner_RetrievalErrorDoesNotAbortBatch(t *testing.T) {
	retriever := &stubRetriever{
		rankings: map[string][]string{"good": {"a"}},
		failOn:   map[string]bool{"bad": true},
	}

	dataset := &Dataset{
		Name: "partial",
		Examples: []Example{
			{Query: "good", RelevantDocIDs: []string{"a"}},
			{Query: "bad", RelevantDocIDs: []string{"b"}},
		},
	}

	runner := NewRunner(retriever, DefaultRunnerConfig(), nil)

	result, err := runner.Run(context.Background(), dataset)
	require.NoError(t, err, "per-query failures must not abort the run")

	assert.Equal(t, 1, result.Aggregate.NumQueries)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad", result.Errors[0].Query)
}

func TestRunner_AllRetrievalsFailedFlagsDegenerate(t *testing.T) {
	retriever := &stubRetriever{
		failOn: map[string]bool{"q1": true, "q2": true},
	}

	dataset := &Dataset{
		Name: "outage",
		Examples: []Example{
			{Query: "q1", RelevantDocIDs: []string{"a"}},
			{Query: "q2", RelevantDocIDs: []string{"b"}},
		},
	}

	runner := NewRunner(retriever, DefaultRunnerConfig(), nil)

	result, err := runner.Run(context.Background(), dataset)
	require.NoError(t, err, "per-query failures must not abort the run")

	assert.Len(t, result.Errors, 2)
	assert.Equal(t, 0, result.Aggregate.NumQueries)
	assert.True(t, result.Aggregate.Degenerate, "a run with no surviving queries carries no signal")
	assert.Nil(t, result.Report.Charts)
	assert.Equal(t, DegenerateNote, result.Report.Note)
}

func TestRunner_DegenerateRunStillYieldsReport(t *testing.T) {
	retriever := &stubRetriever{
		rankings: map[string][]string{
			"q": {"6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		},
		known: map[string]bool{"6ba7b810-9dad-11d1-80b4-00c04fd430c8": true},
	}

	dataset := &Dataset{
		Name: "mismatched",
		Examples: []Example{
			{Query: "q", RelevantDocIDs: []string{"doc1_chunk_1"}},
		},
	}

	runner := NewRunner(retriever, RunnerConfig{KValues: []int{1, 5}}, nil)

	result, err := runner.Run(context.Background(), dataset)
	require.NoError(t, err, "a degenerate run is a completed run, not an error")

	assert.True(t, result.Aggregate.Degenerate)
	assert.Nil(t, result.Report.Charts)
	assert.Equal(t, DegenerateNote, result.Report.Note)
}

func TestRunner_InvalidDatasetFailsFast(t *testing.T) {
	runner := NewRunner(&stubRetriever{}, DefaultRunnerConfig(), nil)

	_, err := runner.Run(context.Background(), &Dataset{})
	assert.Error(t, err)
}

func TestRunner_TopKDefaultsToMaxK(t *testing.T) {
	var requested int
	retriever := &capturingRetriever{topK: &requested}

	dataset := &Dataset{
		Name:     "depth",
		Examples: []Example{{Query: "q", RelevantDocIDs: []string{"a"}}},
	}

	runner := NewRunner(retriever, RunnerConfig{KValues: []int{3, 10, 5}}, nil)
	_, err := runner.Run(context.Background(), dataset)
	require.NoError(t, err)
	assert.Equal(t, 10, requested)
}

type capturingRetriever struct {
	topK *int
}

func (c *capturingRetriever) Retrieve(_ context.Context, _ string, topK int) ([]string, error) {
	*c.topK = topK
	return nil, nil
}

func TestRunner_ProgressCallback(t *testing.T) {
	retriever := &stubRetriever{rankings: map[string][]string{}}
	dataset := &Dataset{
		Name: "progress",
		Examples: []Example{
			{Query: "q1", RelevantDocIDs: []string{"a"}},
			{Query: "q2", RelevantDocIDs: []string{"b"}},
		},
	}

	runner := NewRunner(retriever, DefaultRunnerConfig(), nil)

	var calls []int
	runner.Progress = func(done, total int) {
		assert.Equal(t, 2, total)
		calls = append(calls, done)
	}

	_, err := runner.Run(context.Background(), dataset)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, calls)
}

func TestAggregateGeneration(t *testing.T) {
	results := []GenerationResult{
		{Query: "q1", Scores: map[string]float64{"faithfulness": 0.8, "answer_relevancy": 0.9}},
		{Query: "q2", Scores: map[string]float64{"faithfulness": 0.6}},
	}

	agg := AggregateGeneration(results)

	require.Contains(t, agg, "faithfulness")
	assert.InDelta(t, 0.7, agg["faithfulness"].Mean, 1e-9)
	assert.Equal(t, 2, agg["faithfulness"].Contributing)

	require.Contains(t, agg, "answer_relevancy")
	assert.Equal(t, 1, agg["answer_relevancy"].Contributing)
	assert.Equal(t, 1, agg["answer_relevancy"].Excluded)
}
