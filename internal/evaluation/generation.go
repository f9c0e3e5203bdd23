package evaluation

import "context"

// GenerationScorer scores the quality of a generated answer against the
// query and the retrieved contexts. Implementations typically call an LLM
// judge or an external scoring service; the engine itself defines no
// generation-quality formulas and treats the scorer as an optional
// collaborator.
//
// Returned keys are scorer-defined (e.g. "faithfulness",
// "answer_relevancy"); values are expected in [0,1].
type GenerationScorer interface {
	Score(ctx context.Context, query, answer string, contexts []string) (map[string]float64, error)
}

// GenerationResult holds scorer output for one query.
type GenerationResult struct {
	Query  string             `json:"query"`
	Answer string             `json:"answer"`
	Scores map[string]float64 `json:"scores"`
}

// AggregateGeneration averages scorer outputs per score name. Queries
// missing a given score are excluded from that score's mean.
func AggregateGeneration(results []GenerationResult) map[string]MetricSummary {
	byName := make(map[string]*accumulator)

	for i := range results {
		for name, value := range results[i].Scores {
			acc, ok := byName[name]
			if !ok {
				acc = &accumulator{}
				byName[name] = acc
			}
			acc.add(value)
		}
	}

	out := make(map[string]MetricSummary, len(byName))
	for name, acc := range byName {
		s := acc.summary()
		s.Excluded = len(results) - s.Contributing
		out[name] = s
	}
	return out
}
