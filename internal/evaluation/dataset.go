package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
)

// Example is a single evaluation query with its ground truth.
//
// RelevantDocIDs and RelevanceScores must use the same identifier namespace
// as the chunk IDs assigned by the vector store. A dataset whose IDs do not
// match the stored chunk IDs produces all-zero metrics, which the aggregator
// reports as a degenerate run rather than as genuinely poor retrieval.
type Example struct {
	Query             string             `json:"query"`
	RelevantDocIDs    []string           `json:"relevant_doc_ids"`
	RelevanceScores   map[string]float64 `json:"relevance_scores,omitempty"`
	GroundTruthAnswer string             `json:"ground_truth_answer,omitempty"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
}

// relevantSet builds the set view of RelevantDocIDs.
func (e *Example) relevantSet() map[string]bool {
	set := make(map[string]bool, len(e.RelevantDocIDs))
	for _, id := range e.RelevantDocIDs {
		set[id] = true
	}
	return set
}

// normalize fills in defaults and validates score values. Missing relevance
// scores default to binary relevance (1.0 per relevant ID).
func (e *Example) normalize(index int) error {
	if e.Query == "" {
		return fmt.Errorf("example %d: query cannot be empty", index)
	}

	if e.RelevanceScores == nil {
		e.RelevanceScores = make(map[string]float64, len(e.RelevantDocIDs))
	}
	for id, score := range e.RelevanceScores {
		if score < 0 {
			return fmt.Errorf("example %d: negative relevance score %v for %q", index, score, id)
		}
	}
	for _, id := range e.RelevantDocIDs {
		if _, ok := e.RelevanceScores[id]; !ok {
			e.RelevanceScores[id] = 1.0
		}
	}

	return nil
}

// Dataset is a collection of evaluation examples.
type Dataset struct {
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Examples    []Example `json:"examples"`
}

// LoadDataset reads and validates an evaluation dataset from a JSON file.
// Structural problems are fatal: a dataset that cannot be validated never
// reaches metric computation.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}

	return &ds, nil
}

// Validate checks dataset structure and normalizes every example.
//
// An example with an empty relevant set is tolerated: recall is undefined
// for it and gets excluded from aggregation, but the other metrics remain
// computable.
func (d *Dataset) Validate() error {
	if len(d.Examples) == 0 {
		return fmt.Errorf("dataset contains no examples")
	}

	for i := range d.Examples {
		if err := d.Examples[i].normalize(i); err != nil {
			return fmt.Errorf("invalid dataset: %w", err)
		}
	}

	return nil
}

// Save writes the dataset to a JSON file.
func (d *Dataset) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}

	return nil
}

// RelevantIDUniverse returns the union of all relevant IDs across examples.
// Used to check identifier-space alignment against the vector store.
func (d *Dataset) RelevantIDUniverse() map[string]bool {
	universe := make(map[string]bool)
	for i := range d.Examples {
		for _, id := range d.Examples[i].RelevantDocIDs {
			universe[id] = true
		}
	}
	return universe
}
