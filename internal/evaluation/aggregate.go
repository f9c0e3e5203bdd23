package evaluation

// MetricSummary holds the aggregate of one metric kind across queries.
// Excluded counts queries for which the metric was undefined; those queries
// do not contribute to the mean.
type MetricSummary struct {
	Mean         float64 `json:"mean"`
	Variance     float64 `json:"variance"`
	Contributing int     `json:"contributing"`
	Excluded     int     `json:"excluded"`
}

// KSummary holds per-metric summaries for one cutoff depth.
type KSummary struct {
	Precision MetricSummary `json:"precision"`
	Recall    MetricSummary `json:"recall"`
	NDCG      MetricSummary `json:"ndcg"`
	HitRate   MetricSummary `json:"hit_rate"`
}

// AggregateResult holds per-K means across an evaluation run.
//
// Degenerate is set when the run carries no signal: either no query
// produced metrics at all, or every mean of every metric kind is exactly
// zero. The all-zero pattern almost always means the dataset's identifier
// namespace does not match the vector store's chunk IDs. Downstream
// rendering must not attempt any ratio computation over the totals.
type AggregateResult struct {
	NumQueries int              `json:"num_queries"`
	KValues    []int            `json:"k_values"`
	ByK        map[int]KSummary `json:"metrics_by_k"`
	MRR        MetricSummary    `json:"mrr"`
	Degenerate bool             `json:"degenerate"`
}

// accumulator collects defined values for one metric kind.
type accumulator struct {
	values   []float64
	excluded int
}

func (a *accumulator) add(v float64) { a.values = append(a.values, v) }
func (a *accumulator) skip()         { a.excluded++ }

func (a *accumulator) summary() MetricSummary {
	s := MetricSummary{
		Contributing: len(a.values),
		Excluded:     a.excluded,
	}
	if len(a.values) == 0 {
		return s
	}

	var sum float64
	for _, v := range a.values {
		sum += v
	}
	s.Mean = sum / float64(len(a.values))

	var sq float64
	for _, v := range a.values {
		d := v - s.Mean
		sq += d * d
	}
	s.Variance = sq / float64(len(a.values))

	return s
}

// Aggregate reduces per-query metrics to per-K means. Each K value is
// aggregated independently. Undefined recall values are excluded from the
// recall mean instead of being coerced to zero, which would bias the
// aggregate downward.
func Aggregate(perQuery []QueryMetrics, kValues []int) AggregateResult {
	result := AggregateResult{
		NumQueries: len(perQuery),
		KValues:    kValues,
		ByK:        make(map[int]KSummary, len(kValues)),
	}

	// A run with no per-query metrics at all (every retrieval failed, or the
	// dataset was empty after validation) carries no signal; flag it so
	// rendering emits a diagnostic instead of empty chart series.
	if len(perQuery) == 0 {
		result.Degenerate = true
		return result
	}

	mrr := &accumulator{}
	for i := range perQuery {
		mrr.add(perQuery[i].MRR)
	}
	result.MRR = mrr.summary()

	for _, k := range kValues {
		precision := &accumulator{}
		recall := &accumulator{}
		ndcg := &accumulator{}
		hitRate := &accumulator{}

		for i := range perQuery {
			km, ok := perQuery[i].ByK[k]
			if !ok {
				continue
			}
			precision.add(km.Precision)
			if km.RecallDefined {
				recall.add(km.Recall)
			} else {
				recall.skip()
			}
			ndcg.add(km.NDCG)
			hitRate.add(km.HitRate)
		}

		result.ByK[k] = KSummary{
			Precision: precision.summary(),
			Recall:    recall.summary(),
			NDCG:      ndcg.summary(),
			HitRate:   hitRate.summary(),
		}
	}

	result.Degenerate = result.allMeansZero()

	return result
}

// allMeansZero reports whether every metric mean in the run is exactly zero.
func (r *AggregateResult) allMeansZero() bool {
	if r.MRR.Mean != 0 {
		return false
	}
	for _, ks := range r.ByK {
		if ks.Precision.Mean != 0 || ks.Recall.Mean != 0 || ks.NDCG.Mean != 0 || ks.HitRate.Mean != 0 {
			return false
		}
	}
	return true
}

// Summary returns the summary for a given metric kind at a given K.
// For MetricMRR the k argument is ignored.
func (r *AggregateResult) Summary(kind MetricKind, k int) (MetricSummary, bool) {
	if kind == MetricMRR {
		return r.MRR, true
	}
	ks, ok := r.ByK[k]
	if !ok {
		return MetricSummary{}, false
	}
	switch kind {
	case MetricPrecision:
		return ks.Precision, true
	case MetricRecall:
		return ks.Recall, true
	case MetricNDCG:
		return ks.NDCG, true
	case MetricHitRate:
		return ks.HitRate, true
	}
	return MetricSummary{}, false
}
