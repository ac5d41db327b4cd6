package domain

// FoldRating folds one new rating into agg and returns the next aggregate.
// Each incoming criterion becomes round2((old*count + score) / (count+1)),
// with old = 0 when the criterion has never been seen. Criteria missing from
// scores are carried over unchanged. agg is not modified.
func FoldRating(agg Aggregate, scores map[string]int) Aggregate {
	count := float64(agg.RatingCount)
	next := cloneSummary(agg.Summary)
	for _, criterion := range sortedKeys(scores) {
		old := next[criterion]
		next[criterion] = Round2((old*count + float64(scores[criterion])) / (count + 1))
	}
	return Aggregate{
		RatingCount: agg.RatingCount + 1,
		Summary:     next,
		Rank:        RankOf(MeanOf(next)),
	}
}

// Recompute builds an aggregate from scratch out of the given published
// ratings. A criterion's average only counts the ratings that carry it.
// With no ratings the aggregate is back to its born state.
func Recompute(ratings []Rating) Aggregate {
	if len(ratings) == 0 {
		return Aggregate{Summary: map[string]float64{}, Rank: RankNone}
	}

	sums := make(map[string]int)
	counts := make(map[string]int)
	for _, r := range ratings {
		for criterion, score := range r.Scores {
			sums[criterion] += score
			counts[criterion]++
		}
	}

	summary := make(map[string]float64, len(sums))
	for criterion, sum := range sums {
		summary[criterion] = Round2(float64(sum) / float64(counts[criterion]))
	}
	return Aggregate{
		RatingCount: len(ratings),
		Summary:     summary,
		Rank:        RankOf(MeanOf(summary)),
	}
}

// Equal reports whether two aggregates hold the same count, summary and rank.
func (a Aggregate) Equal(b Aggregate) bool {
	if a.RatingCount != b.RatingCount || a.Rank != b.Rank || len(a.Summary) != len(b.Summary) {
		return false
	}
	for k, v := range a.Summary {
		if w, ok := b.Summary[k]; !ok || w != v {
			return false
		}
	}
	return true
}
