package domain

import "time"

// Athlete is the rated subject and owner of the running aggregate.
// RatingCount, Summary and Rank are written only by the ratings service.
type Athlete struct {
	ID          string
	Name        string
	RatingCount int
	Summary     map[string]float64
	Rank        Rank
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Aggregate is the mutable part of an Athlete.
type Aggregate struct {
	RatingCount int
	Summary     map[string]float64
	Rank        Rank
}

// Aggregate returns a copy of the athlete's aggregate state.
func (a Athlete) Aggregate() Aggregate {
	return Aggregate{
		RatingCount: a.RatingCount,
		Summary:     cloneSummary(a.Summary),
		Rank:        a.Rank,
	}
}

// WithAggregate returns a copy of a carrying agg.
func (a Athlete) WithAggregate(agg Aggregate) Athlete {
	a.RatingCount = agg.RatingCount
	a.Summary = cloneSummary(agg.Summary)
	a.Rank = agg.Rank
	return a
}

func cloneSummary(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
