package domain

import "time"

// RatingStatus tracks the moderation state of a rating.
type RatingStatus string

const (
	RatingPublished RatingStatus = "published"
	RatingPending   RatingStatus = "pending"
	RatingRejected  RatingStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s RatingStatus) Valid() bool {
	switch s {
	case RatingPublished, RatingPending, RatingRejected:
		return true
	}
	return false
}

// Rating represents a single fan submission for an athlete.
type Rating struct {
	ID           string
	AthleteID    string
	Scores       map[string]int
	OverallScore float64
	Status       RatingStatus
	CreatedAt    time.Time
}

// NewRating builds a published rating for athleteID. Scores must already be
// validated with ValidateScores.
func NewRating(athleteID string, scores map[string]int) Rating {
	copied := make(map[string]int, len(scores))
	sum := 0
	for k, v := range scores {
		copied[k] = v
		sum += v
	}
	overall := 0.0
	if len(copied) > 0 {
		overall = Round2(float64(sum) / float64(len(copied)))
	}
	return Rating{
		AthleteID:    athleteID,
		Scores:       copied,
		OverallScore: overall,
		Status:       RatingPublished,
	}
}
