package domain

import "context"

// AggregateStore is the transactional persistence the ratings core needs.
//
// InTx runs fn inside one transaction. fn may be invoked again by the caller
// after ErrConflict, so it must compute everything from what it reads through
// tx. A store reports a lost compare-and-set or a serialization failure as an
// error wrapping ErrConflict and never commits partial work.
type AggregateStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	CreateAthlete(ctx context.Context, name string) (Athlete, error)
	ListAthleteIDs(ctx context.Context) ([]string, error)
}

// Tx is the view of the store inside a single transaction.
type Tx interface {
	GetAthlete(ctx context.Context, id string) (Athlete, error)
	// SaveAggregate writes agg only if the athlete is still at
	// expectedVersion, otherwise it fails with ErrConflict.
	SaveAggregate(ctx context.Context, athleteID string, expectedVersion int64, agg Aggregate) (Athlete, error)
	InsertRating(ctx context.Context, r Rating) (Rating, error)
	GetRating(ctx context.Context, id string) (Rating, error)
	DeleteRating(ctx context.Context, id string) error
	ListPublishedRatings(ctx context.Context, athleteID string) ([]Rating, error)
}
