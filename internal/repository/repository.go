package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/fanrank/internal/domain"
	"github.com/Clark-Hu/fanrank/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements domain.AggregateStore on Postgres.
type Repository struct {
	pool     *pgxpool.Pool
	Athletes *AthletesRepository
	Ratings  *RatingsRepository
}

var _ domain.AggregateStore = (*Repository)(nil)

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:     pool,
		Athletes: &AthletesRepository{q: pool},
		Ratings:  &RatingsRepository{q: pool},
	}
}

// InTx runs fn in a read-committed transaction. Lost compare-and-set writes
// and Postgres serialization failures surface as domain.ErrConflict.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txScope{
			athletes: &AthletesRepository{q: tx},
			ratings:  &RatingsRepository{q: tx},
		})
	})
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) || isDomainSentinel(err) {
		return err
	}
	return mapPgError(err, nil)
}

// CreateAthlete inserts a new athlete with an empty aggregate.
func (r *Repository) CreateAthlete(ctx context.Context, name string) (domain.Athlete, error) {
	return r.Athletes.Create(ctx, name)
}

// ListAthleteIDs returns every athlete id in creation order.
func (r *Repository) ListAthleteIDs(ctx context.Context) ([]string, error) {
	return r.Athletes.ListIDs(ctx)
}

// txScope adapts the tx-bound repositories to domain.Tx.
type txScope struct {
	athletes *AthletesRepository
	ratings  *RatingsRepository
}

func (t *txScope) GetAthlete(ctx context.Context, id string) (domain.Athlete, error) {
	return t.athletes.Get(ctx, id)
}

func (t *txScope) SaveAggregate(ctx context.Context, athleteID string, expectedVersion int64, agg domain.Aggregate) (domain.Athlete, error) {
	return t.athletes.SaveAggregate(ctx, athleteID, expectedVersion, agg)
}

func (t *txScope) InsertRating(ctx context.Context, rating domain.Rating) (domain.Rating, error) {
	return t.ratings.Insert(ctx, rating)
}

func (t *txScope) GetRating(ctx context.Context, id string) (domain.Rating, error) {
	return t.ratings.Get(ctx, id)
}

func (t *txScope) DeleteRating(ctx context.Context, id string) error {
	return t.ratings.Delete(ctx, id)
}

func (t *txScope) ListPublishedRatings(ctx context.Context, athleteID string) ([]domain.Rating, error) {
	return t.ratings.ListPublished(ctx, athleteID, true)
}
