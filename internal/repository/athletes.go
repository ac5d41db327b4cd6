package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/fanrank/internal/domain"
)

// AthletesRepository persists athletes and their aggregate columns.
type AthletesRepository struct {
	q querier
}

const athleteColumns = `
    id,
    name,
    rating_count,
    summary,
    rank,
    version,
    created_at,
    updated_at
`

// Create inserts a new athlete row with an empty aggregate.
func (r *AthletesRepository) Create(ctx context.Context, name string) (domain.Athlete, error) {
	query := fmt.Sprintf(`
        INSERT INTO athletes (name)
        VALUES ($1)
        RETURNING %s
    `, athleteColumns)

	athlete, err := scanAthlete(r.q.QueryRow(ctx, query, name))
	if err != nil {
		return domain.Athlete{}, mapPgError(err, nil)
	}
	return athlete, nil
}

// Get fetches an athlete by id. Unknown or malformed ids yield
// domain.ErrAthleteNotFound.
func (r *AthletesRepository) Get(ctx context.Context, id string) (domain.Athlete, error) {
	if !validID(id) {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM athletes WHERE id = $1`, athleteColumns)
	athlete, err := scanAthlete(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Athlete{}, mapPgError(err, domain.ErrAthleteNotFound)
	}
	return athlete, nil
}

// SaveAggregate overwrites the aggregate columns if the row is still at
// expectedVersion and bumps the version. A version mismatch is a conflict;
// a missing row is domain.ErrAthleteNotFound.
func (r *AthletesRepository) SaveAggregate(ctx context.Context, id string, expectedVersion int64, agg domain.Aggregate) (domain.Athlete, error) {
	if !validID(id) {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	summaryJSON, err := marshalSummary(agg.Summary)
	if err != nil {
		return domain.Athlete{}, err
	}

	query := fmt.Sprintf(`
        UPDATE athletes
        SET rating_count = $3,
            summary = $4,
            rank = $5,
            version = version + 1,
            updated_at = now()
        WHERE id = $1 AND version = $2
        RETURNING %s
    `, athleteColumns)

	athlete, err := scanAthlete(r.q.QueryRow(ctx, query, id, expectedVersion, agg.RatingCount, summaryJSON, string(agg.Rank)))
	if err == nil {
		return athlete, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Athlete{}, mapPgError(err, domain.ErrAthleteNotFound)
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM athletes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Athlete{}, mapPgError(err, domain.ErrAthleteNotFound)
	}
	if !exists {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	return domain.Athlete{}, fmt.Errorf("%w: athlete %s is no longer at version %d", domain.ErrConflict, id, expectedVersion)
}

// ListIDs returns all athlete ids ordered by creation time.
func (r *AthletesRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM athletes ORDER BY created_at, id`)
	if err != nil {
		return nil, mapPgError(err, nil)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, nil)
	}
	return ids, nil
}

func scanAthlete(row pgx.Row) (domain.Athlete, error) {
	var (
		athlete     domain.Athlete
		summaryJSON []byte
		rank        string
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(
		&athlete.ID,
		&athlete.Name,
		&athlete.RatingCount,
		&summaryJSON,
		&rank,
		&athlete.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Athlete{}, err
	}

	athlete.Rank = domain.Rank(rank)
	athlete.CreatedAt = createdAt
	athlete.UpdatedAt = updatedAt
	athlete.Summary = map[string]float64{}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &athlete.Summary); err != nil {
			return domain.Athlete{}, fmt.Errorf("decode summary: %w", err)
		}
	}
	return athlete, nil
}

func marshalSummary(summary map[string]float64) ([]byte, error) {
	if summary == nil {
		summary = map[string]float64{}
	}
	return json.Marshal(summary)
}
