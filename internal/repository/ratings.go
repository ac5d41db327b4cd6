package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/fanrank/internal/domain"
)

// RatingsRepository persists individual rating submissions.
type RatingsRepository struct {
	q querier
}

const ratingColumns = `id, athlete_id, scores, overall_score, status, created_at`

// Insert stores a rating; id and created_at are assigned by Postgres.
func (r *RatingsRepository) Insert(ctx context.Context, rating domain.Rating) (domain.Rating, error) {
	if !validID(rating.AthleteID) {
		return domain.Rating{}, domain.ErrAthleteNotFound
	}
	scoresJSON, err := json.Marshal(rating.Scores)
	if err != nil {
		return domain.Rating{}, err
	}
	status := rating.Status
	if status == "" {
		status = domain.RatingPublished
	}

	query := fmt.Sprintf(`
        INSERT INTO ratings (athlete_id, scores, overall_score, status)
        VALUES ($1,$2,$3,$4)
        RETURNING %s
    `, ratingColumns)

	stored, err := scanRating(r.q.QueryRow(ctx, query, rating.AthleteID, scoresJSON, rating.OverallScore, string(status)))
	if err != nil {
		return domain.Rating{}, mapPgError(err, domain.ErrAthleteNotFound)
	}
	return stored, nil
}

// Get fetches a rating by id.
func (r *RatingsRepository) Get(ctx context.Context, id string) (domain.Rating, error) {
	if !validID(id) {
		return domain.Rating{}, domain.ErrRatingNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM ratings WHERE id = $1`, ratingColumns)
	rating, err := scanRating(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Rating{}, mapPgError(err, domain.ErrRatingNotFound)
	}
	return rating, nil
}

// Delete removes a rating row. The owning athlete's aggregate is left as is.
func (r *RatingsRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.ErrRatingNotFound
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM ratings WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err, domain.ErrRatingNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRatingNotFound
	}
	return nil
}

// ListPublished returns the athlete's published ratings oldest first. With
// lock set the rows are share-locked so concurrent deletes wait for the
// caller's transaction.
func (r *RatingsRepository) ListPublished(ctx context.Context, athleteID string, lock bool) ([]domain.Rating, error) {
	if !validID(athleteID) {
		return nil, domain.ErrAthleteNotFound
	}
	query := fmt.Sprintf(`
        SELECT %s FROM ratings
        WHERE athlete_id = $1 AND status = $2
        ORDER BY created_at, id
    `, ratingColumns)
	if lock {
		query += " FOR SHARE"
	}

	rows, err := r.q.Query(ctx, query, athleteID, string(domain.RatingPublished))
	if err != nil {
		return nil, mapPgError(err, domain.ErrAthleteNotFound)
	}
	defer rows.Close()

	ratings := make([]domain.Rating, 0)
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, domain.ErrAthleteNotFound)
	}
	return ratings, nil
}

// SetStatus changes a rating's moderation status, the only mutable field.
func (r *RatingsRepository) SetStatus(ctx context.Context, id string, status domain.RatingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown rating status %q", domain.ErrValidation, status)
	}
	if !validID(id) {
		return domain.ErrRatingNotFound
	}
	tag, err := r.q.Exec(ctx, `UPDATE ratings SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return mapPgError(err, domain.ErrRatingNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRatingNotFound
	}
	return nil
}

func scanRating(row pgx.Row) (domain.Rating, error) {
	var (
		rating     domain.Rating
		scoresJSON []byte
		status     string
	)
	err := row.Scan(
		&rating.ID,
		&rating.AthleteID,
		&scoresJSON,
		&rating.OverallScore,
		&status,
		&rating.CreatedAt,
	)
	if err != nil {
		return domain.Rating{}, err
	}
	rating.Status = domain.RatingStatus(status)
	if err := json.Unmarshal(scoresJSON, &rating.Scores); err != nil {
		return domain.Rating{}, fmt.Errorf("decode scores: %w", err)
	}
	return rating, nil
}
