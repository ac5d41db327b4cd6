package memstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Clark-Hu/fanrank/internal/domain"
)

type tx struct {
	store *Store

	athleteReads  map[string]int64
	ratingReads   map[string]struct{}
	listings      map[string][]string
	athleteWrites map[string]domain.Athlete
	inserts       []domain.Rating
	deletes       map[string]struct{}
}

var _ domain.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		store:         s,
		athleteReads:  make(map[string]int64),
		ratingReads:   make(map[string]struct{}),
		listings:      make(map[string][]string),
		athleteWrites: make(map[string]domain.Athlete),
		deletes:       make(map[string]struct{}),
	}
}

func (t *tx) dirty() bool {
	return len(t.athleteWrites) > 0 || len(t.inserts) > 0 || len(t.deletes) > 0
}

func (t *tx) GetAthlete(_ context.Context, id string) (domain.Athlete, error) {
	if a, ok := t.athleteWrites[id]; ok {
		return cloneAthlete(a), nil
	}

	t.store.mu.Lock()
	a, ok := t.store.athletes[id]
	t.store.mu.Unlock()
	if !ok {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	if _, seen := t.athleteReads[id]; !seen {
		t.athleteReads[id] = a.Version
	}
	return cloneAthlete(a), nil
}

func (t *tx) SaveAggregate(ctx context.Context, athleteID string, expectedVersion int64, agg domain.Aggregate) (domain.Athlete, error) {
	current, err := t.GetAthlete(ctx, athleteID)
	if err != nil {
		return domain.Athlete{}, err
	}
	if current.Version != expectedVersion {
		return domain.Athlete{}, fmt.Errorf("%w: athlete %s is no longer at version %d", domain.ErrConflict, athleteID, expectedVersion)
	}
	next := current.WithAggregate(agg)
	next.Version++
	t.athleteWrites[athleteID] = next
	return cloneAthlete(next), nil
}

func (t *tx) InsertRating(ctx context.Context, r domain.Rating) (domain.Rating, error) {
	if _, err := t.GetAthlete(ctx, r.AthleteID); err != nil {
		return domain.Rating{}, err
	}
	r = cloneRating(r)
	r.ID = uuid.NewString()
	if r.Status == "" {
		r.Status = domain.RatingPublished
	}
	r.CreatedAt = t.store.now()
	t.inserts = append(t.inserts, r)
	return cloneRating(r), nil
}

func (t *tx) GetRating(_ context.Context, id string) (domain.Rating, error) {
	if _, gone := t.deletes[id]; gone {
		return domain.Rating{}, domain.ErrRatingNotFound
	}
	for _, r := range t.inserts {
		if r.ID == id {
			return cloneRating(r), nil
		}
	}

	t.store.mu.Lock()
	r, ok := t.store.ratings[id]
	t.store.mu.Unlock()
	if !ok {
		return domain.Rating{}, domain.ErrRatingNotFound
	}
	t.ratingReads[id] = struct{}{}
	return cloneRating(r), nil
}

func (t *tx) DeleteRating(ctx context.Context, id string) error {
	if _, err := t.GetRating(ctx, id); err != nil {
		return err
	}
	for i, r := range t.inserts {
		if r.ID == id {
			t.inserts = append(t.inserts[:i], t.inserts[i+1:]...)
			return nil
		}
	}
	t.deletes[id] = struct{}{}
	return nil
}

func (t *tx) ListPublishedRatings(_ context.Context, athleteID string) ([]domain.Rating, error) {
	t.store.mu.Lock()
	_, ok := t.store.athletes[athleteID]
	committed := t.store.publishedLocked(athleteID)
	t.store.mu.Unlock()
	if !ok {
		return nil, domain.ErrAthleteNotFound
	}

	ids := make([]string, len(committed))
	for i, r := range committed {
		ids[i] = r.ID
	}
	t.listings[athleteID] = ids

	out := make([]domain.Rating, 0, len(committed)+len(t.inserts))
	for _, r := range committed {
		if _, gone := t.deletes[r.ID]; !gone {
			out = append(out, r)
		}
	}
	for _, r := range t.inserts {
		if r.AthleteID == athleteID && r.Status == domain.RatingPublished {
			out = append(out, cloneRating(r))
		}
	}
	return out, nil
}
