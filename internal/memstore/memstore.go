// Package memstore is an in-memory domain.AggregateStore with optimistic
// transactions. Each transaction works against committed state plus its own
// buffered writes and commits only if nothing it read has changed since.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Clark-Hu/fanrank/internal/domain"
)

// Store keeps athletes and ratings in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	athletes map[string]domain.Athlete
	ratings  map[string]domain.Rating
	seq      int64
	now      func() time.Time

	forcedConflicts int
	commits         int
}

var _ domain.AggregateStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		athletes: make(map[string]domain.Athlete),
		ratings:  make(map[string]domain.Rating),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailNextCommits makes the next n write commits fail with
// domain.ErrConflict.
func (s *Store) FailNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedConflicts = n
}

// Commits reports how many write transactions have committed.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// CreateAthlete adds an athlete with an empty aggregate.
func (s *Store) CreateAthlete(_ context.Context, name string) (domain.Athlete, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	a := domain.Athlete{
		ID:        uuid.NewString(),
		Name:      name,
		Summary:   map[string]float64{},
		Rank:      domain.RankNone,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.athletes[a.ID] = a
	return cloneAthlete(a), nil
}

// ListAthleteIDs returns ids ordered by creation time.
func (s *Store) ListAthleteIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]domain.Athlete, 0, len(s.athletes))
	for _, a := range s.athletes {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	return ids, nil
}

// InTx runs fn against a fresh transaction and commits its buffered writes.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(t *tx) error {
	if !t.dirty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forcedConflicts > 0 {
		s.forcedConflicts--
		return fmt.Errorf("%w: injected", domain.ErrConflict)
	}
	for id, version := range t.athleteReads {
		current, ok := s.athletes[id]
		if !ok || current.Version != version {
			return fmt.Errorf("%w: athlete %s changed", domain.ErrConflict, id)
		}
	}
	for id := range t.ratingReads {
		if _, ok := s.ratings[id]; !ok {
			return fmt.Errorf("%w: rating %s removed", domain.ErrConflict, id)
		}
	}
	for athleteID, seen := range t.listings {
		if !equalIDs(seen, s.publishedIDsLocked(athleteID)) {
			return fmt.Errorf("%w: ratings of athlete %s changed", domain.ErrConflict, athleteID)
		}
	}

	now := s.now()
	for id, a := range t.athleteWrites {
		a.UpdatedAt = now
		s.athletes[id] = a
	}
	for _, r := range t.inserts {
		s.seq++
		r.CreatedAt = now.Add(time.Duration(s.seq))
		s.ratings[r.ID] = r
	}
	for id := range t.deletes {
		delete(s.ratings, id)
	}
	s.commits++
	return nil
}

// publishedLocked returns the athlete's committed published ratings oldest
// first. Callers hold s.mu.
func (s *Store) publishedLocked(athleteID string) []domain.Rating {
	out := make([]domain.Rating, 0)
	for _, r := range s.ratings {
		if r.AthleteID == athleteID && r.Status == domain.RatingPublished {
			out = append(out, cloneRating(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) publishedIDsLocked(athleteID string) []string {
	published := s.publishedLocked(athleteID)
	ids := make([]string, len(published))
	for i, r := range published {
		ids[i] = r.ID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneAthlete(a domain.Athlete) domain.Athlete {
	return a.WithAggregate(a.Aggregate())
}

func cloneRating(r domain.Rating) domain.Rating {
	scores := make(map[string]int, len(r.Scores))
	for k, v := range r.Scores {
		scores[k] = v
	}
	r.Scores = scores
	return r
}
