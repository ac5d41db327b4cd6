package ratings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/fanrank/internal/domain"
	"github.com/Clark-Hu/fanrank/internal/memstore"
	"github.com/Clark-Hu/fanrank/internal/metrics"
)

var testRetry = RetryPolicy{
	MaxAttempts: 1000,
	BaseDelay:   50 * time.Microsecond,
	MaxDelay:    2 * time.Millisecond,
}

func newTestService(t testing.TB) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return New(st, Options{Retry: testRetry}), st
}

func mustAthlete(t testing.TB, svc *Service) domain.Athlete {
	t.Helper()
	a, err := svc.CreateAthlete(context.Background(), "Test Athlete")
	require.NoError(t, err)
	return a
}

func mustRecord(t testing.TB, svc *Service, athleteID string, scores map[string]int) domain.Rating {
	t.Helper()
	r, err := svc.RecordRating(context.Background(), athleteID, scores)
	require.NoError(t, err)
	return r
}

func mustGet(t testing.TB, svc *Service, athleteID string) domain.Athlete {
	t.Helper()
	a, err := svc.GetAthlete(context.Background(), athleteID)
	require.NoError(t, err)
	return a
}

// exactAggregate computes the target aggregate straight from the payloads.
func exactAggregate(payloads []map[string]int) domain.Aggregate {
	ratings := make([]domain.Rating, 0, len(payloads))
	for _, p := range payloads {
		ratings = append(ratings, domain.NewRating("x", p))
	}
	return domain.Recompute(ratings)
}

func TestRecordRating_SingleWriter(t *testing.T) {
	svc, _ := newTestService(t)
	p := mustAthlete(t, svc)

	first := mustRecord(t, svc, p.ID, map[string]int{"a": 6, "b": 4})
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.RatingPublished, first.Status)
	assert.Equal(t, 5.0, first.OverallScore)

	got := mustGet(t, svc, p.ID)
	assert.Equal(t, 1, got.RatingCount)
	assert.Equal(t, map[string]float64{"a": 6, "b": 4}, got.Summary)

	mustRecord(t, svc, p.ID, map[string]int{"a": 4})
	got = mustGet(t, svc, p.ID)
	assert.Equal(t, 2, got.RatingCount)
	assert.Equal(t, map[string]float64{"a": 5, "b": 4}, got.Summary)
	assert.Equal(t, domain.RankOf(4.5), got.Rank)
	assert.Equal(t, domain.RankA, got.Rank)
}

func TestRecordRating_Validation(t *testing.T) {
	svc, st := newTestService(t)
	p := mustAthlete(t, svc)

	for _, scores := range []map[string]int{nil, {}, {"a": 0}, {"a": 7}, {"": 3}} {
		_, err := svc.RecordRating(context.Background(), p.ID, scores)
		assert.ErrorIs(t, err, domain.ErrValidation, "scores %v", scores)
		assert.True(t, domain.IsCode(err, domain.CodeValidation))
	}
	assert.Equal(t, 0, st.Commits())
	assert.Equal(t, 0, mustGet(t, svc, p.ID).RatingCount)
}

func TestRecordRating_UnknownAthlete(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RecordRating(context.Background(), "missing", map[string]int{"a": 3})
	assert.ErrorIs(t, err, domain.ErrAthleteNotFound)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	assert.False(t, domain.IsRetryable(err))
}

func TestRecordRating_RetriesThroughConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	st := memstore.New()
	svc := New(st, Options{Retry: RetryPolicy{MaxAttempts: 5}, Metrics: m})
	p := mustAthlete(t, svc)

	st.FailNextCommits(3)
	mustRecord(t, svc, p.ID, map[string]int{"a": 2})

	got := mustGet(t, svc, p.ID)
	assert.Equal(t, 1, got.RatingCount, "retried attempts must not double count")
	assert.Equal(t, map[string]float64{"a": 2}, got.Summary)
	assert.Equal(t, 1, st.Commits())

	conflicts, err := testutil.GatherAndCount(reg, "fanrank_tx_conflicts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, conflicts)
}

func TestRecordRating_RetriesExhausted(t *testing.T) {
	st := memstore.New()
	svc := New(st, Options{Retry: RetryPolicy{MaxAttempts: 3}})
	p := mustAthlete(t, svc)

	st.FailNextCommits(3)
	_, err := svc.RecordRating(context.Background(), p.ID, map[string]int{"a": 2})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "3 attempts")

	got := mustGet(t, svc, p.ID)
	assert.Equal(t, 0, got.RatingCount)
	assert.Empty(t, got.Summary)
}

func TestRecordRating_ContextCancelledBetweenAttempts(t *testing.T) {
	st := memstore.New()
	svc := New(st, Options{Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}})
	p := mustAthlete(t, svc)
	st.FailNextCommits(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.RecordRating(ctx, p.ID, map[string]int{"a": 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, domain.IsCode(err, domain.CodeCanceled))
	assert.False(t, domain.IsCode(err, domain.CodeInternal))

	got := mustGet(t, svc, p.ID)
	assert.Zero(t, got.RatingCount)
}

type unavailableStore struct {
	domain.AggregateStore
	calls int
}

func (u *unavailableStore) InTx(context.Context, func(context.Context, domain.Tx) error) error {
	u.calls++
	return fmt.Errorf("%w: connection refused", domain.ErrUnavailable)
}

func TestRecordRating_StoreUnavailableIsNotRetried(t *testing.T) {
	st := &unavailableStore{}
	svc := New(st, Options{Retry: testRetry})

	_, err := svc.RecordRating(context.Background(), "a", map[string]int{"a": 2})
	assert.True(t, domain.IsCode(err, domain.CodeUnavailable))
	assert.Equal(t, 1, st.calls)
}

func TestDeleteRating_LeavesAggregateStale(t *testing.T) {
	svc, _ := newTestService(t)
	p := mustAthlete(t, svc)
	mustRecord(t, svc, p.ID, map[string]int{"a": 6, "b": 4})
	second := mustRecord(t, svc, p.ID, map[string]int{"a": 4})
	before := mustGet(t, svc, p.ID)

	require.NoError(t, svc.DeleteRating(context.Background(), second.ID))

	after := mustGet(t, svc, p.ID)
	assert.Equal(t, 2, after.RatingCount)
	assert.Equal(t, map[string]float64{"a": 5, "b": 4}, after.Summary)
	assert.Equal(t, before.Version, after.Version)

	_, err := svc.GetRating(context.Background(), second.ID)
	assert.ErrorIs(t, err, domain.ErrRatingNotFound)

	reconciled, err := svc.Reconcile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reconciled.RatingCount)
	assert.Equal(t, map[string]float64{"a": 6, "b": 4}, reconciled.Summary)
	assert.Equal(t, domain.RankA, reconciled.Rank)
	assert.Equal(t, reconciled.Aggregate(), mustGet(t, svc, p.ID).Aggregate())
}

func TestDeleteRating_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.DeleteRating(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRatingNotFound)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestReconcile_Invariant(t *testing.T) {
	svc, _ := newTestService(t)
	p := mustAthlete(t, svc)
	payloads := []map[string]int{
		{"a": 6, "b": 4},
		{"a": 4},
		{"c": 5},
		{"a": 1, "b": 3, "c": 2},
	}
	var ids []string
	for _, pl := range payloads {
		ids = append(ids, mustRecord(t, svc, p.ID, pl).ID)
	}
	require.NoError(t, svc.DeleteRating(context.Background(), ids[1]))
	surviving := []map[string]int{payloads[0], payloads[2], payloads[3]}

	got, err := svc.Reconcile(context.Background(), p.ID)
	require.NoError(t, err)

	want := exactAggregate(surviving)
	assert.Equal(t, 3, got.RatingCount)
	assert.Equal(t, map[string]float64{"a": 3.5, "b": 3.5, "c": 3.5}, got.Summary)
	assert.True(t, want.Equal(got.Aggregate()), "got %+v want %+v", got.Aggregate(), want)
	// Rank refresh on reconcile is an extension over the incremental path.
	assert.Equal(t, domain.RankB, got.Rank)
}

func TestReconcile_Idempotent(t *testing.T) {
	svc, st := newTestService(t)
	p := mustAthlete(t, svc)
	mustRecord(t, svc, p.ID, map[string]int{"a": 6})
	mustRecord(t, svc, p.ID, map[string]int{"c": 3})

	first, err := svc.Reconcile(context.Background(), p.ID)
	require.NoError(t, err)
	commits := st.Commits()

	second, err := svc.Reconcile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Aggregate(), second.Aggregate())
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, commits, st.Commits(), "a consistent aggregate is not rewritten")
}

func TestReconcile_RepairsIncrementalDivergence(t *testing.T) {
	svc, _ := newTestService(t)
	p := mustAthlete(t, svc)
	mustRecord(t, svc, p.ID, map[string]int{"a": 6})
	mustRecord(t, svc, p.ID, map[string]int{"c": 4})

	// The incremental path averages a new criterion against the full count.
	assert.Equal(t, map[string]float64{"a": 6, "c": 2}, mustGet(t, svc, p.ID).Summary)

	got, err := svc.Reconcile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 6, "c": 4}, got.Summary)
	assert.Equal(t, domain.RankA, got.Rank)
}

func TestReconcile_NoRatings(t *testing.T) {
	svc, _ := newTestService(t)
	p := mustAthlete(t, svc)
	r := mustRecord(t, svc, p.ID, map[string]int{"a": 6})
	require.NoError(t, svc.DeleteRating(context.Background(), r.ID))

	got, err := svc.Reconcile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RatingCount)
	assert.Empty(t, got.Summary)
	assert.Equal(t, domain.RankNone, got.Rank)
}

func TestReconcile_UnknownAthlete(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Reconcile(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAthleteNotFound)
}

func TestRecordRating_ConcurrentIdenticalPayloads(t *testing.T) {
	svc, _ := newTestService(t)
	p := mustAthlete(t, svc)

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordRating(context.Background(), p.ID, map[string]int{"speed": 5, "power": 3}); err != nil {
				t.Errorf("record rating: %v", err)
			}
		}()
	}
	wg.Wait()

	got := mustGet(t, svc, p.ID)
	assert.Equal(t, writers, got.RatingCount)
	assert.Equal(t, map[string]float64{"speed": 5, "power": 3}, got.Summary)
}

func TestRecordRating_ConcurrentWritersLoseNothing(t *testing.T) {
	svc, st := newTestService(t)
	p := mustAthlete(t, svc)

	const writers = 40
	payloads := make([]map[string]int, writers)
	for i := range payloads {
		payloads[i] = map[string]int{
			"speed": 1 + i%6,
			"power": 6 - i%4,
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded = make(map[string]bool, writers)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(scores map[string]int) {
			defer wg.Done()
			r, err := svc.RecordRating(context.Background(), p.ID, scores)
			if err != nil {
				t.Errorf("record rating: %v", err)
				return
			}
			mu.Lock()
			recorded[r.ID] = true
			mu.Unlock()
		}(payloads[i])
	}
	wg.Wait()

	want := exactAggregate(payloads)
	got := mustGet(t, svc, p.ID)
	require.Equal(t, writers, got.RatingCount)

	// Folding the stored ratings in commit order must reproduce the stored
	// aggregate exactly. A lost update would drop a step from the chain.
	var stored []domain.Rating
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		stored, err = tx.ListPublishedRatings(ctx, p.ID)
		return err
	}))
	require.Len(t, stored, writers)
	var replay domain.Aggregate
	for _, r := range stored {
		assert.True(t, recorded[r.ID], "unexpected rating %s", r.ID)
		replay = domain.FoldRating(replay, r.Scores)
	}
	assert.True(t, replay.Equal(got.Aggregate()), "replayed %+v, stored %+v", replay, got.Aggregate())
	// Each incremental step rounds to two decimals. After n steps the running
	// value is within 0.0025*(n+1) of the exact mean, plus 0.005 for rounding
	// the mean itself.
	tolerance := 0.0025*float64(writers+1) + 0.005
	for criterion, mean := range want.Summary {
		assert.InDelta(t, mean, got.Summary[criterion], tolerance, "criterion %s", criterion)
	}

	reconciled, err := svc.Reconcile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Summary, reconciled.Summary)
	assert.Equal(t, writers, reconciled.RatingCount)
}

func TestReconcileAll(t *testing.T) {
	svc, _ := newTestService(t)
	var athletes []domain.Athlete
	for i := 0; i < 5; i++ {
		a := mustAthlete(t, svc)
		r := mustRecord(t, svc, a.ID, map[string]int{"a": 6})
		mustRecord(t, svc, a.ID, map[string]int{"a": 2})
		require.NoError(t, svc.DeleteRating(context.Background(), r.ID))
		athletes = append(athletes, a)
	}

	n, err := svc.ReconcileAll(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, len(athletes), n)
	for _, a := range athletes {
		got := mustGet(t, svc, a.ID)
		assert.Equal(t, 1, got.RatingCount)
		assert.Equal(t, map[string]float64{"a": 2}, got.Summary)
		assert.Equal(t, domain.RankD, got.Rank)
	}
}

type listFailStore struct {
	*memstore.Store
}

func (l listFailStore) ListAthleteIDs(context.Context) ([]string, error) {
	return nil, errors.New("boom")
}

func TestReconcileAll_ListFailure(t *testing.T) {
	svc := New(listFailStore{memstore.New()}, Options{Retry: testRetry})
	n, err := svc.ReconcileAll(context.Background(), 2)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestCreateAthlete_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateAthlete(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}

	steady := p.newBackOff()
	steady.RandomizationFactor = 0
	for i, want := range []time.Duration{10, 20, 40, 40, 40} {
		assert.Equal(t, want*time.Millisecond, steady.NextBackOff(), "delay %d", i+1)
	}

	jittered := p.newBackOff()
	for i := 0; i < 50; i++ {
		jittered.Reset()
		d := jittered.NextBackOff()
		assert.GreaterOrEqual(t, d, 7500*time.Microsecond)
		assert.LessOrEqual(t, d, 12500*time.Microsecond+time.Nanosecond)
	}

	assert.Zero(t, RetryPolicy{MaxAttempts: 1}.newBackOff().NextBackOff())
}

func BenchmarkRecordRating(b *testing.B) {
	svc, _ := newTestService(b)
	p := mustAthlete(b, svc)
	scores := map[string]int{"speed": 5, "power": 4, "technique": 6}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.RecordRating(context.Background(), p.ID, scores); err != nil {
			b.Fatalf("record rating: %v", err)
		}
	}
}

func BenchmarkFoldRating(b *testing.B) {
	agg := domain.Aggregate{RatingCount: 100, Summary: map[string]float64{"speed": 4.2, "power": 3.9}}
	scores := map[string]int{"speed": 5, "power": 4, "technique": 6}
	for i := 0; i < b.N; i++ {
		_ = domain.FoldRating(agg, scores)
	}
}
