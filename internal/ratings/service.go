// Package ratings maintains athlete aggregates: it records ratings and folds
// them into the running averages, deletes ratings, and reconciles aggregates
// from the stored ratings.
//
// Deleting a rating leaves the owning aggregate untouched. The aggregate is
// stale until Reconcile runs for that athlete.
package ratings

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/fanrank/internal/domain"
	"github.com/Clark-Hu/fanrank/internal/logger"
	"github.com/Clark-Hu/fanrank/internal/metrics"
)

const (
	opRecordRating  = "record_rating"
	opDeleteRating  = "delete_rating"
	opReconcile     = "reconcile"
	opCreateAthlete = "create_athlete"
	opGetAthlete    = "get_athlete"
	opGetRating     = "get_rating"
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	Retry   RetryPolicy
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Service is the entry point used by the application layer.
type Service struct {
	store   domain.AggregateStore
	retry   RetryPolicy
	log     *logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New builds a Service on top of store.
func New(store domain.AggregateStore, opts Options) *Service {
	policy := opts.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/Clark-Hu/fanrank/internal/ratings")
	}
	return &Service{
		store:   store,
		retry:   policy,
		log:     log.With("component", "ratings"),
		metrics: opts.Metrics,
		tracer:  tracer,
	}
}

// RecordRating validates scores, stores a published rating for athleteID
// and folds it into the athlete's aggregate in the same transaction.
func (s *Service) RecordRating(ctx context.Context, athleteID string, scores map[string]int) (domain.Rating, error) {
	ctx, span := s.tracer.Start(ctx, "ratings.RecordRating", trace.WithAttributes(
		attribute.String("athlete.id", athleteID),
		attribute.Int("rating.criteria", len(scores)),
	))
	defer span.End()
	start := time.Now()

	if err := domain.ValidateScores(scores); err != nil {
		return domain.Rating{}, s.finish(span, opRecordRating, start, 0, domain.Wrap(opRecordRating, err))
	}

	var rating domain.Rating
	var next domain.Athlete
	attempts, err := s.inTx(ctx, opRecordRating, func(ctx context.Context, tx domain.Tx) error {
		athlete, err := tx.GetAthlete(ctx, athleteID)
		if err != nil {
			return err
		}
		agg := domain.FoldRating(athlete.Aggregate(), scores)

		inserted, err := tx.InsertRating(ctx, domain.NewRating(athlete.ID, scores))
		if err != nil {
			return err
		}
		saved, err := tx.SaveAggregate(ctx, athlete.ID, athlete.Version, agg)
		if err != nil {
			return err
		}
		rating, next = inserted, saved
		return nil
	})
	if err != nil {
		return domain.Rating{}, s.finish(span, opRecordRating, start, attempts, domain.Wrap(opRecordRating, err))
	}

	span.SetAttributes(attribute.String("rating.id", rating.ID))
	s.log.Info("rating recorded",
		"athlete_id", athleteID,
		"rating_id", rating.ID,
		"rating_count", next.RatingCount,
		"rank", string(next.Rank),
		"attempts", attempts,
	)
	return rating, s.finish(span, opRecordRating, start, attempts, nil)
}

// DeleteRating removes a rating. The owning athlete's aggregate is not
// adjusted; call Reconcile to bring it back in line.
func (s *Service) DeleteRating(ctx context.Context, ratingID string) error {
	ctx, span := s.tracer.Start(ctx, "ratings.DeleteRating", trace.WithAttributes(
		attribute.String("rating.id", ratingID),
	))
	defer span.End()
	start := time.Now()

	var athleteID string
	attempts, err := s.inTx(ctx, opDeleteRating, func(ctx context.Context, tx domain.Tx) error {
		rating, err := tx.GetRating(ctx, ratingID)
		if err != nil {
			return err
		}
		if err := tx.DeleteRating(ctx, ratingID); err != nil {
			return err
		}
		athleteID = rating.AthleteID
		return nil
	})
	if err != nil {
		return s.finish(span, opDeleteRating, start, attempts, domain.Wrap(opDeleteRating, err))
	}

	span.SetAttributes(attribute.String("athlete.id", athleteID))
	s.log.Info("rating deleted, aggregate left stale until reconciled",
		"rating_id", ratingID,
		"athlete_id", athleteID,
	)
	return s.finish(span, opDeleteRating, start, attempts, nil)
}

// Reconcile recomputes the athlete's aggregate from all of its published
// ratings, including its rank. It is idempotent; an aggregate that already
// matches is not rewritten.
func (s *Service) Reconcile(ctx context.Context, athleteID string) (domain.Athlete, error) {
	ctx, span := s.tracer.Start(ctx, "ratings.Reconcile", trace.WithAttributes(
		attribute.String("athlete.id", athleteID),
	))
	defer span.End()
	start := time.Now()

	var (
		result  domain.Athlete
		drifted bool
	)
	attempts, err := s.inTx(ctx, opReconcile, func(ctx context.Context, tx domain.Tx) error {
		athlete, err := tx.GetAthlete(ctx, athleteID)
		if err != nil {
			return err
		}
		published, err := tx.ListPublishedRatings(ctx, athlete.ID)
		if err != nil {
			return err
		}
		agg := domain.Recompute(published)
		if agg.Equal(athlete.Aggregate()) {
			result, drifted = athlete, false
			return nil
		}
		saved, err := tx.SaveAggregate(ctx, athlete.ID, athlete.Version, agg)
		if err != nil {
			return err
		}
		result, drifted = saved, true
		return nil
	})
	if err != nil {
		return domain.Athlete{}, s.finish(span, opReconcile, start, attempts, domain.Wrap(opReconcile, err))
	}

	span.SetAttributes(attribute.Bool("aggregate.drifted", drifted))
	if drifted {
		s.metrics.Repaired()
		s.log.Info("aggregate repaired",
			"athlete_id", athleteID,
			"rating_count", result.RatingCount,
			"rank", string(result.Rank),
		)
	} else {
		s.log.Debug("aggregate already consistent", "athlete_id", athleteID)
	}
	return result, s.finish(span, opReconcile, start, attempts, nil)
}

// ReconcileAll reconciles every athlete with at most concurrency running at
// once. It stops at the first failure and returns how many completed.
func (s *Service) ReconcileAll(ctx context.Context, concurrency int) (int, error) {
	ids, err := s.store.ListAthleteIDs(ctx)
	if err != nil {
		return 0, domain.Wrap("reconcile_all", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.Reconcile(gctx, id); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}
	err = g.Wait()
	s.log.Info("reconcile sweep finished", "athletes", len(ids), "reconciled", done.Load(), "error", err)
	return int(done.Load()), err
}

// CreateAthlete registers a new athlete with an empty aggregate.
func (s *Service) CreateAthlete(ctx context.Context, name string) (domain.Athlete, error) {
	ctx, span := s.tracer.Start(ctx, "ratings.CreateAthlete")
	defer span.End()
	start := time.Now()

	if err := domain.ValidateAthleteName(name); err != nil {
		return domain.Athlete{}, s.finish(span, opCreateAthlete, start, 0, domain.Wrap(opCreateAthlete, err))
	}
	athlete, err := s.store.CreateAthlete(ctx, name)
	if err != nil {
		return domain.Athlete{}, s.finish(span, opCreateAthlete, start, 1, domain.Wrap(opCreateAthlete, err))
	}
	span.SetAttributes(attribute.String("athlete.id", athlete.ID))
	return athlete, s.finish(span, opCreateAthlete, start, 1, nil)
}

// GetAthlete returns the athlete with its stored aggregate.
func (s *Service) GetAthlete(ctx context.Context, athleteID string) (domain.Athlete, error) {
	var athlete domain.Athlete
	_, err := s.inTx(ctx, opGetAthlete, func(ctx context.Context, tx domain.Tx) error {
		a, err := tx.GetAthlete(ctx, athleteID)
		athlete = a
		return err
	})
	if err != nil {
		return domain.Athlete{}, domain.Wrap(opGetAthlete, err)
	}
	return athlete, nil
}

// GetRating returns a single rating.
func (s *Service) GetRating(ctx context.Context, ratingID string) (domain.Rating, error) {
	var rating domain.Rating
	_, err := s.inTx(ctx, opGetRating, func(ctx context.Context, tx domain.Tx) error {
		r, err := tx.GetRating(ctx, ratingID)
		rating = r
		return err
	})
	if err != nil {
		return domain.Rating{}, domain.Wrap(opGetRating, err)
	}
	return rating, nil
}

// finish records metrics and span status for an operation and returns err.
func (s *Service) finish(span trace.Span, op string, start time.Time, attempts int, err error) error {
	span.SetAttributes(attribute.Int("tx.attempts", attempts))
	status := "ok"
	if err != nil {
		status = string(domain.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch domain.CodeOf(err) {
		case domain.CodeInternal, domain.CodeUnavailable, domain.CodeRetryable:
			s.log.Error("operation failed", "op", op, "code", status, "attempts", attempts, "error", err)
		case domain.CodeCanceled:
			s.log.Warn("operation abandoned", "op", op, "attempts", attempts, "error", err)
		default:
			s.log.Debug("operation rejected", "op", op, "code", status, "error", err)
		}
	}
	s.metrics.ObserveOperation(op, status, time.Since(start))
	return err
}
