package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Clark-Hu/fanrank/internal/domain"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgInvalidTextRep       = "22P02"
	pgForeignKeyViolation  = "23503"
)

// mapPgError translates driver errors into domain sentinels. notFound is
// returned for missing rows and malformed ids; nil keeps the raw error.
func mapPgError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) && notFound != nil {
		return notFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
		case pgInvalidTextRep:
			if notFound != nil {
				return notFound
			}
		case pgForeignKeyViolation:
			return domain.ErrAthleteNotFound
		}
		return err
	}
	if pgconn.Timeout(err) || isConnectError(err) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

func isConnectError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

func isDomainSentinel(err error) bool {
	return errors.Is(err, domain.ErrAthleteNotFound) ||
		errors.Is(err, domain.ErrRatingNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrUnavailable) ||
		errors.Is(err, domain.ErrValidation)
}

// validID reports whether id can address a uuid primary key. Malformed ids
// are rejected before they reach the driver, which would otherwise fail to
// encode them.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
