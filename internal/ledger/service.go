package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vestflow/internal/config"
)

type Service struct {
	db     *pgxpool.Pool
	log    *slog.Logger
	cfg    config.LedgerConfig
	profit ProfitModel
	loc    *time.Location
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces the wall clock used for term dates and the payout calendar.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(db *pgxpool.Pool, cfg config.LedgerConfig, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	profit := ProfitModel{Kind: cfg.ProfitModel, Rate: cfg.ProfitRate}
	if err := profit.Validate(); err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		db:     db,
		log:    logger,
		cfg:    cfg,
		profit: profit,
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// withTx runs fn in a read committed transaction, retrying serialization
// failures and deadlocks with a doubling delay.
func (s *Service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	const maxAttempts = 5
	retryDelay := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		s.log.Warn("retrying ledger transaction", "attempt", attempt+1, "error", err)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
	return ErrTxConflict
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isConstraint(err error, name string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == name
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func requireAdmin(caller Caller) error {
	if caller.AccountID == "" {
		return ErrUnauthorized
	}
	if !caller.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func requireUser(caller Caller) error {
	if caller.AccountID == "" {
		return ErrUnauthorized
	}
	return nil
}
