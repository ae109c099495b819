package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SweepExpiredInvestments completes every active investment whose term has
// ended. Rows already completed are untouched, so repeated or concurrent runs
// are no-ops; an in-flight claim holds the row lock and the UPDATE re-checks
// the status once it gets it.
func (s *Service) SweepExpiredInvestments(ctx context.Context) (SweepResult, error) {
	out := SweepResult{IDs: make([]int64, 0)}
	now := s.now().UTC()
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		out = SweepResult{IDs: make([]int64, 0)}
		rows, err := tx.Query(ctx, `
			UPDATE ledger.investments
			SET status = 'completed', completed_at = $1, updated_at = now()
			WHERE status = 'active' AND end_date <= $1
			RETURNING id, account_id, principal, days_completed
		`, now)
		if err != nil {
			return err
		}
		type expired struct {
			id        int64
			accountID string
			principal decimal.Decimal
			days      int
		}
		var done []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.id, &e.accountID, &e.principal, &e.days); err != nil {
				rows.Close()
				return err
			}
			done = append(done, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range done {
			if err := notify(ctx, tx, e.accountID, "Investment completed",
				fmt.Sprintf("Your investment of %s has reached the end of its %d day term after %d payouts.", e.principal.StringFixed(2), TermDays, e.days)); err != nil {
				return err
			}
			out.IDs = append(out.IDs, e.id)
		}
		out.Completed = len(out.IDs)
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	if out.Completed > 0 {
		s.log.Info("expired investments completed", "count", out.Completed, "ids", out.IDs)
	}
	return out, nil
}
