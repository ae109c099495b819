package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const payoutConstraint = "payouts_investment_day_key"

// ClaimDailyPayout grants the payout for the current day of an active
// investment's term. A day counts as claimed once its calendar date in the
// configured location matches last_payout_date; the (investment_id, day_index)
// uniqueness constraint decides races between concurrent claims.
func (s *Service) ClaimDailyPayout(ctx context.Context, caller Caller, investmentID int64) (ClaimResult, error) {
	var out ClaimResult
	if err := requireUser(caller); err != nil {
		return out, err
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := lockInvestment(ctx, tx, investmentID)
		if err != nil {
			return err
		}
		if inv.AccountID != caller.AccountID {
			return fmt.Errorf("investment %d: %w", investmentID, ErrNotFound)
		}
		if inv.Status != InvestmentActive || inv.StartDate == nil {
			return fmt.Errorf("%w: investment %d is %s", ErrInvalidState, investmentID, inv.Status)
		}
		if inv.DaysCompleted >= TermDays {
			return fmt.Errorf("%w: investment %d has no payouts left", ErrInvalidState, investmentID)
		}

		now := s.now()
		today := CalendarDate(now, s.loc)
		if !ClaimableOn(today, inv.LastPayoutDate) {
			return ErrAlreadyClaimedToday
		}
		day := PayoutDay(*inv.StartDate, now)
		bonus := s.cfg.DailyBonus.Round(2)
		profit := inv.DailyProfitAmount

		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger.payouts (investment_id, account_id, day_index, profit, bonus, claimed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, inv.ID, inv.AccountID, day, profit, bonus, now.UTC()); err != nil {
			if isConstraint(err, payoutConstraint) {
				return ErrAlreadyClaimedToday
			}
			return err
		}

		total := profit.Add(bonus)
		balance := out.Balance
		if total.IsPositive() {
			balance, err = credit(ctx, tx, inv.AccountID, total, TxPayout, txRef{
				InvestmentID: &inv.ID,
				Description:  fmt.Sprintf("Day %d payout", day),
			})
			if err != nil {
				return err
			}
		} else if balance, err = lockBalance(ctx, tx, inv.AccountID); err != nil {
			return err
		}

		status := InvestmentActive
		if inv.DaysCompleted+1 >= TermDays {
			status = InvestmentCompleted
		}
		if _, err := tx.Exec(ctx, `
			UPDATE ledger.investments
			SET days_completed = days_completed + 1,
			    last_payout_date = $2,
			    status = $3,
			    completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END,
			    updated_at = now()
			WHERE id = $1
		`, inv.ID, today, string(status), now.UTC()); err != nil {
			return err
		}
		if status == InvestmentCompleted {
			if err := notify(ctx, tx, inv.AccountID, "Investment completed",
				fmt.Sprintf("Your investment of %s has paid out all %d days.", inv.Principal.StringFixed(2), TermDays)); err != nil {
				return err
			}
		}

		out = ClaimResult{
			InvestmentID:  inv.ID,
			Day:           day,
			Profit:        profit,
			Bonus:         bonus,
			Total:         total,
			DaysCompleted: inv.DaysCompleted + 1,
			Status:        status,
			Balance:       balance,
		}
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	s.log.Info("payout claimed", "investment_id", out.InvestmentID, "account_id", caller.AccountID, "day", out.Day, "total", out.Total.StringFixed(2), "status", out.Status)
	return out, nil
}

func (s *Service) ListPayouts(ctx context.Context, caller Caller, investmentID int64) ([]Payout, error) {
	if _, err := s.GetInvestment(ctx, caller, investmentID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, investment_id, day_index, profit, bonus, claimed_at
		FROM ledger.payouts
		WHERE investment_id = $1
		ORDER BY claimed_at DESC, id DESC
	`, investmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row rowScanner) (Payout, error) {
		var p Payout
		err := row.Scan(&p.ID, &p.InvestmentID, &p.DayIndex, &p.Profit, &p.Bonus, &p.ClaimedAt)
		return p, err
	})
}
