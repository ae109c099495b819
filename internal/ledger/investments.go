package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const termLength = TermDays * 24 * time.Hour

func (s *Service) CreateInvestment(ctx context.Context, caller Caller, in CreateInvestmentInput) (Investment, error) {
	var out Investment
	if err := requireUser(caller); err != nil {
		return out, err
	}
	if err := ValidatePrincipal(in.Principal, s.cfg.MinPrincipal, s.cfg.MaxPrincipal); err != nil {
		return out, err
	}
	principal := in.Principal.Round(2)
	daily := s.profit.DailyProfit(principal)
	hash := requestHash("create_investment", principal.StringFixed(2))

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := accountExists(ctx, tx, caller.AccountID); err != nil {
			return err
		}
		existingID, replay, err := claimIdempotency(ctx, tx, caller.AccountID, in.IdempotencyKey, "create_investment", hash)
		if err != nil {
			return err
		}
		if replay {
			out, err = scanInvestment(tx.QueryRow(ctx, `
				SELECT `+investmentColumns+`
				FROM ledger.investments
				WHERE id = $1
			`, existingID))
			return err
		}

		out, err = scanInvestment(tx.QueryRow(ctx, `
			INSERT INTO ledger.investments (account_id, principal, profit_model, profit_rate, daily_profit_amount)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+investmentColumns,
			caller.AccountID, principal, s.profit.Kind, s.profit.Rate, daily))
		if err != nil {
			return err
		}
		if _, err := insertTransaction(ctx, tx, caller.AccountID, TxInvestment, principal, TxStatusPending, txRef{
			InvestmentID: &out.ID,
			Description:  "Investment created",
		}); err != nil {
			return err
		}
		return recordIdempotentResource(ctx, tx, caller.AccountID, in.IdempotencyKey, out.ID)
	})
	if err != nil {
		return Investment{}, err
	}
	s.log.Info("investment created", "investment_id", out.ID, "account_id", caller.AccountID, "principal", principal.StringFixed(2))
	return out, nil
}

func (s *Service) GetInvestment(ctx context.Context, caller Caller, id int64) (Investment, error) {
	if err := requireUser(caller); err != nil {
		return Investment{}, err
	}
	inv, err := scanInvestment(s.db.QueryRow(ctx, `
		SELECT `+investmentColumns+`
		FROM ledger.investments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return inv, ErrNotFound
	}
	if err != nil {
		return inv, err
	}
	if inv.AccountID != caller.AccountID && !caller.IsAdmin() {
		return Investment{}, ErrNotFound
	}
	return inv, nil
}

func (s *Service) ListInvestments(ctx context.Context, caller Caller, limit int) ([]Investment, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+investmentColumns+`
		FROM ledger.investments
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, caller.AccountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvestment)
}

func (s *Service) ListPendingInvestments(ctx context.Context, caller Caller, limit int) ([]Investment, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+investmentColumns+`
		FROM ledger.investments
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvestment)
}

// ApproveInvestment activates a pending investment and starts its term. The
// part of the principal covered by the owner's balance is debited; the rest
// was paid outside the system and verified by the approving admin.
func (s *Service) ApproveInvestment(ctx context.Context, caller Caller, id int64) (Investment, error) {
	var out Investment
	if err := requireAdmin(caller); err != nil {
		return out, err
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := lockInvestment(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(inv.Status, InvestmentActive) {
			return fmt.Errorf("%w: investment %d is %s", ErrInvalidState, id, inv.Status)
		}

		balance, err := lockBalance(ctx, tx, inv.AccountID)
		if err != nil {
			return err
		}
		funded := decimal.Min(inv.Principal, balance)
		if funded.IsPositive() {
			if _, err := debit(ctx, tx, inv.AccountID, funded); err != nil {
				return err
			}
		}
		if funded.IsPositive() && funded.LessThan(inv.Principal) {
			// Split the creation row so the balance-funded and externally paid
			// parts together still add up to the principal.
			if err := reduceInvestmentTransaction(ctx, tx, inv.ID, inv.Principal.Sub(funded), "Investment paid externally"); err != nil {
				return err
			}
			if _, err := insertTransaction(ctx, tx, inv.AccountID, TxInvestment, funded, TxStatusCompleted, txRef{
				InvestmentID: &inv.ID,
				Description:  "Investment funded from balance",
			}); err != nil {
				return err
			}
		}
		if err := settleInvestmentTransactions(ctx, tx, inv.ID, TxStatusCompleted); err != nil {
			return err
		}

		start := s.now().UTC()
		out, err = scanInvestment(tx.QueryRow(ctx, `
			UPDATE ledger.investments
			SET status = 'active',
			    start_date = $2,
			    end_date = $3,
			    funded_from_balance = $4,
			    updated_at = now()
			WHERE id = $1
			RETURNING `+investmentColumns,
			inv.ID, start, start.Add(termLength), funded))
		if err != nil {
			return err
		}

		if err := s.applyReferralBonus(ctx, tx, out); err != nil {
			return err
		}
		return notify(ctx, tx, out.AccountID, "Investment approved",
			fmt.Sprintf("Your investment of %s is now active. Claim your daily payout for the next %d days.", out.Principal.StringFixed(2), TermDays))
	})
	if err != nil {
		return Investment{}, err
	}
	s.log.Info("investment approved", "investment_id", out.ID, "account_id", out.AccountID, "admin_id", caller.AccountID, "funded_from_balance", out.FundedFromBalance.StringFixed(2))
	return out, nil
}

func (s *Service) RejectInvestment(ctx context.Context, caller Caller, id int64) (Investment, error) {
	var out Investment
	if err := requireAdmin(caller); err != nil {
		return out, err
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := lockInvestment(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(inv.Status, InvestmentRejected) {
			return fmt.Errorf("%w: investment %d is %s", ErrInvalidState, id, inv.Status)
		}
		if err := settleInvestmentTransactions(ctx, tx, inv.ID, TxStatusFailed); err != nil {
			return err
		}
		out, err = setInvestmentStatus(ctx, tx, inv.ID, InvestmentRejected)
		if err != nil {
			return err
		}
		return notify(ctx, tx, out.AccountID, "Investment rejected",
			fmt.Sprintf("Your investment of %s was not approved.", out.Principal.StringFixed(2)))
	})
	if err != nil {
		return Investment{}, err
	}
	s.log.Info("investment rejected", "investment_id", out.ID, "account_id", out.AccountID, "admin_id", caller.AccountID)
	return out, nil
}

func (s *Service) CancelInvestment(ctx context.Context, caller Caller, id int64) (Investment, error) {
	var out Investment
	if err := requireAdmin(caller); err != nil {
		return out, err
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := lockInvestment(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(inv.Status, InvestmentCancelled) {
			return fmt.Errorf("%w: investment %d is %s", ErrInvalidState, id, inv.Status)
		}
		out, err = setInvestmentStatus(ctx, tx, inv.ID, InvestmentCancelled)
		if err != nil {
			return err
		}
		return notify(ctx, tx, out.AccountID, "Investment cancelled",
			fmt.Sprintf("Your investment of %s was cancelled after %d of %d payouts.", out.Principal.StringFixed(2), out.DaysCompleted, TermDays))
	})
	if err != nil {
		return Investment{}, err
	}
	s.log.Info("investment cancelled", "investment_id", out.ID, "account_id", out.AccountID, "admin_id", caller.AccountID)
	return out, nil
}

func setInvestmentStatus(ctx context.Context, tx pgx.Tx, id int64, status InvestmentStatus) (Investment, error) {
	return scanInvestment(tx.QueryRow(ctx, `
		UPDATE ledger.investments
		SET status = $2,
		    completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+investmentColumns,
		id, string(status)))
}

func accountExists(ctx context.Context, tx pgx.Tx, accountID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger.accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}
