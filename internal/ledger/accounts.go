package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const referralCodeConstraint = "accounts_referral_code_key"

// EnsureAccount creates the ledger account for an authenticated user on first
// sight. When referralCode names another account the new account is recorded
// as referred by it; unknown codes and self referrals are ignored.
func (s *Service) EnsureAccount(ctx context.Context, accountID, email, referralCode string) (Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Account{}, ErrUnauthorized
	}
	email = strings.ToLower(strings.TrimSpace(email))
	referralCode = strings.ToUpper(strings.TrimSpace(referralCode))

	const maxAttempts = 3
	var out Account
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return Account{}, err
		}
		created := false
		err = s.withTx(ctx, func(tx pgx.Tx) error {
			cmd, err := tx.Exec(ctx, `
				INSERT INTO ledger.accounts (id, email, referral_code)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO NOTHING
			`, accountID, email, code)
			if err != nil {
				return err
			}
			created = cmd.RowsAffected() == 1
			if created && referralCode != "" {
				if _, err := attachReferral(ctx, tx, accountID, referralCode); err != nil &&
					!errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidInput) {
					return err
				}
			}
			out, err = scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger.accounts WHERE id = $1`, accountID))
			return err
		})
		if isConstraint(err, referralCodeConstraint) {
			continue
		}
		if err != nil {
			return Account{}, err
		}
		if created {
			s.log.Info("account created", "account_id", accountID, "referred", referralCode != "")
		}
		return out, nil
	}
	return Account{}, fmt.Errorf("could not allocate a referral code: %w", ErrTxConflict)
}

func (s *Service) GetAccount(ctx context.Context, caller Caller) (Account, error) {
	if err := requireUser(caller); err != nil {
		return Account{}, err
	}
	acct, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger.accounts WHERE id = $1`, caller.AccountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return acct, ErrNotFound
	}
	return acct, err
}

func (s *Service) AccountSummary(ctx context.Context, caller Caller) (AccountSummary, error) {
	var out AccountSummary
	acct, err := s.GetAccount(ctx, caller)
	if err != nil {
		return out, err
	}
	out.Account = acct
	err = s.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(principal) FILTER (WHERE status IN ('active', 'completed')), 0),
			COUNT(1) FILTER (WHERE status = 'pending'),
			COUNT(1) FILTER (WHERE status = 'active'),
			COUNT(1) FILTER (WHERE status = 'completed')
		FROM ledger.investments
		WHERE account_id = $1
	`, caller.AccountID).Scan(&out.TotalInvested, &out.PendingInvestments, &out.ActiveInvestments, &out.CompletedInvestments)
	if err != nil {
		return out, err
	}
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(1) FROM ledger.notifications WHERE account_id = $1 AND NOT read
	`, caller.AccountID).Scan(&out.UnreadNotifications)
	return out, err
}

func (s *Service) ListTransactions(ctx context.Context, caller Caller, limit int) ([]Transaction, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger.transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, caller.AccountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}
