package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const investmentColumns = `
	id, account_id, principal, profit_model, profit_rate, daily_profit_amount, status,
	start_date, end_date, days_completed, last_payout_date, funded_from_balance, completed_at, created_at`

func scanInvestment(row rowScanner) (Investment, error) {
	var inv Investment
	err := row.Scan(
		&inv.ID, &inv.AccountID, &inv.Principal, &inv.ProfitModel, &inv.ProfitRate, &inv.DailyProfitAmount, &inv.Status,
		&inv.StartDate, &inv.EndDate, &inv.DaysCompleted, &inv.LastPayoutDate, &inv.FundedFromBalance, &inv.CompletedAt, &inv.CreatedAt,
	)
	return inv, err
}

const withdrawalColumns = `
	id, account_id, amount, bank_name, account_number, account_name, status, processed_at, created_at`

func scanWithdrawal(row rowScanner) (WithdrawalRequest, error) {
	var w WithdrawalRequest
	err := row.Scan(&w.ID, &w.AccountID, &w.Amount, &w.BankName, &w.AccountNumber, &w.AccountName, &w.Status, &w.ProcessedAt, &w.CreatedAt)
	return w, err
}

const transactionColumns = `
	id, account_id, type, amount, investment_id, withdrawal_id, status, description, created_at`

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.InvestmentID, &t.WithdrawalID, &t.Status, &t.Description, &t.CreatedAt)
	return t, err
}

const accountColumns = `id, email, referral_code, balance, earnings, referral_bonus, role, created_at`

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.ReferralCode, &a.Balance, &a.Earnings, &a.ReferralBonus, &a.Role, &a.CreatedAt)
	return a, err
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// lockInvestment loads an investment under a row lock. Investments are always
// locked before the account rows they touch.
func lockInvestment(ctx context.Context, tx pgx.Tx, id int64) (Investment, error) {
	inv, err := scanInvestment(tx.QueryRow(ctx, `
		SELECT `+investmentColumns+`
		FROM ledger.investments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return inv, fmt.Errorf("investment %d: %w", id, ErrNotFound)
	}
	return inv, err
}

func lockWithdrawal(ctx context.Context, tx pgx.Tx, id int64) (WithdrawalRequest, error) {
	w, err := scanWithdrawal(tx.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM ledger.withdrawal_requests
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return w, fmt.Errorf("withdrawal %d: %w", id, ErrNotFound)
	}
	return w, err
}

type txRef struct {
	InvestmentID *int64
	WithdrawalID *int64
	Description  string
}

func insertTransaction(ctx context.Context, tx pgx.Tx, accountID string, kind TransactionType, amount decimal.Decimal, status TransactionStatus, ref txRef) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger.transactions (account_id, type, amount, investment_id, withdrawal_id, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, accountID, string(kind), amount, ref.InvestmentID, ref.WithdrawalID, string(status), ref.Description).Scan(&id)
	return id, err
}

// settleInvestmentTransactions moves the pending creation transaction of an
// investment to its final status.
func settleInvestmentTransactions(ctx context.Context, tx pgx.Tx, investmentID int64, status TransactionStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE ledger.transactions
		SET status = $2
		WHERE investment_id = $1 AND type = 'investment' AND status = 'pending'
	`, investmentID, string(status))
	return err
}

// reduceInvestmentTransaction rewrites the pending creation transaction of an
// investment to cover only amount.
func reduceInvestmentTransaction(ctx context.Context, tx pgx.Tx, investmentID int64, amount decimal.Decimal, description string) error {
	_, err := tx.Exec(ctx, `
		UPDATE ledger.transactions
		SET amount = $2, description = $3
		WHERE investment_id = $1 AND type = 'investment' AND status = 'pending'
	`, investmentID, amount, description)
	return err
}

func settleWithdrawalTransactions(ctx context.Context, tx pgx.Tx, withdrawalID int64, status TransactionStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE ledger.transactions
		SET status = $2
		WHERE withdrawal_id = $1 AND type = 'withdrawal' AND status = 'pending'
	`, withdrawalID, string(status))
	return err
}

func notify(ctx context.Context, tx pgx.Tx, accountID, title, message string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger.notifications (account_id, title, message)
		VALUES ($1, $2, $3)
	`, accountID, title, message)
	return err
}

// claimIdempotency reserves key for the account. When the key was already used
// with the same request it returns the resource id recorded for it and
// replay=true; a different request under the same key is a conflict.
func claimIdempotency(ctx context.Context, tx pgx.Tx, accountID, key, action, hash string) (resourceID int64, replay bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false, nil
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO ledger.idempotency_keys (account_id, key, action, request_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, key) DO NOTHING
	`, accountID, key, action, hash)
	if err != nil {
		return 0, false, err
	}
	if cmd.RowsAffected() == 1 {
		return 0, false, nil
	}

	var storedAction, storedHash string
	var storedID *int64
	if err := tx.QueryRow(ctx, `
		SELECT action, request_hash, resource_id
		FROM ledger.idempotency_keys
		WHERE account_id = $1 AND key = $2
	`, accountID, key).Scan(&storedAction, &storedHash, &storedID); err != nil {
		return 0, false, err
	}
	if storedAction != action || storedHash != hash {
		return 0, false, ErrIdempotencyConflict
	}
	if storedID == nil {
		return 0, false, ErrTxConflict
	}
	return *storedID, true, nil
}

func recordIdempotentResource(ctx context.Context, tx pgx.Tx, accountID, key string, resourceID int64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE ledger.idempotency_keys
		SET resource_id = $3
		WHERE account_id = $1 AND key = $2
	`, accountID, key, resourceID)
	return err
}
