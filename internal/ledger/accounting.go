package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func lockBalance(ctx context.Context, tx pgx.Tx, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT balance
		FROM ledger.accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return balance, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return balance, err
}

// credit adds amount to the account and records a completed transaction of
// the given kind. Payouts also count towards earnings and referral bonuses
// towards the referral total.
func credit(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal, kind TransactionType, ref txRef) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	balance, err := lockBalance(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	balance = balance.Add(amount)

	earned, referred := decimal.Zero, decimal.Zero
	switch kind {
	case TxPayout:
		earned = amount
	case TxReferralBonus:
		referred = amount
	}
	if _, err := tx.Exec(ctx, `
		UPDATE ledger.accounts
		SET balance = $2,
		    earnings = earnings + $3,
		    referral_bonus = referral_bonus + $4,
		    updated_at = now()
		WHERE id = $1
	`, accountID, balance, earned, referred); err != nil {
		return decimal.Zero, err
	}
	if _, err := insertTransaction(ctx, tx, accountID, kind, amount, TxStatusCompleted, ref); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// debit removes amount from the account. The caller records or settles the
// matching transaction row in the same database transaction.
func debit(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	balance, err := lockBalance(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(balance) {
		return balance, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, balance.StringFixed(2), amount.StringFixed(2))
	}
	balance = balance.Sub(amount)
	if _, err := tx.Exec(ctx, `
		UPDATE ledger.accounts
		SET balance = $2, updated_at = now()
		WHERE id = $1
	`, accountID, balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
