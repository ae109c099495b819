package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// RequestWithdrawal files a pending withdrawal. The balance is checked now but
// only debited when an admin approves the request.
func (s *Service) RequestWithdrawal(ctx context.Context, caller Caller, in WithdrawalInput) (WithdrawalRequest, error) {
	var out WithdrawalRequest
	if err := requireUser(caller); err != nil {
		return out, err
	}
	if !in.Amount.IsPositive() || in.Amount.LessThan(s.cfg.MinWithdrawal) {
		return out, fmt.Errorf("%w: minimum withdrawal is %s", ErrInvalidAmount, s.cfg.MinWithdrawal.StringFixed(2))
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return out, fmt.Errorf("%w: amount has more than 2 decimal places", ErrInvalidAmount)
	}
	bankName := strings.TrimSpace(in.BankName)
	accountNumber := strings.TrimSpace(in.AccountNumber)
	accountName := strings.Join(strings.Fields(in.AccountName), " ")
	if err := ValidateBankDetails(bankName, accountNumber, accountName, s.cfg.AllowedBanks); err != nil {
		return out, err
	}
	hash := requestHash("request_withdrawal", in.Amount.StringFixed(2), strings.ToLower(bankName), accountNumber, strings.ToLower(accountName))

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		balance, err := lockBalance(ctx, tx, caller.AccountID)
		if err != nil {
			return err
		}
		existingID, replay, err := claimIdempotency(ctx, tx, caller.AccountID, in.IdempotencyKey, "request_withdrawal", hash)
		if err != nil {
			return err
		}
		if replay {
			out, err = scanWithdrawal(tx.QueryRow(ctx, `
				SELECT `+withdrawalColumns+`
				FROM ledger.withdrawal_requests
				WHERE id = $1
			`, existingID))
			return err
		}
		if in.Amount.GreaterThan(balance) {
			return fmt.Errorf("%w: balance %s", ErrInsufficientFunds, balance.StringFixed(2))
		}

		out, err = scanWithdrawal(tx.QueryRow(ctx, `
			INSERT INTO ledger.withdrawal_requests (account_id, amount, bank_name, account_number, account_name)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+withdrawalColumns,
			caller.AccountID, in.Amount, bankName, accountNumber, accountName))
		if err != nil {
			return err
		}
		if _, err := insertTransaction(ctx, tx, caller.AccountID, TxWithdrawal, out.Amount, TxStatusPending, txRef{
			WithdrawalID: &out.ID,
			Description:  fmt.Sprintf("Withdrawal to %s %s", bankName, maskAccountNumber(accountNumber)),
		}); err != nil {
			return err
		}
		return recordIdempotentResource(ctx, tx, caller.AccountID, in.IdempotencyKey, out.ID)
	})
	if err != nil {
		return WithdrawalRequest{}, err
	}
	s.log.Info("withdrawal requested", "withdrawal_id", out.ID, "account_id", caller.AccountID, "amount", out.Amount.StringFixed(2))
	return out, nil
}

// ApproveWithdrawal debits the requested amount exactly once. It fails with
// ErrInsufficientFunds when the balance dropped below the amount since the
// request was filed; the request then stays pending.
func (s *Service) ApproveWithdrawal(ctx context.Context, caller Caller, id int64) (WithdrawalRequest, error) {
	var out WithdrawalRequest
	if err := requireAdmin(caller); err != nil {
		return out, err
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		w, err := lockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != WithdrawalPending {
			return fmt.Errorf("%w: withdrawal %d is %s", ErrInvalidState, id, w.Status)
		}
		if _, err := debit(ctx, tx, w.AccountID, w.Amount); err != nil {
			return err
		}
		if err := settleWithdrawalTransactions(ctx, tx, w.ID, TxStatusCompleted); err != nil {
			return err
		}
		out, err = setWithdrawalStatus(ctx, tx, w.ID, WithdrawalApproved, s.now())
		if err != nil {
			return err
		}
		return notify(ctx, tx, out.AccountID, "Withdrawal approved",
			fmt.Sprintf("Your withdrawal of %s to %s has been approved.", out.Amount.StringFixed(2), out.BankName))
	})
	if err != nil {
		return WithdrawalRequest{}, err
	}
	s.log.Info("withdrawal approved", "withdrawal_id", out.ID, "account_id", out.AccountID, "admin_id", caller.AccountID, "amount", out.Amount.StringFixed(2))
	return out, nil
}

func (s *Service) RejectWithdrawal(ctx context.Context, caller Caller, id int64) (WithdrawalRequest, error) {
	var out WithdrawalRequest
	if err := requireAdmin(caller); err != nil {
		return out, err
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		w, err := lockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != WithdrawalPending {
			return fmt.Errorf("%w: withdrawal %d is %s", ErrInvalidState, id, w.Status)
		}
		if err := settleWithdrawalTransactions(ctx, tx, w.ID, TxStatusFailed); err != nil {
			return err
		}
		out, err = setWithdrawalStatus(ctx, tx, w.ID, WithdrawalRejected, s.now())
		if err != nil {
			return err
		}
		return notify(ctx, tx, out.AccountID, "Withdrawal rejected",
			fmt.Sprintf("Your withdrawal of %s was rejected. Your balance was not changed.", out.Amount.StringFixed(2)))
	})
	if err != nil {
		return WithdrawalRequest{}, err
	}
	s.log.Info("withdrawal rejected", "withdrawal_id", out.ID, "account_id", out.AccountID, "admin_id", caller.AccountID)
	return out, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, caller Caller, limit int) ([]WithdrawalRequest, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM ledger.withdrawal_requests
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, caller.AccountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWithdrawal)
}

func (s *Service) ListPendingWithdrawals(ctx context.Context, caller Caller, limit int) ([]WithdrawalRequest, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM ledger.withdrawal_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWithdrawal)
}

func setWithdrawalStatus(ctx context.Context, tx pgx.Tx, id int64, status WithdrawalStatus, at time.Time) (WithdrawalRequest, error) {
	return scanWithdrawal(tx.QueryRow(ctx, `
		UPDATE ledger.withdrawal_requests
		SET status = $2, processed_at = $3
		WHERE id = $1
		RETURNING `+withdrawalColumns,
		id, string(status), at.UTC()))
}

func maskAccountNumber(n string) string {
	if len(n) < 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}
