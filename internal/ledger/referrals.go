package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// applyReferralBonus pays the referrer of inv's owner the first time one of
// the owner's investments is activated. The referral row is locked and
// flagged in the activating transaction, so each edge pays at most once.
func (s *Service) applyReferralBonus(ctx context.Context, tx pgx.Tx, inv Investment) error {
	var referralID int64
	var referrerID string
	err := tx.QueryRow(ctx, `
		SELECT id, referrer_id
		FROM ledger.referrals
		WHERE referred_id = $1 AND NOT first_investment_completed
		FOR UPDATE
	`, inv.AccountID).Scan(&referralID, &referrerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	bonus := ReferralBonus(inv.Principal, s.cfg.ReferralRate)
	if _, err := tx.Exec(ctx, `
		UPDATE ledger.referrals
		SET first_investment_completed = true, bonus_amount = $2
		WHERE id = $1
	`, referralID, bonus); err != nil {
		return err
	}
	if !bonus.IsPositive() {
		return nil
	}
	if _, err := credit(ctx, tx, referrerID, bonus, TxReferralBonus, txRef{
		InvestmentID: &inv.ID,
		Description:  "Referral bonus",
	}); err != nil {
		return err
	}
	s.log.Info("referral bonus granted", "referral_id", referralID, "referrer_id", referrerID, "referred_id", inv.AccountID, "bonus", bonus.StringFixed(2))
	return notify(ctx, tx, referrerID, "Referral bonus",
		fmt.Sprintf("You earned %s because someone you referred made their first investment.", bonus.StringFixed(2)))
}

// AttachReferral records that caller was referred by the owner of code. An
// account can be referred once and never by itself.
func (s *Service) AttachReferral(ctx context.Context, caller Caller, code string) (Referral, error) {
	var out Referral
	if err := requireUser(caller); err != nil {
		return out, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return out, fmt.Errorf("%w: referral code is required", ErrInvalidInput)
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = attachReferral(ctx, tx, caller.AccountID, code)
		return err
	})
	if err != nil {
		return Referral{}, err
	}
	s.log.Info("referral attached", "referrer_id", out.ReferrerID, "referred_id", out.ReferredID)
	return out, nil
}

func attachReferral(ctx context.Context, tx pgx.Tx, referredID, code string) (Referral, error) {
	var out Referral
	var referrerID string
	err := tx.QueryRow(ctx, `SELECT id FROM ledger.accounts WHERE referral_code = $1`, code).Scan(&referrerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("referral code %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return out, err
	}
	if referrerID == referredID {
		return out, fmt.Errorf("%w: cannot refer yourself", ErrInvalidInput)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger.referrals (referrer_id, referred_id)
		VALUES ($1, $2)
		ON CONFLICT (referred_id) DO NOTHING
		RETURNING id, referrer_id, referred_id, first_investment_completed, bonus_amount, created_at
	`, referrerID, referredID).Scan(&out.ID, &out.ReferrerID, &out.ReferredID, &out.FirstInvestmentCompleted, &out.BonusAmount, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("%w: account was already referred", ErrInvalidState)
	}
	return out, err
}

func (s *Service) ListReferrals(ctx context.Context, caller Caller, limit int) ([]Referral, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.referrer_id, r.referred_id, a.email, r.first_investment_completed, r.bonus_amount, r.created_at
		FROM ledger.referrals r
		JOIN ledger.accounts a ON a.id = r.referred_id
		WHERE r.referrer_id = $1
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT $2
	`, caller.AccountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row rowScanner) (Referral, error) {
		var r Referral
		err := row.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.ReferredEmail, &r.FirstInvestmentCompleted, &r.BonusAmount, &r.CreatedAt)
		return r, err
	})
}
