package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

func (s *Service) ListNotifications(ctx context.Context, caller Caller, limit int) ([]Notification, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, account_id, title, message, read, created_at
		FROM ledger.notifications
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, caller.AccountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanNotification)
}

func (s *Service) MarkNotificationRead(ctx context.Context, caller Caller, id int64) error {
	if err := requireUser(caller); err != nil {
		return err
	}
	cmd, err := s.db.Exec(ctx, `
		UPDATE ledger.notifications
		SET read = true
		WHERE id = $1 AND account_id = $2
	`, id, caller.AccountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

// CreateNotification lets an admin message a single account.
func (s *Service) CreateNotification(ctx context.Context, caller Caller, accountID, title, message string) (Notification, error) {
	if err := requireAdmin(caller); err != nil {
		return Notification{}, err
	}
	if err := validateNotification(title, message); err != nil {
		return Notification{}, err
	}
	n, err := scanNotification(s.db.QueryRow(ctx, `
		INSERT INTO ledger.notifications (account_id, title, message)
		SELECT id, $2, $3 FROM ledger.accounts WHERE id = $1
		RETURNING id, account_id, title, message, read, created_at
	`, strings.TrimSpace(accountID), strings.TrimSpace(title), strings.TrimSpace(message)))
	if errors.Is(err, pgx.ErrNoRows) {
		return n, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return n, err
	}
	s.log.Info("notification created", "notification_id", n.ID, "account_id", n.AccountID, "admin_id", caller.AccountID)
	return n, nil
}

func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.AccountID, &n.Title, &n.Message, &n.Read, &n.CreatedAt)
	return n, err
}
