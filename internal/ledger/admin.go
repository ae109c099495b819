package ledger

import "context"

func (s *Service) AdminStats(ctx context.Context, caller Caller) (AdminStats, error) {
	var out AdminStats
	if err := requireAdmin(caller); err != nil {
		return out, err
	}
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(1) FROM ledger.accounts),
			(SELECT COUNT(1) FROM ledger.investments WHERE status = 'pending'),
			(SELECT COUNT(1) FROM ledger.investments WHERE status = 'active'),
			(SELECT COUNT(1) FROM ledger.investments WHERE status = 'completed'),
			(SELECT COUNT(1) FROM ledger.withdrawal_requests WHERE status = 'pending'),
			(SELECT COALESCE(SUM(principal), 0) FROM ledger.investments WHERE status = 'active'),
			(SELECT COALESCE(SUM(amount), 0) FROM ledger.withdrawal_requests WHERE status = 'pending')
	`).Scan(
		&out.Accounts, &out.PendingInvestments, &out.ActiveInvestments, &out.CompletedInvestments,
		&out.PendingWithdrawals, &out.PrincipalUnderTerm, &out.PendingWithdrawSum,
	)
	return out, err
}
