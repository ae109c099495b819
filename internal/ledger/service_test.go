package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vestflow/internal/config"
	"vestflow/internal/db"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	pool  *pgxpool.Pool
	svc   *Service
	clock *testClock
	admin Caller
}

// setupService connects to DATABASE_URL and applies the schema. Accounts are
// random per test and the clock starts in the past, so tests do not see each
// other's rows even when packages share one database.
func setupService(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.DefaultLedger()
	cfg.Location = time.UTC
	clock := &testClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	svc, err := NewService(pool, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	env := &testEnv{pool: pool, svc: svc, clock: clock}
	env.admin = env.newAccount(t, "")
	if _, err := pool.Exec(ctx, `UPDATE ledger.accounts SET role = 'admin' WHERE id = $1`, env.admin.AccountID); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	env.admin.Role = RoleAdmin
	return env
}

func (e *testEnv) newAccount(t *testing.T, referralCode string) Caller {
	t.Helper()
	id := uuid.NewString()
	acct, err := e.svc.EnsureAccount(context.Background(), id, id+"@example.com", referralCode)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	return Caller{AccountID: acct.ID, Role: acct.Role}
}

func (e *testEnv) setBalance(t *testing.T, accountID string, amount string) {
	t.Helper()
	if _, err := e.pool.Exec(context.Background(), `UPDATE ledger.accounts SET balance = $2 WHERE id = $1`, accountID, decimal.RequireFromString(amount)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	var b decimal.Decimal
	if err := e.pool.QueryRow(context.Background(), `SELECT balance FROM ledger.accounts WHERE id = $1`, accountID).Scan(&b); err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return b
}

func (e *testEnv) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := e.pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func (e *testEnv) activeInvestment(t *testing.T, owner Caller, principal string) Investment {
	t.Helper()
	ctx := context.Background()
	inv, err := e.svc.CreateInvestment(ctx, owner, CreateInvestmentInput{Principal: decimal.RequireFromString(principal)})
	if err != nil {
		t.Fatalf("create investment: %v", err)
	}
	inv, err = e.svc.ApproveInvestment(ctx, e.admin, inv.ID)
	if err != nil {
		t.Fatalf("approve investment: %v", err)
	}
	return inv
}

// investmentOutflow totals the settled investment transactions of an account.
func (e *testEnv) investmentOutflow(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	var sum decimal.Decimal
	if err := e.pool.QueryRow(context.Background(), `
		SELECT COALESCE(SUM(amount), 0) FROM ledger.transactions
		WHERE account_id = $1 AND type = 'investment' AND status = 'completed'
	`, accountID).Scan(&sum); err != nil {
		t.Fatalf("investment outflow: %v", err)
	}
	return sum
}

func assertBalance(t *testing.T, env *testEnv, accountID, want string) {
	t.Helper()
	if got := env.balance(t, accountID); !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("expected balance %s, got %s", want, got)
	}
}

func TestApproveWithZeroBalanceKeepsBalance(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")

	inv, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != InvestmentPending || inv.StartDate != nil {
		t.Fatalf("unexpected new investment: %+v", inv)
	}
	if !inv.DailyProfitAmount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected daily profit 250, got %s", inv.DailyProfitAmount)
	}

	approved, err := env.svc.ApproveInvestment(ctx, env.admin, inv.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != InvestmentActive {
		t.Fatalf("expected active, got %s", approved.Status)
	}
	if approved.StartDate == nil || !approved.StartDate.Equal(env.clock.Now()) {
		t.Fatalf("expected start date %s, got %v", env.clock.Now(), approved.StartDate)
	}
	if approved.EndDate == nil || !approved.EndDate.Equal(env.clock.Now().Add(7*24*time.Hour)) {
		t.Fatalf("unexpected end date %v", approved.EndDate)
	}
	assertBalance(t, env, user.AccountID, "0")

	pending := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE investment_id = $1 AND status = 'pending'`, inv.ID)
	if pending != 0 {
		t.Fatalf("expected creation transaction to be settled, %d still pending", pending)
	}
}

func TestApproveDebitsPrincipalOnce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	env.setBalance(t, user.AccountID, "4000")

	inv, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	assertBalance(t, env, user.AccountID, "4000")

	if _, err := env.svc.ApproveInvestment(ctx, env.admin, inv.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	assertBalance(t, env, user.AccountID, "1500")

	if _, err := env.svc.ApproveInvestment(ctx, env.admin, inv.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second approve, got %v", err)
	}
	assertBalance(t, env, user.AccountID, "1500")

	if got := env.investmentOutflow(t, user.AccountID); !got.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected completed investment transactions to total 2500, got %s", got)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE investment_id = $1 AND type = 'investment'`, inv.ID); n != 1 {
		t.Fatalf("expected one investment transaction for a fully funded principal, got %d", n)
	}
}

func TestApprovePartiallyFundedSplitsTransaction(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	env.setBalance(t, user.AccountID, "1000")

	inv, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	approved, err := env.svc.ApproveInvestment(ctx, env.admin, inv.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.FundedFromBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000 funded from balance, got %s", approved.FundedFromBalance)
	}
	assertBalance(t, env, user.AccountID, "0")

	if got := env.investmentOutflow(t, user.AccountID); !got.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected completed investment transactions to total 2500, got %s", got)
	}
	external := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE investment_id = $1 AND type = 'investment' AND amount = 1500 AND status = 'completed'`, inv.ID)
	fromBalance := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE investment_id = $1 AND type = 'investment' AND amount = 1000 AND status = 'completed'`, inv.ID)
	if external != 1 || fromBalance != 1 {
		t.Fatalf("expected 1500 external and 1000 balance rows, got %d and %d", external, fromBalance)
	}
}

func TestCancelInvestment(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv := env.activeInvestment(t, user, "2500")
	before := env.balance(t, user.AccountID)

	cancelled, err := env.svc.CancelInvestment(ctx, env.admin, inv.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != InvestmentCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := env.balance(t, user.AccountID); !got.Equal(before) {
		t.Fatalf("cancel moved money: %s -> %s", before, got)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.notifications WHERE account_id = $1 AND title = 'Investment cancelled'`, user.AccountID); n != 1 {
		t.Fatalf("expected one cancellation notification, got %d", n)
	}

	if _, err := env.svc.CancelInvestment(ctx, env.admin, inv.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second cancel, got %v", err)
	}

	pending, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.CancelInvestment(ctx, env.admin, pending.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState cancelling a pending investment, got %v", err)
	}
	got, err := env.svc.GetInvestment(ctx, user, pending.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != InvestmentPending {
		t.Fatalf("expected pending investment untouched, got %s", got.Status)
	}
}

func TestRejectInvestment(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	env.setBalance(t, user.AccountID, "3000")

	inv, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rejected, err := env.svc.RejectInvestment(ctx, env.admin, inv.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != InvestmentRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	assertBalance(t, env, user.AccountID, "3000")
	if _, err := env.svc.ApproveInvestment(ctx, env.admin, inv.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState approving a rejected investment, got %v", err)
	}
	failed := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE investment_id = $1 AND status = 'failed'`, inv.ID)
	if failed != 1 {
		t.Fatalf("expected creation transaction to fail, got %d failed", failed)
	}
}

func TestCreateInvestmentValidatesPrincipal(t *testing.T) {
	env := setupService(t)
	user := env.newAccount(t, "")
	for _, p := range []string{"2499.99", "5000000.01", "0"} {
		_, err := env.svc.CreateInvestment(context.Background(), user, CreateInvestmentInput{Principal: decimal.RequireFromString(p)})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("principal %s: expected ErrInvalidAmount, got %v", p, err)
		}
	}
}

func TestCreateInvestmentIdempotencyKey(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")

	first, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(3000), IdempotencyKey: "inv-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	replay, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(3000), IdempotencyKey: "inv-1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("expected replay to return investment %d, got %d", first.ID, replay.ID)
	}
	if _, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(4000), IdempotencyKey: "inv-1"}); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.investments WHERE account_id = $1`, user.AccountID); n != 1 {
		t.Fatalf("expected one investment, got %d", n)
	}

	if _, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(3000)}); err != nil {
		t.Fatalf("create without key: %v", err)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.idempotency_keys WHERE account_id = $1`, user.AccountID); n != 1 {
		t.Fatalf("expected keyless create to store no idempotency row, got %d rows", n)
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.ApproveInvestment(ctx, user, inv.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.RejectWithdrawal(ctx, user, 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.AdminStats(ctx, Caller{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClaimTwiceSameDay(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv := env.activeInvestment(t, user, "2500")

	env.clock.Advance(time.Hour)
	res, err := env.svc.ClaimDailyPayout(ctx, user, inv.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Day != 1 || !res.Total.Equal(decimal.NewFromInt(270)) || res.DaysCompleted != 1 {
		t.Fatalf("unexpected claim result: %+v", res)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.svc.ClaimDailyPayout(ctx, user, inv.ID); !errors.Is(err, ErrAlreadyClaimedToday) {
		t.Fatalf("expected ErrAlreadyClaimedToday, got %v", err)
	}
	assertBalance(t, env, user.AccountID, "270")
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv := env.activeInvestment(t, user, "2500")
	env.clock.Advance(time.Hour)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ClaimDailyPayout(ctx, user, inv.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrAlreadyClaimedToday):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", success)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.payouts WHERE investment_id = $1`, inv.ID); n != 1 {
		t.Fatalf("expected one payout row, got %d", n)
	}
	assertBalance(t, env, user.AccountID, "270")
}

func TestSevenDayClaimSequenceCompletes(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv := env.activeInvestment(t, user, "2500")

	env.clock.Advance(time.Hour)
	for day := 1; day <= TermDays; day++ {
		res, err := env.svc.ClaimDailyPayout(ctx, user, inv.ID)
		if err != nil {
			t.Fatalf("day %d claim: %v", day, err)
		}
		if res.Day != day || res.DaysCompleted != day {
			t.Fatalf("day %d: unexpected result %+v", day, res)
		}
		if day < TermDays && res.Status != InvestmentActive {
			t.Fatalf("day %d: expected active, got %s", day, res.Status)
		}
		env.clock.Advance(24 * time.Hour)
	}

	got, err := env.svc.GetInvestment(ctx, user, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != InvestmentCompleted || got.DaysCompleted != TermDays || got.CompletedAt == nil {
		t.Fatalf("expected completed after 7 days, got %+v", got)
	}
	payouts, err := env.svc.ListPayouts(ctx, user, inv.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != TermDays {
		t.Fatalf("expected %d payouts, got %d", TermDays, len(payouts))
	}
	seen := map[int]bool{}
	for _, p := range payouts {
		seen[p.DayIndex] = true
	}
	if len(seen) != TermDays {
		t.Fatalf("expected distinct day indexes, got %v", seen)
	}
	assertBalance(t, env, user.AccountID, "1890")

	if _, err := env.svc.ClaimDailyPayout(ctx, user, inv.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after completion, got %v", err)
	}
	acct, err := env.svc.GetAccount(ctx, user)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.Earnings.Equal(decimal.NewFromInt(1890)) {
		t.Fatalf("expected earnings 1890, got %s", acct.Earnings)
	}
}

func TestClaimRejectsOtherAccountsAndInactive(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := env.newAccount(t, "")
	other := env.newAccount(t, "")

	pending, err := env.svc.CreateInvestment(ctx, owner, CreateInvestmentInput{Principal: decimal.NewFromInt(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.ClaimDailyPayout(ctx, owner, pending.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for pending investment, got %v", err)
	}
	if _, err := env.svc.ClaimDailyPayout(ctx, other, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another account, got %v", err)
	}
	if _, err := env.svc.ClaimDailyPayout(ctx, owner, 1<<60); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing investment, got %v", err)
	}
	if _, err := env.svc.GetInvestment(ctx, other, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound reading another account's investment, got %v", err)
	}
}

func TestSweepCompletesExpiredOnce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv := env.activeInvestment(t, user, "2500")

	env.clock.Advance(time.Hour)
	if _, err := env.svc.ClaimDailyPayout(ctx, user, inv.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	env.clock.Advance(8 * 24 * time.Hour)

	first, err := env.svc.SweepExpiredInvestments(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !containsID(first.IDs, inv.ID) {
		t.Fatalf("expected sweep to complete investment %d, got %v", inv.ID, first.IDs)
	}
	txBefore := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE account_id = $1`, user.AccountID)

	second, err := env.svc.SweepExpiredInvestments(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if containsID(second.IDs, inv.ID) {
		t.Fatalf("second sweep touched investment %d again", inv.ID)
	}
	if txAfter := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE account_id = $1`, user.AccountID); txAfter != txBefore {
		t.Fatalf("sweep created transactions: %d -> %d", txBefore, txAfter)
	}
	notes := env.count(t, `SELECT COUNT(1) FROM ledger.notifications WHERE account_id = $1 AND title = 'Investment completed'`, user.AccountID)
	if notes != 1 {
		t.Fatalf("expected one completion notification, got %d", notes)
	}

	got, err := env.svc.GetInvestment(ctx, user, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != InvestmentCompleted || got.DaysCompleted != 1 {
		t.Fatalf("unexpected swept investment: %+v", got)
	}
}

func TestConcurrentSweepsCompleteOnce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv := env.activeInvestment(t, user, "2500")
	env.clock.Advance(8 * 24 * time.Hour)

	const workers = 2
	var wg sync.WaitGroup
	results := make(chan SweepResult, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.SweepExpiredInvestments(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("sweep: %v", err)
	}
	reported := 0
	for res := range results {
		if containsID(res.IDs, inv.ID) {
			reported++
		}
	}
	if reported != 1 {
		t.Fatalf("expected exactly one sweep to report investment %d, got %d", inv.ID, reported)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.notifications WHERE account_id = $1 AND title = 'Investment completed'`, user.AccountID); n != 1 {
		t.Fatalf("expected one completion notification, got %d", n)
	}
}

func TestSweepRacesFinalClaim(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	inv := env.activeInvestment(t, user, "2500")
	if _, err := env.pool.Exec(ctx, `UPDATE ledger.investments SET days_completed = 6 WHERE id = $1`, inv.ID); err != nil {
		t.Fatalf("seed days: %v", err)
	}
	env.clock.Advance(8 * 24 * time.Hour)

	var wg sync.WaitGroup
	var claimErr, sweepErr error
	var swept SweepResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, claimErr = env.svc.ClaimDailyPayout(ctx, user, inv.ID)
	}()
	go func() {
		defer wg.Done()
		swept, sweepErr = env.svc.SweepExpiredInvestments(ctx)
	}()
	wg.Wait()

	if sweepErr != nil {
		t.Fatalf("sweep: %v", sweepErr)
	}
	if claimErr != nil && !errors.Is(claimErr, ErrInvalidState) {
		t.Fatalf("unexpected claim error: %v", claimErr)
	}
	claimed := claimErr == nil
	if claimed == containsID(swept.IDs, inv.ID) {
		t.Fatalf("expected exactly one of claim and sweep to complete the investment (claimed=%v, swept=%v)", claimed, swept.IDs)
	}

	got, err := env.svc.GetInvestment(ctx, user, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != InvestmentCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	payouts := env.count(t, `SELECT COUNT(1) FROM ledger.payouts WHERE investment_id = $1`, inv.ID)
	if got.DaysCompleted != 6+payouts {
		t.Fatalf("days_completed %d does not match %d payout rows", got.DaysCompleted, payouts)
	}
	if claimed && got.DaysCompleted != TermDays {
		t.Fatalf("expected %d days after winning claim, got %d", TermDays, got.DaysCompleted)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.notifications WHERE account_id = $1 AND title = 'Investment completed'`, user.AccountID); n != 1 {
		t.Fatalf("expected one completion notification, got %d", n)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestReferralBonusPaidOncePerEdge(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	referrer := env.newAccount(t, "")
	ref, err := env.svc.GetAccount(ctx, referrer)
	if err != nil {
		t.Fatalf("get referrer: %v", err)
	}
	referred := env.newAccount(t, ref.ReferralCode)

	env.activeInvestment(t, referred, "2500")
	env.activeInvestment(t, referred, "10000")

	assertBalance(t, env, referrer.AccountID, "250")
	bonuses := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE account_id = $1 AND type = 'referral_bonus'`, referrer.AccountID)
	if bonuses != 1 {
		t.Fatalf("expected one referral bonus transaction, got %d", bonuses)
	}

	referrals, err := env.svc.ListReferrals(ctx, referrer, 0)
	if err != nil {
		t.Fatalf("list referrals: %v", err)
	}
	if len(referrals) != 1 || !referrals[0].FirstInvestmentCompleted || !referrals[0].BonusAmount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("unexpected referrals: %+v", referrals)
	}
	acct, err := env.svc.GetAccount(ctx, referrer)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.ReferralBonus.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected referral bonus total 250, got %s", acct.ReferralBonus)
	}
}

func TestAttachReferralRules(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	a := env.newAccount(t, "")
	b := env.newAccount(t, "")
	acctA, err := env.svc.GetAccount(ctx, a)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}

	if _, err := env.svc.AttachReferral(ctx, a, acctA.ReferralCode); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for self referral, got %v", err)
	}
	if _, err := env.svc.AttachReferral(ctx, a, "NOSUCHCD"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown code, got %v", err)
	}
	if _, err := env.svc.AttachReferral(ctx, b, acctA.ReferralCode); err != nil {
		t.Fatalf("attach: %v", err)
	}
	c := env.newAccount(t, "")
	acctC, err := env.svc.GetAccount(ctx, c)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if _, err := env.svc.AttachReferral(ctx, b, acctC.ReferralCode); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for second referrer, got %v", err)
	}
}

func TestWithdrawalInsufficientFundsCreatesNoRow(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	env.setBalance(t, user.AccountID, "500")

	_, err := env.svc.RequestWithdrawal(ctx, user, WithdrawalInput{
		Amount:        decimal.NewFromInt(600),
		BankName:      "GTBank",
		AccountNumber: "0123456789",
		AccountName:   "Ada Obi",
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.withdrawal_requests WHERE account_id = $1`, user.AccountID); n != 0 {
		t.Fatalf("expected no withdrawal rows, got %d", n)
	}
	if n := env.count(t, `SELECT COUNT(1) FROM ledger.transactions WHERE account_id = $1`, user.AccountID); n != 0 {
		t.Fatalf("expected no transactions, got %d", n)
	}
}

func TestWithdrawalValidation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	env.setBalance(t, user.AccountID, "5000")

	_, err := env.svc.RequestWithdrawal(ctx, user, WithdrawalInput{Amount: decimal.NewFromInt(50), BankName: "GTBank", AccountNumber: "0123456789", AccountName: "Ada Obi"})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount below minimum, got %v", err)
	}
	_, err = env.svc.RequestWithdrawal(ctx, user, WithdrawalInput{Amount: decimal.NewFromInt(500), BankName: "GTBank", AccountNumber: "12345", AccountName: "Ada Obi"})
	if !errors.Is(err, ErrInvalidBankDetails) {
		t.Fatalf("expected ErrInvalidBankDetails, got %v", err)
	}
}

func TestWithdrawalApproveDebitsOnce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	env.setBalance(t, user.AccountID, "1000")

	w, err := env.svc.RequestWithdrawal(ctx, user, WithdrawalInput{
		Amount:        decimal.NewFromInt(400),
		BankName:      "Opay",
		AccountNumber: "0123456789",
		AccountName:   "Ada  Obi",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.Status != WithdrawalPending || w.AccountName != "Ada Obi" {
		t.Fatalf("unexpected request: %+v", w)
	}
	assertBalance(t, env, user.AccountID, "1000")

	approved, err := env.svc.ApproveWithdrawal(ctx, env.admin, w.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != WithdrawalApproved || approved.ProcessedAt == nil {
		t.Fatalf("unexpected approved request: %+v", approved)
	}
	assertBalance(t, env, user.AccountID, "600")

	if _, err := env.svc.ApproveWithdrawal(ctx, env.admin, w.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second approve, got %v", err)
	}
	if _, err := env.svc.RejectWithdrawal(ctx, env.admin, w.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState rejecting an approved request, got %v", err)
	}
	assertBalance(t, env, user.AccountID, "600")

	txs, err := env.svc.ListTransactions(ctx, user, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != TxWithdrawal || txs[0].Status != TxStatusCompleted {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
}

func TestWithdrawalApproveFailsWhenBalanceDropped(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	env.setBalance(t, user.AccountID, "1000")

	w, err := env.svc.RequestWithdrawal(ctx, user, WithdrawalInput{Amount: decimal.NewFromInt(800), BankName: "Opay", AccountNumber: "0123456789", AccountName: "Ada Obi"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	env.setBalance(t, user.AccountID, "300")
	if _, err := env.svc.ApproveWithdrawal(ctx, env.admin, w.ID); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	assertBalance(t, env, user.AccountID, "300")

	rejected, err := env.svc.RejectWithdrawal(ctx, env.admin, w.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != WithdrawalRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	assertBalance(t, env, user.AccountID, "300")
}

func TestNotifications(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")
	other := env.newAccount(t, "")

	if _, err := env.svc.CreateNotification(ctx, user, user.AccountID, "Hi", "there"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.CreateNotification(ctx, env.admin, user.AccountID, "", "there"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	n, err := env.svc.CreateNotification(ctx, env.admin, user.AccountID, "Maintenance", "Payouts pause tonight.")
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}
	if err := env.svc.MarkNotificationRead(ctx, other, n.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another account, got %v", err)
	}
	if err := env.svc.MarkNotificationRead(ctx, user, n.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	list, err := env.svc.ListNotifications(ctx, user, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || !list[0].Read {
		t.Fatalf("unexpected notifications: %+v", list)
	}
}

func TestAccountSummaryAndListing(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user := env.newAccount(t, "")

	env.activeInvestment(t, user, "2500")
	env.clock.Advance(time.Minute)
	pending, err := env.svc.CreateInvestment(ctx, user, CreateInvestmentInput{Principal: decimal.NewFromInt(3000)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	summary, err := env.svc.AccountSummary(ctx, user)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PendingInvestments != 1 || summary.ActiveInvestments != 1 || !summary.TotalInvested.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	list, err := env.svc.ListInvestments(ctx, user, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != pending.ID {
		t.Fatalf("expected newest investment first, got %+v", list)
	}

	stats, err := env.svc.AdminStats(ctx, env.admin)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingInvestments < 1 || stats.ActiveInvestments < 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
