package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	ReferralCode  string          `json:"referral_code"`
	Balance       decimal.Decimal `json:"balance"`
	Earnings      decimal.Decimal `json:"earnings"`
	ReferralBonus decimal.Decimal `json:"referral_bonus"`
	Role          Role            `json:"role"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Investment struct {
	ID                int64            `json:"id"`
	AccountID         string           `json:"account_id"`
	Principal         decimal.Decimal  `json:"principal"`
	ProfitModel       string           `json:"profit_model"`
	ProfitRate        decimal.Decimal  `json:"profit_rate"`
	DailyProfitAmount decimal.Decimal  `json:"daily_profit_amount"`
	Status            InvestmentStatus `json:"status"`
	StartDate         *time.Time       `json:"start_date,omitempty"`
	EndDate           *time.Time       `json:"end_date,omitempty"`
	DaysCompleted     int              `json:"days_completed"`
	LastPayoutDate    *time.Time       `json:"last_payout_date,omitempty"`
	FundedFromBalance decimal.Decimal  `json:"funded_from_balance"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

type Payout struct {
	ID           int64           `json:"id"`
	InvestmentID int64           `json:"investment_id"`
	DayIndex     int             `json:"day_index"`
	Profit       decimal.Decimal `json:"profit"`
	Bonus        decimal.Decimal `json:"bonus"`
	ClaimedAt    time.Time       `json:"claimed_at"`
}

type Transaction struct {
	ID           int64             `json:"id"`
	AccountID    string            `json:"account_id"`
	Type         TransactionType   `json:"type"`
	Amount       decimal.Decimal   `json:"amount"`
	InvestmentID *int64            `json:"investment_id,omitempty"`
	WithdrawalID *int64            `json:"withdrawal_id,omitempty"`
	Status       TransactionStatus `json:"status"`
	Description  string            `json:"description"`
	CreatedAt    time.Time         `json:"created_at"`
}

type WithdrawalRequest struct {
	ID            int64            `json:"id"`
	AccountID     string           `json:"account_id"`
	Amount        decimal.Decimal  `json:"amount"`
	BankName      string           `json:"bank_name"`
	AccountNumber string           `json:"account_number"`
	AccountName   string           `json:"account_name"`
	Status        WithdrawalStatus `json:"status"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type Referral struct {
	ID                       int64           `json:"id"`
	ReferrerID               string          `json:"referrer_id"`
	ReferredID               string          `json:"referred_id"`
	ReferredEmail            string          `json:"referred_email"`
	FirstInvestmentCompleted bool            `json:"first_investment_completed"`
	BonusAmount              decimal.Decimal `json:"bonus_amount"`
	CreatedAt                time.Time       `json:"created_at"`
}

type Notification struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateInvestmentInput struct {
	Principal      decimal.Decimal
	IdempotencyKey string
}

type WithdrawalInput struct {
	Amount         decimal.Decimal
	BankName       string
	AccountNumber  string
	AccountName    string
	IdempotencyKey string
}

type ClaimResult struct {
	InvestmentID  int64            `json:"investment_id"`
	Day           int              `json:"day"`
	Profit        decimal.Decimal  `json:"profit"`
	Bonus         decimal.Decimal  `json:"bonus"`
	Total         decimal.Decimal  `json:"total"`
	DaysCompleted int              `json:"days_completed"`
	Status        InvestmentStatus `json:"status"`
	Balance       decimal.Decimal  `json:"balance"`
}

type SweepResult struct {
	Completed int     `json:"completed"`
	IDs       []int64 `json:"ids"`
}

type AccountSummary struct {
	Account
	TotalInvested        decimal.Decimal `json:"total_invested"`
	PendingInvestments   int64           `json:"pending_investments"`
	ActiveInvestments    int64           `json:"active_investments"`
	CompletedInvestments int64           `json:"completed_investments"`
	UnreadNotifications  int64           `json:"unread_notifications"`
}

type AdminStats struct {
	Accounts             int64           `json:"accounts"`
	PendingInvestments   int64           `json:"pending_investments"`
	ActiveInvestments    int64           `json:"active_investments"`
	CompletedInvestments int64           `json:"completed_investments"`
	PendingWithdrawals   int64           `json:"pending_withdrawals"`
	PrincipalUnderTerm   decimal.Decimal `json:"principal_under_term"`
	PendingWithdrawSum   decimal.Decimal `json:"pending_withdrawal_total"`
}
