package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

const (
	TermDays = 7

	ProfitModelPercentage = "percentage"
	ProfitModelFlat       = "flat"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller is the authenticated identity an operation runs on behalf of.
type Caller struct {
	AccountID string
	Role      Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type InvestmentStatus string

const (
	InvestmentPending   InvestmentStatus = "pending"
	InvestmentActive    InvestmentStatus = "active"
	InvestmentRejected  InvestmentStatus = "rejected"
	InvestmentCompleted InvestmentStatus = "completed"
	InvestmentCancelled InvestmentStatus = "cancelled"
)

var investmentTransitions = map[InvestmentStatus][]InvestmentStatus{
	InvestmentPending: {InvestmentActive, InvestmentRejected},
	InvestmentActive:  {InvestmentCompleted, InvestmentCancelled},
}

// CanTransition reports whether an investment may move from one status to another.
func CanTransition(from, to InvestmentStatus) bool {
	for _, next := range investmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type TransactionType string

const (
	TxInvestment    TransactionType = "investment"
	TxPayout        TransactionType = "payout"
	TxWithdrawal    TransactionType = "withdrawal"
	TxReferralBonus TransactionType = "referral_bonus"
)

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
)

var (
	accountNumberRE = regexp.MustCompile(`^[0-9]{10}$`)
	accountNameRE   = regexp.MustCompile(`^[A-Za-z ]{2,100}$`)
)

// ProfitModel decides how much an investment earns per day of its term.
type ProfitModel struct {
	Kind string
	Rate decimal.Decimal
}

func (m ProfitModel) Validate() error {
	switch m.Kind {
	case ProfitModelPercentage, ProfitModelFlat:
	default:
		return fmt.Errorf("%w: unknown profit model %q", ErrInvalidInput, m.Kind)
	}
	if m.Rate.IsNegative() {
		return fmt.Errorf("%w: profit rate must not be negative", ErrInvalidInput)
	}
	return nil
}

// DailyProfit is principal x rate for the percentage model and the rate itself for the flat model.
func (m ProfitModel) DailyProfit(principal decimal.Decimal) decimal.Decimal {
	if m.Kind == ProfitModelFlat {
		return m.Rate.Round(2)
	}
	return principal.Mul(m.Rate).Round(2)
}

func ValidatePrincipal(principal, min, max decimal.Decimal) error {
	if principal.LessThan(min) || principal.GreaterThan(max) {
		return fmt.Errorf("%w: principal must be between %s and %s", ErrInvalidAmount, min.StringFixed(2), max.StringFixed(2))
	}
	if !principal.Equal(principal.Round(2)) {
		return fmt.Errorf("%w: principal has more than 2 decimal places", ErrInvalidAmount)
	}
	return nil
}

// ValidateBankDetails checks a payout destination. An empty allowed list accepts any bank name.
func ValidateBankDetails(bankName, accountNumber, accountName string, allowed []string) error {
	bankName = strings.TrimSpace(bankName)
	if bankName == "" {
		return fmt.Errorf("%w: bank name is required", ErrInvalidBankDetails)
	}
	if len(allowed) > 0 {
		ok := false
		for _, b := range allowed {
			if strings.EqualFold(b, bankName) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: unsupported bank %q", ErrInvalidBankDetails, bankName)
		}
	}
	if !accountNumberRE.MatchString(strings.TrimSpace(accountNumber)) {
		return fmt.Errorf("%w: account number must be exactly 10 digits", ErrInvalidBankDetails)
	}
	if !accountNameRE.MatchString(strings.TrimSpace(accountName)) {
		return fmt.Errorf("%w: account name must be 2-100 letters and spaces", ErrInvalidBankDetails)
	}
	return nil
}

// PayoutDay is the 1-based day of the term that now falls in, clamped to [1, TermDays].
func PayoutDay(start, now time.Time) int {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		return 1
	}
	day := int(elapsed/(24*time.Hour)) + 1
	if day > TermDays {
		return TermDays
	}
	return day
}

// CalendarDate truncates t to its date in loc, returned as midnight UTC so it round-trips through a DATE column.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClaimableOn reports whether a payout may be claimed on today given the date of the previous one.
func ClaimableOn(today time.Time, lastPayout *time.Time) bool {
	if lastPayout == nil {
		return true
	}
	y, m, d := lastPayout.Date()
	last := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return today.After(last)
}

func ReferralBonus(principal, rate decimal.Decimal) decimal.Decimal {
	return principal.Mul(rate).Round(2)
}

func validateNotification(title, message string) error {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if title == "" || len([]rune(title)) > 200 {
		return fmt.Errorf("%w: title must be 1-200 characters", ErrInvalidInput)
	}
	if message == "" || len([]rune(message)) > 1000 {
		return fmt.Errorf("%w: message must be 1-1000 characters", ErrInvalidInput)
	}
	return nil
}

func generateReferralCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf), nil
}

// requestHash fingerprints an idempotent request so a replayed key can be matched to its payload.
func requestHash(action string, fields ...string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(action))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
