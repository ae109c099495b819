package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	cl "vestflow/internal/cli"
	"vestflow/internal/ledger"

	"github.com/fatih/color"
	"github.com/mdp/qrterminal/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword hides input on a terminal and falls back to a plain read
// when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptAmount(label string) (decimal.Decimal, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return decimal.Zero, err
		}
		v, err := parseAmount(text)
		if err != nil {
			printWarn("Enter an amount " + err.Error() + ".")
			continue
		}
		return v, nil
	}
}

func promptAccountNumber(label string) (string, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		if len(text) == 10 && strings.Trim(text, "0123456789") == "" {
			return text, nil
		}
		printWarn("Account number must be exactly 10 digits.")
	}
}

func renderSummary(s ledger.AccountSummary) {
	accent.Println("\n== ACCOUNT ==")
	fmt.Printf("%-22s %s\n", "Email", s.Email)
	fmt.Printf("%-22s %s\n", "Role", s.Role)
	fmt.Printf("%-22s %s\n", "Referral code", s.ReferralCode)
	fmt.Printf("%-22s %s\n", "Balance", colorizeMoney(s.Balance))
	fmt.Printf("%-22s %s\n", "Earnings", colorizeMoney(s.Earnings))
	fmt.Printf("%-22s %s\n", "Referral bonus", colorizeMoney(s.ReferralBonus))
	fmt.Printf("%-22s %s\n", "Total invested", formatMoney(s.TotalInvested))
	fmt.Printf("%-22s pending=%d active=%d completed=%d\n", "Investments",
		s.PendingInvestments, s.ActiveInvestments, s.CompletedInvestments)
	if s.UnreadNotifications > 0 {
		warn.Printf("%-22s %d unread\n", "Notifications", s.UnreadNotifications)
	}
	fmt.Println()
}

func renderInvestments(rows []ledger.Investment) {
	accent.Println("\n== INVESTMENTS ==")
	if len(rows) == 0 {
		printInfo("No investments yet.")
		return
	}
	fmt.Printf("%-8s %14s %12s %-10s %-6s %-12s\n", "ID", "PRINCIPAL", "DAILY", "STATUS", "DAYS", "LAST PAYOUT")
	for _, inv := range rows {
		fmt.Printf("%-8d %14s %12s %-10s %-6s %-12s\n",
			inv.ID,
			formatMoney(inv.Principal),
			formatMoney(inv.DailyProfitAmount),
			colorizeStatus(string(inv.Status)),
			fmt.Sprintf("%d/%d", inv.DaysCompleted, ledger.TermDays),
			formatDate(inv.LastPayoutDate),
		)
	}
	fmt.Println()
}

func renderInvestmentDetail(inv ledger.Investment, now time.Time) {
	accent.Printf("\n== INVESTMENT #%d ==\n", inv.ID)
	fmt.Printf("%-20s %s\n", "Status", colorizeStatus(string(inv.Status)))
	fmt.Printf("%-20s %s\n", "Principal", formatMoney(inv.Principal))
	fmt.Printf("%-20s %s (%s %s)\n", "Daily profit", formatMoney(inv.DailyProfitAmount), inv.ProfitModel, inv.ProfitRate.String())
	fmt.Printf("%-20s %d/%d\n", "Days completed", inv.DaysCompleted, ledger.TermDays)
	fmt.Printf("%-20s %s\n", "Start", formatDate(inv.StartDate))
	fmt.Printf("%-20s %s\n", "End", formatDate(inv.EndDate))
	fmt.Printf("%-20s %s\n", "Last payout", formatDate(inv.LastPayoutDate))
	if inv.FundedFromBalance.IsPositive() {
		fmt.Printf("%-20s %s\n", "Funded from balance", formatMoney(inv.FundedFromBalance))
	}
	if inv.Status == ledger.InvestmentActive && inv.StartDate != nil {
		fmt.Printf("%-20s %d\n", "Current day", ledger.PayoutDay(*inv.StartDate, now))
	}
	fmt.Println()
}

func renderClaim(res ledger.ClaimResult) {
	success.Printf("Day %d claimed on investment #%d: %s\n", res.Day, res.InvestmentID, formatMoney(res.Total))
	fmt.Printf("  profit %s + bonus %s\n", formatMoney(res.Profit), formatMoney(res.Bonus))
	fmt.Printf("  progress %d/%d, status %s, balance %s\n",
		res.DaysCompleted, ledger.TermDays, colorizeStatus(string(res.Status)), formatMoney(res.Balance))
}

func renderPayouts(investmentID int64, rows []ledger.Payout) {
	accent.Printf("\n== PAYOUTS #%d ==\n", investmentID)
	if len(rows) == 0 {
		printInfo("No payouts claimed yet.")
		return
	}
	fmt.Printf("%-5s %12s %10s %-20s\n", "DAY", "PROFIT", "BONUS", "CLAIMED")
	for _, p := range rows {
		fmt.Printf("%-5d %12s %10s %-20s\n", p.DayIndex, formatMoney(p.Profit), formatMoney(p.Bonus), p.ClaimedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func renderWithdrawals(title string, rows []ledger.WithdrawalRequest) {
	accent.Printf("\n== %s ==\n", title)
	if len(rows) == 0 {
		printInfo("No withdrawals.")
		return
	}
	fmt.Printf("%-8s %14s %-18s %-12s %-20s %-10s\n", "ID", "AMOUNT", "BANK", "ACCOUNT", "NAME", "STATUS")
	for _, w := range rows {
		fmt.Printf("%-8d %14s %-18s %-12s %-20s %-10s\n",
			w.ID,
			formatMoney(w.Amount),
			truncate(w.BankName, 18),
			w.AccountNumber,
			truncate(w.AccountName, 20),
			colorizeStatus(string(w.Status)),
		)
	}
	fmt.Println()
}

func renderTransactions(rows []ledger.Transaction) {
	accent.Println("\n== TRANSACTIONS ==")
	if len(rows) == 0 {
		printInfo("No transactions yet.")
		return
	}
	fmt.Printf("%-8s %-16s %14s %-10s %-16s %s\n", "ID", "TYPE", "AMOUNT", "STATUS", "DATE", "DESCRIPTION")
	for _, tx := range rows {
		fmt.Printf("%-8d %-16s %14s %-10s %-16s %s\n",
			tx.ID,
			tx.Type,
			formatMoney(tx.Amount),
			colorizeStatus(string(tx.Status)),
			tx.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(tx.Description, 48),
		)
	}
	fmt.Println()
}

func renderReferrals(v cl.ReferralsView) {
	accent.Println("\n== REFERRALS ==")
	fmt.Printf("%-16s %s\n", "Your code", v.ReferralCode)
	fmt.Printf("%-16s %s\n", "Bonus earned", colorizeMoney(v.ReferralBonus))
	if len(v.Referrals) == 0 {
		printInfo("Nobody has signed up with your code yet.")
		return
	}
	fmt.Printf("%-28s %-10s %12s\n", "USER", "INVESTED", "BONUS")
	for _, r := range v.Referrals {
		invested := "no"
		if r.FirstInvestmentCompleted {
			invested = "yes"
		}
		fmt.Printf("%-28s %-10s %12s\n", truncate(r.ReferredEmail, 28), invested, formatMoney(r.BonusAmount))
	}
	fmt.Println()
}

func renderNotifications(rows []ledger.Notification) {
	accent.Println("\n== NOTIFICATIONS ==")
	if len(rows) == 0 {
		printInfo("Inbox is empty.")
		return
	}
	for _, n := range rows {
		marker := neutral.Sprint(" ")
		if !n.Read {
			marker = warn.Sprint("*")
		}
		fmt.Printf("%s #%-6d %s  %s\n", marker, n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), accent.Sprint(n.Title))
		fmt.Printf("          %s\n", n.Message)
	}
	fmt.Println()
}

func renderAdminStats(s ledger.AdminStats) {
	accent.Println("\n== PLATFORM ==")
	fmt.Printf("%-26s %d\n", "Accounts", s.Accounts)
	fmt.Printf("%-26s %d\n", "Pending investments", s.PendingInvestments)
	fmt.Printf("%-26s %d\n", "Active investments", s.ActiveInvestments)
	fmt.Printf("%-26s %d\n", "Completed investments", s.CompletedInvestments)
	fmt.Printf("%-26s %s\n", "Principal under term", formatMoney(s.PrincipalUnderTerm))
	fmt.Printf("%-26s %d (%s)\n", "Pending withdrawals", s.PendingWithdrawals, formatMoney(s.PendingWithdrawSum))
	fmt.Println()
}

func renderQR(w io.Writer, text string) {
	qrterminal.GenerateHalfBlock(text, qrterminal.L, w)
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	switch {
	case v.IsPositive():
		return success.Sprint(text)
	case v.IsNegative():
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeStatus(status string) string {
	switch status {
	case "active", "approved", "completed":
		return success.Sprint(status)
	case "pending":
		return warn.Sprint(status)
	case "rejected", "cancelled", "failed":
		return danger.Sprint(status)
	default:
		return status
	}
}

// formatMoney renders two decimals with thousands separators, e.g. 12,500.00.
func formatMoney(v decimal.Decimal) string {
	text := v.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(text, ".")
	sign := ""
	if v.IsNegative() {
		sign = "-"
	}
	return sign + comma(whole) + "." + frac
}

func comma(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
