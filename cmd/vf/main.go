package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "vestflow/internal/cli"
	"vestflow/internal/config"
	"vestflow/internal/syncq"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "vf",
		Short:        "Vestflow investment ledger client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newRefreshCmd(&apiBase),
		newLogoutCmd(),
		newMeCmd(&apiBase),
		newInvestCmd(&apiBase),
		newInvestmentsCmd(&apiBase),
		newClaimCmd(&apiBase),
		newPayoutsCmd(&apiBase),
		newWithdrawCmd(&apiBase),
		newWithdrawalsCmd(&apiBase),
		newTransactionsCmd(&apiBase),
		newReferralsCmd(&apiBase, cfg.SignupURL),
		newNotificationsCmd(&apiBase),
		newSyncCmd(&apiBase),
		newWatchCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func newSignupCmd(apiBase *string) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a Vestflow account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			if strings.TrimSpace(ref) == "" {
				ref, err = promptOptional("Referral code (optional)")
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, strings.ToUpper(strings.TrimSpace(ref)))
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Confirm your email, then run `vf login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "referral code of the user who invited you")
	return cmd
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Vestflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newRefreshCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the saved refresh token for a new access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if strings.TrimSpace(sess.RefreshToken) == "" {
				return fmt.Errorf("no refresh token saved; run `vf login`")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Refresh(ctx, sess.RefreshToken)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Session refreshed.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newMeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "me",
		Aliases: []string{"dash"},
		Short:   "Show balance, earnings and investment counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Me(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderSummary(out)
			return nil
		},
	}
}

func newInvestCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invest [amount]",
		Short: "Open a 7-day investment (pending until an admin approves it)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			principal, err := amountFromArgOrPrompt(args, 0, "Principal")
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).CreateInvestment(ctx, sess.AccessToken, principal, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/investments",
					Body:           cl.InvestmentBody(principal),
					IdempotencyKey: idem,
				})
			}
			printSuccess(fmt.Sprintf("Investment #%d of %s created; waiting for approval.", out.ID, formatMoney(out.Principal)))
			return nil
		},
	}
}

func newInvestmentsCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "investments [id]",
		Aliases: []string{"inv"},
		Short:   "List your investments or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			if len(args) == 1 {
				id, err := int64FromArgOrPrompt(args, 0, "Investment ID")
				if err != nil {
					return err
				}
				inv, err := client.GetInvestment(ctx, sess.AccessToken, id)
				if err != nil {
					return err
				}
				renderInvestmentDetail(inv, time.Now())
				return nil
			}
			out, err := client.ListInvestments(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			renderInvestments(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func newClaimCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "claim [investment-id]",
		Short: "Claim today's payout for an active investment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Investment ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Claim(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderClaim(out)
			return nil
		},
	}
}

func newPayoutsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "payouts [investment-id]",
		Short: "List payouts claimed on an investment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Investment ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListPayouts(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderPayouts(id, out)
			return nil
		},
	}
}

func newWithdrawCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw [amount]",
		Short: "Request a withdrawal to a bank account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			amount, err := amountFromArgOrPrompt(args, 0, "Amount")
			if err != nil {
				return err
			}
			bank, err := promptRequired("Bank name")
			if err != nil {
				return err
			}
			number, err := promptAccountNumber("Account number")
			if err != nil {
				return err
			}
			name, err := promptRequired("Account name")
			if err != nil {
				return err
			}
			body := map[string]any{
				"amount":         amount.String(),
				"bank_name":      bank,
				"account_number": number,
				"account_name":   name,
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).RequestWithdrawal(ctx, sess.AccessToken, body, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/withdrawals",
					Body:           body,
					IdempotencyKey: idem,
				})
			}
			printSuccess(fmt.Sprintf("Withdrawal #%d of %s requested; waiting for approval.", out.ID, formatMoney(out.Amount)))
			return nil
		},
	}
}

func newWithdrawalsCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "withdrawals",
		Short: "List your withdrawal requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListWithdrawals(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			renderWithdrawals("WITHDRAWALS", out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func newTransactionsCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "List your transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListTransactions(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			renderTransactions(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func newReferralsCmd(apiBase *string, signupURL string) *cobra.Command {
	referrals := &cobra.Command{
		Use:     "referrals",
		Aliases: []string{"ref"},
		Short:   "Show your referral code and the users you referred",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Referrals(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderReferrals(out)
			return nil
		},
	}

	var qr bool
	link := &cobra.Command{
		Use:   "link",
		Short: "Print your referral link",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Referrals(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			text := referralLink(signupURL, out.ReferralCode)
			accent.Println(text)
			if qr {
				renderQR(os.Stdout, text)
			}
			return nil
		},
	}
	link.Flags().BoolVar(&qr, "qr", false, "also render the link as a terminal QR code")

	attach := &cobra.Command{
		Use:   "attach [code]",
		Short: "Record who referred you (only before your first referral is set)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			code, err := codeFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).AttachReferral(ctx, sess.AccessToken, code); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Referral code %s attached.", code))
			return nil
		},
	}

	referrals.AddCommand(link, attach)
	return referrals
}

func newNotificationsCmd(apiBase *string) *cobra.Command {
	var limit int
	notifications := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"inbox"},
		Short:   "List your notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListNotifications(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			renderNotifications(out)
			return nil
		},
	}
	notifications.Flags().IntVar(&limit, "limit", 0, "maximum rows")

	notifications.AddCommand(&cobra.Command{
		Use:   "read [id]",
		Short: "Mark a notification as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Notification ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).MarkNotificationRead(ctx, sess.AccessToken, id); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Notification #%d marked read.", id))
			return nil
		},
	})
	return notifications
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			replayed, dropped := 0, 0
			for _, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, sess.AccessToken, q.Body, q.IdempotencyKey)
				switch {
				case err == nil:
					replayed++
				case cl.IsAPIError(err):
					// The server answered; retrying the same payload cannot succeed.
					dropped++
					printError(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
				default:
					remaining = append(remaining, q)
					printWarn(fmt.Sprintf("Still offline for %s %s: %v", q.Method, q.Path, err))
				}
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", replayed, dropped, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps writes that never reached the server so `vf sync`
// can replay them with the same idempotency key.
func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if qerr := syncq.Push(cmd); qerr != nil {
		return fmt.Errorf("request failed (%v) and could not be queued: %w", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable; queued %s %s. Run `vf sync` later.", cmd.Method, cmd.Path))
	return nil
}

func amountFromArgOrPrompt(args []string, idx int, label string) (decimal.Decimal, error) {
	if len(args) > idx {
		v, err := parseAmount(args[idx])
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid %s: %w", strings.ToLower(label), err)
		}
		return v, nil
	}
	return promptAmount(label)
}

func parseAmount(text string) (decimal.Decimal, error) {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	v, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("must be greater than zero")
	}
	if !v.Equal(v.Round(2)) {
		return decimal.Zero, fmt.Errorf("at most two decimal places")
	}
	return v, nil
}

func codeFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.ToUpper(strings.TrimSpace(args[0])), nil
	}
	code, err := promptRequired("Referral code")
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(code)), nil
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}

func referralLink(signupURL, code string) string {
	signupURL = strings.TrimSpace(signupURL)
	if signupURL == "" {
		return code
	}
	sep := "?"
	if strings.Contains(signupURL, "?") {
		sep = "&"
	}
	return signupURL + sep + "ref=" + code
}
