package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Admin approval gateway (admin role required)",
	}
	admin.AddCommand(
		newAdminStatsCmd(apiBase),
		newAdminPendingCmd(apiBase),
		newAdminInvestmentActionCmd(apiBase, "approve", "Approve a pending investment and start its term"),
		newAdminInvestmentActionCmd(apiBase, "reject", "Reject a pending investment"),
		newAdminInvestmentActionCmd(apiBase, "cancel", "Cancel an active investment"),
		newAdminWithdrawalsCmd(apiBase),
		newAdminNotifyCmd(apiBase),
		newAdminSweepCmd(apiBase),
	)
	return admin
}

func newAdminStatsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show platform totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).AdminStats(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderAdminStats(out)
			return nil
		},
	}
}

func newAdminPendingCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List investments waiting for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).PendingInvestments(ctx, sess.AccessToken, limit)
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

func newAdminInvestmentActionCmd(apiBase *string, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [investment-id]",
		Short: short,
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
			inv, err := newClient(apiBase).InvestmentAction(ctx, sess.AccessToken, id, action)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Investment #%d is now %s.", inv.ID, inv.Status))
			if action == "approve" && inv.FundedFromBalance.IsPositive() {
				printInfo(fmt.Sprintf("Debited %s from the owner's balance.", formatMoney(inv.FundedFromBalance)))
			}
			return nil
		},
	}
}

func newAdminWithdrawalsCmd(apiBase *string) *cobra.Command {
	var limit int
	withdrawals := &cobra.Command{
		Use:   "withdrawals",
		Short: "List pending withdrawal requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).PendingWithdrawals(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			renderWithdrawals("PENDING WITHDRAWALS", out)
			return nil
		},
	}
	withdrawals.Flags().IntVar(&limit, "limit", 0, "maximum rows")

	for _, action := range []string{"approve", "reject"} {
		withdrawals.AddCommand(&cobra.Command{
			Use:   action + " [withdrawal-id]",
			Short: action + " a pending withdrawal",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, err := requireSession()
				if err != nil {
					return err
				}
				id, err := int64FromArgOrPrompt(args, 0, "Withdrawal ID")
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				out, err := newClient(apiBase).WithdrawalAction(ctx, sess.AccessToken, id, action)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Withdrawal #%d of %s is now %s.", out.ID, formatMoney(out.Amount), out.Status))
				return nil
			},
		})
	}
	return withdrawals
}

func newAdminNotifyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "notify [account-id]",
		Short: "Send a notification to a user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			var accountID string
			if len(args) == 1 {
				accountID = args[0]
			} else if accountID, err = promptRequired("Account ID"); err != nil {
				return err
			}
			title, err := promptRequired("Title")
			if err != nil {
				return err
			}
			message, err := promptRequired("Message")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Notify(ctx, sess.AccessToken, accountID, title, message)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Notification #%d sent.", out.ID))
			return nil
		},
	}
}

func newAdminSweepCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Complete investments whose term has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Sweep(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sweep completed %d investment(s).", out.Completed))
			return nil
		},
	}
}
