package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	cl "vestflow/internal/cli"
	"vestflow/internal/ledger"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	borderStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

func newWatchCmd(apiBase *string) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of your investments; press c to claim the selected one",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if every < 5*time.Second {
				every = 5 * time.Second
			}
			m := newWatchModel(newClient(apiBase), sess.AccessToken, every)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 30*time.Second, "refresh interval")
	return cmd
}

type watchSnapshot struct {
	summary     ledger.AccountSummary
	investments []ledger.Investment
	err         error
}

type claimDone struct {
	result ledger.ClaimResult
	err    error
}

type refreshTick struct{}

type watchModel struct {
	client  *cl.Client
	token   string
	every   time.Duration
	table   table.Model
	summary ledger.AccountSummary
	ids     []int64
	status  string
	failed  bool
	loading bool
}

func newWatchModel(client *cl.Client, token string, every time.Duration) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 8},
			{Title: "Principal", Width: 14},
			{Title: "Daily", Width: 12},
			{Title: "Status", Width: 10},
			{Title: "Days", Width: 6},
			{Title: "Last payout", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)
	return watchModel{client: client, token: token, every: every, table: t, loading: true}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m watchModel) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		summary, err := m.client.Me(ctx, m.token)
		if err != nil {
			return watchSnapshot{err: err}
		}
		investments, err := m.client.ListInvestments(ctx, m.token, 0)
		return watchSnapshot{summary: summary, investments: investments, err: err}
	}
}

func (m watchModel) claim(id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		res, err := m.client.Claim(ctx, m.token, id)
		return claimDone{result: res, err: err}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.every, func(time.Time) tea.Msg { return refreshTick{} })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.load()
		case "c":
			id, ok := m.selectedID()
			if !ok {
				return m, nil
			}
			m.status, m.failed = fmt.Sprintf("claiming #%d...", id), false
			return m, m.claim(id)
		}
	case refreshTick:
		return m, tea.Batch(m.load(), m.tick())
	case watchSnapshot:
		m.loading = false
		if msg.err != nil {
			m.status, m.failed = msg.err.Error(), true
			return m, nil
		}
		m.summary = msg.summary
		m.setRows(msg.investments)
		return m, nil
	case claimDone:
		if msg.err != nil {
			m.status, m.failed = msg.err.Error(), true
			return m, nil
		}
		m.status = fmt.Sprintf("day %d claimed on #%d: +%s", msg.result.Day, msg.result.InvestmentID, formatMoney(msg.result.Total))
		m.failed = false
		return m, m.load()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *watchModel) setRows(investments []ledger.Investment) {
	rows := make([]table.Row, 0, len(investments))
	ids := make([]int64, 0, len(investments))
	for _, inv := range investments {
		rows = append(rows, table.Row{
			strconv.FormatInt(inv.ID, 10),
			formatMoney(inv.Principal),
			formatMoney(inv.DailyProfitAmount),
			string(inv.Status),
			fmt.Sprintf("%d/%d", inv.DaysCompleted, ledger.TermDays),
			formatDate(inv.LastPayoutDate),
		})
		ids = append(ids, inv.ID)
	}
	m.ids = ids
	m.table.SetRows(rows)
}

func (m watchModel) selectedID() (int64, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.ids) {
		return 0, false
	}
	return m.ids[i], true
}

func (m watchModel) View() string {
	header := titleStyle.Render("vestflow") + "  " +
		fmt.Sprintf("balance %s  earnings %s  referral %s",
			formatMoney(m.summary.Balance), formatMoney(m.summary.Earnings), formatMoney(m.summary.ReferralBonus))
	status := ""
	switch {
	case m.loading:
		status = helpStyle.Render("loading...")
	case m.failed:
		status = errStyle.Render(m.status)
	case m.status != "":
		status = okStyle.Render(m.status)
	}
	help := helpStyle.Render("↑/↓ select • c claim • r refresh • q quit")
	return header + "\n" + borderStyle.Render(m.table.View()) + "\n" + status + "\n" + help + "\n"
}
