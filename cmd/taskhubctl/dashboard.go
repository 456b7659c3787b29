package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live fleet dashboard (queue depth, claims, provisional review)",
	RunE:  runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

// pollSnapshot mirrors the fields of httpapi's schedulerPollResponse
// that are worth rendering on an operator console.
type pollSnapshot struct {
	QueueCounts map[string]int `json:"queue_counts"`
	Provisional []struct {
		ID        string `json:"id"`
		ClaimedBy string `json:"claimed_by,omitempty"`
	} `json:"provisional"`
	Scope     string `json:"scope"`
	FetchedAt time.Time
	LastError string
}

type dashboardClient struct {
	httpClient *http.Client
	serverURL  string
	scope      string
}

func (c *dashboardClient) poll(ctx context.Context) pollSnapshot {
	url := fmt.Sprintf("%s/scheduler/poll?scope=%s", strings.TrimRight(c.serverURL, "/"), c.scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pollSnapshot{LastError: err.Error(), FetchedAt: time.Now()}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pollSnapshot{LastError: err.Error(), FetchedAt: time.Now()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pollSnapshot{LastError: fmt.Sprintf("server returned %s", resp.Status), FetchedAt: time.Now()}
	}
	var snap pollSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return pollSnapshot{LastError: err.Error(), FetchedAt: time.Now()}
	}
	snap.FetchedAt = time.Now()
	return snap
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type dashboardModel struct {
	client *dashboardClient
	snap   pollSnapshot
	review table.Model
}

func newReviewTable() table.Model {
	cols := []table.Column{
		{Title: "Task", Width: 24},
		{Title: "Claimed By", Width: 20},
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(false),
		table.WithHeight(8),
	)
	return t
}

func rowsFromSnapshot(snap pollSnapshot) []table.Row {
	rows := make([]table.Row, 0, len(snap.Provisional))
	for _, p := range snap.Provisional {
		claimedBy := p.ClaimedBy
		if claimedBy == "" {
			claimedBy = "(unclaimed)"
		}
		rows = append(rows, table.Row{p.ID, claimedBy})
	}
	return rows
}

func (m dashboardModel) Init() tea.Cmd {
	return tickCmd()
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.client.poll(context.Background())
		m.review.SetRows(rowsFromSnapshot(m.snap))
		return m, tickCmd()
	}
	var cmd tea.Cmd
	m.review, cmd = m.review.Update(msg)
	return m, cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	countStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

func (m dashboardModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("taskhub fleet — scope %q", m.snap.Scope)))
	b.WriteString("\n\n")

	for _, q := range []string{"incoming", "claimed", "provisional"} {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", q, countStyle.Render(fmt.Sprintf("%d", m.snap.QueueCounts[q]))))
	}

	b.WriteString("\n")
	if len(m.snap.Provisional) == 0 {
		b.WriteString(dimStyle.Render("  no tasks awaiting review\n"))
	} else {
		b.WriteString("  awaiting review:\n")
		b.WriteString(m.review.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.snap.LastError != "" {
		b.WriteString(errStyle.Render("  error: " + m.snap.LastError))
		b.WriteString("\n")
	} else if !m.snap.FetchedAt.IsZero() {
		b.WriteString(dimStyle.Render("  last updated: " + m.snap.FetchedAt.Format(time.TimeOnly)))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("\n  press q to quit\n"))
	return b.String()
}

func runDashboard(cmd *cobra.Command, args []string) error {
	client := &dashboardClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		serverURL:  viper.GetString("server"),
		scope:      viper.GetString("scope"),
	}
	initial := client.poll(context.Background())
	review := newReviewTable()
	review.SetRows(rowsFromSnapshot(initial))
	m := dashboardModel{client: client, snap: initial, review: review}
	_, err := tea.NewProgram(m).Run()
	return err
}
