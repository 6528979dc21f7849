package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	cliapi "mail-insights/internal/cli"
	"mail-insights/internal/database"
)

// KeyMap represents the key bindings for the interactive email table
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Details key.Binding
	Help    key.Binding
	Quit    key.Binding
	Close   key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Details: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "details"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Close: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close"),
		),
	}
}

// EmailTable is the interactive browser over analyzed emails.
type EmailTable struct {
	table       table.Model
	emails      []database.ProcessedEmail
	client      *cliapi.Client
	formatter   *cliapi.OutputFormatter
	keys        KeyMap
	loading     bool
	spinner     spinner.Model
	err         error
	message     string
	showHelp    bool
	showDetails bool
	detail      *database.ProcessedEmail
	quitting    bool
	config      *cliapi.Config
	useColor    bool
}

// refreshMsg carries a reloaded email list.
type refreshMsg struct {
	emails []database.ProcessedEmail
	err    error
}

// detailMsg carries one fully loaded email.
type detailMsg struct {
	email *database.ProcessedEmail
	err   error
}

// NewEmailTable creates the interactive table over the given emails.
func NewEmailTable(emails []database.ProcessedEmail, client *cliapi.Client,
	formatter *cliapi.OutputFormatter, config *cliapi.Config) (*EmailTable, error) {

	columns := []table.Column{
		{Title: "ID", Width: 5},
		{Title: "Received", Width: 10},
		{Title: "From", Width: 24},
		{Title: "Subject", Width: 32},
		{Title: "Category", Width: 12},
		{Title: "Priority", Width: 8},
		{Title: "Score", Width: 5},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(emailRows(emails)),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	useColor := !config.NoColor && isatty.IsTerminal(os.Stdout.Fd())
	if useColor {
		styles := table.DefaultStyles()
		styles.Header = styles.Header.
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			BorderBottom(true).
			Bold(false)
		styles.Selected = styles.Selected.
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Bold(false)
		t.SetStyles(styles)
	}

	return &EmailTable{
		table:     t,
		emails:    emails,
		client:    client,
		formatter: formatter,
		keys:      DefaultKeyMap(),
		spinner:   s,
		config:    config,
		useColor:  useColor,
	}, nil
}

// Init initializes the interactive table
func (m EmailTable) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m EmailTable) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showDetails {
			if key.Matches(msg, m.keys.Close) || key.Matches(msg, m.keys.Quit) {
				m.showDetails = false
				m.detail = nil
				return m, nil
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			m.message = ""
			return m, tea.Batch(m.spinner.Tick, m.refresh())

		case key.Matches(msg, m.keys.Details):
			return m, m.loadDetail()

		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}

	case refreshMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.emails = msg.emails
		m.table.SetRows(emailRows(msg.emails))
		m.message = fmt.Sprintf("Refreshed: %d emails", len(msg.emails))
		return m, nil

	case detailMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.detail = msg.email
		m.showDetails = true
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the table, detail overlay, or help text.
func (m EmailTable) View() string {
	if m.quitting {
		return ""
	}

	if m.showDetails && m.detail != nil {
		return m.detailView()
	}

	var b strings.Builder
	b.WriteString(m.table.View())
	b.WriteString("\n")

	if m.loading {
		b.WriteString(m.spinner.View() + " Loading...\n")
	}
	if m.err != nil {
		b.WriteString(fmt.Sprintf("Error: %v\n", m.err))
	}
	if m.message != "" {
		b.WriteString(m.message + "\n")
	}

	if m.showHelp {
		b.WriteString("\n↑/k up · ↓/j down · enter details · r refresh · ? help · q quit\n")
	} else {
		b.WriteString("\nPress ? for help, q to quit\n")
	}
	return b.String()
}

func (m EmailTable) detailView() string {
	e := m.detail
	var b strings.Builder

	title := fmt.Sprintf("Email %d", e.ID)
	if m.useColor {
		title = lipgloss.NewStyle().Bold(true).Render(title)
	}
	b.WriteString(title + "\n\n")
	b.WriteString(fmt.Sprintf("From: %s\n", e.FromAddress))
	b.WriteString(fmt.Sprintf("Subject: %s\n", e.Subject))
	b.WriteString(fmt.Sprintf("Received: %s\n", e.ReceivedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Category: %s   Priority: %s   Sentiment: %s\n",
		e.Category, e.Priority, e.Sentiment))
	if e.ImportanceScore != nil {
		b.WriteString(fmt.Sprintf("Importance: %d\n", *e.ImportanceScore))
	}
	b.WriteString(fmt.Sprintf("Confidence: %.2f\n\n", e.Confidence))
	b.WriteString("Summary: " + e.Summary + "\n")

	if len(e.Entities) > 0 {
		b.WriteString("\nEntities:\n")
		for _, entity := range e.Entities {
			b.WriteString(fmt.Sprintf("  %s: %s\n", entity.EntityType, entity.EntityValue))
		}
	}
	if len(e.ActionItems) > 0 {
		b.WriteString("\nAction items:\n")
		for _, action := range e.ActionItems {
			b.WriteString(fmt.Sprintf("  [%s] %s\n", action.ActionType, action.Description))
		}
	}

	b.WriteString("\nPress esc to close\n")
	return b.String()
}

func (m EmailTable) refresh() tea.Cmd {
	return func() tea.Msg {
		emails, err := m.client.GetEmails(emailsAccountID, emailsLimit, emailsOffset)
		return refreshMsg{emails: emails, err: err}
	}
}

func (m EmailTable) loadDetail() tea.Cmd {
	row := m.table.SelectedRow()
	if row == nil {
		return nil
	}
	id, err := strconv.Atoi(row[0])
	if err != nil {
		return nil
	}
	return func() tea.Msg {
		email, err := m.client.GetEmail(id)
		return detailMsg{email: email, err: err}
	}
}

func emailRows(emails []database.ProcessedEmail) []table.Row {
	rows := make([]table.Row, len(emails))
	for i, e := range emails {
		score := "-"
		if e.ImportanceScore != nil {
			score = strconv.Itoa(*e.ImportanceScore)
		}
		rows[i] = table.Row{
			strconv.Itoa(e.ID),
			e.ReceivedAt.Format("2006-01-02"),
			e.FromAddress,
			e.Subject,
			string(e.Category),
			string(e.Priority),
			score,
		}
	}
	return rows
}
