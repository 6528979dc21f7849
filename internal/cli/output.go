package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"mail-insights/internal/database"
)

// OutputFormatter renders API resources as tables or JSON.
type OutputFormatter struct {
	format   string
	quiet    bool
	useColor bool

	urgentStyle lipgloss.Style
	highStyle   lipgloss.Style
	okStyle     lipgloss.Style
	badStyle    lipgloss.Style
}

// NewOutputFormatter creates a formatter with color auto-detection.
func NewOutputFormatter(format string, quiet bool) *OutputFormatter {
	return NewOutputFormatterWithColor(format, quiet, false)
}

// NewOutputFormatterWithColor creates a formatter with explicit color control.
func NewOutputFormatterWithColor(format string, quiet bool, noColor bool) *OutputFormatter {
	useColor := !noColor && isatty.IsTerminal(os.Stdout.Fd()) &&
		termenv.EnvColorProfile() != termenv.Ascii
	return &OutputFormatter{
		format:      format,
		quiet:       quiet,
		useColor:    useColor,
		urgentStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		highStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		okStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		badStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// PrintSuccess prints a success message.
func (f *OutputFormatter) PrintSuccess(message string) {
	if f.quiet {
		return
	}
	mark := "✓"
	if f.useColor {
		mark = f.okStyle.Render(mark)
	}
	fmt.Printf("%s %s\n", mark, message)
}

// PrintError prints an error message to stderr.
func (f *OutputFormatter) PrintError(err error) {
	if f.quiet {
		return
	}
	mark := "✗"
	if f.useColor {
		mark = f.badStyle.Render(mark)
	}
	fmt.Fprintf(os.Stderr, "%s Error: %v\n", mark, err)
}

// PrintInfo prints an informational message.
func (f *OutputFormatter) PrintInfo(message string) {
	if !f.quiet {
		fmt.Printf("ℹ %s\n", message)
	}
}

// PrintSchedules prints a list of schedules.
func (f *OutputFormatter) PrintSchedules(schedules []database.Schedule) error {
	if f.quiet {
		for _, s := range schedules {
			fmt.Printf("%d\n", s.ID)
		}
		return nil
	}

	switch f.format {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(schedules)
	case "table":
		return f.printSchedulesTable(schedules)
	default:
		return fmt.Errorf("unsupported format: %s", f.format)
	}
}

func (f *OutputFormatter) printSchedulesTable(schedules []database.Schedule) error {
	if len(schedules) == 0 {
		fmt.Println("No schedules found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tTYPE\tFOCUS\tENABLED\tNEXT RUN\tRUNS\tFAILED")
	for _, s := range schedules {
		next := "-"
		if s.NextExecutionAt != nil {
			next = s.NextExecutionAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%s\t%d\t%d\n",
			s.ID, truncate(s.Name, 25), s.ProcessingType, s.LLMFocus,
			s.IsEnabled, next, s.TotalExecutions, s.FailedExecutions)
	}
	return nil
}

// PrintSchedule prints a single schedule.
func (f *OutputFormatter) PrintSchedule(s *database.Schedule) error {
	if f.quiet {
		fmt.Printf("%d\n", s.ID)
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(s)
	}

	fmt.Printf("Schedule ID: %d\n", s.ID)
	fmt.Printf("Name: %s\n", s.Name)
	fmt.Printf("Account: %d\n", s.EmailAccountID)
	fmt.Printf("Type: %s\n", s.ProcessingType)
	if s.CronExpression != "" {
		fmt.Printf("Cron: %s (%s)\n", s.CronExpression, s.Timezone)
	}
	if s.DateRangeFrom != nil && s.DateRangeTo != nil {
		fmt.Printf("Range: %s .. %s\n",
			s.DateRangeFrom.Format("2006-01-02"), s.DateRangeTo.Format("2006-01-02"))
	}
	if len(s.SpecificDates) > 0 {
		dates := make([]string, len(s.SpecificDates))
		for i, d := range s.SpecificDates {
			dates[i] = d.Format("2006-01-02")
		}
		fmt.Printf("Dates: %s\n", strings.Join(dates, ", "))
	}
	fmt.Printf("Focus: %s\n", s.LLMFocus)
	fmt.Printf("Batch size: %d\n", s.BatchSize)
	fmt.Printf("Enabled: %v\n", s.IsEnabled)
	if s.NextExecutionAt != nil {
		fmt.Printf("Next run: %s\n", s.NextExecutionAt.Format("2006-01-02 15:04:05"))
	}
	if s.LastExecutedAt != nil {
		fmt.Printf("Last run: %s\n", s.LastExecutedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Executions: %d total, %d failed\n", s.TotalExecutions, s.FailedExecutions)
	return nil
}

// PrintExecutions prints a schedule's execution history.
func (f *OutputFormatter) PrintExecutions(executions []database.ScheduleExecution) error {
	if f.quiet {
		for _, e := range executions {
			fmt.Printf("%d\n", e.ID)
		}
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(executions)
	}

	if len(executions) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tEMAILS\tPROCESSED\tFAILED\tDURATION")
	for _, e := range executions {
		duration := "-"
		if e.ProcessingDurationMs != nil {
			duration = fmt.Sprintf("%dms", *e.ProcessingDurationMs)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.ID, f.renderStatus(string(e.Status)),
			e.StartedAt.Format("2006-01-02 15:04"),
			e.TotalEmailsCount, e.ProcessedEmailsCount, e.FailedEmailsCount, duration)
	}
	return nil
}

// PrintEmails prints a list of processed emails.
func (f *OutputFormatter) PrintEmails(emails []database.ProcessedEmail) error {
	if f.quiet {
		for _, e := range emails {
			fmt.Printf("%d\n", e.ID)
		}
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(emails)
	}

	if len(emails) == 0 {
		fmt.Println("No processed emails found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tRECEIVED\tFROM\tSUBJECT\tCATEGORY\tPRIORITY\tSCORE")
	for _, e := range emails {
		score := "-"
		if e.ImportanceScore != nil {
			score = fmt.Sprintf("%d", *e.ImportanceScore)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.ReceivedAt.Format("2006-01-02"),
			truncate(e.FromAddress, 25), truncate(e.Subject, 35),
			e.Category, f.renderPriority(e.Priority), score)
	}
	return nil
}

// PrintEmail prints one processed email with its analysis.
func (f *OutputFormatter) PrintEmail(e *database.ProcessedEmail) error {
	if f.quiet {
		fmt.Printf("%d\n", e.ID)
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(e)
	}

	fmt.Printf("Email ID: %d\n", e.ID)
	fmt.Printf("Message-ID: %s\n", e.MessageID)
	fmt.Printf("From: %s\n", e.FromAddress)
	fmt.Printf("Subject: %s\n", e.Subject)
	fmt.Printf("Received: %s\n", e.ReceivedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Status: %s\n", f.renderStatus(string(e.ProcessingStatus)))
	fmt.Printf("Category: %s\n", e.Category)
	fmt.Printf("Priority: %s\n", f.renderPriority(e.Priority))
	fmt.Printf("Sentiment: %s\n", e.Sentiment)
	fmt.Printf("Confidence: %.2f\n", e.Confidence)
	if e.ImportanceScore != nil {
		fmt.Printf("Importance: %d\n", *e.ImportanceScore)
	}
	if e.PriorityReasoning != nil && *e.PriorityReasoning != "" {
		fmt.Printf("Reasoning: %s\n", *e.PriorityReasoning)
	}
	fmt.Printf("Summary: %s\n", e.Summary)
	if e.ErrorMessage != nil && *e.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", *e.ErrorMessage)
	}

	if len(e.Entities) > 0 {
		fmt.Println("\nEntities:")
		for _, entity := range e.Entities {
			fmt.Printf("  %s: %s (%.2f)\n", entity.EntityType, entity.EntityValue, entity.Confidence)
		}
	}
	if len(e.ActionItems) > 0 {
		fmt.Println("\nAction items:")
		for _, action := range e.ActionItems {
			due := ""
			if action.DueDate != nil {
				due = " due " + action.DueDate.Format("2006-01-02")
			}
			fmt.Printf("  [%s] %s%s\n", action.ActionType, action.Description, due)
		}
	}
	return nil
}

// PrintAccounts prints a list of email accounts.
func (f *OutputFormatter) PrintAccounts(accounts []database.EmailAccount) error {
	if f.quiet {
		for _, a := range accounts {
			fmt.Printf("%d\n", a.ID)
		}
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(accounts)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tADDRESS\tIMAP HOST\tAUTH\tACTIVE")
	for _, a := range accounts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s:%d\t%s\t%v\n",
			a.ID, truncate(a.Name, 20), a.Address, a.IMAPHost, a.IMAPPort,
			a.AuthMethod, a.IsActive)
	}
	return nil
}

func (f *OutputFormatter) renderPriority(p database.Priority) string {
	if !f.useColor {
		return string(p)
	}
	switch p {
	case database.PriorityUrgent:
		return f.urgentStyle.Render(string(p))
	case database.PriorityHigh:
		return f.highStyle.Render(string(p))
	}
	return string(p)
}

func (f *OutputFormatter) renderStatus(status string) string {
	if !f.useColor {
		return status
	}
	switch status {
	case "COMPLETED":
		return f.okStyle.Render(status)
	case "FAILED":
		return f.badStyle.Render(status)
	}
	return status
}

// truncate shortens a string for table cells.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
