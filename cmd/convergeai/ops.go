package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"convergeai/internal/types"
)

var (
	opsStaff    int64
	opsLimit    int
	opsStatus   string
	opsPriority string
	opsAssigned string
	opsUnread   bool
	opsType     string
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Staff-side operational views",
}

var opsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the ranked priority queue",
	Long: `Projects open complaints and pending bookings into one ranked list,
scored 0-100 from priority, negative sentiment, SLA proximity, and repeat
business. The read is attributed to --staff in the audit log.`,
	RunE: runOpsQueue,
}

var opsAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List alerts for a staff member",
	Long: `Lists alerts addressed to --staff plus matching broadcast alerts.
Dismissed and expired alerts never show.`,
	RunE: runOpsAlerts,
}

func init() {
	opsCmd.PersistentFlags().Int64Var(&opsStaff, "staff", 0, "Acting staff ref (required)")
	opsCmd.PersistentFlags().IntVar(&opsLimit, "limit", 20, "Maximum rows")
	opsCmd.MarkPersistentFlagRequired("staff")

	opsQueueCmd.Flags().StringVar(&opsStatus, "status", "", "Filter complaints by status")
	opsQueueCmd.Flags().StringVar(&opsPriority, "priority", "", "Filter complaints by priority")
	opsQueueCmd.Flags().StringVar(&opsAssigned, "assigned", "", "Filter by assignment: true or false")

	opsAlertsCmd.Flags().BoolVar(&opsUnread, "unread", false, "Unread alerts only")
	opsAlertsCmd.Flags().StringVar(&opsType, "type", "", "Filter by alert type")

	opsCmd.AddCommand(opsQueueCmd)
	opsCmd.AddCommand(opsAlertsCmd)
}

// Table styles shared by both views.
var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#101F38"))
	criticalStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
	warningStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	mutedStyle       = lipgloss.NewStyle().Faint(true)
)

func runOpsQueue(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	f := types.QueueFilter{
		Status:   opsStatus,
		Priority: types.Priority(opsPriority),
	}
	switch opsAssigned {
	case "":
	case "true", "false":
		assigned := opsAssigned == "true"
		f.Assigned = &assigned
	default:
		return fmt.Errorf("--assigned takes true or false, got %q", opsAssigned)
	}

	items, err := a.projector.Project(cmd.Context(), opsStaff, f, opsLimit, 0)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]string, 0, len(items))
	for i, it := range items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			string(it.Kind),
			fmt.Sprintf("%d", it.ResourceID),
			it.Title,
			string(it.Priority),
			scoreCell(it.PriorityScore),
			slaCell(it.SLADueAt, now),
			it.CreatedAt.Format("Jan 02 15:04"),
		})
	}
	fmt.Print(renderTable(
		[]string{"#", "KIND", "ID", "TITLE", "PRIORITY", "SCORE", "SLA DUE", "CREATED"},
		rows,
	))
	return nil
}

func runOpsAlerts(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	alerts, err := a.alerts.List(cmd.Context(), opsStaff, types.AlertFilter{
		Type:       opsType,
		UnreadOnly: opsUnread,
	}, opsLimit, 0)
	if err != nil {
		return err
	}
	unread, err := a.alerts.UnreadCount(cmd.Context(), opsStaff)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Printf("No alerts (unread: %d).\n", unread)
		return nil
	}

	rows := make([][]string, 0, len(alerts))
	for _, al := range alerts {
		read := "unread"
		if al.IsRead {
			read = mutedStyle.Render("read")
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", al.ID),
			severityCell(al.Severity),
			al.Type,
			al.Title,
			al.CreatedAt.Format("Jan 02 15:04"),
			read,
		})
	}
	fmt.Print(renderTable(
		[]string{"ID", "SEVERITY", "TYPE", "TITLE", "CREATED", "STATE"},
		rows,
	))
	fmt.Printf("\n%d alert(s), %d unread\n", len(alerts), unread)
	return nil
}

func scoreCell(score int) string {
	s := fmt.Sprintf("%3d", score)
	switch {
	case score >= 80:
		return criticalStyle.Render(s)
	case score >= 60:
		return warningStyle.Render(s)
	default:
		return s
	}
}

func slaCell(due *time.Time, now time.Time) string {
	if due == nil {
		return "-"
	}
	remaining := due.Sub(now).Round(time.Minute)
	if remaining <= 0 {
		return criticalStyle.Render(fmt.Sprintf("overdue %s", -remaining))
	}
	if remaining <= time.Hour {
		return warningStyle.Render(fmt.Sprintf("in %s", remaining))
	}
	return fmt.Sprintf("in %s", remaining)
}

func severityCell(sev types.AlertSeverity) string {
	switch sev {
	case types.SeverityCritical:
		return criticalStyle.Render(string(sev))
	case types.SeverityWarning:
		return warningStyle.Render(string(sev))
	default:
		return string(sev)
	}
}

// renderTable pads cells by display width so styled cells line up.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, hc := range headers {
		widths[i] = lipgloss.Width(hc)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
		sb.WriteString("\n")
	}
	writeRow(headers, &tableHeaderStyle)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return sb.String()
}
