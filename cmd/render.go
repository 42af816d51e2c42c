package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"caseimport/internal/domain/importing"
	"caseimport/internal/usecase/importer"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func statusStyle(status importing.BatchStatus) lipgloss.Style {
	switch status {
	case importing.StatusCompleted:
		return okStyle
	case importing.StatusPartiallyCompleted, importing.StatusProcessing:
		return warnStyle
	case importing.StatusFailed:
		return failStyle
	default:
		return dimStyle
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderBatch(view importer.BatchStatusView) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Batch " + view.BatchID))
	b.WriteString("  ")
	b.WriteString(statusStyle(view.Status).Render(view.Status.String()))
	if view.DryRun {
		b.WriteString(dimStyle.Render("  (dry run)"))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("file=%s created=%s", view.Filename, view.CreatedAt)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Records"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "total %d  successful %d  failed %d  (created %d, updated %d)\n",
		view.TotalRecords, view.SuccessfulRecords, view.FailedRecords, view.CreatedRecords, view.UpdatedRecords)

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Errors"))
	b.WriteString("\n")
	if len(view.ErrorSummary) == 0 {
		b.WriteString(dimStyle.Render("- none"))
		b.WriteString("\n")
	}
	for _, line := range view.ErrorSummary {
		b.WriteString("- " + line + "\n")
	}
	if view.CompletedAt != "" {
		b.WriteString(dimStyle.Render("completed " + view.CompletedAt))
		b.WriteString("\n")
	}
	return b.String()
}

func renderStats(stats importer.QueueStats) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Import queue"))
	b.WriteString("\n")

	broker := okStyle.Render("connected")
	if !stats.BrokerConnected {
		broker = failStyle.Render("disconnected")
	}
	fmt.Fprintf(&b, "broker        %s %s\n", broker, dimStyle.Render(stats.BrokerState))
	fmt.Fprintf(&b, "queue depth   %d\n", stats.QueueDepth)
	fmt.Fprintf(&b, "active jobs   %d\n", stats.ActiveWorkers)
	if stats.LastError != "" {
		fmt.Fprintf(&b, "last error    %s\n", warnStyle.Render(stats.LastError))
	}
	return b.String()
}

func writeErrorPage(w io.Writer, page importer.ErrorPage) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "row\ttype\tmessage"); err != nil {
		return err
	}
	for _, item := range page.Items {
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%s\n", item.RowNumber, item.ErrorType, item.ErrorMessage); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d, %d of %d errors\n", page.Page, len(page.Items), page.Total)
	return err
}
