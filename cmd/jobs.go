package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running crawl job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Controller.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.Logger.Info("cancel requested", zap.String("job_id", report.ID), zap.String("status", string(report.Status)))
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Refresh and print the status of a crawl job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Controller.RefreshStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newListCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every recorded crawl job, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reports, err := a.Controller.List(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			return writeReportTable(cmd, reports)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", true, "refresh non-terminal jobs from the remote service first (--refresh=false to skip)")
	return cmd
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func writeReportTable(cmd *cobra.Command, reports []crawljob.Report) error {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{
			r.ID,
			string(r.Status),
			orDash(r.CrawlURL),
			optInt(r.Completed) + "/" + optInt(r.Total),
			strconv.Itoa(r.DownloadedFiles),
			formatTimestamp(r.CreatedAt),
			formatTimestamp(r.UpdatedAt),
		})
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "URL", "COMPLETED/TOTAL", "DOWNLOADED", "CREATED", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), tbl.Render()); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTimestamp(ts crawljob.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format(crawljob.TimeLayout)
}
