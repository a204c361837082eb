package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-harvester/internal/progress/sinks"
)

// newDownloadCmd creates the 'download' subcommand. Interrupting it is safe:
// the next run resumes from the last page whose items were all written.
func newDownloadCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download the results of a completed crawl job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !quiet {
				a.Events.Add(sinks.NewSpinnerSink(cmd.ErrOrStderr()))
			}
			res, err := a.Downloader.Download(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: downloaded %d/%d (pages %d, written %d, skipped %d)\n",
				res.JobID, res.DownloadedFiles, res.Total, res.Pages, res.Written, res.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not draw the progress spinner")
	return cmd
}

func newVisitedPagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "visited-pages <url>",
		Short: "Rebuild the visited-page snapshot for a site",
		Long: `Scans the downloaded content of every completed job for <url> and
stores the union of their page paths. The next 'submit' for the same site
excludes those paths.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.Collector.Collect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collected %d visited pages for %s\n", n, args[0])
			return nil
		},
	}
}
