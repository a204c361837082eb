package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JakeFAU/crawl-harvester/internal/config"
	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

// flagAliases maps the short long-form spellings onto their canonical flags.
var flagAliases = map[string]string{
	"ep": "exclude-paths",
	"ip": "include-paths",
	"it": "include-tags",
	"et": "exclude-tags",
}

type submitFlags struct {
	excludePaths string
	includePaths string
	formats      string
	includeTags  string
	excludeTags  string
	maxDepth     int
	limit        int
	waitFor      int
	yes          bool
}

// newSubmitCmd creates the 'submit' subcommand, which starts a remote crawl
// of a site and records it in the report store.
func newSubmitCmd() *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:     "submit <url>",
		Aliases: []string{"crawl"},
		Short:   "Submit a crawl job for a site",
		Long: `Submits a crawl of <url> to the remote service. Paths collected by
'visited-pages' for the same site are sent as exclusions so pages already
harvested are not crawled again. List-valued flags take JSON arrays.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.excludePaths, "exclude-paths", "", `JSON array of path patterns to skip, e.g. '["blog/.*"]' (alias --ep)`)
	flags.StringVar(&f.includePaths, "include-paths", "", "JSON array of path patterns to restrict the crawl to (alias --ip)")
	flags.StringVarP(&f.formats, "formats", "f", "", `JSON array of output formats (default from crawl.formats)`)
	flags.StringVar(&f.includeTags, "include-tags", "", "JSON array of tags/selectors to keep (alias --it)")
	flags.StringVar(&f.excludeTags, "exclude-tags", "", "JSON array of tags/selectors to drop (alias --et)")
	flags.IntVarP(&f.maxDepth, "max-depth", "d", 0, "maximum link depth (default from crawl.max_depth)")
	flags.IntVarP(&f.limit, "limit", "l", 0, "maximum pages to crawl (default from crawl.limit)")
	flags.IntVarP(&f.waitFor, "wait-for", "w", 0, "milliseconds to wait for page render (default from crawl.wait_for_ms)")
	flags.BoolVarP(&f.yes, "yes", "y", false, "submit without asking for confirmation")
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if canonical, ok := flagAliases[name]; ok {
			name = canonical
		}
		return pflag.NormalizedName(name)
	})
	return cmd
}

func runSubmit(cmd *cobra.Command, rawURL string, f submitFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	params, err := buildParams(cmd.Flags(), f, a.Config.Crawl)
	if err != nil {
		return err
	}
	// Fail on bad input before asking anything.
	if err := params.Validate(); err != nil {
		return err
	}

	if !f.yes {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), rawURL, params)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
	}

	report, err := a.Controller.Submit(cmd.Context(), rawURL, params)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

// buildParams turns the raw flag values into validated-ready Params, taking
// unset numeric and format flags from the crawl defaults.
func buildParams(flags *pflag.FlagSet, f submitFlags, defaults config.CrawlConfig) (crawljob.Params, error) {
	var (
		excludePaths, includePaths []string
		scrape                     crawljob.ScrapeOptions
	)
	for _, l := range []struct {
		name string
		raw  string
		dst  *[]string
	}{
		{"exclude-paths", f.excludePaths, &excludePaths},
		{"include-paths", f.includePaths, &includePaths},
		{"formats", f.formats, &scrape.Formats},
		{"include-tags", f.includeTags, &scrape.IncludeTags},
		{"exclude-tags", f.excludeTags, &scrape.ExcludeTags},
	} {
		parsed, err := crawljob.ParseStringList(l.name, l.raw)
		if err != nil {
			return crawljob.Params{}, err
		}
		*l.dst = parsed
	}
	if !flags.Changed("formats") {
		scrape.Formats = append([]string(nil), defaults.Formats...)
	}

	maxDepth, limit := defaults.MaxDepth, defaults.Limit
	scrape.WaitFor = defaults.WaitForMs
	if flags.Changed("max-depth") {
		maxDepth = f.maxDepth
	}
	if flags.Changed("limit") {
		limit = f.limit
	}
	if flags.Changed("wait-for") {
		scrape.WaitFor = f.waitFor
	}

	params := crawljob.NewParams(maxDepth, limit, scrape)
	params.ExcludePaths = excludePaths
	params.IncludePaths = includePaths
	return params, nil
}

func confirm(in io.Reader, out io.Writer, rawURL string, params crawljob.Params) (bool, error) {
	fmt.Fprintf(out, "url:           %s\n", rawURL)
	fmt.Fprintf(out, "max depth:     %d\n", params.MaxDepth)
	fmt.Fprintf(out, "limit:         %d\n", params.Limit)
	fmt.Fprintf(out, "formats:       %s\n", strings.Join(params.ScrapeOptions.Formats, ", "))
	fmt.Fprintf(out, "exclude paths: %d (visited pages are added on submit)\n", len(params.ExcludePaths))
	fmt.Fprint(out, "Submit crawl? [y/N]: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
