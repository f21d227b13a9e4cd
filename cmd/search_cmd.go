package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/linescout/internal/registry"
	"github.com/nextlevelbuilder/linescout/internal/search"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

func searchCmd() *cobra.Command {
	var (
		output string
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "search PATTERN [NAME=]LOCATOR...",
		Short: "Search files or URLs for a whole word from the command line",
		Long: "Search streams every LOCATOR (a file path or an http(s) URL) and prints each line\n" +
			"containing PATTERN as a whole word, case-insensitively. With more than one locator\n" +
			"each line is prefixed with [name].",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg, err := buildRegistry(args[1:])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			var onProgress search.ProgressFunc
			if !quiet {
				onProgress = newProgressPrinter(cmd.ErrOrStderr())
			}

			sum, err := runSearch(cmd.Context(), newEngine(cfg), reg.Entries(), args[0], onProgress)
			if err != nil {
				if errors.Is(err, search.ErrValidation) {
					return fmt.Errorf("invalid pattern: %w", err)
				}
				return err
			}

			if sum.Result != nil {
				if _, err := sum.Result.WriteTo(out); err != nil {
					return err
				}
			}
			if !quiet {
				printSummary(cmd.ErrOrStderr(), sum)
			}
			if sum.Failed() == len(sum.Resources) {
				return fmt.Errorf("all %d resources failed", sum.Failed())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write matching lines to this file instead of stdout")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress and summary on stderr")
	return cmd
}

// runSearch scans a single entry without line prefixes and several entries
// as an aggregate search.
func runSearch(ctx context.Context, eng *search.Engine, entries []registry.Entry, pattern string, onProgress search.ProgressFunc) (*search.Summary, error) {
	if len(entries) != 1 {
		return eng.RunAll(ctx, entries, pattern, onProgress)
	}

	e := entries[0]
	res, err := eng.Run(ctx, search.Request{Name: e.Name, Locator: e.Locator, Pattern: pattern}, onProgress)
	if errors.Is(err, search.ErrValidation) || ctx.Err() != nil {
		return nil, err
	}
	sum := &search.Summary{
		Pattern:   strings.TrimSpace(pattern),
		Resources: []search.ResourceSummary{{Name: e.Name, Err: err}},
	}
	if err == nil {
		sum.Resources[0].Matches = res.Total
		sum.Total = res.Total
		if res.Total > 0 {
			sum.Result = res
		}
	}
	return sum, nil
}

// buildRegistry registers each "[name=]locator" argument in order.
func buildRegistry(args []string) (*registry.Registry, error) {
	reg := registry.New()
	for _, arg := range args {
		name, raw := "", arg
		// "name=" only counts before any URL scheme or path separator.
		if i := strings.Index(arg, "="); i > 0 && !strings.ContainsAny(arg[:i], "/:\\") {
			name, raw = arg[:i], arg[i+1:]
		}
		loc, err := source.ParseLocator(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		if name == "" {
			name = loc.DisplayName()
		}
		if _, err := reg.Get(name); err == nil {
			return nil, fmt.Errorf("duplicate resource name %q; use NAME=LOCATOR", name)
		}
		reg.Register(name, loc)
	}
	return reg, nil
}

// newProgressPrinter redraws one status line on a terminal and prints
// plain lines otherwise.
func newProgressPrinter(w io.Writer) search.ProgressFunc {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return func(p search.Progress) {
		var line string
		if p.Percent >= 0 {
			line = fmt.Sprintf("%s: %d%% (%s / %s), %s matches", p.Resource, p.Percent,
				humanize.Bytes(uint64(p.Bytes)), humanize.Bytes(uint64(p.Total)), humanize.Comma(int64(p.Matches)))
		} else {
			line = fmt.Sprintf("%s: %s lines (%s), %s matches", p.Resource, humanize.Comma(p.Lines),
				humanize.Bytes(uint64(p.Bytes)), humanize.Comma(int64(p.Matches)))
		}

		switch {
		case tty && p.Done:
			fmt.Fprintf(w, "\r\033[K%s\n", line)
		case tty:
			fmt.Fprintf(w, "\r\033[K%s", line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

func printSummary(w io.Writer, sum *search.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tMATCHES\tSTATUS")
	for _, r := range sum.Resources {
		status := "ok"
		if r.Err != nil {
			status = "error: " + r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Name, r.Matches, status)
	}
	tw.Flush()

	fmt.Fprintf(w, "%s total matches for %q", humanize.Comma(int64(sum.Total)), sum.Pattern)
	if sum.Result != nil && sum.Result.Truncated {
		fmt.Fprintf(w, " (output truncated at %d lines)", len(sum.Result.Matches))
	}
	fmt.Fprintln(w)
}
