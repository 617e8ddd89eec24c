package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xstash/xstash/internal/export"
	"github.com/xstash/xstash/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export bookmarks as JSON, CSV or Markdown",
	Long: `Export the archive as JSON, CSV or Markdown.

--since and --until filter on when a bookmark was first discovered. They
accept a date (2024-05-01, whole UTC day), an RFC 3339 timestamp or a
phrase such as "yesterday" or "2 weeks ago".

Without --out the export is written to stdout. A directory or a path
without an extension receives bookmarks.<format>.

Examples:
  xstash export --format md --out ~/notes
  xstash export --format csv --since 2024-01-01 --until 2024-06-30
  xstash export --format json --include-referenced > bookmarks.json`,
	Run: func(cmd *cobra.Command, args []string) {
		formatFlag, _ := cmd.Flags().GetString("format")
		sinceFlag, _ := cmd.Flags().GetString("since")
		untilFlag, _ := cmd.Flags().GetString("until")
		includeRef, _ := cmd.Flags().GetBool("include-referenced")
		out, _ := cmd.Flags().GetString("out")

		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			fatal("%v", err)
		}

		now := time.Now()
		opts, err := exportOptions(sinceFlag, untilFlag, includeRef, now)
		if err != nil {
			fatal("%v", err)
		}

		a := mustLoadApp()
		ctx := context.Background()

		db, err := a.openStore(ctx)
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		ds, err := export.Build(ctx, db.RawDB(), opts, now)
		if err != nil {
			fatal("%v", err)
		}

		path, err := export.ResolveOutputPath(out, format)
		if err != nil {
			fatal("%v", err)
		}
		if path == "" {
			if err := export.Write(os.Stdout, ds, format); err != nil {
				fatal("%v", err)
			}
			return
		}

		if err := export.WriteFile(path, ds, format); err != nil {
			fatal("%v", err)
		}
		fmt.Fprintf(os.Stderr, "%s Exported %d items (%d bookmarks, %d referenced) to %s\n",
			ui.RenderPass("✓"), ds.Counts.Posts, ds.Counts.Bookmarks, ds.Counts.ReferencedPosts, path)
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "json", "Output format: json, csv or md")
	exportCmd.Flags().String("since", "", "Only bookmarks discovered at or after this time")
	exportCmd.Flags().String("until", "", "Only bookmarks discovered at or before this time")
	exportCmd.Flags().Bool("include-referenced", false, "Also export quoted and other referenced posts")
	exportCmd.Flags().StringP("out", "o", "", "Output file or directory (default: stdout)")

	rootCmd.AddCommand(exportCmd)
}

// exportOptions parses the date filters. since must not be after until.
func exportOptions(since, until string, includeReferenced bool, now time.Time) (export.Options, error) {
	opts := export.Options{IncludeReferenced: includeReferenced}

	if since != "" {
		t, err := export.ParseBoundary(since, false, now)
		if err != nil {
			return opts, fmt.Errorf("--since: %w", err)
		}
		opts.Since = &t
	}
	if until != "" {
		t, err := export.ParseBoundary(until, true, now)
		if err != nil {
			return opts, fmt.Errorf("--until: %w", err)
		}
		opts.Until = &t
	}
	if opts.Since != nil && opts.Until != nil && opts.Since.After(*opts.Until) {
		return opts, fmt.Errorf("--since (%s) is after --until (%s)",
			opts.Since.Format(time.RFC3339), opts.Until.Format(time.RFC3339))
	}
	return opts, nil
}
