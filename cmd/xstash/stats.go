package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xstash/xstash/internal/store"
	"github.com/xstash/xstash/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "data",
	Short:   "Show archive statistics and estimated spend",
	Long: `Show bookmark totals, top authors, media breakdown, raw read
counts and the estimated cost after daily deduplication.

Examples:
  xstash stats
  xstash stats --format json
  xstash stats --format yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		a := mustLoadApp()
		ctx := context.Background()

		db, err := a.openStore(ctx)
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		stats, err := db.Stats(ctx)
		if err != nil {
			fatal("%v", err)
		}

		if err := writeStats(os.Stdout, stats, format); err != nil {
			fatal("%v", err)
		}
	},
}

func init() {
	statsCmd.Flags().StringP("format", "f", "text", "Output format: text, json or yaml")

	rootCmd.AddCommand(statsCmd)
}

// statsDoc is the machine-readable stats layout.
type statsDoc struct {
	store.Stats  `yaml:",inline"`
	TotalCostUSD float64 `json:"total_cost_usd" yaml:"total_cost_usd"`
}

func writeStats(w io.Writer, s *store.Stats, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		_, err := io.WriteString(w, renderStats(s))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statsDoc{Stats: *s, TotalCostUSD: s.TotalCostUSD()})
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(statsDoc{Stats: *s, TotalCostUSD: s.TotalCostUSD()}); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func renderStats(s *store.Stats) string {
	var b strings.Builder
	const w = 22

	fmt.Fprintf(&b, "\n%s\n\n", ui.RenderHeader("xstash archive"))
	fmt.Fprintln(&b, ui.KV("Bookmarks", w, s.Bookmarks))
	if s.Bookmarks > 0 {
		fmt.Fprintln(&b, ui.KV("First discovered", w, s.FirstDiscoveredAt))
		fmt.Fprintln(&b, ui.KV("Last discovered", w, s.LastDiscoveredAt))
	}
	fmt.Fprintln(&b, ui.KV("Posts", w, s.Posts))
	fmt.Fprintln(&b, ui.KV("Users", w, s.Users))

	if len(s.TopAuthors) > 0 {
		fmt.Fprintf(&b, "\n%s\n", ui.RenderBold("Top authors"))
		for _, a := range s.TopAuthors {
			fmt.Fprintf(&b, "   %4d  @%s\n", a.Count, a.Username)
		}
	}

	if len(s.MediaByType) > 0 {
		fmt.Fprintf(&b, "\n%s\n", ui.RenderBold("Media"))
		for _, m := range s.MediaByType {
			fmt.Fprintf(&b, "   %4d  %s\n", m.Count, m.Type)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", ui.RenderBold("API usage"))
	fmt.Fprintln(&b, ui.KV("Post reads (raw)", w, s.RawPostReads))
	fmt.Fprintln(&b, ui.KV("User reads (raw)", w, s.RawUserReads))
	fmt.Fprintln(&b, ui.KV("Post cost", w, ui.USD(s.PostCostUSD)))
	fmt.Fprintln(&b, ui.KV("User cost", w, ui.USD(s.UserCostUSD)))
	fmt.Fprintln(&b, ui.KV("Total cost", w, ui.USD(s.TotalCostUSD())))

	if r := s.LastRun; r != nil {
		fmt.Fprintf(&b, "\n%s\n", ui.RenderBold("Last run"))
		status := string(r.Status)
		switch r.Status {
		case store.RunCompleted:
			status = ui.RenderPass(status)
		case store.RunFailed:
			status = ui.RenderFail(status)
		default:
			status = ui.RenderWarn(status)
		}
		fmt.Fprintln(&b, ui.KV("Run", w, fmt.Sprintf("#%d %s", r.ID, r.Mode)))
		fmt.Fprintln(&b, ui.KV("Status", w, status))
		fmt.Fprintln(&b, ui.KV("Started", w, store.FormatTime(r.StartedAt)))
		fmt.Fprintln(&b, ui.KV("New bookmarks", w, r.Counters.NewBookmarks))
		fmt.Fprintln(&b, ui.KV("Estimated cost", w, ui.USD(r.EstimatedCostUSD)))
		if r.ErrorMessage != "" {
			fmt.Fprintln(&b, ui.KV("Error", w, r.ErrorMessage))
		}
	}

	return b.String()
}
