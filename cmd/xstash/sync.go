package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/xstash/xstash/internal/billing"
	"github.com/xstash/xstash/internal/lock"
	"github.com/xstash/xstash/internal/quotes"
	xsync "github.com/xstash/xstash/internal/sync"
	"github.com/xstash/xstash/internal/ui"
)

var (
	errCancelled       = errors.New("sync cancelled by user")
	errNeedInteractive = errors.New("cost confirmation requires an interactive terminal. Use --yes to auto-accept or drop --confirm-cost to skip confirmation")
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Fetch new bookmarks into the local archive",
	Long: `Fetch bookmarks newest first and store them with their authors,
media and quoted posts.

The first run on an empty archive is an initial run, capped at
sync.default_initial_max_new new bookmarks. Later runs are incremental:
they stop after sync.known_boundary_threshold consecutive bookmarks that
are already stored, or at sync.default_incremental_max_new.

Examples:
  xstash sync                     # Use configured defaults
  xstash sync --max-new 50        # Stop after 50 new bookmarks
  xstash sync --max-new all       # No cap
  xstash sync --confirm-cost      # Show the estimate and ask first`,
	Run: func(cmd *cobra.Command, args []string) {
		maxNew, _ := cmd.Flags().GetString("max-new")
		noMedia, _ := cmd.Flags().GetBool("no-media")
		quoteDepth, _ := cmd.Flags().GetInt("quote-depth")
		confirmCost, _ := cmd.Flags().GetBool("confirm-cost")
		yes, _ := cmd.Flags().GetBool("yes")

		if cmd.Flags().Changed("quote-depth") && (quoteDepth < quotes.MinDepth || quoteDepth > quotes.MaxDepth) {
			fatal("--quote-depth must be between %d and %d", quotes.MinDepth, quotes.MaxDepth)
		}

		a := mustLoadApp()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		l, err := lock.TryAcquire(a.paths.LockFile())
		if err != nil {
			fatal("%v", err)
		}
		defer l.Release()

		db, err := a.openStore(ctx)
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		syncer, err := a.newSyncer(db, syncFlags{maxNew: maxNew, noMedia: noMedia, quoteDepth: quoteDepth}, syncLogger())
		if err != nil {
			printAuthHint(err)
			fatal("%v", err)
		}

		plan, err := syncer.Plan(ctx)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Print(costEstimateText(plan.RequestedMaxNew, a.cfg.Prices()))
		if shouldConfirmCost(confirmCost, yes) {
			if err := confirmRun(ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout)); err != nil {
				fatal("%v", err)
			}
		}

		fmt.Printf("\n%s Starting %s sync (page size %d)...\n", ui.RenderAccent("→"), plan.Mode, plan.PageSize)

		res, err := syncer.Run(ctx)
		if err != nil {
			printAuthHint(err)
			fatal("%v", err)
		}
		printSyncResult(res)
	},
}

func init() {
	syncCmd.Flags().String("max-new", "", "Maximum new bookmarks to store (positive integer or \"all\")")
	syncCmd.Flags().Bool("no-media", false, "Skip media metadata and downloads")
	syncCmd.Flags().Int("quote-depth", 0, "Quote resolution depth (1-3, default from config)")
	syncCmd.Flags().Bool("confirm-cost", false, "Ask for confirmation after showing the cost estimate")
	syncCmd.Flags().BoolP("yes", "y", false, "Accept the cost estimate without prompting")

	rootCmd.AddCommand(syncCmd)
}

func shouldConfirmCost(confirmCost, yes bool) bool {
	return confirmCost && !yes
}

// confirmRun asks whether to continue. It refuses to prompt without a
// terminal.
func confirmRun(interactive bool) error {
	if !interactive {
		return errNeedInteractive
	}

	var ok bool
	err := huh.NewConfirm().
		Title("Continue sync with this estimate?").
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errCancelled
		}
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if !ok {
		return errCancelled
	}
	return nil
}

// costEstimateText renders the forecast shown before a run.
func costEstimateText(maxNew *int, prices billing.Prices) string {
	f := billing.ForecastRun(maxNew, prices)

	maxNewText, postCap, userCap := "all", "unbounded", "unbounded"
	if !f.Unbounded {
		maxNewText = fmt.Sprint(*f.MaxNew)
		postCap = ui.USD(f.PostUSD)
		userCap = ui.USD(f.UserUSD)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Cost estimate\n", ui.RenderAccent("$"))
	b.WriteString(ui.KV("max-new", 26, maxNewText) + "\n")
	b.WriteString(ui.KV("post read unit price", 26, ui.USD(prices.PostReadUSD)) + "\n")
	b.WriteString(ui.KV("post read upper bound", 26, postCap) + "\n")
	b.WriteString(ui.KV("user read unit price", 26, ui.USD(prices.UserReadUSD)) + "\n")
	b.WriteString(ui.KV("user read upper bound", 26, userCap) + "\n")
	b.WriteString(ui.RenderMuted("   X bills each resource once per UTC day, so the actual cost may be lower.") + "\n")
	return b.String()
}

func printSyncResult(res *xsync.Result) {
	fmt.Printf("\n%s Sync completed in %v\n\n", ui.RenderPass("✓"), res.Elapsed.Round(time.Millisecond))

	const w = 24
	fmt.Println(ui.KV("Mode", w, res.Mode))
	fmt.Println(ui.KV("New bookmarks", w, res.Counters.NewBookmarks))
	fmt.Println(ui.KV("New referenced posts", w, res.Counters.NewReferencedPosts))
	fmt.Println(ui.KV("New media", w, res.Counters.NewMedia))
	fmt.Println(ui.KV("API reads (post)", w, res.Counters.APIPostsRead))
	fmt.Println(ui.KV("API reads (user)", w, res.Counters.APIUsersRead))
	fmt.Println(ui.KV("Raw API requests", w, res.RawAPIRequestCount))
	if res.SkippedMediaDownloads > 0 {
		fmt.Println(ui.KV("Media skipped", w, ui.RenderWarn(fmt.Sprint(res.SkippedMediaDownloads))))
	}
	if res.StoppedByBoundary {
		fmt.Println(ui.KV("Stopped at", w, "known bookmarks"))
	}
	fmt.Println(ui.KV("Run cost", w, ui.USD(res.RunCostUSD)))
	fmt.Println(ui.KV("Total cost", w, ui.USD(res.TotalCostUSD)))
}
