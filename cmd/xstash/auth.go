package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/xstash/xstash/internal/config"
	"github.com/xstash/xstash/internal/ui"
	"github.com/xstash/xstash/internal/xapi"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	GroupID: "setup",
	Short:   "Authorize xstash with your X account",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the OAuth 2.0 login flow",
	Long: `Open the X authorization page and store the resulting tokens.

Requires auth.client_id (config or XSTASH_CLIENT_ID). The callback is
served on auth.redirect_url, which must match the redirect URL registered
for your X app.`,
	Run: func(cmd *cobra.Command, args []string) {
		noBrowser, _ := cmd.Flags().GetBool("no-browser")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		a := mustLoadApp()
		if a.cfg.Auth.ClientID == "" {
			fatal("auth.client_id is not set; run `xstash config set auth.client_id <id>` or set XSTASH_CLIENT_ID")
		}
		if err := a.paths.Ensure(); err != nil {
			fatal("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
		defer cancelTimeout()

		oauth := xapi.OAuthConfig(a.cfg.Auth.ClientID, a.cfg.Auth.ClientSecret, a.cfg.Auth.RedirectURL)
		tok, err := xapi.Login(ctx, oauth, func(authURL string) error {
			fmt.Printf("%s Open this URL to authorize xstash:\n\n  %s\n\n", ui.RenderAccent("→"), authURL)
			if !noBrowser {
				if err := browser.OpenURL(authURL); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not open a browser: %v\n", err)
				}
			}
			fmt.Println("Waiting for the callback...")
			return nil
		})
		if err != nil {
			fatal("login failed: %v", err)
		}

		if err := a.tokenStore().Save(tok); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Logged in; tokens saved to %s\n", ui.RenderPass("✓"), a.tokenStore().Path())
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credentials",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()

		stored, err := a.tokenStore().Load()
		if err != nil && !errors.Is(err, xapi.ErrNoToken) {
			fatal("%v", err)
		}
		tok, err := xapi.ApplyEnv(stored, os.Getenv)
		if err != nil {
			fatal("%v", err)
		}

		const w = 14
		fmt.Println(ui.KV("Token file", w, a.tokenStore().Path()))
		fmt.Println(ui.KV("Client ID", w, valueOrUnset(a.cfg.Auth.ClientID)))
		if tok == nil {
			fmt.Printf("\n%s Not logged in. Run `xstash auth login`.\n", ui.RenderWarn("⚠"))
			return
		}

		source := "token file"
		if stored == nil || tok.AccessToken != stored.AccessToken {
			source = "environment"
		}
		fmt.Println(ui.KV("Source", w, source))
		fmt.Println(ui.KV("Access token", w, config.MaskSecret(tok.AccessToken)))
		fmt.Println(ui.KV("Refresh token", w, config.MaskSecret(tok.RefreshToken)))
		fmt.Println(ui.KV("Expires", w, describeExpiry(tok, time.Now())))
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored tokens",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		if err := a.tokenStore().Delete(); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), a.tokenStore().Path())
		if os.Getenv(xapi.EnvAccessToken) != "" {
			fmt.Printf("%s %s is still set in the environment\n", ui.RenderWarn("⚠"), xapi.EnvAccessToken)
		}
	},
}

func init() {
	authLoginCmd.Flags().Bool("no-browser", false, "Print the authorization URL without opening a browser")
	authLoginCmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for the callback")

	authCmd.AddCommand(authLoginCmd, authStatusCmd, authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func valueOrUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

// describeExpiry renders the token lifetime relative to now.
func describeExpiry(tok *oauth2.Token, now time.Time) string {
	if tok.Expiry.IsZero() {
		return "unknown"
	}
	left := tok.Expiry.Sub(now).Round(time.Second)
	if left <= 0 {
		if tok.RefreshToken != "" {
			return fmt.Sprintf("expired %v ago (will refresh)", -left)
		}
		return ui.RenderFail(fmt.Sprintf("expired %v ago", -left))
	}
	return fmt.Sprintf("in %v (%s)", left, tok.Expiry.UTC().Format(time.RFC3339))
}
