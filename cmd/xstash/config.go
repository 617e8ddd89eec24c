package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xstash/xstash/internal/config"
	"github.com/xstash/xstash/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage xstash configuration",
	Long: `Manage the xstash config file.

Settings are read from config.toml in the config directory
($XSTASH_CONFIG_DIR or the OS user config dir). Environment variables
named XSTASH_<SECTION>_<KEY> override file values, for example
XSTASH_SYNC_KNOWN_BOUNDARY_THRESHOLD=10.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		paths, err := config.ResolvePaths(os.Getenv)
		if err != nil {
			fatal("%v", err)
		}
		if err := paths.Ensure(); err != nil {
			fatal("%v", err)
		}

		written, err := config.Init(paths.ConfigFile(), force)
		if err != nil {
			fatal("%v", err)
		}
		if !written {
			fmt.Printf("%s Config already exists at %s (use --force to overwrite)\n",
				ui.RenderWarn("⚠"), paths.ConfigFile())
			return
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), paths.ConfigFile())
		fmt.Println("\nNext steps:")
		fmt.Println("  xstash config set auth.client_id <your X app client id>")
		fmt.Println("  xstash auth login")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration, including environment overrides.
The client secret is masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		a := mustLoadApp()
		if err := writeConfig(os.Stdout, a.cfg.Redacted(), asYAML); err != nil {
			fatal("%v", err)
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config and data locations",
	Run: func(cmd *cobra.Command, args []string) {
		paths, err := config.ResolvePaths(os.Getenv)
		if err != nil {
			fatal("%v", err)
		}
		const w = 8
		fmt.Println(ui.KV("Config", w, paths.ConfigFile()))
		fmt.Println(ui.KV("Tokens", w, paths.TokenFile()))
		fmt.Println(ui.KV("Database", w, paths.DBPath()))
		fmt.Println(ui.KV("Media", w, paths.MediaDir()))
		fmt.Println(ui.KV("Logs", w, paths.LogDir()))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one config value",
	Long: `Set one value in config.toml, creating the file if needed.

Keys:
  ` + strings.Join(config.Keys(), "\n  "),
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		paths, err := config.ResolvePaths(os.Getenv)
		if err != nil {
			fatal("%v", err)
		}
		if err := paths.Ensure(); err != nil {
			fatal("%v", err)
		}

		if _, err := config.Set(paths.ConfigFile(), args[0], args[1]); err != nil {
			if errors.Is(err, config.ErrUnknownKey) {
				fmt.Fprintf(os.Stderr, "Valid keys: %s\n", strings.Join(config.Keys(), ", "))
			}
			fatal("%v", err)
		}
		fmt.Printf("%s Set %s\n", ui.RenderPass("✓"), args[0])
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configShowCmd.Flags().Bool("yaml", false, "Print as YAML instead of TOML")

	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func writeConfig(w io.Writer, cfg *config.Config, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	}
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
