package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/config"
	"github.com/haukened/cmdblock/internal/cmdblock/domain"
)

const (
	version = "0.1.0-dev"
	appName = "cmdblockd"

	defaultConfigPath = "/etc/cmdblock/config.yml"

	serveCmdName = "serve"
)

// errDenied makes check exit with status 2, like a blocked hook.
var errDenied = errors.New("command denied")

func main() {
	err := newRootCmd().Execute()
	switch {
	case errors.Is(err, errDenied):
		os.Exit(2)
	case err != nil:
		os.Exit(1)
	}
}

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
	cfg        *config.AppConfig
	degraded   bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Block server commands and every alias that reaches them",
		Version: version,
		Long: `cmdblockd keeps a set of blocked command names, expands it with every
alias the host knows, and answers whether a dispatched command may run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
				return fmt.Errorf("logging configuration error: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	rootCmd.AddCommand(
		newServeCmd(c),
		newCheckCmd(c),
		newAddCmd(c),
		newRemoveCmd(c),
		newListCmd(c),
	)
	return rootCmd
}

// loadConfig is strict for one-shot commands. The daemon keeps running on
// defaults when the file is broken and says so in the log.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	if cmd.Name() != serveCmdName {
		return config.Load(c.configPath)
	}
	cfg, ok := config.TryLoad(c.configPath, log.GetLogger())
	if !ok {
		c.degraded = true
	}
	return cfg, nil
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   serveCmdName,
		Short: "Run the blocker daemon",
		Long:  `Runs alias resolution, the alias directory watcher and the admin API until SIGINT or SIGTERM. SIGHUP reloads the configuration and saved targets. A broken configuration file is logged and the daemon runs on built-in defaults.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info(map[string]any{
				"version":         version,
				"env":             c.cfg.Env,
				"log_level":       c.cfg.LogLevel,
				"resolve_aliases": c.cfg.ResolveAliases,
				"alias_dir":       c.cfg.AliasDir,
				"state_db":        c.cfg.StateDB,
				"http_listen":     c.cfg.HTTPListen,
				"degraded":        c.degraded,
			}, "Starting command blocker")

			app, err := buildApplication(c.cfg, c.configPath)
			if err != nil {
				log.Error(map[string]any{"error": err}, "Failed to build application")
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigChan)

			reload := make(chan struct{}, 1)
			go func() {
				for {
					select {
					case sig := <-sigChan:
						if sig == syscall.SIGHUP {
							log.Info(nil, "Reload signal received")
							select {
							case reload <- struct{}{}:
							default:
							}
							continue
						}
						log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
						cancel()
						return
					case <-ctx.Done():
						return
					}
				}
			}()

			if err := app.Run(ctx, reload); err != nil {
				log.Error(map[string]any{"error": err}, "Blocker failed")
				return err
			}
			log.Info(nil, "Command blocker stopped gracefully")
			return nil
		},
	}
}

func newCheckCmd(c *cli) *cobra.Command {
	var perms []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check <command line>",
		Short: "Report whether a command line would be blocked",
		Long:  `Resolves aliases from the alias directory, then evaluates the command line. Exits 0 when it may run and 2 when it is denied.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApplication(c.cfg, c.configPath)
			if err != nil {
				return err
			}
			if err := app.Resolve(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: alias resolution failed: %v\n", err)
			}

			v := app.engine.Check(domain.PermissionSet(perms), strings.Join(args, " "))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(v); err != nil {
					return err
				}
			} else {
				printVerdict(cmd, v)
			}
			if !v.Allowed {
				return errDenied
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&perms, "perm", "p", nil, "permission held by the sender (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	return cmd
}

func printVerdict(cmd *cobra.Command, v domain.Verdict) {
	out := cmd.OutOrStdout()
	switch {
	case !v.Blocked:
		fmt.Fprintf(out, "allowed: %s\n", v.Command)
	case v.Bypassed:
		fmt.Fprintf(out, "bypassed: %s\n", v.Command)
	default:
		fmt.Fprintf(out, "blocked: %s\n", v.Command)
	}
	if v.Message != "" {
		fmt.Fprintln(out, v.Message)
	}
}

func newAddCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add <command>...",
		Short: "Add commands to the saved blocked list",
		Long:  `Adds commands to the saved target list. A running daemon picks the change up on SIGHUP.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApplication(c.cfg, c.configPath)
			if err != nil {
				return err
			}
			for _, arg := range args {
				name := strings.TrimPrefix(arg, "/")
				if name == "" {
					return fmt.Errorf("invalid command name %q", arg)
				}
				app.engine.AddBlockedCommand(name)
				fmt.Fprintf(cmd.OutOrStdout(), "blocked: %s\n", name)
			}
			return app.engine.Persist(app.store)
		},
	}
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <command>...",
		Short: "Remove commands from the saved blocked list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApplication(c.cfg, c.configPath)
			if err != nil {
				return err
			}
			changed := false
			for _, arg := range args {
				name := strings.TrimPrefix(arg, "/")
				if app.engine.RemoveBlockedCommand(name) {
					changed = true
					fmt.Fprintf(cmd.OutOrStdout(), "unblocked: %s\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "not blocked: %s\n", name)
				}
			}
			if !changed {
				return nil
			}
			return app.engine.Persist(app.store)
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	var resolved bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blocked commands",
		Long:  `Lists the target list. With --resolved, lists every blocked name after alias resolution.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApplication(c.cfg, c.configPath)
			if err != nil {
				return err
			}
			names := app.engine.RawTargets()
			if resolved {
				if err := app.Resolve(cmd.Context()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: alias resolution failed: %v\n", err)
				}
				names = app.engine.BlockedCommands()
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resolved, "resolved", false, "include resolved aliases")
	return cmd
}
