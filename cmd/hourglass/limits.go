package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/hourglass/internal/config"
	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
	"github.com/eliteGoblin/focusd/hourglass/internal/infra"
)

func newLimitsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Manage usage limits",
		Long: `Lists and edits the usage limits of this computer. Targets are
executable paths (C:\Games\game.exe, /usr/bin/steam) or websites
(https://youtube.com, or a bare domain with --website).

A running daemon picks up changes automatically.`,
	}

	cmd.AddCommand(
		newLimitsListCmd(opts),
		newLimitsSetCmd(opts),
		newLimitsDeleteCmd(opts),
		newLimitsIgnoreCmd(opts, "ignore", true, "Stop enforcing a target until cleared"),
		newLimitsIgnoreCmd(opts, "clear", false, "Resume enforcing an ignored target"),
	)
	return cmd
}

// withStore opens the configured limit store for the duration of fn.
func withStore(opts *cliOptions, fn func(cfg *config.Config, store *infra.SQLStore) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	store, err := infra.OpenLimitStore(cfg.Store.Driver, cfg.Store.Path, cfg.ComputerID)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// targetKey converts user input into the stored key form.
func targetKey(target string, website bool) string {
	return infra.NormalizeLimit(domain.Limit{Key: target, IsWebsite: website}).Key
}

func newLimitsListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(cfg *config.Config, store *infra.SQLStore) error {
				limits, err := store.LoadAllLimits(cmd.Context(), cfg.ComputerID)
				if err != nil {
					return err
				}
				if len(limits) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No limits configured.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TARGET\tTYPE\tWARNING\tKILL\tIGNORED")
				for _, l := range limits {
					kind := "app"
					if l.IsWebsite {
						kind = "website"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
						l.Key, kind, formatThreshold(l.WarningDuration), formatThreshold(l.KillDuration), l.Ignore)
				}
				return w.Flush()
			})
		},
	}
}

func newLimitsSetCmd(opts *cliOptions) *cobra.Command {
	var limit domain.Limit
	cmd := &cobra.Command{
		Use:   "set <target>",
		Short: "Create or replace a limit",
		Long: `Creates or replaces the limit of a target. A zero duration disables
that threshold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(cfg *config.Config, store *infra.SQLStore) error {
				limit.Key = args[0]
				limit.ComputerID = cfg.ComputerID
				if err := store.SaveLimits(cmd.Context(), limit); err != nil {
					return err
				}
				saved := infra.NormalizeLimit(limit)
				fmt.Fprintf(cmd.OutOrStdout(), "Limit saved for %s (warning %s, kill %s)\n",
					saved.Key, formatThreshold(saved.WarningDuration), formatThreshold(saved.KillDuration))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&limit.WarningDuration, "warning", 0, "Usage before the warning, e.g. 45m")
	cmd.Flags().DurationVar(&limit.KillDuration, "kill", 0, "Usage before the target is closed, e.g. 1h")
	cmd.Flags().StringVar(&limit.Name, "name", "", "Display name")
	cmd.Flags().BoolVar(&limit.IsWebsite, "website", false, "Treat a bare domain as a website")
	return cmd
}

func newLimitsDeleteCmd(opts *cliOptions) *cobra.Command {
	var website bool
	cmd := &cobra.Command{
		Use:   "delete <target>",
		Short: "Remove a limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(_ *config.Config, store *infra.SQLStore) error {
				key := targetKey(args[0], website)
				if err := store.DeleteApp(cmd.Context(), key); err != nil {
					return notFound(err, key)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Limit removed for %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&website, "website", false, "Treat a bare domain as a website")
	return cmd
}

func newLimitsIgnoreCmd(opts *cliOptions, use string, ignore bool, short string) *cobra.Command {
	var website bool
	cmd := &cobra.Command{
		Use:   use + " <target>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(_ *config.Config, store *infra.SQLStore) error {
				key := targetKey(args[0], website)
				if err := store.UpdateIgnoreStatus(cmd.Context(), key, ignore); err != nil {
					return notFound(err, key)
				}
				state := "enforced"
				if ignore {
					state = "ignored"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", key, state)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&website, "website", false, "Treat a bare domain as a website")
	return cmd
}

func notFound(err error, key string) error {
	if errors.Is(err, domain.ErrLimitNotFound) {
		return fmt.Errorf("no limit configured for %s", key)
	}
	return err
}

func formatThreshold(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
