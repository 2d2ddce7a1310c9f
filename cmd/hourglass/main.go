// Package main is the CLI entry point for hourglass.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/hourglass/internal/config"
	"github.com/eliteGoblin/focusd/hourglass/internal/daemon"
	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
	"github.com/eliteGoblin/focusd/hourglass/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliOptions holds flags shared by every subcommand.
type cliOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "hourglass",
		Short: "Usage limits for applications and websites",
		Long: `hourglass tracks how long monitored applications run and how long
monitored websites stay open, warns when a warning threshold is reached
and closes the application or browser tabs at the kill threshold.

Limits are stored per computer; manage them with 'hourglass limits'.`,
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to the YAML config file")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newStartCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newLimitsCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout(), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	return cmd
}

func printVersion(w io.Writer, jsonOutput bool) {
	if jsonOutput {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		return
	}
	fmt.Fprintf(w, "hourglass %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}

func newStartCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Long: `Spawns 'hourglass run' as a detached process. The daemon registers
itself in the data directory; use 'hourglass status' to check on it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			registry := infra.NewFileRegistry(cfg.DataDir, infra.NewProcessManager())
			if alive, _ := registry.IsAlive(); alive {
				fmt.Fprintln(cmd.OutOrStdout(), "hourglass is already running")
				return nil
			}

			pid, err := daemon.StartDaemon(opts.configPath)
			if err != nil {
				return err
			}

			// Wait a moment for the daemon to register
			time.Sleep(500 * time.Millisecond)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "\n=== hourglass Started ===")
			fmt.Fprintf(out, "PID: %d\n", pid)
			fmt.Fprintf(out, "Data dir: %s\n", cfg.DataDir)
			fmt.Fprintf(out, "Control channel: ws://%s%s\n", cfg.Control.ListenAddr, cfg.Control.Path)
			fmt.Fprintln(out, "=========================")
			return nil
		},
	}
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		Long:  `Shows whether the daemon is running, its heartbeat and how many limits are configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			registry := infra.NewFileRegistry(cfg.DataDir, infra.NewProcessManager())
			return printStatus(cmd, cfg, registry)
		},
	}
}

func printStatus(cmd *cobra.Command, cfg *config.Config, registry domain.DaemonRegistry) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== hourglass Status ===")

	alive, err := registry.IsAlive()
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}
	state, err := registry.Get()
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}

	if !alive || state == nil {
		fmt.Fprintln(out, "Status: NOT RUNNING")
		fmt.Fprintln(out, "\nRun 'hourglass start' to enable limits.")
	} else {
		fmt.Fprintln(out, "Status: RUNNING")
		fmt.Fprintf(out, "PID: %d\n", state.PID)
		fmt.Fprintf(out, "Mode: %s\n", state.Mode)
		fmt.Fprintf(out, "Control channel: %s\n", state.ListenAddr)
		if state.LastHeartbeat > 0 {
			lastBeat := time.Unix(state.LastHeartbeat, 0)
			fmt.Fprintf(out, "Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
	}

	fmt.Fprintf(out, "Computer: %s\n", cfg.ComputerID)
	store, err := infra.OpenLimitStore(cfg.Store.Driver, cfg.Store.Path, cfg.ComputerID)
	if err == nil {
		defer store.Close()
		if limits, err := store.LoadAllLimits(cmd.Context(), cfg.ComputerID); err == nil {
			fmt.Fprintf(out, "Limits: %d\n", len(limits))
		}
	}
	fmt.Fprintln(out, "========================")
	return nil
}
