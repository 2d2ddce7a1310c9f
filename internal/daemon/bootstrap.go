package daemon

import (
	"fmt"
	"os"
	"os/exec"
)

// RunCommand is the CLI subcommand that runs the daemon in the foreground.
const RunCommand = "run"

// StartDaemon spawns the current executable as a detached daemon.
func StartDaemon(configPath string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate executable: %w", err)
	}
	return StartDaemonWithPath(executable, configPath)
}

// StartDaemonWithPath spawns binaryPath as a detached daemon and returns its pid.
func StartDaemonWithPath(binaryPath, configPath string) (int, error) {
	cmd := exec.Command(binaryPath, daemonArgs(configPath)...)
	cmd.SysProcAttr = detachedProcAttr()

	// No stdin/stdout/stderr - the daemon logs to its own file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// The daemon outlives this process.
	_ = cmd.Process.Release()
	return pid, nil
}

func daemonArgs(configPath string) []string {
	args := []string{RunCommand}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}
