package cmd

import (
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/daemon"
	"github.com/Aman-CERP/docindex/internal/output"
)

// stopTimeout bounds the wait for a graceful shutdown before SIGKILL.
const stopTimeout = 15 * time.Second

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running server",
		Long: `Stop the running 'docindex serve' process.

Sends SIGTERM so queued files finish and the vector index is saved. The
process is killed if it has not exited after 15 seconds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStop(cmd)
		},
	}
}

func runStop(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	pid := daemon.NewPIDFile(daemonConfig(cfg).PIDPath)
	if !pid.IsRunning() {
		out.Status(output.IconInfo, "docindex is not running")
		_ = pid.Remove()
		return nil
	}

	if err := pid.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	out.Status(output.IconInfo, "Stopping docindex...")

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !pid.IsRunning() {
			out.Success("docindex stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	out.Warning("Graceful shutdown timed out, sending SIGKILL")
	if err := pid.Signal(syscall.SIGKILL); err != nil {
		return err
	}
	_ = pid.Remove()
	out.Success("docindex killed")
	return nil
}
