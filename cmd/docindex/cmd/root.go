// Package cmd provides the CLI commands for docindex.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/config"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/logging"
	"github.com/Aman-CERP/docindex/internal/profiling"
	"github.com/Aman-CERP/docindex/pkg/version"
)

// annotationOwnLogging marks commands that install their own logger.
const annotationOwnLogging = "own-logging"

// Persistent flags.
var (
	configFile   string
	debugMode    bool
	profileCPU   string
	profileMem   string
	profileTrace string
)

var (
	profileSession *profiling.Session
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docindex",
		Short: "Page-level semantic search over a document archive",
		Long: `docindex watches a tree of office documents, extracts the text of every
page (with OCR for scans), embeds it and serves hybrid semantic and
keyword search over the result.

Run 'docindex serve' to start the HTTP API, the local socket and the
directory watcher. The other commands talk to a running server when there
is one and open the index directly otherwise.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: startProfilingAndLogging,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return stopProfilingAndLogging()
		},
	}

	cmd.SetVersionTemplate("docindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: ./"+config.ProjectConfigName+")")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.docindex/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure to stderr, with the
// hint and code of a DocError.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		printError(os.Stderr, err)
	}
	return err
}

func printError(w io.Writer, err error) {
	var de *docerrors.DocError
	if errors.As(err, &de) {
		_, _ = fmt.Fprint(w, docerrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// startProfilingAndLogging starts profiling if requested and, unless the
// command logs on its own, a file logger: warnings by default, everything
// with --debug. The terminal is left to command output.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	opts := profiling.Options{CPU: profileCPU, Heap: profileMem, Trace: profileTrace}
	if opts.Enabled() {
		session, err := profiling.Start(opts)
		if err != nil {
			return err
		}
		profileSession = session
	}

	if _, own := cmd.Annotations[annotationOwnLogging]; own {
		return nil
	}

	level := "warn"
	if debugMode {
		level = "debug"
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.WriteToStderr = false
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("debug logging enabled", slog.String("command", cmd.CommandPath()))
	return nil
}

// stopProfilingAndLogging writes pending profiles and closes the log file.
func stopProfilingAndLogging() error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// loadConfig loads the configuration for the working directory, honouring
// --config.
func loadConfig() (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.Load(wd, configFile)
}
