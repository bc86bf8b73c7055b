package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/embed"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/lifecycle"
	"github.com/Aman-CERP/docindex/internal/output"
)

func newPullCmd() *cobra.Command {
	var (
		checkOnly  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "pull [model]",
		Short: "Download the embedding model into the Ollama server",
		Long: `Make sure the Ollama server used for embeddings has the configured model,
downloading it when missing.

Without an argument the model from embeddings.model is pulled. Nothing is
needed for the static provider.`,
		Example: `  docindex pull
  docindex pull bge-m3
  docindex pull --check`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			model := modelName(cfg)
			if len(args) > 0 {
				model = args[0]
			}
			return runPull(cmd.Context(), cmd.OutOrStdout(), cfg, model, checkOnly, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether the model is present")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "With --check, output as JSON")
	return cmd
}

// modelName returns the configured Ollama model or its default.
func modelName(cfg *config.Config) string {
	if cfg.Embeddings.Model != "" {
		return cfg.Embeddings.Model
	}
	return embed.DefaultOllamaModel
}

func runPull(ctx context.Context, w io.Writer, cfg *config.Config, model string, checkOnly, jsonOutput bool) error {
	out := output.New(w)

	if embed.ParseProvider(cfg.Embeddings.Provider) != embed.ProviderOllama {
		out.Statusf(output.IconInfo, "Provider %q needs no model download", cfg.Embeddings.Provider)
		return nil
	}

	m := lifecycle.NewOllamaManager(cfg.Embeddings.OllamaHost)

	if checkOnly {
		st := m.Status(ctx, model)
		if jsonOutput {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		switch {
		case !st.Running:
			out.Errorf("Ollama is not reachable at %s", st.Host)
		case st.HasModel:
			out.Successf("Model %s is available on %s", model, st.Host)
		default:
			out.Warningf("Model %s is missing on %s; run 'docindex pull'", model, st.Host)
		}
		return nil
	}

	if !m.IsRunning(ctx) {
		return docerrors.New(docerrors.ErrCodeEmbedderUnavailable,
			"ollama is not reachable at "+m.Host(), nil).
			WithSuggestion("start the Ollama server or set embeddings.ollama_host")
	}

	out.Statusf("", "Pulling %s from %s", model, m.Host())
	lastStatus, lastStep := "", -1
	err := m.PullModel(ctx, model, func(p lifecycle.PullProgress) {
		// One line per status change and per 10% of a download.
		step := int(p.Percent) / 10
		if p.Status == lastStatus && (p.Total == 0 || step == lastStep) {
			return
		}
		lastStatus, lastStep = p.Status, step
		if p.Total > 0 {
			out.Statusf("", "%s: %3.0f%% of %s", p.Status, p.Percent, formatMB(p.Total))
			return
		}
		out.Status("", p.Status)
	})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", model, err)
	}
	out.Successf("Model %s ready", model)
	return nil
}

func formatMB(n int64) string {
	return fmt.Sprintf("%d MB", n/(1024*1024))
}
