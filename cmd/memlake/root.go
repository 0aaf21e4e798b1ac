package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/memlake/common/version"
	"github.com/bdobrica/memlake/internal/memlake/app"
	"github.com/bdobrica/memlake/internal/memlake/config"
	"github.com/bdobrica/memlake/internal/memlake/memory"
	"github.com/bdobrica/memlake/internal/memlake/observability"
)

const rootLongDesc string = `memlake consolidates conversation turns into a persistent index of
summarized topics and recalls them for later sessions.

Configuration is read from the YAML file given with --config (optional) and
then from MEMLAKE_* environment variables, which take precedence.`

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "memlake",
		Short:         "Conversation memory consolidation engine",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newRecallCmd(opts))
	cmd.AddCommand(newTopicsCmd(opts))
	cmd.AddCommand(newFirstCmd(opts))
	cmd.AddCommand(newMarkCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, observability.Setup(cfg.Log.Level, cfg.Log.Format), nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.BindAddr = addr
			}
			logger.Info("starting memlake", "version", version.Version, "commit", version.GitCommit)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialise memlake: %w", err)
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.bind_addr)")
	return cmd
}

// withEngine opens the configured index behind an engine that is never
// shut down, for read-mostly commands that must not archive a session.
func withEngine(ctx context.Context, opts *rootOptions, fn func(*memory.Engine) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	vocab := memory.NewVocabulary(cfg.Memory.ExtraKeywords...)
	engine := memory.NewEngine(app.EngineConfig(cfg, vocab, nil), backend.Index, app.NewSummarizer(cfg, vocab), logger)
	return fn(engine)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
