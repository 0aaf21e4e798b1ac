package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bdobrica/memlake/internal/memlake/memory"
	"github.com/bdobrica/memlake/internal/memlake/store"
)

const migrateLongDesc string = `Copy the JSON topic index into the SQLite database.

The source is memory.index_path and the target is memory.database_path. The
target must be empty unless --force is given, in which case its topics are
replaced. Set memory.backend to sqlite afterwards to use it.`

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the JSON topic index into SQLite",
		Long:  migrateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			src := memory.NewJSONFileStore(cfg.Memory.IndexPath, cfg.Memory.WriteAttempts, logger)
			entries, err := src.Load(ctx)
			if err != nil {
				return fmt.Errorf("read %s: %w", cfg.Memory.IndexPath, err)
			}

			if err := os.MkdirAll(filepath.Dir(cfg.Memory.DatabasePath), 0o755); err != nil {
				return err
			}
			db, err := store.New(ctx, cfg.Memory.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			dst := memory.NewSQLiteStore(db.DB(), cfg.Memory.WriteAttempts, logger)
			existing, err := dst.Load(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 && !force {
				return fmt.Errorf("%s already holds %d topics; use --force to replace them", cfg.Memory.DatabasePath, len(existing))
			}
			if err := dst.Save(ctx, entries); err != nil {
				return fmt.Errorf("write %s: %w", cfg.Memory.DatabasePath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d topics from %s to %s\n", len(entries), cfg.Memory.IndexPath, cfg.Memory.DatabasePath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace topics already in the database")
	return cmd
}
