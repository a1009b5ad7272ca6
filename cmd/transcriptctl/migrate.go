package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/multi-agent/agent-shell/internal/database"
)

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending history database migrations",
		Long: `Applies the embedded SQL migrations (or those in --dir) to the database
named by POSTGRES_CONNECTION_STRING. Already applied versions are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.NewPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			var fsys fs.FS = database.Migrations()
			if dir != "" {
				fsys = os.DirFS(dir)
			}
			if err := database.Migrate(cmd.Context(), pool, fsys); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of *.sql migrations (default: embedded)")
	return cmd
}
