package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/multi-agent/agent-shell/internal/database"
	"github.com/multi-agent/agent-shell/internal/store"
)

func newSessionsCmd() *cobra.Command {
	var (
		limit  int
		remove string
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or delete persisted transcript sessions",
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
			st := store.NewTranscriptStore(pool)

			if remove != "" {
				if err := st.Delete(cmd.Context(), remove); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", remove)
				return nil
			}

			sessions, err := st.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tENTRIES\tLAST SEEN")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.SessionID, s.Entries, s.LastSeen.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum sessions to list")
	cmd.Flags().StringVar(&remove, "delete", "", "delete the session with this ID")
	return cmd
}
