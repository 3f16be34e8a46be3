package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/autoreply-agent/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Open(cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close(gdb)

		if err := db.Migrate(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables.\n", len(db.Models()))
		return nil
	},
}
