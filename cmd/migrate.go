package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	logger := setupLogger()
	ctx := cmd.Context()

	a, err := buildApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := a.pool.Version()
	if err != nil {
		return err
	}
	fmt.Printf("schema version: %d\n", version)

	if err := a.pool.IntegrityCheck(); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	fmt.Println("integrity: ok")
	return nil
}
