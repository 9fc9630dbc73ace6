package cmd

import (
	"fmt"

	"github.com/harper/till/internal/clientdb"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the device database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := getDataDir()
		if err != nil {
			return err
		}

		db, err := clientdb.Initialize(dir)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer db.Close()

		fmt.Printf("initialized device database in %s\n", dir)
		return nil
	},
}
