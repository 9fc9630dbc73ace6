package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "List local receipts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		receipts, err := db.ListReceipts(limit)
		if err != nil {
			return err
		}
		if len(receipts) == 0 {
			fmt.Println("no receipts")
			return nil
		}

		for _, r := range receipts {
			number := r.ReceiptNumber
			if number == "" {
				number = "(pending)"
			}
			fmt.Printf("%s  %-10s %-10s total=%d  %s\n", r.CreatedAt, number, r.Status, r.Total, r.ClientTxID)
		}
		return nil
	},
}

func init() {
	receiptsCmd.Flags().Int("limit", 20, "maximum receipts to show")
}
