package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the cached product catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.ListCachedProducts()
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("no cached products: run 'till sync' first")
			return nil
		}

		for _, row := range rows {
			var p struct {
				Name     string `json:"name"`
				Barcode  string `json:"barcode"`
				Price    int64  `json:"price"`
				Quantity int64  `json:"stock_quantity"`
			}
			if err := json.Unmarshal(row.Snapshot, &p); err != nil {
				fmt.Printf("%s  (unreadable snapshot)\n", row.ID)
				continue
			}
			fmt.Printf("%-14s %-30s price=%d qty=%d %s\n", row.ID, p.Name, p.Price, p.Quantity, p.Barcode)
		}
		return nil
	},
}
