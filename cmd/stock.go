package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/harper/till/internal/envelope"
	"github.com/spf13/cobra"
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Record stock movements",
}

var stockAdjustCmd = &cobra.Command{
	Use:   "adjust <product-id>",
	Short: "Apply a manual inventory delta",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, _ := cmd.Flags().GetInt64("delta")
		reason, _ := cmd.Flags().GetString("reason")
		pin, _ := cmd.Flags().GetString("pin")

		if delta == 0 {
			return fmt.Errorf("--delta must be non-zero")
		}
		if reason == "" {
			return fmt.Errorf("--reason is required")
		}

		creds, err := requireAuth()
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		env, err := envelope.New(creds.StoreID, creds.DeviceID, uuid.NewString(), envelope.TypeAdjustStock,
			envelope.AdjustStock{ProductID: args[0], DeltaQty: delta, Reason: reason, Pin: pin})
		if err != nil {
			return err
		}
		if err := db.Enqueue(env); err != nil {
			return err
		}
		fmt.Printf("adjustment of %s by %+d queued\n", args[0], delta)
		syncAfterMutation(db, creds)
		return nil
	},
}

var stockRestockCmd = &cobra.Command{
	Use:   "restock <product-id>",
	Short: "Receive new stock for a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, _ := cmd.Flags().GetInt64("qty")
		reference, _ := cmd.Flags().GetString("reference")
		pin, _ := cmd.Flags().GetString("pin")

		if qty <= 0 {
			return fmt.Errorf("--qty must be positive")
		}

		creds, err := requireAuth()
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		env, err := envelope.New(creds.StoreID, creds.DeviceID, uuid.NewString(), envelope.TypeRestockProduct,
			envelope.RestockProduct{ProductID: args[0], Qty: qty, Reference: reference, Pin: pin})
		if err != nil {
			return err
		}
		if err := db.Enqueue(env); err != nil {
			return err
		}
		fmt.Printf("restock of %s by %d queued\n", args[0], qty)
		syncAfterMutation(db, creds)
		return nil
	},
}

func init() {
	stockAdjustCmd.Flags().Int64("delta", 0, "signed quantity delta")
	stockAdjustCmd.Flags().String("reason", "", "adjustment reason (damage, recount, ...)")
	stockAdjustCmd.Flags().String("pin", "", "owner PIN if the store requires one")

	stockRestockCmd.Flags().Int64("qty", 0, "received quantity")
	stockRestockCmd.Flags().String("reference", "", "supplier reference or invoice number")
	stockRestockCmd.Flags().String("pin", "", "owner PIN if the store requires one")

	stockCmd.AddCommand(stockAdjustCmd)
	stockCmd.AddCommand(stockRestockCmd)
}
