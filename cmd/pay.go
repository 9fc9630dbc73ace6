package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/harper/till/internal/envelope"
	"github.com/spf13/cobra"
)

var payCmd = &cobra.Command{
	Use:   "pay <sale-id>",
	Short: "Record a payment against an existing sale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		amount, _ := cmd.Flags().GetInt64("amount")

		if method == "" {
			return fmt.Errorf("--method is required")
		}
		if amount <= 0 {
			return fmt.Errorf("--amount must be positive")
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

		env, err := envelope.New(creds.StoreID, creds.DeviceID, uuid.NewString(), envelope.TypeRecordPayment,
			envelope.RecordPayment{SaleID: args[0], Method: method, Amount: amount})
		if err != nil {
			return err
		}
		if err := db.Enqueue(env); err != nil {
			return err
		}
		fmt.Printf("payment of %d (%s) against %s queued\n", amount, method, args[0])
		syncAfterMutation(db, creds)
		return nil
	},
}

func init() {
	payCmd.Flags().String("method", "", "payment method (cash, card, account)")
	payCmd.Flags().Int64("amount", 0, "amount in minor units")
}
