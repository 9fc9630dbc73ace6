package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/harper/till/internal/envelope"
	"github.com/spf13/cobra"
)

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Record sales",
}

// parseLines parses repeated --line product:qty:unit_price flags.
// Prices are in minor units (cents).
func parseLines(raw []string) ([]envelope.SaleLine, int64, error) {
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("at least one --line is required")
	}
	var lines []envelope.SaleLine
	var total int64
	for _, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) != 3 {
			return nil, 0, fmt.Errorf("invalid line %q: expected product:qty:unit_price", r)
		}
		qty, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || qty <= 0 {
			return nil, 0, fmt.Errorf("invalid qty in line %q", r)
		}
		price, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || price < 0 {
			return nil, 0, fmt.Errorf("invalid unit_price in line %q", r)
		}
		lines = append(lines, envelope.SaleLine{ProductID: parts[0], Qty: qty, UnitPrice: price})
		total += qty * price
	}
	return lines, total, nil
}

// parsePayments parses repeated --pay method:amount flags.
func parsePayments(raw []string) ([]envelope.PaymentInput, error) {
	var payments []envelope.PaymentInput
	for _, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid payment %q: expected method:amount", r)
		}
		amount, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("invalid amount in payment %q", r)
		}
		payments = append(payments, envelope.PaymentInput{Method: parts[0], Amount: amount})
	}
	return payments, nil
}

var saleNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Ring up a sale (use --park to suspend without payment)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rawLines, _ := cmd.Flags().GetStringArray("line")
		rawPays, _ := cmd.Flags().GetStringArray("pay")
		customer, _ := cmd.Flags().GetString("customer")
		note, _ := cmd.Flags().GetString("note")
		park, _ := cmd.Flags().GetBool("park")

		lines, total, err := parseLines(rawLines)
		if err != nil {
			return err
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

		clientTxID := uuid.NewString()
		var env envelope.Envelope
		if park {
			env, err = envelope.New(creds.StoreID, creds.DeviceID, clientTxID, envelope.TypeParkSale,
				envelope.ParkSale{Lines: lines, CustomerID: customer, Note: note})
		} else {
			payments, perr := parsePayments(rawPays)
			if perr != nil {
				return perr
			}
			var paid int64
			for _, p := range payments {
				paid += p.Amount
			}
			if paid != total {
				return fmt.Errorf("payments (%d) do not cover total (%d)", paid, total)
			}
			env, err = envelope.New(creds.StoreID, creds.DeviceID, clientTxID, envelope.TypeCompleteSale,
				envelope.CompleteSale{Lines: lines, Payments: payments, CustomerID: customer, Note: note})
		}
		if err != nil {
			return err
		}

		if err := db.Enqueue(env); err != nil {
			return err
		}
		receipt, err := db.CreateReceipt(clientTxID, total, lines)
		if err != nil {
			return err
		}

		if park {
			fmt.Printf("parked sale %s, total %d\n", clientTxID, total)
		} else {
			fmt.Printf("sale %s queued, receipt %s, total %d\n", clientTxID, receipt.ID, total)
		}
		syncAfterMutation(db, creds)
		return nil
	},
}

var saleVoidCmd = &cobra.Command{
	Use:   "void <sale-id>",
	Short: "Void a sale and restore its stock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		pin, _ := cmd.Flags().GetString("pin")

		creds, err := requireAuth()
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		env, err := envelope.New(creds.StoreID, creds.DeviceID, uuid.NewString(), envelope.TypeVoidSale,
			envelope.VoidSale{SaleID: args[0], Reason: reason, Pin: pin})
		if err != nil {
			return err
		}
		if err := db.Enqueue(env); err != nil {
			return err
		}
		fmt.Printf("void of %s queued\n", args[0])
		syncAfterMutation(db, creds)
		return nil
	},
}

var saleRefundCmd = &cobra.Command{
	Use:   "refund <sale-id>",
	Short: "Refund all or part of a completed sale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawLines, _ := cmd.Flags().GetStringArray("line")
		amount, _ := cmd.Flags().GetInt64("amount")
		reason, _ := cmd.Flags().GetString("reason")
		pin, _ := cmd.Flags().GetString("pin")

		var lines []envelope.SaleLine
		if len(rawLines) > 0 {
			var err error
			lines, _, err = parseLines(rawLines)
			if err != nil {
				return err
			}
		}
		if len(lines) == 0 && amount <= 0 {
			return fmt.Errorf("either --line or --amount is required")
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

		env, err := envelope.New(creds.StoreID, creds.DeviceID, uuid.NewString(), envelope.TypeRefundSale,
			envelope.RefundSale{SaleID: args[0], Lines: lines, Amount: amount, Reason: reason, Pin: pin})
		if err != nil {
			return err
		}
		if err := db.Enqueue(env); err != nil {
			return err
		}
		fmt.Printf("refund of %s queued\n", args[0])
		syncAfterMutation(db, creds)
		return nil
	},
}

func init() {
	saleNewCmd.Flags().StringArray("line", nil, "sale line as product:qty:unit_price (repeatable)")
	saleNewCmd.Flags().StringArray("pay", nil, "payment as method:amount (repeatable)")
	saleNewCmd.Flags().String("customer", "", "customer id")
	saleNewCmd.Flags().String("note", "", "free-form note")
	saleNewCmd.Flags().Bool("park", false, "park the sale instead of completing it")

	saleVoidCmd.Flags().String("reason", "", "void reason")
	saleVoidCmd.Flags().String("pin", "", "owner PIN if the store requires one")

	saleRefundCmd.Flags().StringArray("line", nil, "refund line as product:qty:unit_price (repeatable)")
	saleRefundCmd.Flags().Int64("amount", 0, "refund amount in minor units (for amount-only refunds)")
	saleRefundCmd.Flags().String("reason", "", "refund reason")
	saleRefundCmd.Flags().String("pin", "", "owner PIN if the store requires one")

	saleCmd.AddCommand(saleNewCmd)
	saleCmd.AddCommand(saleVoidCmd)
	saleCmd.AddCommand(saleRefundCmd)
}
