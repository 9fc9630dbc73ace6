package apply

import (
	"fmt"

	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/serverdb"
	"github.com/harper/till/internal/syncerr"
)

// SaleData is the per-sale result returned to the device; the client
// projects it into the local receipt.
type SaleData struct {
	SaleID        string `json:"sale_id"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
	Status        string `json:"status"`
	Total         int64  `json:"total"`
}

// StockData is the result of a stock-mutating event.
type StockData struct {
	ProductID    string `json:"product_id"`
	ResultingQty int64  `json:"resulting_qty"`
	MutationKey  string `json:"mutation_key"`
}

func saleData(s *serverdb.Sale) SaleData {
	return SaleData{SaleID: s.ID, ReceiptNumber: s.ReceiptNumber, Status: s.Status, Total: s.Total}
}

func validateLines(lines []envelope.SaleLine) (int64, error) {
	if len(lines) == 0 {
		return 0, syncerr.Validation("BAD_REQUEST", "sale has no lines")
	}
	var total int64
	for _, l := range lines {
		if l.ProductID == "" {
			return 0, syncerr.Validation("BAD_REQUEST", "line missing product_id")
		}
		if l.Qty <= 0 {
			return 0, syncerr.Validation("BAD_REQUEST", "line qty must be positive")
		}
		if l.UnitPrice < 0 {
			return 0, syncerr.Validation("BAD_REQUEST", "line unit_price must not be negative")
		}
		total += l.Qty * l.UnitPrice
	}
	return total, nil
}

// lineDeltas collapses sale lines into one quantity per product, in
// first-seen order. The ledger keys a sale's effect on a product once,
// so a product listed on two lines must reach it as a single delta.
func lineDeltas(lines []envelope.SaleLine) ([]string, map[string]int64) {
	order := make([]string, 0, len(lines))
	qty := make(map[string]int64, len(lines))
	for _, l := range lines {
		if _, seen := qty[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		qty[l.ProductID] += l.Qty
	}
	return order, qty
}

// completeSale applies a finalized sale: sale row, stock decrements
// through the ledger, payments. The sale row is the idempotency anchor;
// a replay after a partial crash re-runs the stock and payment steps,
// which dedup on their own keys.
func (a *Applier) completeSale(env envelope.Envelope, settings *serverdb.StoreSettings, p *envelope.CompleteSale) (any, bool, error) {
	total, err := validateLines(p.Lines)
	if err != nil {
		return nil, false, err
	}
	var paid int64
	for _, pay := range p.Payments {
		if pay.Amount <= 0 {
			return nil, false, syncerr.Validation("BAD_REQUEST", "payment amount must be positive")
		}
		paid += pay.Amount
	}
	if paid != total {
		return nil, false, syncerr.BusinessRule("PAYMENT_MISMATCH",
			"payments %d do not cover total %d", paid, total)
	}

	existing, err := a.db.GetSaleByClientTx(env.StoreID, env.ClientTxID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		// Finish whatever a crashed prior attempt left undone.
		if err := a.applySaleStock(existing, p.Lines, settings); err != nil {
			return nil, false, err
		}
		if err := a.applySalePayments(env, existing, p.Payments); err != nil {
			return nil, false, err
		}
		return saleData(existing), true, nil
	}

	// Reject an unfillable sale before any row is written. Quantities
	// are checked per product, not per line, so a product split across
	// lines is measured against its combined demand.
	if !settings.AllowNegativeStock {
		products, qtys := lineDeltas(p.Lines)
		for _, id := range products {
			prod, err := a.db.GetProduct(env.StoreID, id)
			if err != nil {
				return nil, false, err
			}
			if prod == nil {
				return nil, false, syncerr.NotFound("product %s", id)
			}
			if prod.StockQuantity-qtys[id] < 0 {
				return nil, false, syncerr.BusinessRule("NEGATIVE_STOCK",
					"product %s: insufficient stock for qty %d", id, qtys[id])
			}
		}
	}

	receipt, err := a.db.NextReceiptNumber(env.StoreID)
	if err != nil {
		return nil, false, err
	}
	sale := &serverdb.Sale{
		StoreID:       env.StoreID,
		DeviceID:      env.DeviceID,
		ClientTxID:    env.ClientTxID,
		ReceiptNumber: receipt,
		CustomerID:    p.CustomerID,
		Status:        serverdb.SaleCompleted,
		Total:         total,
		Note:          p.Note,
	}
	lines := make([]serverdb.SaleLineRow, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = serverdb.SaleLineRow{ProductID: l.ProductID, Qty: l.Qty, UnitPrice: l.UnitPrice}
	}
	if err := a.db.InsertSale(sale, lines); err != nil {
		return nil, false, fmt.Errorf("insert sale: %w", err)
	}

	if err := a.applySaleStock(sale, p.Lines, settings); err != nil {
		return nil, false, err
	}
	if err := a.applySalePayments(env, sale, p.Payments); err != nil {
		return nil, false, err
	}

	return saleData(sale), false, nil
}

func (a *Applier) applySaleStock(sale *serverdb.Sale, lines []envelope.SaleLine, settings *serverdb.StoreSettings) error {
	products, qtys := lineDeltas(lines)
	for _, id := range products {
		_, err := a.db.ApplyStockMutation(serverdb.StockMutation{
			StoreID:       sale.StoreID,
			ProductID:     id,
			DeltaQty:      -qtys[id],
			Reason:        "sale",
			ReferenceType: "sale",
			ReferenceID:   sale.ID,
		}, settings.AllowNegativeStock)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applySalePayments(env envelope.Envelope, sale *serverdb.Sale, payments []envelope.PaymentInput) error {
	for i, pay := range payments {
		// Deterministic ids make payment inserts replay-safe.
		id := fmt.Sprintf("pay_%s_%d", env.ClientTxID, i)
		if err := a.db.AddPayment(id, sale.ID, pay.Method, pay.Amount); err != nil {
			return err
		}
	}
	return nil
}

// parkSale stores an open sale without stock movement or payment.
func (a *Applier) parkSale(env envelope.Envelope, p *envelope.ParkSale) (any, bool, error) {
	total, err := validateLines(p.Lines)
	if err != nil {
		return nil, false, err
	}

	existing, err := a.db.GetSaleByClientTx(env.StoreID, env.ClientTxID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return saleData(existing), true, nil
	}

	sale := &serverdb.Sale{
		StoreID:    env.StoreID,
		DeviceID:   env.DeviceID,
		ClientTxID: env.ClientTxID,
		CustomerID: p.CustomerID,
		Status:     serverdb.SaleParked,
		Total:      total,
		Note:       p.Note,
	}
	lines := make([]serverdb.SaleLineRow, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = serverdb.SaleLineRow{ProductID: l.ProductID, Qty: l.Qty, UnitPrice: l.UnitPrice}
	}
	if err := a.db.InsertSale(sale, lines); err != nil {
		return nil, false, fmt.Errorf("insert parked sale: %w", err)
	}
	return saleData(sale), false, nil
}

// voidSale cancels a sale. Completed sales get their stock restored
// through the ledger before the status flips, so a crash in between is
// recovered by retrying: the restore dedups, the flip then lands.
func (a *Applier) voidSale(env envelope.Envelope, settings *serverdb.StoreSettings, p *envelope.VoidSale) (any, bool, error) {
	if p.SaleID == "" {
		return nil, false, syncerr.Validation("BAD_REQUEST", "voidSale missing sale_id")
	}
	sale, err := a.db.GetSale(env.StoreID, p.SaleID)
	if err != nil {
		return nil, false, err
	}
	if sale == nil {
		return nil, false, syncerr.NotFound("sale %s", p.SaleID)
	}
	if sale.Status == serverdb.SaleVoided {
		return saleData(sale), true, nil
	}

	if sale.Status == serverdb.SaleCompleted {
		lines, err := a.db.GetSaleLines(sale.ID)
		if err != nil {
			return nil, false, err
		}
		// Restore one delta per product, the exact inverse of the
		// per-product decrement the sale wrote to the ledger.
		restore := make(map[string]int64, len(lines))
		products := make([]string, 0, len(lines))
		for _, l := range lines {
			if _, seen := restore[l.ProductID]; !seen {
				products = append(products, l.ProductID)
			}
			restore[l.ProductID] += l.Qty
		}
		for _, id := range products {
			if _, err := a.db.ApplyStockMutation(serverdb.StockMutation{
				StoreID:       sale.StoreID,
				ProductID:     id,
				DeltaQty:      restore[id],
				Reason:        "void",
				ReferenceType: "void_sale",
				ReferenceID:   sale.ID,
			}, true); err != nil {
				return nil, false, err
			}
		}
	}

	if err := a.db.SetSaleStatus(env.StoreID, sale.ID, serverdb.SaleVoided); err != nil {
		return nil, false, err
	}
	sale.Status = serverdb.SaleVoided
	return saleData(sale), false, nil
}

// refundSale returns lines from a completed sale, idempotent by the
// event's client transaction id.
func (a *Applier) refundSale(env envelope.Envelope, settings *serverdb.StoreSettings, p *envelope.RefundSale) (any, bool, error) {
	if p.SaleID == "" {
		return nil, false, syncerr.Validation("BAD_REQUEST", "refundSale missing sale_id")
	}

	if saleID, amount, ok, err := a.db.GetRefundByClientTx(env.StoreID, env.ClientTxID); err != nil {
		return nil, false, err
	} else if ok {
		return map[string]any{"sale_id": saleID, "amount": amount}, true, nil
	}

	sale, err := a.db.GetSale(env.StoreID, p.SaleID)
	if err != nil {
		return nil, false, err
	}
	if sale == nil {
		return nil, false, syncerr.NotFound("sale %s", p.SaleID)
	}
	if sale.Status != serverdb.SaleCompleted {
		return nil, false, syncerr.BusinessRule("REFUND_NOT_COMPLETED",
			"sale %s is %s, only completed sales can be refunded", sale.ID, sale.Status)
	}

	amount := p.Amount
	if amount == 0 {
		for _, l := range p.Lines {
			amount += l.Qty * l.UnitPrice
		}
	}
	if amount <= 0 {
		return nil, false, syncerr.Validation("BAD_REQUEST", "refund amount must be positive")
	}
	if remaining := sale.Total - sale.Refunded; amount > remaining {
		return nil, false, syncerr.BusinessRule("REFUND_EXCEEDS_BALANCE",
			"refund %d exceeds remaining balance %d", amount, remaining)
	}

	// Returned goods go back to stock, one delta per product; the client
	// tx id keys the mutation so a crashed attempt replays cleanly.
	for _, l := range p.Lines {
		if l.Qty <= 0 {
			return nil, false, syncerr.Validation("BAD_REQUEST", "refund line qty must be positive")
		}
	}
	products, qtys := lineDeltas(p.Lines)
	for _, id := range products {
		if _, err := a.db.ApplyStockMutation(serverdb.StockMutation{
			StoreID:       env.StoreID,
			ProductID:     id,
			DeltaQty:      qtys[id],
			Reason:        "refund",
			ReferenceType: "refund",
			ReferenceID:   env.ClientTxID,
		}, true); err != nil {
			return nil, false, err
		}
	}

	if err := a.db.InsertRefund(env.StoreID, sale.ID, env.ClientTxID, amount, p.Reason); err != nil {
		return nil, false, err
	}
	return map[string]any{"sale_id": sale.ID, "amount": amount}, false, nil
}

// adjustStock applies a manual inventory delta through the ledger.
func (a *Applier) adjustStock(env envelope.Envelope, settings *serverdb.StoreSettings, p *envelope.AdjustStock) (any, bool, error) {
	if p.ProductID == "" {
		return nil, false, syncerr.Validation("BAD_REQUEST", "adjustStock missing product_id")
	}
	if p.DeltaQty == 0 {
		return nil, false, syncerr.Validation("BAD_REQUEST", "adjustStock delta_qty must be non-zero")
	}

	entry, err := a.db.ApplyStockMutation(serverdb.StockMutation{
		StoreID:       env.StoreID,
		ProductID:     p.ProductID,
		DeltaQty:      p.DeltaQty,
		Reason:        p.Reason,
		ReferenceType: "adjustment",
		ReferenceID:   env.EventID,
	}, settings.AllowNegativeStock)
	if err != nil {
		return nil, false, err
	}
	return StockData{ProductID: p.ProductID, ResultingQty: entry.ResultingQty, MutationKey: entry.MutationKey}, false, nil
}

// recordPayment adds a payment to a parked or partially paid sale,
// completing it once the balance is covered.
func (a *Applier) recordPayment(env envelope.Envelope, p *envelope.RecordPayment) (any, bool, error) {
	if p.SaleID == "" {
		return nil, false, syncerr.Validation("BAD_REQUEST", "recordPayment missing sale_id")
	}
	if p.Amount <= 0 {
		return nil, false, syncerr.Validation("BAD_REQUEST", "payment amount must be positive")
	}

	sale, err := a.db.GetSale(env.StoreID, p.SaleID)
	if err != nil {
		return nil, false, err
	}
	if sale == nil {
		return nil, false, syncerr.NotFound("sale %s", p.SaleID)
	}
	if sale.Status == serverdb.SaleVoided {
		return nil, false, syncerr.BusinessRule("SALE_VOIDED", "sale %s is voided", sale.ID)
	}

	// The event id keys the payment row. If the row is already there the
	// event is a crash replay whose money PaidTotal already counts; it
	// must skip the balance check or it would be refused against itself.
	paymentID := "pay_" + env.EventID
	replayed, err := a.db.HasPayment(paymentID)
	if err != nil {
		return nil, false, err
	}

	paid, err := a.db.PaidTotal(sale.ID)
	if err != nil {
		return nil, false, err
	}
	if !replayed {
		if paid+p.Amount > sale.Total {
			return nil, false, syncerr.BusinessRule("OVERPAYMENT",
				"payment %d exceeds outstanding balance %d", p.Amount, sale.Total-paid)
		}
		if err := a.db.AddPayment(paymentID, sale.ID, p.Method, p.Amount); err != nil {
			return nil, false, err
		}
		paid += p.Amount
	}

	// Runs on replay too: the crash may have landed between the payment
	// insert and the parked sale's completion.
	if paid == sale.Total && sale.Status == serverdb.SaleParked {
		receipt, err := a.db.NextReceiptNumber(env.StoreID)
		if err != nil {
			return nil, false, err
		}
		if err := a.db.CompleteParkedSale(env.StoreID, sale.ID, receipt); err != nil {
			return nil, false, err
		}
		sale.Status = serverdb.SaleCompleted
		sale.ReceiptNumber = receipt
	}

	return map[string]any{"sale_id": sale.ID, "paid_total": paid, "status": sale.Status}, replayed, nil
}

// restockProduct receives new stock through the ledger.
func (a *Applier) restockProduct(env envelope.Envelope, settings *serverdb.StoreSettings, p *envelope.RestockProduct) (any, bool, error) {
	if p.ProductID == "" {
		return nil, false, syncerr.Validation("BAD_REQUEST", "restockProduct missing product_id")
	}
	if p.Qty <= 0 {
		return nil, false, syncerr.Validation("BAD_REQUEST", "restock qty must be positive")
	}

	reason := "restock"
	if p.Reference != "" {
		reason = "restock " + p.Reference
	}
	entry, err := a.db.ApplyStockMutation(serverdb.StockMutation{
		StoreID:       env.StoreID,
		ProductID:     p.ProductID,
		DeltaQty:      p.Qty,
		Reason:        reason,
		ReferenceType: "restock",
		ReferenceID:   env.EventID,
	}, true)
	if err != nil {
		return nil, false, err
	}
	return StockData{ProductID: p.ProductID, ResultingQty: entry.ResultingQty, MutationKey: entry.MutationKey}, false, nil
}
