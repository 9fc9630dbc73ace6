package envelope

import (
	"encoding/json"

	"github.com/harper/till/internal/syncerr"
)

// All monetary amounts are integer minor units (cents).

// SaleLine is one line item on a sale.
type SaleLine struct {
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

// PaymentInput is one payment tendered for a sale.
type PaymentInput struct {
	Method string `json:"method"` // cash, card, account
	Amount int64  `json:"amount"`
}

// CompleteSale finalizes a sale: line items, payments, stock decrement.
type CompleteSale struct {
	Lines      []SaleLine     `json:"lines"`
	Payments   []PaymentInput `json:"payments"`
	CustomerID string         `json:"customer_id,omitempty"`
	Note       string         `json:"note,omitempty"`
}

// ParkSale stores an open sale with no stock movement or payment.
type ParkSale struct {
	Lines      []SaleLine `json:"lines"`
	CustomerID string     `json:"customer_id,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// VoidSale cancels a completed sale and restores its stock.
type VoidSale struct {
	SaleID string `json:"sale_id"`
	Reason string `json:"reason,omitempty"`
	Pin    string `json:"pin,omitempty"`
}

// RefundSale returns lines from a completed sale.
type RefundSale struct {
	SaleID string     `json:"sale_id"`
	Lines  []SaleLine `json:"lines"`
	Amount int64      `json:"amount"`
	Reason string     `json:"reason,omitempty"`
	Pin    string     `json:"pin,omitempty"`
}

// AdjustStock applies a manual inventory delta to one product.
type AdjustStock struct {
	ProductID string `json:"product_id"`
	DeltaQty  int64  `json:"delta_qty"`
	Reason    string `json:"reason"`
	Pin       string `json:"pin,omitempty"`
}

// RecordPayment adds a payment to an existing (parked or partially paid) sale.
type RecordPayment struct {
	SaleID string `json:"sale_id"`
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

// RestockProduct receives new stock for one product.
type RestockProduct struct {
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
	Reference string `json:"reference,omitempty"` // supplier invoice etc.
	Pin       string `json:"pin,omitempty"`
}

// Payload is the closed union of event payloads.
type Payload interface {
	eventPayload()
}

func (CompleteSale) eventPayload()   {}
func (ParkSale) eventPayload()       {}
func (VoidSale) eventPayload()       {}
func (RefundSale) eventPayload()     {}
func (AdjustStock) eventPayload()    {}
func (RecordPayment) eventPayload()  {}
func (RestockProduct) eventPayload() {}

// DecodePayload unmarshals the envelope payload into its typed variant.
// The switch is exhaustive over the closed event type set.
func DecodePayload(e Envelope) (Payload, error) {
	decode := func(dst Payload) (Payload, error) {
		if err := json.Unmarshal(e.Payload, dst); err != nil {
			return nil, syncerr.Validation("BAD_REQUEST", "malformed %s payload: %v", e.Type, err)
		}
		return dst, nil
	}
	switch e.Type {
	case TypeCompleteSale:
		return decode(&CompleteSale{})
	case TypeParkSale:
		return decode(&ParkSale{})
	case TypeVoidSale:
		return decode(&VoidSale{})
	case TypeRefundSale:
		return decode(&RefundSale{})
	case TypeAdjustStock:
		return decode(&AdjustStock{})
	case TypeRecordPayment:
		return decode(&RecordPayment{})
	case TypeRestockProduct:
		return decode(&RestockProduct{})
	default:
		return nil, syncerr.Validation("BAD_REQUEST", "unknown event_type %q", e.Type)
	}
}

// Pin extracts the PIN proof from a gated payload, empty otherwise.
func Pin(p Payload) string {
	switch v := p.(type) {
	case *VoidSale:
		return v.Pin
	case *RefundSale:
		return v.Pin
	case *AdjustStock:
		return v.Pin
	case *RestockProduct:
		return v.Pin
	}
	return ""
}
