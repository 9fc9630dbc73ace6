// Package envelope defines the wire shape of one offline event exchanged
// between a device and the store server, and the typed payload for each
// event type. The payload union is closed: dispatch is an exhaustive
// switch, never a string lookup into handler maps built at runtime.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harper/till/internal/syncerr"
)

// EventType selects the server-side applier for an event.
type EventType string

const (
	TypeCompleteSale   EventType = "completeSale"
	TypeParkSale       EventType = "parkSale"
	TypeVoidSale       EventType = "voidSale"
	TypeRefundSale     EventType = "refundSale"
	TypeAdjustStock    EventType = "adjustStock"
	TypeRecordPayment  EventType = "recordPayment"
	TypeRestockProduct EventType = "restockProduct"
)

// Known reports whether t is a member of the closed event type set.
func (t EventType) Known() bool {
	switch t {
	case TypeCompleteSale, TypeParkSale, TypeVoidSale, TypeRefundSale,
		TypeAdjustStock, TypeRecordPayment, TypeRestockProduct:
		return true
	}
	return false
}

// SaleProducing reports whether events of this type create or mutate a
// business sale and therefore must carry a client transaction id.
func (t EventType) SaleProducing() bool {
	switch t {
	case TypeCompleteSale, TypeParkSale, TypeRefundSale:
		return true
	}
	return false
}

// PinGated reports whether events of this type require role permission
// and, when the store demands it, a PIN proof.
func (t EventType) PinGated() bool {
	switch t {
	case TypeVoidSale, TypeRefundSale, TypeAdjustStock, TypeRestockProduct:
		return true
	}
	return false
}

// ResultStatus is the server's per-event outcome, mirrored into the
// client queue row.
type ResultStatus string

const (
	StatusApplied         ResultStatus = "applied"
	StatusDuplicate       ResultStatus = "duplicate_ignored"
	StatusFailedRetry     ResultStatus = "failed_retry"
	StatusFailedPermanent ResultStatus = "failed_permanent"
)

// Terminal reports whether a status ends the event's lifecycle.
func (s ResultStatus) Terminal() bool {
	switch s {
	case StatusApplied, StatusDuplicate, StatusFailedPermanent:
		return true
	}
	return false
}

// Envelope wraps one offline event for transport.
//
// EventID is the transport-level idempotency key and is regenerated when
// an event is rebuilt after an app restart; ClientTxID is the
// business-level key for sale-producing types and survives restarts.
type Envelope struct {
	EventID         string          `json:"event_id"`
	StoreID         string          `json:"store_id"`
	DeviceID        string          `json:"device_id"`
	ClientTxID      string          `json:"client_tx_id,omitempty"`
	Type            EventType       `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAtDevice time.Time       `json:"created_at_device"`
}

// New builds an envelope with a fresh event id and the device clock.
func New(storeID, deviceID, clientTxID string, typ EventType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env := Envelope{
		EventID:         uuid.NewString(),
		StoreID:         storeID,
		DeviceID:        deviceID,
		ClientTxID:      clientTxID,
		Type:            typ,
		Payload:         raw,
		CreatedAtDevice: time.Now().UTC(),
	}
	return env, env.Validate()
}

// Validate checks the envelope shape. Payload contents are validated by
// the applier for the concrete type, not here.
func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return syncerr.Validation("BAD_REQUEST", "missing event_id")
	case e.StoreID == "":
		return syncerr.Validation("BAD_REQUEST", "missing store_id")
	case e.DeviceID == "":
		return syncerr.Validation("BAD_REQUEST", "missing device_id")
	case e.Type == "":
		return syncerr.Validation("BAD_REQUEST", "missing event_type")
	case !e.Type.Known():
		return syncerr.Validation("BAD_REQUEST", "unknown event_type %q", e.Type)
	case e.Type.SaleProducing() && e.ClientTxID == "":
		return syncerr.Validation("BAD_REQUEST", "%s requires client_tx_id", e.Type)
	case e.CreatedAtDevice.IsZero():
		return syncerr.Validation("BAD_REQUEST", "missing created_at_device")
	}
	return nil
}
