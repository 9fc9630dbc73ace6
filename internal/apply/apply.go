// Package apply is the server-side mutation applier: one handler per
// event type, each responsible for making a replayed event a no-op that
// returns the original result. Transport retries are absorbed by the
// applied-event record (event_id), business retries by the client
// transaction id, and inventory deltas by the ledger's mutation key.
package apply

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/serverdb"
	"github.com/harper/till/internal/syncerr"
)

// Result is the outcome of applying one event.
type Result struct {
	EventID string
	Status  envelope.ResultStatus
	Data    json.RawMessage
	Err     error // set for failed statuses
}

// Applier applies pushed events against the authoritative store.
type Applier struct {
	db *serverdb.ServerDB
}

// New creates an applier over the given store.
func New(db *serverdb.ServerDB) *Applier {
	return &Applier{db: db}
}

// ApplyBatch applies each event independently: one event's failure never
// affects the others' outcomes.
func (a *Applier) ApplyBatch(identity *serverdb.TokenIdentity, events []envelope.Envelope) []Result {
	results := make([]Result, 0, len(events))
	for _, env := range events {
		results = append(results, a.Apply(identity, env))
	}
	return results
}

// Apply runs one event through validation, the permission/PIN gate, and
// its type's handler, classifying any error as permanent or retryable.
func (a *Applier) Apply(identity *serverdb.TokenIdentity, env envelope.Envelope) Result {
	data, duplicate, err := a.apply(identity, env)
	if err != nil {
		status := envelope.StatusFailedPermanent
		if syncerr.IsRetryable(err) {
			status = envelope.StatusFailedRetry
		} else {
			slog.Info("event rejected", "event", env.EventID, "type", env.Type, "code", syncerr.CodeOf(err))
		}
		return Result{EventID: env.EventID, Status: status, Err: err}
	}

	status := envelope.StatusApplied
	if duplicate {
		status = envelope.StatusDuplicate
	}
	return Result{EventID: env.EventID, Status: status, Data: data}
}

func (a *Applier) apply(identity *serverdb.TokenIdentity, env envelope.Envelope) (json.RawMessage, bool, error) {
	if err := env.Validate(); err != nil {
		return nil, false, err
	}
	if env.StoreID != identity.StoreID || env.DeviceID != identity.DeviceID {
		return nil, false, syncerr.Validation("BAD_REQUEST",
			"event %s is scoped to another store or device", env.EventID)
	}

	// Transport-level replay: same event_id, return the original outcome.
	if prior, err := a.db.GetAppliedEvent(env.EventID); err != nil {
		return nil, false, err
	} else if prior != nil {
		return prior.Data, true, nil
	}

	payload, err := envelope.DecodePayload(env)
	if err != nil {
		return nil, false, err
	}

	settings, err := a.db.GetStore(env.StoreID)
	if err != nil {
		return nil, false, err
	}
	if settings == nil {
		return nil, false, syncerr.NotFound("store %s", env.StoreID)
	}

	if env.Type.PinGated() {
		if err := a.gate(identity, settings, env.Type, payload); err != nil {
			return nil, false, err
		}
	}

	var data any
	var duplicate bool
	switch p := payload.(type) {
	case *envelope.CompleteSale:
		data, duplicate, err = a.completeSale(env, settings, p)
	case *envelope.ParkSale:
		data, duplicate, err = a.parkSale(env, p)
	case *envelope.VoidSale:
		data, duplicate, err = a.voidSale(env, settings, p)
	case *envelope.RefundSale:
		data, duplicate, err = a.refundSale(env, settings, p)
	case *envelope.AdjustStock:
		data, duplicate, err = a.adjustStock(env, settings, p)
	case *envelope.RecordPayment:
		data, duplicate, err = a.recordPayment(env, p)
	case *envelope.RestockProduct:
		data, duplicate, err = a.restockProduct(env, settings, p)
	default:
		err = syncerr.Validation("BAD_REQUEST", "unknown event_type %q", env.Type)
	}
	if err != nil {
		return nil, false, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("marshal result: %w", err)
	}

	status := string(envelope.StatusApplied)
	if duplicate {
		status = string(envelope.StatusDuplicate)
	}
	if err := a.db.RecordAppliedEvent(&serverdb.AppliedEvent{
		EventID:   env.EventID,
		StoreID:   env.StoreID,
		DeviceID:  env.DeviceID,
		EventType: string(env.Type),
		Status:    status,
		Data:      raw,
	}); err != nil {
		// The business effect is durable; losing the transport record
		// only means a replay re-enters the handler, which dedups again.
		slog.Warn("record applied event", "event", env.EventID, "err", err)
	}

	return raw, duplicate, nil
}

// gate enforces role permission and, when the store demands it, the PIN
// proof for history- and inventory-rewriting event types.
func (a *Applier) gate(identity *serverdb.TokenIdentity, settings *serverdb.StoreSettings, typ envelope.EventType, payload envelope.Payload) error {
	perm, pinRequired := gateFor(typ, settings)
	if !serverdb.HasPermission(identity.Role, perm) {
		return syncerr.Permission("role %s lacks %s", identity.Role, perm)
	}
	if !pinRequired {
		return nil
	}
	pin := envelope.Pin(payload)
	if pin == "" {
		return syncerr.PinRequired("%s requires a PIN at this store", typ)
	}
	if !settings.CheckOwnerPIN(pin) {
		return syncerr.Permission("invalid PIN")
	}
	return nil
}

func gateFor(typ envelope.EventType, s *serverdb.StoreSettings) (serverdb.Permission, bool) {
	switch typ {
	case envelope.TypeVoidSale:
		return serverdb.PermVoidSale, s.RequirePinForVoid
	case envelope.TypeRefundSale:
		return serverdb.PermRefundSale, s.RequirePinForRefund
	case envelope.TypeAdjustStock:
		return serverdb.PermAdjustStock, s.RequirePinForStock
	case envelope.TypeRestockProduct:
		return serverdb.PermRestockStock, s.RequirePinForStock
	}
	// Not gated; callers only reach here for gated types.
	return "", false
}
