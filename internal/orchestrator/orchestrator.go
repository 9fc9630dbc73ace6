// Package orchestrator runs the device's sync cycle: drain the outbound
// event queue in batches, reconcile per-event verdicts, then pull catalog
// and settings changes. One cycle runs at a time per database; concurrent
// callers join the in-flight cycle instead of starting another.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harper/till/internal/clientdb"
	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/syncclient"
	"github.com/harper/till/internal/syncerr"
)

const (
	// MaxBatch is the largest number of events sent in one push request.
	MaxBatch = 25

	// DefaultStuckPushAge is how long a row may sit in pushing before it
	// is presumed orphaned by a crash and recovered. The guard exists
	// because another CLI process may legitimately hold a fresh push.
	DefaultStuckPushAge = 5 * time.Minute
)

// Summary is the outcome of one sync cycle.
type Summary struct {
	Pushed     int
	Applied    int
	Duplicates int
	Failed     int
	Retrying   int
	Pulled     int
	Cursor     string
}

// Orchestrator drives sync for one device database.
type Orchestrator struct {
	db       *clientdb.ClientDB
	client   *syncclient.Client
	deviceID string

	// StuckPushAge is how old a pushing row must be before a cycle
	// recovers it. Set it before the first cycle; zero recovers
	// immediately, which suits a single-process deployment.
	StuckPushAge time.Duration

	mu      sync.Mutex
	running bool
	waiters []chan outcome
}

type outcome struct {
	summary *Summary
	err     error
}

// New creates an orchestrator for one device.
func New(db *clientdb.ClientDB, client *syncclient.Client, deviceID string) *Orchestrator {
	return &Orchestrator{db: db, client: client, deviceID: deviceID, StuckPushAge: DefaultStuckPushAge}
}

// SyncNow runs a full push/pull cycle. If a cycle is already in flight the
// caller blocks until that cycle finishes and receives its result; queued
// work the running cycle missed is picked up by the wakeup it left behind.
func (o *Orchestrator) SyncNow(ctx context.Context) (*Summary, error) {
	o.mu.Lock()
	if o.running {
		ch := make(chan outcome, 1)
		o.waiters = append(o.waiters, ch)
		o.mu.Unlock()
		select {
		case out := <-ch:
			return out.summary, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.running = true
	o.mu.Unlock()

	summary, err := o.cycle(ctx)

	o.mu.Lock()
	o.running = false
	waiters := o.waiters
	o.waiters = nil
	o.mu.Unlock()
	for _, ch := range waiters {
		ch <- outcome{summary: summary, err: err}
	}
	return summary, err
}

// Run blocks running sync cycles until ctx is cancelled: one on every
// enqueue wakeup (debounced) and one per interval as a catch-up for
// failed_retry events. interval <= 0 disables the periodic cycle.
func (o *Orchestrator) Run(ctx context.Context, debounce, interval time.Duration) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if interval > 0 {
		ticker = time.NewTicker(interval)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.db.Notifications():
			// Absorb the burst of wakeups a multi-event command produces.
			if debounce > 0 {
				timer := time.NewTimer(debounce)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
		case <-tick:
		}

		if _, err := o.SyncNow(ctx); err != nil {
			slog.Debug("background sync", "err", err)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) (*Summary, error) {
	if n, err := o.db.RecoverStuck(o.StuckPushAge); err != nil {
		return nil, fmt.Errorf("recover stuck events: %w", err)
	} else if n > 0 {
		slog.Warn("recovered events stuck in pushing", "count", n)
	}

	recordID, err := o.db.BeginSyncRecord()
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	cycleErr := o.push(ctx, summary)
	if cycleErr == nil {
		cycleErr = o.pull(ctx, summary)
	}

	errMsg := ""
	if cycleErr != nil {
		errMsg = cycleErr.Error()
	}
	if err := o.db.FinishSyncRecord(recordID, summary.Pushed, summary.Applied, summary.Duplicates, summary.Failed, summary.Pulled, errMsg); err != nil {
		slog.Warn("finish sync record", "err", err)
	}
	return summary, cycleErr
}

// push drains the queue in batches. Events the server answers with
// failed_retry stay eligible, so the loop tracks what this cycle already
// attempted and leaves those for the next cycle instead of hammering.
func (o *Orchestrator) push(ctx context.Context, summary *Summary) error {
	attempted := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pending, err := o.db.ListPending(MaxBatch)
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}

		var batch []clientdb.QueuedEvent
		for _, ev := range pending {
			if !attempted[ev.Envelope.EventID] {
				batch = append(batch, ev)
			}
		}
		if len(batch) == 0 {
			return nil
		}

		if err := o.pushBatch(batch, summary); err != nil {
			return err
		}
		for _, ev := range batch {
			attempted[ev.Envelope.EventID] = true
		}
	}
}

func (o *Orchestrator) pushBatch(batch []clientdb.QueuedEvent, summary *Summary) error {
	ids := make([]string, len(batch))
	events := make([]envelope.Envelope, len(batch))
	for i, ev := range batch {
		ids[i] = ev.Envelope.EventID
		events[i] = ev.Envelope
	}

	if err := o.db.MarkPushing(ids); err != nil {
		return err
	}

	resp, err := o.client.Push(&syncclient.PushRequest{
		StoreID:  o.client.StoreID,
		DeviceID: o.deviceID,
		Events:   events,
	})
	if err != nil {
		// The whole batch failed in transport. Auth-class refusals will
		// never succeed on retry; anything else is presumed transient.
		status := envelope.StatusFailedRetry
		if syncerr.TransportPermanent(err) {
			status = envelope.StatusFailedPermanent
		}
		for _, id := range ids {
			if applyErr := o.db.ApplyResult(id, status, err.Error()); applyErr != nil {
				slog.Warn("record push failure", "event", id, "err", applyErr)
			}
		}
		return fmt.Errorf("push batch: %w", err)
	}

	results := make(map[string]syncclient.PushResult, len(resp.Results))
	for _, res := range resp.Results {
		results[res.EventID] = res
	}

	for _, ev := range batch {
		summary.Pushed++
		res, ok := results[ev.Envelope.EventID]
		if !ok {
			// The server answered but said nothing about this event.
			// Treat as retryable; dedup makes the retry safe.
			if err := o.db.ApplyResult(ev.Envelope.EventID, envelope.StatusFailedRetry, "no result in push response"); err != nil {
				slog.Warn("record missing result", "event", ev.Envelope.EventID, "err", err)
			}
			summary.Retrying++
			continue
		}

		errMsg := ""
		if res.Error != nil {
			errMsg = res.Error.Message
		}
		if err := o.db.ApplyResult(ev.Envelope.EventID, res.Status, errMsg); err != nil {
			slog.Warn("record push result", "event", ev.Envelope.EventID, "err", err)
			continue
		}

		switch res.Status {
		case envelope.StatusApplied:
			summary.Applied++
		case envelope.StatusDuplicate:
			summary.Duplicates++
		case envelope.StatusFailedRetry:
			summary.Retrying++
		case envelope.StatusFailedPermanent:
			summary.Failed++
		}

		o.reconcileReceipt(ev.Envelope, res)
	}
	return nil
}

// reconcileReceipt projects a sale verdict onto the local receipt.
func (o *Orchestrator) reconcileReceipt(env envelope.Envelope, res syncclient.PushResult) {
	if !env.Type.SaleProducing() {
		return
	}

	switch res.Status {
	case envelope.StatusApplied, envelope.StatusDuplicate:
		var data struct {
			SaleID        string `json:"sale_id"`
			ReceiptNumber string `json:"receipt_number"`
		}
		if err := json.Unmarshal(res.Data, &data); err != nil || data.SaleID == "" {
			slog.Warn("sale result missing sale data", "event", env.EventID)
			return
		}
		if err := o.db.ConfirmReceipt(env.ClientTxID, data.SaleID, data.ReceiptNumber); err != nil {
			slog.Warn("confirm receipt", "client_tx", env.ClientTxID, "err", err)
		}
	case envelope.StatusFailedPermanent:
		if err := o.db.RejectReceipt(env.ClientTxID); err != nil {
			slog.Warn("reject receipt", "client_tx", env.ClientTxID, "err", err)
		}
	}
}

func (o *Orchestrator) pull(ctx context.Context, summary *Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := o.db.GetSyncState()
	if err != nil {
		return err
	}

	resp, err := o.client.Pull(o.deviceID, state.Cursor)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	data := clientdb.PullData{
		Products:          toCachedRows(resp.Updates.Products),
		Customers:         toCachedRows(resp.Updates.Customers),
		Categories:        toCachedRows(resp.Updates.Categories),
		DeletedProducts:   resp.Updates.Tombstones.Products,
		DeletedCustomers:  resp.Updates.Tombstones.Customers,
		DeletedCategories: resp.Updates.Tombstones.Categories,
		Settings:          resp.Updates.StoreSettings,
		NewCursor:         resp.NewCursor,
	}
	if err := o.db.ApplyPull(data); err != nil {
		return fmt.Errorf("apply pull: %w", err)
	}

	summary.Pulled = len(data.Products) + len(data.Customers) + len(data.Categories) +
		len(data.DeletedProducts) + len(data.DeletedCustomers) + len(data.DeletedCategories)
	summary.Cursor = resp.NewCursor
	return nil
}

func toCachedRows(rows []syncclient.PullRow) []clientdb.CachedRow {
	out := make([]clientdb.CachedRow, len(rows))
	for i, r := range rows {
		out[i] = clientdb.CachedRow{ID: r.EntityID, UpdatedAt: r.UpdatedAt, Snapshot: r.Snapshot}
	}
	return out
}
