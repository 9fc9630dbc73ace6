package clientdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/syncerr"
)

// MaxAttempts is the retry budget per event. An event that fails this many
// push attempts is escalated to failed_permanent and needs operator review.
const MaxAttempts = 8

// Queue states. The terminal four mirror the server's per-event result
// statuses; queued and pushing exist only on the device.
const (
	StatusQueued  = "queued"
	StatusPushing = "pushing"
)

// QueuedEvent is one row of the outbound event queue.
type QueuedEvent struct {
	Envelope     envelope.Envelope
	Status       string
	AttemptCount int
	LastError    string
	PushingSince string
	UpdatedAt    string
}

// Enqueue validates and durably appends an event to the outbound queue,
// then wakes the sync orchestrator. The event is committed before the
// wakeup so a crash between the two loses nothing.
func (db *ClientDB) Enqueue(env envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	now := nowStamp()
	_, err := db.conn.Exec(`
		INSERT INTO event_queue (event_id, store_id, device_id, client_tx_id, event_type, payload, status, created_at_device, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?)
	`, env.EventID, env.StoreID, env.DeviceID, env.ClientTxID, string(env.Type), string(env.Payload), formatStamp(env.CreatedAtDevice), now)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}

	select {
	case db.notify <- struct{}{}:
	default:
	}
	return nil
}

// ListPending returns events awaiting a push, oldest first. Events in
// failed_retry are eligible again; terminal events are not.
func (db *ClientDB) ListPending(limit int) ([]QueuedEvent, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, store_id, device_id, client_tx_id, event_type, payload,
		       status, attempt_count, COALESCE(last_error,''), COALESCE(pushing_since,''), created_at_device, updated_at
		FROM event_queue
		WHERE status IN ('queued','failed_retry')
		ORDER BY created_at_device
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []QueuedEvent
	for rows.Next() {
		q, err := scanQueuedEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanQueuedEvent(rows *sql.Rows) (QueuedEvent, error) {
	var q QueuedEvent
	var typ, payload, createdAt string
	if err := rows.Scan(&q.Envelope.EventID, &q.Envelope.StoreID, &q.Envelope.DeviceID, &q.Envelope.ClientTxID,
		&typ, &payload, &q.Status, &q.AttemptCount, &q.LastError, &q.PushingSince, &createdAt, &q.UpdatedAt); err != nil {
		return q, err
	}
	q.Envelope.Type = envelope.EventType(typ)
	q.Envelope.Payload = []byte(payload)
	t, err := parseStamp(createdAt)
	if err != nil {
		return q, err
	}
	q.Envelope.CreatedAtDevice = t
	return q, nil
}

// RecoverStuck resets events stuck in pushing longer than olderThan back to
// failed_retry. A row can only be stuck if the process died mid-push; the
// server may or may not have applied it, which is exactly what the event_id
// dedup on the next attempt resolves.
func (db *ClientDB) RecoverStuck(olderThan time.Duration) (int64, error) {
	cutoff := formatStamp(time.Now().Add(-olderThan))
	res, err := db.conn.Exec(`
		UPDATE event_queue
		SET status = 'failed_retry', last_error = 'push interrupted', pushing_since = NULL, updated_at = ?
		WHERE status = 'pushing' AND pushing_since < ?
	`, nowStamp(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck events: %w", err)
	}
	return res.RowsAffected()
}

// MarkPushing transitions a batch to pushing before it leaves the device.
func (db *ClientDB) MarkPushing(eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	now := nowStamp()
	placeholders := strings.Repeat("?,", len(eventIDs)-1) + "?"
	args := []any{now, now}
	for _, id := range eventIDs {
		args = append(args, id)
	}
	_, err := db.conn.Exec(fmt.Sprintf(`
		UPDATE event_queue
		SET status = 'pushing', pushing_since = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE event_id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("mark pushing: %w", err)
	}
	return nil
}

// ApplyResult records the server's verdict for one pushed event. A
// failed_retry verdict on an event that has exhausted its attempts is
// escalated to failed_permanent.
func (db *ClientDB) ApplyResult(eventID string, status envelope.ResultStatus, errMsg string) error {
	target := string(status)
	if status == envelope.StatusFailedRetry {
		var attempts int
		err := db.conn.QueryRow("SELECT attempt_count FROM event_queue WHERE event_id = ?", eventID).Scan(&attempts)
		if err == sql.ErrNoRows {
			return syncerr.NotFound("queue event %s not found", eventID)
		}
		if err != nil {
			return fmt.Errorf("read attempt count: %w", err)
		}
		if attempts >= MaxAttempts {
			target = string(envelope.StatusFailedPermanent)
			if errMsg == "" {
				errMsg = "retry attempts exhausted"
			}
		}
	}

	var lastErr any
	if errMsg != "" {
		lastErr = errMsg
	}
	res, err := db.conn.Exec(`
		UPDATE event_queue
		SET status = ?, last_error = ?, pushing_since = NULL, updated_at = ?
		WHERE event_id = ?
	`, target, lastErr, nowStamp(), eventID)
	if err != nil {
		return fmt.Errorf("apply result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.NotFound("queue event %s not found", eventID)
	}
	return nil
}

// Requeue puts a failed_permanent event back in the queue with a fresh
// retry budget. Used by the operator after the underlying problem is fixed.
func (db *ClientDB) Requeue(eventID string) error {
	res, err := db.conn.Exec(`
		UPDATE event_queue
		SET status = 'queued', attempt_count = 0, last_error = NULL, pushing_since = NULL, updated_at = ?
		WHERE event_id = ? AND status = 'failed_permanent'
	`, nowStamp(), eventID)
	if err != nil {
		return fmt.Errorf("requeue event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.NotFound("no failed event %s to requeue", eventID)
	}
	select {
	case db.notify <- struct{}{}:
	default:
	}
	return nil
}

// GetQueuedEvent returns one queue row, or nil if absent.
func (db *ClientDB) GetQueuedEvent(eventID string) (*QueuedEvent, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, store_id, device_id, client_tx_id, event_type, payload,
		       status, attempt_count, COALESCE(last_error,''), COALESCE(pushing_since,''), created_at_device, updated_at
		FROM event_queue WHERE event_id = ?
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("get queued event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	q, err := scanQueuedEvent(rows)
	if err != nil {
		return nil, fmt.Errorf("get queued event: %w", err)
	}
	return &q, nil
}

// CountsByStatus returns how many queue rows sit in each state.
func (db *ClientDB) CountsByStatus() (map[string]int, error) {
	rows, err := db.conn.Query("SELECT status, COUNT(*) FROM event_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListFailed returns events the queue has given up on, newest first.
func (db *ClientDB) ListFailed(limit int) ([]QueuedEvent, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, store_id, device_id, client_tx_id, event_type, payload,
		       status, attempt_count, COALESCE(last_error,''), COALESCE(pushing_since,''), created_at_device, updated_at
		FROM event_queue
		WHERE status = 'failed_permanent'
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()

	var out []QueuedEvent
	for rows.Next() {
		q, err := scanQueuedEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
