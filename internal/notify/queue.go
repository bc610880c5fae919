package notify

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/database"
)

// Queue is the durable notification FIFO.
//
// Entries stay queued until delivery is confirmed, so a crash between dequeue
// and confirmation redelivers rather than drops (at-least-once). Ordering is
// by enqueue time with the ULID as tiebreaker.
type Queue struct {
	db *database.DB
}

// NewQueue creates a queue over the shared database.
func NewQueue(db *database.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue appends a notification.
func (q *Queue) Enqueue(n Notification) error {
	meta := "{}"
	if len(n.Metadata) > 0 {
		raw, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(raw)
	}
	_, err := q.db.Exec(
		`INSERT INTO notification_queue (id, recipient, type, priority, title, body, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Recipient, string(n.Type), int(n.Priority), n.Title, n.Body, meta, n.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("enqueue notification %s: %w", n.ID, err)
	}
	return nil
}

// Remove confirms delivery and deletes the entries.
func (q *Queue) Remove(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM notification_queue WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("remove notification %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkAttempt bumps the attempt counter after a failed delivery.
func (q *Queue) MarkAttempt(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin mark attempt: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE notification_queue SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("mark attempt %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Load returns every queued notification in FIFO order, for crash recovery.
func (q *Queue) Load() ([]Notification, error) {
	rows, err := q.db.Query(
		`SELECT id, recipient, type, priority, title, body, metadata, created_at
		 FROM notification_queue ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Len returns the number of queued notifications.
func (q *Queue) Len() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM notification_queue`).Scan(&n)
	return n, err
}

func scanNotification(rows *sql.Rows) (Notification, error) {
	var (
		n        Notification
		typ      string
		priority int
		meta     string
		created  time.Time
	)
	if err := rows.Scan(&n.ID, &n.Recipient, &typ, &priority, &n.Title, &n.Body, &meta, &created); err != nil {
		return Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	n.Type = Type(typ)
	n.Priority = Priority(priority)
	n.Timestamp = created
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return Notification{}, fmt.Errorf("decode metadata for %s: %w", n.ID, err)
		}
	}
	return n, nil
}
