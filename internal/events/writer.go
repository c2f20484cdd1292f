// Package events owns the append-only event log: the append path, the event
// type vocabulary and the closed notification/entity code tables. Rows are
// never updated or deleted; ordering within a project follows the insert
// order of the commands that produced the events.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	Now func() time.Time
}

// Entry is one domain occurrence to append. ProjectID, TaskID and InvoiceID
// are routing context for downstream consumers; Metadata is an open bag.
type Entry struct {
	Type       string
	ActorID    string
	TargetID   string
	EntityKind string
	EntityID   string
	ProjectID  string
	TaskID     string
	InvoiceID  string
	Metadata   map[string]any
}

// Append writes one event inside the caller's transaction so the event and
// the state change it records commit or roll back together. The notification
// and entity codes are assigned here from the static tables; unmapped types
// get code 0 rather than failing the append.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	ts := w.now().UTC().Format(time.RFC3339Nano)
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	data, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,notification_type,actor_id,target_id,entity_type,entity_id,metadata_json,project_id,task_id,invoice_id)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ts, e.Type, NotificationTypeFor(e.Type), e.ActorID, nullable(e.TargetID),
		EntityTypeFor(e.EntityKind), e.EntityID, string(data), e.ProjectID,
		nullable(e.TaskID), nullable(e.InvoiceID))
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return nil
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
