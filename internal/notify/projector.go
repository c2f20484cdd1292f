// Package notify derives user-facing notification records from stored events.
// It is a pure read-side view: it never writes to the log and never fails on
// events with missing optional fields.
package notify

import (
	"encoding/json"
	"fmt"

	"gigline/internal/domain"
	"gigline/internal/events"
)

// Project maps one event to a notification record. The second return is false
// for events whose notification type is 0 (unclassified or deliberately
// unmapped): those are logged but never surfaced.
func Project(e domain.Event) (domain.NotificationRecord, bool) {
	if e.NotificationType == events.NotifyUnclassified {
		return domain.NotificationRecord{}, false
	}
	meta := map[string]any{}
	if e.Metadata != "" {
		// tolerate malformed metadata: the notification still surfaces
		_ = json.Unmarshal([]byte(e.Metadata), &meta)
	}
	recipient := e.ActorID
	if e.TargetID != nil && *e.TargetID != "" {
		recipient = *e.TargetID
	}
	title, body := render(e, meta)
	return domain.NotificationRecord{
		EventID:          e.ID,
		NotificationType: e.NotificationType,
		RecipientID:      recipient,
		ActorID:          e.ActorID,
		Title:            title,
		Body:             body,
		ProjectID:        e.ProjectID,
		TaskID:           e.TaskID,
		InvoiceID:        e.InvoiceID,
		Metadata:         meta,
		TS:               e.TS,
	}, true
}

// All projects a log slice in order, dropping unsurfaced entries. Ordering of
// the input is preserved, so per-user notifications follow append order.
func All(log []domain.Event) []domain.NotificationRecord {
	var out []domain.NotificationRecord
	for _, e := range log {
		if rec, ok := Project(e); ok {
			out = append(out, rec)
		}
	}
	return out
}

func render(e domain.Event, meta map[string]any) (title, body string) {
	amount := metaString(meta, "amount")
	switch e.NotificationType {
	case events.NotifyProjectActivated:
		return "Project activated", fmt.Sprintf("Project %s is now active", e.ProjectID)
	case events.NotifyProjectPaused:
		return "Project paused", fmt.Sprintf("Project %s was paused", e.ProjectID)
	case events.NotifyProjectResumed:
		return "Project resumed", fmt.Sprintf("Project %s was resumed", e.ProjectID)
	case events.NotifyTaskSubmitted:
		return "Task submitted", fmt.Sprintf("Task %s was submitted for review", e.EntityID)
	case events.NotifyTaskApproved:
		return "Task approved", fmt.Sprintf("Task %s was approved", e.EntityID)
	case events.NotifyTaskRejected:
		return "Task rejected", fmt.Sprintf("Task %s was rejected", e.EntityID)
	case events.NotifyInvoiceSent:
		return "Invoice sent", withAmount("An invoice was issued", amount)
	case events.NotifyInvoicePaid:
		return "Invoice paid", withAmount("An invoice was paid", amount)
	case events.NotifyInvoiceCancelled:
		return "Invoice cancelled", withAmount("An invoice was cancelled", amount)
	case events.NotifyUpfrontPaid:
		return "Upfront payment issued", withAmount("The upfront payment was issued", amount)
	case events.NotifyFinalSettled:
		return "Final settlement issued", withAmount("The final settlement was issued", amount)
	case events.NotifyProjectCompleted:
		return "Project completed", fmt.Sprintf("Project %s is complete", e.ProjectID)
	case events.NotifyPaymentFailed:
		return "Payment pending confirmation", "A wallet credit could not be confirmed and will be retried"
	default:
		return e.Type, ""
	}
}

func withAmount(base, amount string) string {
	if amount == "" {
		return base
	}
	return fmt.Sprintf("%s for %s", base, amount)
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
