package notify

import (
	"testing"

	"gigline/internal/domain"
	"gigline/internal/events"
)

func TestProjectSkipsUnclassified(t *testing.T) {
	e := domain.Event{ID: 1, Type: events.TypeTaskCreated, NotificationType: 0}
	if _, ok := Project(e); ok {
		t.Fatal("unclassified event must not surface")
	}
}

func TestProjectToleratesMissingFields(t *testing.T) {
	e := domain.Event{
		ID:               2,
		Type:             events.TypeTaskApproved,
		NotificationType: events.NotifyTaskApproved,
		ActorID:          "client-1",
		EntityID:         "task-9",
		ProjectID:        "proj-1",
	}
	rec, ok := Project(e)
	if !ok {
		t.Fatal("expected record")
	}
	if rec.RecipientID != "client-1" {
		t.Fatalf("recipient should fall back to actor, got %s", rec.RecipientID)
	}
	if rec.Title == "" {
		t.Fatal("expected title")
	}
}

func TestProjectPrefersTarget(t *testing.T) {
	target := "freelancer-1"
	e := domain.Event{
		ID:               3,
		Type:             events.TypeInvoicePaid,
		NotificationType: events.NotifyInvoicePaid,
		ActorID:          "client-1",
		TargetID:         &target,
		ProjectID:        "proj-1",
		Metadata:         `{"amount":"100"}`,
	}
	rec, ok := Project(e)
	if !ok {
		t.Fatal("expected record")
	}
	if rec.RecipientID != target {
		t.Fatalf("recipient %s", rec.RecipientID)
	}
	if rec.Body != "An invoice was paid for 100" {
		t.Fatalf("body %q", rec.Body)
	}
}

func TestProjectMalformedMetadata(t *testing.T) {
	e := domain.Event{
		ID:               4,
		Type:             events.TypeInvoiceSent,
		NotificationType: events.NotifyInvoiceSent,
		ActorID:          "freelancer-1",
		ProjectID:        "proj-1",
		Metadata:         `{not json`,
	}
	if _, ok := Project(e); !ok {
		t.Fatal("malformed metadata must not suppress the notification")
	}
}

func TestAllPreservesOrder(t *testing.T) {
	log := []domain.Event{
		{ID: 1, NotificationType: events.NotifyProjectActivated, Type: events.TypeProjectActivated, ActorID: "a", ProjectID: "p"},
		{ID: 2, NotificationType: 0, Type: events.TypeTaskCreated, ActorID: "a", ProjectID: "p"},
		{ID: 3, NotificationType: events.NotifyTaskApproved, Type: events.TypeTaskApproved, ActorID: "a", ProjectID: "p"},
	}
	recs := All(log)
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].EventID != 1 || recs[1].EventID != 3 {
		t.Fatalf("order broken: %v %v", recs[0].EventID, recs[1].EventID)
	}
}
