package domain

import "github.com/shopspring/decimal"

// Invoicing methods, fixed at project creation.
const (
	MethodMilestone  = "milestone"
	MethodCompletion = "completion"
)

// Project statuses.
const (
	ProjectOngoing   = "ongoing"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
)

// Completion-model payment phases.
const (
	PhaseNotActivated = "not_activated"
	PhaseUpfrontPaid  = "upfront_paid"
	PhaseFinalized    = "finalized"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskSubmitted = "submitted"
	TaskInReview  = "in_review"
	TaskApproved  = "approved"
	TaskRejected  = "rejected"
)

// Invoice types.
const (
	InvoiceAutoMilestone        = "auto_milestone"
	InvoiceManualCompletionTask = "manual_completion_task"
	InvoiceCompletionUpfront    = "completion_upfront"
	InvoiceCompletionFinal      = "completion_final"
)

// Invoice statuses. Overdue is derived from sent + due date, never stored.
const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoiceOnHold    = "on_hold"
	InvoiceCancelled = "cancelled"
	InvoiceOverdue   = "overdue"
)

// OriginalDuration is the intended schedule captured once at activation and
// never recalculated. Due-date math uses Weeks only; the rest is kept so the
// computation stays auditable.
type OriginalDuration struct {
	Weeks          decimal.Decimal `json:"weeks"`
	EstimatedHours decimal.Decimal `json:"estimated_hours"`
	IntendedStart  string          `json:"intended_start,omitempty" format:"date"`
	IntendedEnd    string          `json:"intended_end,omitempty" format:"date"`
}

type Project struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"client_id"`
	FreelancerID    string           `json:"freelancer_id"`
	InvoicingMethod string           `json:"invoicing_method" enum:"milestone,completion"`
	TotalBudget     decimal.Decimal  `json:"total_budget"`
	TotalTasks      int              `json:"total_tasks"`
	GigPostedDate   string           `json:"gig_posted_date,omitempty" format:"date"`
	ActivatedAt     string           `json:"activated_at" format:"date-time"`
	Duration        OriginalDuration `json:"original_duration"`
	DueDate         string           `json:"due_date" format:"date-time"`
	Status          string           `json:"status" enum:"ongoing,paused,completed"`
	PaymentPhase    string           `json:"payment_phase" enum:"not_activated,upfront_paid,finalized"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
	UpdatedAt       string           `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	Seq         int              `json:"seq"`
	Title       string           `json:"title"`
	Status      string           `json:"status" enum:"pending,submitted,in_review,approved,rejected"`
	Completion  bool             `json:"completion"`
	ActivatedAt string           `json:"activated_at" format:"date-time"`
	Duration    OriginalDuration `json:"original_duration"`
	DueDate     string           `json:"due_date" format:"date-time"`
	ApprovedAt  *string          `json:"approved_at,omitempty" format:"date-time"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

type Invoice struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	TaskID      *string         `json:"task_id,omitempty"`
	Type        string          `json:"type" enum:"auto_milestone,manual_completion_task,completion_upfront,completion_final"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      string          `json:"status" enum:"draft,sent,paid,on_hold,cancelled"`
	PaidAt      *string         `json:"paid_at,omitempty" format:"date-time"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

// Event is one append-only log entry. NotificationType and EntityType are
// closed integer codes derived from Type at append time; Type itself is an
// open vocabulary.
type Event struct {
	ID               int64   `json:"id"`
	TS               string  `json:"ts" format:"date-time"`
	Type             string  `json:"type"`
	NotificationType int     `json:"notification_type"`
	ActorID          string  `json:"actor_id"`
	TargetID         *string `json:"target_id,omitempty"`
	EntityType       int     `json:"entity_type"`
	EntityID         string  `json:"entity_id"`
	Metadata         string  `json:"metadata_json,omitempty"`
	ProjectID        string  `json:"project_id"`
	TaskID           *string `json:"task_id,omitempty"`
	InvoiceID        *string `json:"invoice_id,omitempty"`
}

// NotificationRecord is the read-side projection of a surfaceable event.
type NotificationRecord struct {
	EventID          int64          `json:"event_id"`
	NotificationType int            `json:"notification_type"`
	RecipientID      string         `json:"recipient_id"`
	ActorID          string         `json:"actor_id"`
	Title            string         `json:"title"`
	Body             string         `json:"body,omitempty"`
	ProjectID        string         `json:"project_id"`
	TaskID           *string        `json:"task_id,omitempty"`
	InvoiceID        *string        `json:"invoice_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	TS               string         `json:"ts" format:"date-time"`
}

// WalletInstruction is the credit order handed to the external wallet ledger
// when an invoice reaches paid. Balance consistency is the ledger's problem.
type WalletInstruction struct {
	ID        string          `json:"id"`
	InvoiceID string          `json:"invoice_id"`
	ProjectID string          `json:"project_id"`
	PayeeID   string          `json:"payee_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}
