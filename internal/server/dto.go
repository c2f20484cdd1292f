package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"gigline/internal/domain"
)

// Request payloads

type DurationRequest struct {
	Weeks          string  `json:"weeks" example:"2"`
	EstimatedHours string  `json:"estimated_hours,omitempty" example:"40"`
	IntendedStart  *string `json:"intended_start,omitempty" format:"date"`
	IntendedEnd    *string `json:"intended_end,omitempty" format:"date"`
}

type ActivateProjectRequest struct {
	ClientID        string           `json:"client_id"`
	FreelancerID    string           `json:"freelancer_id"`
	InvoicingMethod string           `json:"invoicing_method" enum:"milestone,completion"`
	TotalBudget     string           `json:"total_budget" example:"1000"`
	TotalTasks      int              `json:"total_tasks"`
	GigPostedDate   *string          `json:"gig_posted_date,omitempty" format:"date"`
	ActivatedAt     *string          `json:"activated_at,omitempty" format:"date-time"`
	Duration        *DurationRequest `json:"duration,omitempty"`
}

type ManualInvoiceRequest struct {
	Amount string `json:"amount" example:"250"`
}

type CreditFailureRequest struct {
	Reason string `json:"reason"`
}

// Response payloads

type DurationResponse struct {
	Weeks          string `json:"weeks"`
	EstimatedHours string `json:"estimated_hours"`
	IntendedStart  string `json:"intended_start,omitempty" format:"date"`
	IntendedEnd    string `json:"intended_end,omitempty" format:"date"`
}

type ProjectResponse struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"client_id"`
	FreelancerID    string           `json:"freelancer_id"`
	InvoicingMethod string           `json:"invoicing_method" enum:"milestone,completion"`
	TotalBudget     string           `json:"total_budget"`
	TotalTasks      int              `json:"total_tasks"`
	GigPostedDate   string           `json:"gig_posted_date,omitempty" format:"date"`
	ActivatedAt     string           `json:"activated_at" format:"date-time"`
	Duration        DurationResponse `json:"original_duration"`
	DueDate         string           `json:"due_date" format:"date-time"`
	Status          string           `json:"status" enum:"ongoing,paused,completed"`
	PaymentPhase    string           `json:"payment_phase" enum:"not_activated,upfront_paid,finalized"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
	UpdatedAt       string           `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Seq        int     `json:"seq"`
	Title      string  `json:"title"`
	Status     string  `json:"status" enum:"pending,submitted,in_review,approved,rejected"`
	Completion bool    `json:"completion"`
	DueDate    string  `json:"due_date" format:"date-time"`
	ApprovedAt *string `json:"approved_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type InvoiceResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	TaskID      *string `json:"task_id,omitempty"`
	Type        string  `json:"type" enum:"auto_milestone,manual_completion_task,completion_upfront,completion_final"`
	TotalAmount string  `json:"total_amount"`
	Status      string  `json:"status" enum:"draft,sent,paid,on_hold,cancelled,overdue"`
	PaidAt      *string `json:"paid_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
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

type WalletInstructionResponse struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`
	ProjectID string `json:"project_id"`
	PayeeID   string `json:"payee_id"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectStatusResponse struct {
	ProjectID     string `json:"project_id"`
	Status        string `json:"status"`
	PaymentPhase  string `json:"payment_phase"`
	DueDate       string `json:"due_date" format:"date-time"`
	ApprovedTasks int    `json:"approved_tasks"`
	TotalTasks    int    `json:"total_tasks"`
	TotalInvoiced string `json:"total_invoiced"`
	TotalBudget   string `json:"total_budget"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:              p.ID,
		ClientID:        p.ClientID,
		FreelancerID:    p.FreelancerID,
		InvoicingMethod: p.InvoicingMethod,
		TotalBudget:     p.TotalBudget.String(),
		TotalTasks:      p.TotalTasks,
		GigPostedDate:   p.GigPostedDate,
		ActivatedAt:     p.ActivatedAt,
		Duration: DurationResponse{
			Weeks:          p.Duration.Weeks.String(),
			EstimatedHours: p.Duration.EstimatedHours.String(),
			IntendedStart:  p.Duration.IntendedStart,
			IntendedEnd:    p.Duration.IntendedEnd,
		},
		DueDate:      p.DueDate,
		Status:       p.Status,
		PaymentPhase: p.PaymentPhase,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		ProjectID:  t.ProjectID,
		Seq:        t.Seq,
		Title:      t.Title,
		Status:     t.Status,
		Completion: t.Completion,
		DueDate:    t.DueDate,
		ApprovedAt: t.ApprovedAt,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

// invoiceResponse renders an invoice with its effective status, so a sent
// invoice past the project due date reads as overdue without being stored so.
func invoiceResponse(inv domain.Invoice, status string) InvoiceResponse {
	return InvoiceResponse{
		ID:          inv.ID,
		ProjectID:   inv.ProjectID,
		TaskID:      inv.TaskID,
		Type:        inv.Type,
		TotalAmount: inv.TotalAmount.String(),
		Status:      status,
		PaidAt:      inv.PaidAt,
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:               e.ID,
		TS:               e.TS,
		Type:             e.Type,
		NotificationType: e.NotificationType,
		ActorID:          e.ActorID,
		TargetID:         e.TargetID,
		EntityType:       e.EntityType,
		EntityID:         e.EntityID,
		Metadata:         e.Metadata,
		ProjectID:        e.ProjectID,
		TaskID:           e.TaskID,
		InvoiceID:        e.InvoiceID,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func instructionResponse(w domain.WalletInstruction) WalletInstructionResponse {
	return WalletInstructionResponse{
		ID:        w.ID,
		InvoiceID: w.InvoiceID,
		ProjectID: w.ProjectID,
		PayeeID:   w.PayeeID,
		Amount:    w.Amount.String(),
		CreatedAt: w.CreatedAt,
	}
}

func parseAmount(field, raw string) (decimal.Decimal, huma.StatusError) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, newAPIError(http.StatusBadRequest, "bad_request",
			field+" must be a decimal string", map[string]any{"field": field, "value": raw})
	}
	return d, nil
}
