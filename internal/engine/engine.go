// Package engine is the billing state machine: it owns project activation,
// the task approval flow, invoice lifecycles and the completion payment
// phases. Every command is serialized per project, idempotent under retry,
// and appends its events in the same transaction as the state it changes.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gigline/internal/billing"
	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
	"gigline/internal/schedule"
	"gigline/internal/wallet"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Ledger wallet.Ledger
	Config *config.Config
	Now    func() time.Time

	locks *projectLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Ledger: wallet.Outbox{},
		Config: cfg,
		Now:    time.Now,
		locks:  newProjectLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// ActivateOptions are parameters for activating a project from a matched gig.
type ActivateOptions struct {
	ProjectID       string
	ClientID        string
	FreelancerID    string
	InvoicingMethod string
	TotalBudget     decimal.Decimal
	TotalTasks      int
	GigPostedDate   string
	ActivatedAt     time.Time
	Duration        domain.OriginalDuration
	ActorID         string
}

// ActivateProject creates the project row, its generated task list and the
// duration-guarded due date. Completion-model projects additionally get their
// upfront invoice and enter the upfront_paid phase. Activating an existing
// project is a no-op returning the current state.
func (e Engine) ActivateProject(ctx context.Context, opts ActivateOptions) (domain.Project, error) {
	if opts.ProjectID == "" {
		return domain.Project{}, validationf("project id is required")
	}
	if opts.ClientID == "" || opts.FreelancerID == "" {
		return domain.Project{}, validationf("client and freelancer ids are required")
	}
	if opts.InvoicingMethod != domain.MethodMilestone && opts.InvoicingMethod != domain.MethodCompletion {
		return domain.Project{}, validationf("invoicing method must be milestone or completion, got %q", opts.InvoicingMethod)
	}
	if opts.TotalBudget.LessThanOrEqual(decimal.Zero) {
		return domain.Project{}, validationf("total budget must be positive, got %s", opts.TotalBudget)
	}
	if opts.TotalTasks <= 0 {
		return domain.Project{}, validationf("total tasks must be positive, got %d", opts.TotalTasks)
	}

	var result domain.Project
	err := e.locks.withProject(opts.ProjectID, func() error {
		existing, err := e.Repo.GetProject(ctx, opts.ProjectID)
		if err == nil {
			// retried activation: answer with the unchanged state
			result = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		activatedAt := opts.ActivatedAt
		if activatedAt.IsZero() {
			activatedAt = e.now()
		}
		activatedAt = activatedAt.UTC()

		weeks := opts.Duration.Weeks
		if weeks.LessThanOrEqual(decimal.Zero) {
			weeks = e.Config.DefaultDurationWeeks()
		}
		due := schedule.DueDate(activatedAt, weeks)

		nowStr := e.now().UTC().Format(time.RFC3339)
		p := domain.Project{
			ID:              opts.ProjectID,
			ClientID:        opts.ClientID,
			FreelancerID:    opts.FreelancerID,
			InvoicingMethod: opts.InvoicingMethod,
			TotalBudget:     opts.TotalBudget,
			TotalTasks:      opts.TotalTasks,
			GigPostedDate:   opts.GigPostedDate,
			ActivatedAt:     activatedAt.Format(time.RFC3339),
			Duration: domain.OriginalDuration{
				Weeks:          weeks,
				EstimatedHours: opts.Duration.EstimatedHours,
				IntendedStart:  opts.Duration.IntendedStart,
				IntendedEnd:    opts.Duration.IntendedEnd,
			},
			DueDate:      due.Format(time.RFC3339),
			Status:       domain.ProjectOngoing,
			PaymentPhase: domain.PhaseNotActivated,
			CreatedAt:    nowStr,
			UpdatedAt:    nowStr,
		}
		if p.InvoicingMethod == domain.MethodCompletion {
			p.PaymentPhase = domain.PhaseUpfrontPaid
		}

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		for seq := 1; seq <= p.TotalTasks; seq++ {
			t := domain.Task{
				ID:          taskID(p.ID, seq),
				ProjectID:   p.ID,
				Seq:         seq,
				Title:       fmt.Sprintf("Task %d", seq),
				Status:      domain.TaskPending,
				ActivatedAt: p.ActivatedAt,
				Duration:    p.Duration,
				DueDate:     p.DueDate,
				CreatedAt:   nowStr,
				UpdatedAt:   nowStr,
			}
			if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
				return fmt.Errorf("insert task %d: %w", seq, err)
			}
			if err := e.writer().Append(ctx, tx, events.Entry{
				Type:       events.TypeTaskCreated,
				ActorID:    opts.ActorID,
				EntityKind: "task",
				EntityID:   t.ID,
				ProjectID:  p.ID,
				TaskID:     t.ID,
				Metadata:   map[string]any{"seq": seq},
			}); err != nil {
				return err
			}
		}
		if err := e.writer().Append(ctx, tx, events.Entry{
			Type:       events.TypeProjectActivated,
			ActorID:    opts.ActorID,
			TargetID:   p.FreelancerID,
			EntityKind: "project",
			EntityID:   p.ID,
			ProjectID:  p.ID,
			Metadata: map[string]any{
				"invoicing_method": p.InvoicingMethod,
				"total_budget":     p.TotalBudget.String(),
				"due_date":         p.DueDate,
			},
		}); err != nil {
			return err
		}
		if p.InvoicingMethod == domain.MethodCompletion {
			upfront := billing.UpfrontAmount(p.TotalBudget, e.Config.UpfrontRatio())
			inv := domain.Invoice{
				ID:          uuid.New().String(),
				ProjectID:   p.ID,
				Type:        domain.InvoiceCompletionUpfront,
				TotalAmount: upfront,
				Status:      domain.InvoiceSent,
				CreatedAt:   nowStr,
				UpdatedAt:   nowStr,
			}
			if err := e.Repo.InsertInvoiceTx(ctx, tx, inv); err != nil {
				return fmt.Errorf("insert upfront invoice: %w", err)
			}
			if err := e.writer().Append(ctx, tx, events.Entry{
				Type:       events.TypeUpfrontPaid,
				ActorID:    opts.ActorID,
				TargetID:   p.FreelancerID,
				EntityKind: "invoice",
				EntityID:   inv.ID,
				ProjectID:  p.ID,
				InvoiceID:  inv.ID,
				Metadata:   map[string]any{"amount": upfront.String()},
			}); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = p
		return nil
	})
	return result, err
}

func taskID(projectID string, seq int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|task|%d", projectID, seq))).String()
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.TaskPending:
		if newStatus == domain.TaskSubmitted {
			return nil
		}
	case domain.TaskSubmitted:
		if newStatus == domain.TaskInReview || newStatus == domain.TaskApproved || newStatus == domain.TaskRejected {
			return nil
		}
	case domain.TaskInReview:
		if newStatus == domain.TaskApproved || newStatus == domain.TaskRejected {
			return nil
		}
	case domain.TaskRejected:
		if newStatus == domain.TaskSubmitted {
			return nil
		}
	}
	return validationf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// SubmitTask moves a task to submitted.
func (e Engine) SubmitTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.transitionTask(ctx, taskID, domain.TaskSubmitted, events.TypeTaskSubmitted, actorID)
}

// StartTaskReview moves a submitted task to in_review.
func (e Engine) StartTaskReview(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.transitionTask(ctx, taskID, domain.TaskInReview, events.TypeTaskReviewed, actorID)
}

// RejectTask moves a task to rejected; the freelancer may resubmit.
func (e Engine) RejectTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.transitionTask(ctx, taskID, domain.TaskRejected, events.TypeTaskRejected, actorID)
}

func (e Engine) transitionTask(ctx context.Context, taskID, newStatus, eventType, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	err = e.locks.withProject(t.ProjectID, func() error {
		t, err = e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status == newStatus {
			return nil // duplicate command, keep state and log unchanged
		}
		if err := ensureTaskTransition(t.Status, newStatus); err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		from := t.Status
		t.Status = newStatus
		t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.Entry{
			Type:       eventType,
			ActorID:    actorID,
			TargetID:   counterparty(p, actorID),
			EntityKind: "task",
			EntityID:   t.ID,
			ProjectID:  p.ID,
			TaskID:     t.ID,
			Metadata:   map[string]any{"from_status": from, "to_status": t.Status},
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	return t, err
}

// ApproveTask marks a task approved and, for milestone projects, creates the
// task's auto milestone invoice. The approval and the invoice are separate
// transactions: a calculator failure never rolls back the human approval, and
// re-invoking the command retries only the missing invoice. Re-approval of an
// approved task with its invoice in place is a pure no-op.
func (e Engine) ApproveTask(ctx context.Context, taskIDArg, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskIDArg)
	if err != nil {
		return t, err
	}
	err = e.locks.withProject(t.ProjectID, func() error {
		t, err = e.Repo.GetTask(ctx, taskIDArg)
		if err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskApproved {
			if err := ensureTaskTransition(t.Status, domain.TaskApproved); err != nil {
				return err
			}
			nowStr := e.now().UTC().Format(time.RFC3339)
			t.Status = domain.TaskApproved
			t.Completion = true
			t.ApprovedAt = &nowStr
			t.UpdatedAt = nowStr

			tx, err := e.DB.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()
			if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
				return err
			}
			if err := e.writer().Append(ctx, tx, events.Entry{
				Type:       events.TypeTaskApproved,
				ActorID:    actorID,
				TargetID:   counterparty(p, actorID),
				EntityKind: "task",
				EntityID:   t.ID,
				ProjectID:  p.ID,
				TaskID:     t.ID,
				Metadata:   map[string]any{"seq": t.Seq},
			}); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
		}
		if p.InvoicingMethod != domain.MethodMilestone {
			return nil
		}
		if p.Status != domain.ProjectOngoing {
			// paused projects suspend automatic invoicing; resume backfills
			return nil
		}
		if _, err := e.Repo.MilestoneInvoiceForTask(ctx, t.ID); err == nil {
			return nil // invoice already exists, duplicate command
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return e.createMilestoneInvoice(ctx, p, t, actorID)
	})
	return t, err
}

// createMilestoneInvoice issues the next auto milestone invoice. Must run
// under the project lock.
func (e Engine) createMilestoneInvoice(ctx context.Context, p domain.Project, t domain.Task, actorID string) error {
	seq, err := e.Repo.CountMilestoneInvoices(ctx, p.ID)
	if err != nil {
		return err
	}
	amount, err := billing.MilestoneAmount(p.TotalBudget, p.TotalTasks, seq+1)
	if err != nil {
		return validationf("milestone invoice for task %s: %v", t.ID, err)
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	inv := domain.Invoice{
		ID:          uuid.New().String(),
		ProjectID:   p.ID,
		TaskID:      &t.ID,
		Type:        domain.InvoiceAutoMilestone,
		TotalAmount: amount,
		Status:      domain.InvoiceSent, // auto-sent, no manual send step
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if err := e.checkBudgetInvariant(ctx, p, amount); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertInvoiceTx(ctx, tx, inv); err != nil {
		return fmt.Errorf("insert milestone invoice: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.Entry{
		Type:       events.TypeInvoiceSent,
		ActorID:    actorID,
		TargetID:   p.FreelancerID,
		EntityKind: "invoice",
		EntityID:   inv.ID,
		ProjectID:  p.ID,
		TaskID:     t.ID,
		InvoiceID:  inv.ID,
		Metadata:   map[string]any{"amount": amount.String(), "type": inv.Type},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// checkBudgetInvariant rejects any invoice that would push the non-cancelled
// total past the budget. Must run under the project lock.
func (e Engine) checkBudgetInvariant(ctx context.Context, p domain.Project, addition decimal.Decimal) error {
	sum, err := e.Repo.SumInvoiced(ctx, p.ID, "")
	if err != nil {
		return err
	}
	if sum.Add(addition).GreaterThan(p.TotalBudget) {
		return invariantf("invoices for project %s would total %s, exceeding budget %s",
			p.ID, sum.Add(addition), p.TotalBudget)
	}
	return nil
}

// SubmitManualInvoice creates a freelancer-initiated invoice on a
// completion-model project, validated against the remaining budget.
func (e Engine) SubmitManualInvoice(ctx context.Context, projectID string, amount decimal.Decimal, actorID string) (domain.Invoice, error) {
	var inv domain.Invoice
	err := e.locks.withProject(projectID, func() error {
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.InvoicingMethod != domain.MethodCompletion {
			return validationf("manual invoices require completion invoicing; project %s uses %s", p.ID, p.InvoicingMethod)
		}
		if p.PaymentPhase == domain.PhaseFinalized {
			return validationf("project %s is finalized; no further manual invoices", p.ID)
		}
		if amount.LessThanOrEqual(decimal.Zero) {
			return validationf("invoice amount must be positive, got %s", amount)
		}
		upfront, err := e.Repo.SumInvoiced(ctx, p.ID, domain.InvoiceCompletionUpfront)
		if err != nil {
			return err
		}
		manual, err := e.Repo.SumInvoiced(ctx, p.ID, domain.InvoiceManualCompletionTask)
		if err != nil {
			return err
		}
		remaining := billing.RemainingBudget(p.TotalBudget, upfront, manual)
		if amount.GreaterThan(remaining) {
			return validationf("invoice amount %s exceeds remaining budget %s", amount, remaining)
		}
		if err := e.checkBudgetInvariant(ctx, p, amount); err != nil {
			return err
		}
		nowStr := e.now().UTC().Format(time.RFC3339)
		inv = domain.Invoice{
			ID:          uuid.New().String(),
			ProjectID:   p.ID,
			Type:        domain.InvoiceManualCompletionTask,
			TotalAmount: amount,
			Status:      domain.InvoiceSent,
			CreatedAt:   nowStr,
			UpdatedAt:   nowStr,
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertInvoiceTx(ctx, tx, inv); err != nil {
			return fmt.Errorf("insert manual invoice: %w", err)
		}
		if err := e.writer().Append(ctx, tx, events.Entry{
			Type:       events.TypeInvoiceSent,
			ActorID:    actorID,
			TargetID:   counterparty(p, actorID),
			EntityKind: "invoice",
			EntityID:   inv.ID,
			ProjectID:  p.ID,
			InvoiceID:  inv.ID,
			Metadata:   map[string]any{"amount": amount.String(), "type": inv.Type},
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	return inv, err
}

// CompleteProject finalizes a completion-model project: all tasks approved,
// final settlement computed once, project moves to completed. A repeated
// complete command is a no-op.
func (e Engine) CompleteProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	var result domain.Project
	err := e.locks.withProject(projectID, func() error {
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.InvoicingMethod != domain.MethodCompletion {
			return validationf("complete-project requires completion invoicing; project %s uses %s", p.ID, p.InvoicingMethod)
		}
		if p.Status == domain.ProjectCompleted || p.PaymentPhase == domain.PhaseFinalized {
			result = p
			return nil // already finalized
		}
		if p.Status == domain.ProjectPaused {
			return validationf("project %s is paused; resume before completing", p.ID)
		}
		approved, err := e.Repo.CountApprovedTasks(ctx, p.ID)
		if err != nil {
			return err
		}
		if approved < p.TotalTasks {
			return validationf("project %s has %d of %d tasks approved", p.ID, approved, p.TotalTasks)
		}
		upfront, err := e.Repo.SumInvoiced(ctx, p.ID, domain.InvoiceCompletionUpfront)
		if err != nil {
			return err
		}
		manual, err := e.Repo.SumInvoiced(ctx, p.ID, domain.InvoiceManualCompletionTask)
		if err != nil {
			return err
		}
		final, err := billing.FinalAmount(p.TotalBudget, upfront, manual)
		if err != nil {
			return invariantf("project %s: %v", p.ID, err)
		}
		nowStr := e.now().UTC().Format(time.RFC3339)

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if final.IsPositive() {
			inv := domain.Invoice{
				ID:          uuid.New().String(),
				ProjectID:   p.ID,
				Type:        domain.InvoiceCompletionFinal,
				TotalAmount: final,
				Status:      domain.InvoiceSent,
				CreatedAt:   nowStr,
				UpdatedAt:   nowStr,
			}
			if err := e.Repo.InsertInvoiceTx(ctx, tx, inv); err != nil {
				return fmt.Errorf("insert final invoice: %w", err)
			}
			if err := e.writer().Append(ctx, tx, events.Entry{
				Type:       events.TypeFinalSettled,
				ActorID:    actorID,
				TargetID:   p.FreelancerID,
				EntityKind: "invoice",
				EntityID:   inv.ID,
				ProjectID:  p.ID,
				InvoiceID:  inv.ID,
				Metadata:   map[string]any{"amount": final.String()},
			}); err != nil {
				return err
			}
		}
		p.Status = domain.ProjectCompleted
		p.PaymentPhase = domain.PhaseFinalized
		p.UpdatedAt = nowStr
		if err := e.Repo.UpdateProjectStateTx(ctx, tx, p.ID, p.Status, p.PaymentPhase, nowStr); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.Entry{
			Type:       events.TypeProjectCompleted,
			ActorID:    actorID,
			TargetID:   counterparty(p, actorID),
			EntityKind: "project",
			EntityID:   p.ID,
			ProjectID:  p.ID,
			Metadata:   map[string]any{"final_amount": final.String()},
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		// completed projects must be invoiced to the exact budget
		sum, err := e.Repo.SumInvoiced(ctx, p.ID, "")
		if err != nil {
			return err
		}
		if !sum.Equal(p.TotalBudget) {
			return invariantf("completed project %s invoiced %s, budget %s", p.ID, sum, p.TotalBudget)
		}
		result = p
		return nil
	})
	return result, err
}

func ensureInvoiceTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.InvoiceDraft:
		if newStatus == domain.InvoiceSent {
			return nil
		}
	case domain.InvoiceSent:
		if newStatus == domain.InvoicePaid || newStatus == domain.InvoiceOnHold || newStatus == domain.InvoiceCancelled {
			return nil
		}
	case domain.InvoiceOnHold:
		if newStatus == domain.InvoiceSent {
			return nil
		}
	}
	return validationf("invalid invoice status transition %s -> %s", oldStatus, newStatus)
}

// ConfirmInvoicePaid records the wallet ledger's confirmation: the invoice
// moves sent -> paid and exactly one credit instruction is written in the
// same transaction. Confirming an already-paid invoice is a no-op. A ledger
// failure leaves the invoice sent, logs the failed attempt and returns
// PendingError.
func (e Engine) ConfirmInvoicePaid(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error) {
	inv, err := e.Repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return inv, err
	}
	err = e.locks.withProject(inv.ProjectID, func() error {
		inv, err = e.Repo.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == domain.InvoicePaid {
			return nil // duplicate confirmation
		}
		if err := ensureInvoiceTransition(inv.Status, domain.InvoicePaid); err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, inv.ProjectID)
		if err != nil {
			return err
		}
		nowStr := e.now().UTC().Format(time.RFC3339)
		inv.Status = domain.InvoicePaid
		inv.PaidAt = &nowStr
		inv.UpdatedAt = nowStr

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateInvoiceTx(ctx, tx, inv); err != nil {
			return err
		}
		creditErr := e.Ledger.Credit(ctx, tx, domain.WalletInstruction{
			ID:        uuid.New().String(),
			InvoiceID: inv.ID,
			ProjectID: p.ID,
			PayeeID:   p.FreelancerID,
			Amount:    inv.TotalAmount,
			CreatedAt: nowStr,
		})
		if creditErr != nil {
			tx.Rollback()
			if logErr := e.recordCreditFailure(ctx, p, inv, creditErr.Error(), actorID); logErr != nil {
				return logErr
			}
			inv.Status = domain.InvoiceSent
			inv.PaidAt = nil
			return PendingError{InvoiceID: inv.ID, Cause: creditErr}
		}
		if err := e.writer().Append(ctx, tx, events.Entry{
			Type:       events.TypeInvoicePaid,
			ActorID:    actorID,
			TargetID:   p.FreelancerID,
			EntityKind: "invoice",
			EntityID:   inv.ID,
			ProjectID:  p.ID,
			TaskID:     deref(inv.TaskID),
			InvoiceID:  inv.ID,
			Metadata:   map[string]any{"amount": inv.TotalAmount.String(), "type": inv.Type},
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	return inv, err
}

// RecordCreditFailure logs a failed wallet credit attempt reported by the
// ledger. The invoice stays sent and will be retried by the ledger's policy.
func (e Engine) RecordCreditFailure(ctx context.Context, invoiceID, reason, actorID string) error {
	inv, err := e.Repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	return e.locks.withProject(inv.ProjectID, func() error {
		inv, err = e.Repo.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != domain.InvoiceSent {
			return validationf("invoice %s is %s; credit failures apply to sent invoices", inv.ID, inv.Status)
		}
		p, err := e.Repo.GetProject(ctx, inv.ProjectID)
		if err != nil {
			return err
		}
		return e.recordCreditFailure(ctx, p, inv, reason, actorID)
	})
}

func (e Engine) recordCreditFailure(ctx context.Context, p domain.Project, inv domain.Invoice, reason, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.writer().Append(ctx, tx, events.Entry{
		Type:       events.TypeCreditFailed,
		ActorID:    actorID,
		TargetID:   p.FreelancerID,
		EntityKind: "wallet",
		EntityID:   inv.ID,
		ProjectID:  p.ID,
		InvoiceID:  inv.ID,
		Metadata:   map[string]any{"amount": inv.TotalAmount.String(), "reason": reason},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// HoldInvoice suspends a sent invoice.
func (e Engine) HoldInvoice(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error) {
	return e.transitionInvoice(ctx, invoiceID, domain.InvoiceOnHold, events.TypeInvoiceOnHold, actorID)
}

// ReleaseInvoice resumes an on-hold invoice back to sent.
func (e Engine) ReleaseInvoice(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error) {
	return e.transitionInvoice(ctx, invoiceID, domain.InvoiceSent, events.TypeInvoiceReleased, actorID)
}

// CancelInvoice cancels a sent invoice.
func (e Engine) CancelInvoice(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error) {
	return e.transitionInvoice(ctx, invoiceID, domain.InvoiceCancelled, events.TypeInvoiceCancelled, actorID)
}

func (e Engine) transitionInvoice(ctx context.Context, invoiceID, newStatus, eventType, actorID string) (domain.Invoice, error) {
	inv, err := e.Repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return inv, err
	}
	err = e.locks.withProject(inv.ProjectID, func() error {
		inv, err = e.Repo.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == newStatus {
			return nil
		}
		if err := ensureInvoiceTransition(inv.Status, newStatus); err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, inv.ProjectID)
		if err != nil {
			return err
		}
		from := inv.Status
		inv.Status = newStatus
		inv.UpdatedAt = e.now().UTC().Format(time.RFC3339)

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateInvoiceTx(ctx, tx, inv); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.Entry{
			Type:       eventType,
			ActorID:    actorID,
			TargetID:   counterparty(p, actorID),
			EntityKind: "invoice",
			EntityID:   inv.ID,
			ProjectID:  p.ID,
			InvoiceID:  inv.ID,
			Metadata:   map[string]any{"from_status": from, "to_status": inv.Status, "amount": inv.TotalAmount.String()},
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	return inv, err
}

// PauseProject suspends automatic invoice generation. Already-sent invoices
// are untouched.
func (e Engine) PauseProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.transitionProject(ctx, projectID, domain.ProjectPaused, events.TypeProjectPaused, actorID)
}

// ResumeProject reactivates a paused project and backfills milestone invoices
// for tasks approved while paused.
func (e Engine) ResumeProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	p, err := e.transitionProject(ctx, projectID, domain.ProjectOngoing, events.TypeProjectResumed, actorID)
	if err != nil {
		return p, err
	}
	if p.InvoicingMethod != domain.MethodMilestone {
		return p, nil
	}
	err = e.locks.withProject(projectID, func() error {
		tasks, err := e.Repo.ListTasks(ctx, projectID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status != domain.TaskApproved {
				continue
			}
			if _, err := e.Repo.MilestoneInvoiceForTask(ctx, t.ID); err == nil {
				continue
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err := e.createMilestoneInvoice(ctx, p, t, actorID); err != nil {
				return err
			}
		}
		return nil
	})
	return p, err
}

func (e Engine) transitionProject(ctx context.Context, projectID, newStatus, eventType, actorID string) (domain.Project, error) {
	var result domain.Project
	err := e.locks.withProject(projectID, func() error {
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.Status == newStatus {
			result = p
			return nil
		}
		if p.Status == domain.ProjectCompleted {
			return validationf("project %s is completed and immutable", p.ID)
		}
		nowStr := e.now().UTC().Format(time.RFC3339)
		from := p.Status
		p.Status = newStatus
		p.UpdatedAt = nowStr

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateProjectStateTx(ctx, tx, p.ID, p.Status, p.PaymentPhase, nowStr); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.Entry{
			Type:       eventType,
			ActorID:    actorID,
			TargetID:   counterparty(p, actorID),
			EntityKind: "project",
			EntityID:   p.ID,
			ProjectID:  p.ID,
			Metadata:   map[string]any{"from_status": from, "to_status": p.Status},
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = p
		return nil
	})
	return result, err
}

// EffectiveInvoiceStatus derives overdue: a sent invoice past the project due
// date. Overdue is never stored.
func (e Engine) EffectiveInvoiceStatus(inv domain.Invoice, p domain.Project) string {
	if inv.Status != domain.InvoiceSent {
		return inv.Status
	}
	due, err := time.Parse(time.RFC3339, p.DueDate)
	if err != nil {
		return inv.Status
	}
	if e.now().After(due) {
		return domain.InvoiceOverdue
	}
	return inv.Status
}

// counterparty picks the other side of the project as notification target.
func counterparty(p domain.Project, actorID string) string {
	if actorID == p.FreelancerID {
		return p.ClientID
	}
	return p.FreelancerID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
