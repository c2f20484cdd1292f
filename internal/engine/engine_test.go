package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/events"
	"gigline/internal/migrate"
	"gigline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return day0 }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (env testEnv) activate(t *testing.T, method, budget string, tasks int, activatedAt time.Time, weeks string) domain.Project {
	t.Helper()
	p, err := env.Engine.ActivateProject(env.Ctx, engine.ActivateOptions{
		ProjectID:       "proj-1",
		ClientID:        "client-1",
		FreelancerID:    "freelancer-1",
		InvoicingMethod: method,
		TotalBudget:     dec(budget),
		TotalTasks:      tasks,
		ActivatedAt:     activatedAt,
		Duration:        domain.OriginalDuration{Weeks: dec(weeks), EstimatedHours: dec("40")},
		ActorID:         "client-1",
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return p
}

func (env testEnv) approveAll(t *testing.T, projectID string) {
	t.Helper()
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if _, err := env.Engine.SubmitTask(env.Ctx, task.ID, "freelancer-1"); err != nil {
			t.Fatalf("submit %s: %v", task.ID, err)
		}
		if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "client-1"); err != nil {
			t.Fatalf("approve %s: %v", task.ID, err)
		}
	}
}

func TestMilestoneProjectScenario(t *testing.T) {
	env := newTestEnv(t)
	// 300 across 3 tasks over 3 days, activated on day 0
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "0.4286")

	if p.DueDate != day0.AddDate(0, 0, 3).Format(time.RFC3339) {
		t.Fatalf("due date %s", p.DueDate)
	}
	env.approveAll(t, p.ID)

	invoices, err := env.Engine.Repo.ListInvoices(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(invoices))
	}
	for _, inv := range invoices {
		if !inv.TotalAmount.Equal(dec("100")) {
			t.Fatalf("invoice amount %s", inv.TotalAmount)
		}
		if inv.Type != domain.InvoiceAutoMilestone || inv.Status != domain.InvoiceSent {
			t.Fatalf("invoice %s %s %s", inv.ID, inv.Type, inv.Status)
		}
	}
}

func TestLateActivationPreservesDuration(t *testing.T) {
	env := newTestEnv(t)
	// matched two days late: due day 5, not day 3
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0.AddDate(0, 0, 2), "0.4286")
	if p.DueDate != day0.AddDate(0, 0, 5).Format(time.RFC3339) {
		t.Fatalf("due date %s", p.DueDate)
	}
	activated, _ := time.Parse(time.RFC3339, p.ActivatedAt)
	due, _ := time.Parse(time.RFC3339, p.DueDate)
	if due.Sub(activated) != 3*24*time.Hour {
		t.Fatalf("elapsed %v", due.Sub(activated))
	}
}

func TestMilestoneSumEqualsBudgetWithRounding(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "100", 3, day0, "1")
	env.approveAll(t, p.ID)
	sum, err := env.Engine.Repo.SumInvoiced(env.Ctx, p.ID, domain.InvoiceAutoMilestone)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(dec("100")) {
		t.Fatalf("sum %s", sum)
	}
}

func TestCompletionProjectScenario(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 2, day0, "2")

	upfront, err := env.Engine.Repo.InvoiceByType(env.Ctx, p.ID, domain.InvoiceCompletionUpfront)
	if err != nil {
		t.Fatalf("upfront invoice: %v", err)
	}
	if !upfront.TotalAmount.Equal(dec("120")) {
		t.Fatalf("upfront %s", upfront.TotalAmount)
	}
	if p.PaymentPhase != domain.PhaseUpfrontPaid {
		t.Fatalf("phase %s", p.PaymentPhase)
	}

	if _, err := env.Engine.SubmitManualInvoice(env.Ctx, p.ID, dec("300"), "freelancer-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitManualInvoice(env.Ctx, p.ID, dec("280"), "freelancer-1"); err != nil {
		t.Fatal(err)
	}
	env.approveAll(t, p.ID)

	done, err := env.Engine.CompleteProject(env.Ctx, p.ID, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.ProjectCompleted || done.PaymentPhase != domain.PhaseFinalized {
		t.Fatalf("project %s %s", done.Status, done.PaymentPhase)
	}
	final, err := env.Engine.Repo.InvoiceByType(env.Ctx, p.ID, domain.InvoiceCompletionFinal)
	if err != nil {
		t.Fatal(err)
	}
	if !final.TotalAmount.Equal(dec("300")) {
		t.Fatalf("final %s", final.TotalAmount)
	}
	sum, err := env.Engine.Repo.SumInvoiced(env.Ctx, p.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(dec("1000")) {
		t.Fatalf("invoiced %s, want exact budget", sum)
	}
}

func TestManualInvoiceExceedingRemainingRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 1, day0, "1")

	_, err := env.Engine.SubmitManualInvoice(env.Ctx, p.ID, dec("900"), "freelancer-1")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// rejection must not append an event or create an invoice
	n, err := env.Engine.Repo.CountEventsByType(env.Ctx, p.ID, events.TypeInvoiceSent)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no invoice_sent events, got %d", n)
	}
	sum, _ := env.Engine.Repo.SumInvoiced(env.Ctx, p.ID, domain.InvoiceManualCompletionTask)
	if !sum.IsZero() {
		t.Fatalf("manual sum %s", sum)
	}
}

func TestCompleteProjectIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 1, day0, "1")
	env.approveAll(t, p.ID)

	if _, err := env.Engine.CompleteProject(env.Ctx, p.ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteProject(env.Ctx, p.ID, "client-1"); err != nil {
		t.Fatalf("second complete must be a no-op: %v", err)
	}
	n, err := env.Engine.Repo.CountEventsByType(env.Ctx, p.ID, events.TypeProjectCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one completion event, got %d", n)
	}
}

func TestApproveTaskIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "1")
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, p.ID)

	if _, err := env.Engine.SubmitTask(env.Ctx, tasks[0].ID, "freelancer-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, tasks[0].ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, tasks[0].ID, "client-1"); err != nil {
		t.Fatalf("re-approval must be a no-op: %v", err)
	}
	invoices, _ := env.Engine.Repo.ListInvoices(env.Ctx, p.ID)
	if len(invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(invoices))
	}
	n, err := env.Engine.Repo.CountEventsByType(env.Ctx, p.ID, events.TypeTaskApproved)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one task_approved event, got %d", n)
	}
}

func TestActivateProjectIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 2, day0, "1")
	again := env.activate(t, domain.MethodCompletion, "1000", 2, day0, "1")
	if again.CreatedAt != p.CreatedAt {
		t.Fatalf("retried activation changed state")
	}
	n, err := env.Engine.Repo.CountEventsByType(env.Ctx, p.ID, events.TypeProjectActivated)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one activation event, got %d", n)
	}
	upfronts, _ := env.Engine.Repo.SumInvoiced(env.Ctx, p.ID, domain.InvoiceCompletionUpfront)
	if !upfronts.Equal(dec("120")) {
		t.Fatalf("upfront invoiced %s", upfronts)
	}
}

func TestPauseSuspendsAutoInvoicesUntilResume(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "1")
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, p.ID)

	if _, err := env.Engine.PauseProject(env.Ctx, p.ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitTask(env.Ctx, tasks[0].ID, "freelancer-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, tasks[0].ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	invoices, _ := env.Engine.Repo.ListInvoices(env.Ctx, p.ID)
	if len(invoices) != 0 {
		t.Fatalf("paused project generated %d invoices", len(invoices))
	}
	if _, err := env.Engine.ResumeProject(env.Ctx, p.ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	invoices, _ = env.Engine.Repo.ListInvoices(env.Ctx, p.ID)
	if len(invoices) != 1 {
		t.Fatalf("resume did not backfill, got %d invoices", len(invoices))
	}
}

func TestConfirmInvoicePaidCreditsWalletOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 1, day0, "1")
	upfront, err := env.Engine.Repo.InvoiceByType(env.Ctx, p.ID, domain.InvoiceCompletionUpfront)
	if err != nil {
		t.Fatal(err)
	}
	paid, err := env.Engine.ConfirmInvoicePaid(env.Ctx, upfront.ID, "wallet")
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != domain.InvoicePaid || paid.PaidAt == nil {
		t.Fatalf("invoice %s", paid.Status)
	}
	if _, err := env.Engine.ConfirmInvoicePaid(env.Ctx, upfront.ID, "wallet"); err != nil {
		t.Fatalf("duplicate confirmation must be a no-op: %v", err)
	}
	instrs, err := env.Engine.Repo.ListWalletInstructions(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(instrs) != 1 {
		t.Fatalf("expected one wallet instruction, got %d", len(instrs))
	}
	if instrs[0].PayeeID != "freelancer-1" || !instrs[0].Amount.Equal(dec("120")) {
		t.Fatalf("instruction %+v", instrs[0])
	}
}

type failingLedger struct{}

func (failingLedger) Credit(context.Context, *sql.Tx, domain.WalletInstruction) error {
	return errors.New("ledger unreachable")
}

func TestWalletFailureLeavesInvoiceSent(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 1, day0, "1")
	upfront, err := env.Engine.Repo.InvoiceByType(env.Ctx, p.ID, domain.InvoiceCompletionUpfront)
	if err != nil {
		t.Fatal(err)
	}
	env.Engine.Ledger = failingLedger{}
	_, err = env.Engine.ConfirmInvoicePaid(env.Ctx, upfront.ID, "wallet")
	var pe engine.PendingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected pending error, got %v", err)
	}
	inv, err := env.Engine.Repo.GetInvoice(env.Ctx, upfront.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != domain.InvoiceSent {
		t.Fatalf("invoice should stay sent, got %s", inv.Status)
	}
	n, err := env.Engine.Repo.CountEventsByType(env.Ctx, p.ID, events.TypeCreditFailed)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one credit failure event, got %d", n)
	}
}

func TestEventOrderingPerProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "1")
	env.approveAll(t, p.ID)

	log, err := env.Engine.Repo.ListEvents(env.Ctx, repo.EventFilter{ProjectID: p.ID, Limit: 500})
	if err != nil {
		t.Fatal(err)
	}
	if len(log) == 0 {
		t.Fatal("expected events")
	}
	for i := 1; i < len(log); i++ {
		if log[i].TS < log[i-1].TS {
			t.Fatalf("timestamps regress at %d", i)
		}
		if log[i].ID <= log[i-1].ID {
			t.Fatalf("ids regress at %d", i)
		}
	}
}

func TestConcurrentApprovalsSameProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "1")
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, p.ID)
	for _, task := range tasks {
		if _, err := env.Engine.SubmitTask(env.Ctx, task.ID, "freelancer-1"); err != nil {
			t.Fatal(err)
		}
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(tasks)*2)
	for _, task := range tasks {
		for i := 0; i < 2; i++ { // duplicate commands race on purpose
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := env.Engine.ApproveTask(env.Ctx, id, "client-1"); err != nil {
					errs <- err
				}
			}(task.ID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent approve: %v", err)
	}
	invoices, _ := env.Engine.Repo.ListInvoices(env.Ctx, p.ID)
	if len(invoices) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(invoices))
	}
	sum, _ := env.Engine.Repo.SumInvoiced(env.Ctx, p.ID, "")
	if !sum.Equal(dec("300")) {
		t.Fatalf("sum %s", sum)
	}
}

func TestBudgetInvariantViolationIsFatal(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "1")
	// simulate an upstream accounting bug by planting a rogue invoice
	_, err := env.Engine.DB.ExecContext(env.Ctx,
		`INSERT INTO invoices(id,project_id,type,total_amount,status,created_at,updated_at)
		 VALUES ('rogue','proj-1','manual_completion_task','250','sent','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, p.ID)
	if _, err := env.Engine.SubmitTask(env.Ctx, tasks[0].ID, "freelancer-1"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ApproveTask(env.Ctx, tasks[0].ID, "client-1")
	var ie engine.InvariantError
	if !errors.As(err, &ie) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	// the approval itself must survive; only the invoice attempt failed
	task, err := env.Engine.Repo.GetTask(env.Ctx, tasks[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.TaskApproved {
		t.Fatalf("task status %s", task.Status)
	}
}

func TestInvoiceHoldReleaseCancel(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 1, day0, "1")
	inv, err := env.Engine.SubmitManualInvoice(env.Ctx, p.ID, dec("200"), "freelancer-1")
	if err != nil {
		t.Fatal(err)
	}
	if inv, err = env.Engine.HoldInvoice(env.Ctx, inv.ID, "client-1"); err != nil || inv.Status != domain.InvoiceOnHold {
		t.Fatalf("hold: %v %s", err, inv.Status)
	}
	// cannot pay while on hold
	if _, err := env.Engine.ConfirmInvoicePaid(env.Ctx, inv.ID, "wallet"); err == nil {
		t.Fatal("expected error confirming on-hold invoice")
	}
	if inv, err = env.Engine.ReleaseInvoice(env.Ctx, inv.ID, "client-1"); err != nil || inv.Status != domain.InvoiceSent {
		t.Fatalf("release: %v %s", err, inv.Status)
	}
	if inv, err = env.Engine.CancelInvoice(env.Ctx, inv.ID, "client-1"); err != nil || inv.Status != domain.InvoiceCancelled {
		t.Fatalf("cancel: %v %s", err, inv.Status)
	}
	// cancelled amounts free up the remaining budget again
	if _, err := env.Engine.SubmitManualInvoice(env.Ctx, p.ID, dec("880"), "freelancer-1"); err != nil {
		t.Fatalf("remaining budget not released: %v", err)
	}
}

func TestOverdueIsDerived(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodCompletion, "1000", 1, day0, "1")
	inv, err := env.Engine.Repo.InvoiceByType(env.Ctx, p.ID, domain.InvoiceCompletionUpfront)
	if err != nil {
		t.Fatal(err)
	}
	if got := env.Engine.EffectiveInvoiceStatus(inv, p); got != domain.InvoiceSent {
		t.Fatalf("status %s", got)
	}
	env.Engine.Now = func() time.Time { return day0.AddDate(0, 0, 8) }
	if got := env.Engine.EffectiveInvoiceStatus(inv, p); got != domain.InvoiceOverdue {
		t.Fatalf("status %s", got)
	}
	stored, _ := env.Engine.Repo.GetInvoice(env.Ctx, inv.ID)
	if stored.Status != domain.InvoiceSent {
		t.Fatalf("overdue leaked into storage: %s", stored.Status)
	}
}

func TestMethodMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "1")
	var ve engine.ValidationError
	if _, err := env.Engine.SubmitManualInvoice(env.Ctx, p.ID, dec("50"), "freelancer-1"); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.CompleteProject(env.Ctx, p.ID, "client-1"); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRejectedTaskCanBeResubmitted(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, domain.MethodMilestone, "300", 3, day0, "1")
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, p.ID)
	id := tasks[0].ID
	steps := []func() (domain.Task, error){
		func() (domain.Task, error) { return env.Engine.SubmitTask(env.Ctx, id, "freelancer-1") },
		func() (domain.Task, error) { return env.Engine.StartTaskReview(env.Ctx, id, "client-1") },
		func() (domain.Task, error) { return env.Engine.RejectTask(env.Ctx, id, "client-1") },
		func() (domain.Task, error) { return env.Engine.SubmitTask(env.Ctx, id, "freelancer-1") },
		func() (domain.Task, error) { return env.Engine.ApproveTask(env.Ctx, id, "client-1") },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	task, _ := env.Engine.Repo.GetTask(env.Ctx, id)
	if task.Status != domain.TaskApproved || !task.Completion {
		t.Fatalf("task %s completion=%v", task.Status, task.Completion)
	}
}
