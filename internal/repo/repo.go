package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"gigline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,client_id,freelancer_id,invoicing_method,total_budget,total_tasks,
	COALESCE(gig_posted_date,'') AS gig_posted_date,activated_at,duration_weeks,estimated_hours,
	COALESCE(intended_start,'') AS intended_start,COALESCE(intended_end,'') AS intended_end,
	due_date,status,payment_phase,created_at,updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	var budget, weeks, hours string
	err := row.Scan(&p.ID, &p.ClientID, &p.FreelancerID, &p.InvoicingMethod, &budget, &p.TotalTasks,
		&p.GigPostedDate, &p.ActivatedAt, &weeks, &hours,
		&p.Duration.IntendedStart, &p.Duration.IntendedEnd,
		&p.DueDate, &p.Status, &p.PaymentPhase, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if p.TotalBudget, err = decimal.NewFromString(budget); err != nil {
		return p, fmt.Errorf("project %s budget: %w", p.ID, err)
	}
	if p.Duration.Weeks, err = decimal.NewFromString(weeks); err != nil {
		return p, fmt.Errorf("project %s duration: %w", p.ID, err)
	}
	if p.Duration.EstimatedHours, err = decimal.NewFromString(hours); err != nil {
		return p, fmt.Errorf("project %s estimated hours: %w", p.ID, err)
	}
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO projects(id,client_id,freelancer_id,invoicing_method,total_budget,total_tasks,
		 gig_posted_date,activated_at,duration_weeks,estimated_hours,intended_start,intended_end,
		 due_date,status,payment_phase,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ClientID, p.FreelancerID, p.InvoicingMethod, p.TotalBudget.String(), p.TotalTasks,
		nullable(p.GigPostedDate), p.ActivatedAt, p.Duration.Weeks.String(), p.Duration.EstimatedHours.String(),
		nullable(p.Duration.IntendedStart), nullable(p.Duration.IntendedEnd),
		p.DueDate, p.Status, p.PaymentPhase, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProjectStateTx(ctx context.Context, tx *sql.Tx, id, status, phase, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?,payment_phase=?,updated_at=? WHERE id=?`,
		status, phase, updatedAt, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const taskColumns = `id,project_id,seq,title,status,completion,activated_at,duration_weeks,estimated_hours,
	COALESCE(intended_start,'') AS intended_start,COALESCE(intended_end,'') AS intended_end,
	due_date,approved_at,created_at,updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var weeks, hours string
	var completion int
	var approvedAt sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.Seq, &t.Title, &t.Status, &completion,
		&t.ActivatedAt, &weeks, &hours, &t.Duration.IntendedStart, &t.Duration.IntendedEnd,
		&t.DueDate, &approvedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Completion = completion != 0
	if approvedAt.Valid {
		t.ApprovedAt = &approvedAt.String
	}
	if t.Duration.Weeks, err = decimal.NewFromString(weeks); err != nil {
		return t, fmt.Errorf("task %s duration: %w", t.ID, err)
	}
	if t.Duration.EstimatedHours, err = decimal.NewFromString(hours); err != nil {
		return t, fmt.Errorf("task %s estimated hours: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tasks(id,project_id,seq,title,status,completion,activated_at,duration_weeks,estimated_hours,
		 intended_start,intended_end,due_date,approved_at,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Seq, t.Title, t.Status, boolInt(t.Completion), t.ActivatedAt,
		t.Duration.Weeks.String(), t.Duration.EstimatedHours.String(),
		nullable(t.Duration.IntendedStart), nullable(t.Duration.IntendedEnd),
		t.DueDate, nullablePtr(t.ApprovedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY seq ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status=?,completion=?,approved_at=?,updated_at=? WHERE id=?`,
		t.Status, boolInt(t.Completion), nullablePtr(t.ApprovedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountApprovedTasks returns approved tasks for a project.
func (r Repo) CountApprovedTasks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE project_id=? AND status=?`, projectID, domain.TaskApproved).Scan(&n)
	return n, err
}

const invoiceColumns = `id,project_id,task_id,type,total_amount,status,paid_at,created_at,updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var inv domain.Invoice
	var amount string
	var taskID, paidAt sql.NullString
	err := row.Scan(&inv.ID, &inv.ProjectID, &taskID, &inv.Type, &amount, &inv.Status, &paidAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	if err != nil {
		return inv, err
	}
	if taskID.Valid {
		inv.TaskID = &taskID.String
	}
	if paidAt.Valid {
		inv.PaidAt = &paidAt.String
	}
	if inv.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return inv, fmt.Errorf("invoice %s amount: %w", inv.ID, err)
	}
	return inv, nil
}

func (r Repo) InsertInvoiceTx(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO invoices(id,project_id,task_id,type,total_amount,status,paid_at,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.ProjectID, nullablePtr(inv.TaskID), inv.Type, inv.TotalAmount.String(),
		inv.Status, nullablePtr(inv.PaidAt), inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r Repo) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	return scanInvoice(r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id))
}

func (r Repo) ListInvoices(ctx context.Context, projectID string) ([]domain.Invoice, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

func (r Repo) UpdateInvoiceTx(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	res, err := tx.ExecContext(ctx, `UPDATE invoices SET status=?,paid_at=?,updated_at=? WHERE id=?`,
		inv.Status, nullablePtr(inv.PaidAt), inv.UpdatedAt, inv.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MilestoneInvoiceForTask returns the non-cancelled auto milestone invoice for
// a task, if one exists. Used for the idempotency check on re-approval.
func (r Repo) MilestoneInvoiceForTask(ctx context.Context, taskID string) (domain.Invoice, error) {
	return scanInvoice(r.DB.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE task_id=? AND type=? AND status!=? LIMIT 1`,
		taskID, domain.InvoiceAutoMilestone, domain.InvoiceCancelled))
}

// InvoiceByType returns the first non-cancelled invoice of a type for a
// project (upfront and final invoices exist at most once).
func (r Repo) InvoiceByType(ctx context.Context, projectID, invoiceType string) (domain.Invoice, error) {
	return scanInvoice(r.DB.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE project_id=? AND type=? AND status!=? ORDER BY created_at ASC LIMIT 1`,
		projectID, invoiceType, domain.InvoiceCancelled))
}

// SumInvoiced totals non-cancelled invoice amounts for a project, optionally
// restricted to one invoice type.
func (r Repo) SumInvoiced(ctx context.Context, projectID, invoiceType string) (decimal.Decimal, error) {
	query := `SELECT COALESCE(total_amount,'0') FROM invoices WHERE project_id=? AND status!=?`
	args := []any{projectID, domain.InvoiceCancelled}
	if invoiceType != "" {
		query += ` AND type=?`
		args = append(args, invoiceType)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()
	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invoice amount %q: %w", raw, err)
		}
		sum = sum.Add(amt)
	}
	return sum, rows.Err()
}

// CountMilestoneInvoices counts non-cancelled auto milestone invoices.
func (r Repo) CountMilestoneInvoices(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE project_id=? AND type=? AND status!=?`,
		projectID, domain.InvoiceAutoMilestone, domain.InvoiceCancelled).Scan(&n)
	return n, err
}

func (r Repo) ListWalletInstructions(ctx context.Context, projectID string) ([]domain.WalletInstruction, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,invoice_id,project_id,payee_id,amount,created_at FROM wallet_instructions WHERE project_id=? ORDER BY created_at ASC`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WalletInstruction
	for rows.Next() {
		var instr domain.WalletInstruction
		var amount string
		if err := rows.Scan(&instr.ID, &instr.InvoiceID, &instr.ProjectID, &instr.PayeeID, &amount, &instr.CreatedAt); err != nil {
			return nil, err
		}
		if instr.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("instruction %s amount: %w", instr.ID, err)
		}
		res = append(res, instr)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
