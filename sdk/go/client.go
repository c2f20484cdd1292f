package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	ActorID     string // sent as X-Actor-Id when no bearer token is set
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	FreelancerID    string `json:"freelancer_id"`
	InvoicingMethod string `json:"invoicing_method"`
	TotalBudget     string `json:"total_budget"`
	TotalTasks      int    `json:"total_tasks"`
	DueDate         string `json:"due_date"`
	Status          string `json:"status"`
	PaymentPhase    string `json:"payment_phase"`
}

// Task represents the API task model.
type Task struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Seq        int     `json:"seq"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	ApprovedAt *string `json:"approved_at,omitempty"`
}

// Invoice represents the API invoice model with effective status.
type Invoice struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	TaskID      *string `json:"task_id,omitempty"`
	Type        string  `json:"type"`
	TotalAmount string  `json:"total_amount"`
	Status      string  `json:"status"`
	PaidAt      *string `json:"paid_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID               int64  `json:"id"`
	TS               string `json:"ts"`
	Type             string `json:"type"`
	NotificationType int    `json:"notification_type"`
	ActorID          string `json:"actor_id"`
	ProjectID        string `json:"project_id"`
	EntityID         string `json:"entity_id"`
}

// Notification is one projected feed entry.
type Notification struct {
	EventID     int64  `json:"event_id"`
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	TS          string `json:"ts"`
}

// ActivateProjectRequest mirrors the activation payload.
type ActivateProjectRequest struct {
	ClientID        string            `json:"client_id"`
	FreelancerID    string            `json:"freelancer_id"`
	InvoicingMethod string            `json:"invoicing_method"`
	TotalBudget     string            `json:"total_budget"`
	TotalTasks      int               `json:"total_tasks"`
	ActivatedAt     string            `json:"activated_at,omitempty"`
	Duration        map[string]string `json:"duration,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ActivateProject activates the client's project.
func (c *Client) ActivateProject(ctx context.Context, req ActivateProjectRequest) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("activate"), req, &resp)
	return resp, err
}

// GetProject fetches the project.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// ListTasks lists project tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.projectPath("tasks"), nil, &resp)
	return resp, err
}

// SubmitTask submits a task for review.
func (c *Client) SubmitTask(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "submit")
}

// ApproveTask approves a task.
func (c *Client) ApproveTask(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "approve")
}

// RejectTask rejects a task.
func (c *Client) RejectTask(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "reject")
}

func (c *Client) taskAction(ctx context.Context, taskID, action string) (Task, error) {
	var resp Task
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), action))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitManualInvoice submits a completion-model invoice.
func (c *Client) SubmitManualInvoice(ctx context.Context, amount string) (Invoice, error) {
	var resp Invoice
	err := c.do(ctx, http.MethodPost, c.projectPath("invoices"), map[string]any{"amount": amount}, &resp)
	return resp, err
}

// ListInvoices lists invoices with their effective status.
func (c *Client) ListInvoices(ctx context.Context) ([]Invoice, error) {
	var resp []Invoice
	err := c.do(ctx, http.MethodGet, c.projectPath("invoices"), nil, &resp)
	return resp, err
}

// ConfirmInvoicePaid confirms a wallet payment for an invoice.
func (c *Client) ConfirmInvoicePaid(ctx context.Context, invoiceID string) (Invoice, error) {
	var resp Invoice
	endpoint := c.projectPath(fmt.Sprintf("invoices/%s/confirm-paid", url.PathEscape(invoiceID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CompleteProject finalizes a completion-model project.
func (c *Client) CompleteProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("complete"), nil, &resp)
	return resp, err
}

// Events returns recent project events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns the feed for a recipient.
func (c *Client) Notifications(ctx context.Context, recipientID string) ([]Notification, error) {
	endpoint := c.projectPath("notifications")
	if recipientID != "" {
		endpoint = fmt.Sprintf("%s?recipient_id=%s", endpoint, url.QueryEscape(recipientID))
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
