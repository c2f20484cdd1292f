package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/notify"
	"gigline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"invoice amount 900 exceeds remaining budget 880"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gigline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Gigline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerInvoices(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerWallet(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	var pe engine.PendingError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusConflict, "payment_pending", err.Error(), map[string]any{"invoice_id": pe.InvoiceID})
	}
	var ie engine.InvariantError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusInternalServerError, "invariant_violation", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gigline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "activate-project",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/activate",
		Summary:       "Activate a matched gig as a billable project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      ActivateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		budget, err := parseAmount("total_budget", input.Body.TotalBudget)
		if err != nil {
			return nil, err
		}
		opts := engine.ActivateOptions{
			ProjectID:       input.ProjectID,
			ClientID:        input.Body.ClientID,
			FreelancerID:    input.Body.FreelancerID,
			InvoicingMethod: input.Body.InvoicingMethod,
			TotalBudget:     budget,
			TotalTasks:      input.Body.TotalTasks,
			ActorID:         actorID,
		}
		if input.Body.GigPostedDate != nil {
			opts.GigPostedDate = *input.Body.GigPostedDate
		}
		if input.Body.ActivatedAt != nil {
			at, parseErr := time.Parse(time.RFC3339, *input.Body.ActivatedAt)
			if parseErr != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request",
					"activated_at must be RFC3339", map[string]any{"value": *input.Body.ActivatedAt})
			}
			opts.ActivatedAt = at
		}
		if d := input.Body.Duration; d != nil {
			if d.Weeks != "" {
				weeks, werr := parseAmount("duration.weeks", d.Weeks)
				if werr != nil {
					return nil, werr
				}
				opts.Duration.Weeks = weeks
			}
			if d.EstimatedHours != "" {
				hours, herr := parseAmount("duration.estimated_hours", d.EstimatedHours)
				if herr != nil {
					return nil, herr
				}
				opts.Duration.EstimatedHours = hours
			}
			if d.IntendedStart != nil {
				opts.Duration.IntendedStart = *d.IntendedStart
			}
			if d.IntendedEnd != nil {
				opts.Duration.IntendedEnd = *d.IntendedEnd
			}
		}
		p, aerr := e.ActivateProject(ctx, opts)
		if aerr != nil {
			return nil, handleError(aerr)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project billing status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectStatusResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		approved, err := e.Repo.CountApprovedTasks(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		invoiced, err := e.Repo.SumInvoiced(ctx, p.ID, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectStatusResponse `json:"body"`
		}{Body: ProjectStatusResponse{
			ProjectID:     p.ID,
			Status:        p.Status,
			PaymentPhase:  p.PaymentPhase,
			DueDate:       p.DueDate,
			ApprovedTasks: approved,
			TotalTasks:    p.TotalTasks,
			TotalInvoiced: invoiced.String(),
			TotalBudget:   p.TotalBudget.String(),
		}}, nil
	})

	type projectCommand struct {
		id      string
		summary string
		fn      func(ctx context.Context, projectID, actorID string) (domain.Project, error)
	}
	for _, cmd := range []projectCommand{
		{"pause-project", "Pause a project", e.PauseProject},
		{"resume-project", "Resume a paused project", e.ResumeProject},
		{"complete-project", "Complete a completion-model project", e.CompleteProject},
	} {
		fn := cmd.fn
		huma.Register(api, huma.Operation{
			OperationID: cmd.id,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/" + strings.TrimSuffix(cmd.id, "-project"),
			Summary:     cmd.summary,
			Errors: []int{
				http.StatusUnauthorized,
				http.StatusNotFound,
				http.StatusUnprocessableEntity,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
		}) (*struct {
			Body ProjectResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := fn(ctx, input.ProjectID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ProjectResponse `json:"body"`
			}{Body: projectResponse(p)}, nil
		})
	}
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List project tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" {
			filtered := tasks[:0]
			for _, t := range tasks {
				if t.Status == input.Status {
					filtered = append(filtered, t)
				}
			}
			tasks = filtered
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		TaskID    string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.ProjectID != input.ProjectID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in project", nil)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	type taskCommand struct {
		id      string
		action  string
		summary string
		fn      func(ctx context.Context, taskID, actorID string) (domain.Task, error)
	}
	for _, cmd := range []taskCommand{
		{"submit-task", "submit", "Submit a task for review", e.SubmitTask},
		{"review-task", "review", "Start reviewing a submitted task", e.StartTaskReview},
		{"approve-task", "approve", "Approve a task", e.ApproveTask},
		{"reject-task", "reject", "Reject a task", e.RejectTask},
	} {
		fn := cmd.fn
		huma.Register(api, huma.Operation{
			OperationID: cmd.id,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/tasks/{task_id}/" + cmd.action,
			Summary:     cmd.summary,
			Errors: []int{
				http.StatusUnauthorized,
				http.StatusNotFound,
				http.StatusUnprocessableEntity,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			TaskID    string `path:"task_id"`
		}) (*struct {
			Body TaskResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			existing, err := e.Repo.GetTask(ctx, input.TaskID)
			if err != nil {
				return nil, handleError(err)
			}
			if existing.ProjectID != input.ProjectID {
				return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in project", nil)
			}
			t, err := fn(ctx, input.TaskID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body TaskResponse `json:"body"`
			}{Body: taskResponse(t)}, nil
		})
	}
}

func registerInvoices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-manual-invoice",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/invoices",
		Summary:       "Submit a manual completion-model invoice",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      ManualInvoiceRequest `json:"body"`
	}) (*struct {
		Body InvoiceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		inv, ierr := e.SubmitManualInvoice(ctx, input.ProjectID, amount, actorID)
		if ierr != nil {
			return nil, handleError(ierr)
		}
		return &struct {
			Body InvoiceResponse `json:"body"`
		}{Body: invoiceResponse(inv, inv.Status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/invoices",
		Summary:     "List project invoices with effective status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []InvoiceResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		invoices, err := e.Repo.ListInvoices(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]InvoiceResponse, 0, len(invoices))
		for _, inv := range invoices {
			out = append(out, invoiceResponse(inv, e.EffectiveInvoiceStatus(inv, p)))
		}
		return &struct {
			Body []InvoiceResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/invoices/{invoice_id}",
		Summary:     "Get invoice",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		InvoiceID string `path:"invoice_id"`
	}) (*struct {
		Body InvoiceResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		inv, err := e.Repo.GetInvoice(ctx, input.InvoiceID)
		if err != nil {
			return nil, handleError(err)
		}
		if inv.ProjectID != p.ID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "invoice not found in project", nil)
		}
		return &struct {
			Body InvoiceResponse `json:"body"`
		}{Body: invoiceResponse(inv, e.EffectiveInvoiceStatus(inv, p))}, nil
	})

	type invoiceCommand struct {
		id      string
		action  string
		summary string
		fn      func(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error)
	}
	for _, cmd := range []invoiceCommand{
		{"confirm-invoice-paid", "confirm-paid", "Confirm a wallet payment for an invoice", e.ConfirmInvoicePaid},
		{"hold-invoice", "hold", "Put a sent invoice on hold", e.HoldInvoice},
		{"release-invoice", "release", "Release an on-hold invoice", e.ReleaseInvoice},
		{"cancel-invoice", "cancel", "Cancel a sent invoice", e.CancelInvoice},
	} {
		fn := cmd.fn
		huma.Register(api, huma.Operation{
			OperationID: cmd.id,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/invoices/{invoice_id}/" + cmd.action,
			Summary:     cmd.summary,
			Errors: []int{
				http.StatusUnauthorized,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			InvoiceID string `path:"invoice_id"`
		}) (*struct {
			Body InvoiceResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			existing, err := e.Repo.GetInvoice(ctx, input.InvoiceID)
			if err != nil {
				return nil, handleError(err)
			}
			if existing.ProjectID != input.ProjectID {
				return nil, newAPIError(http.StatusNotFound, "not_found", "invoice not found in project", nil)
			}
			inv, err := fn(ctx, input.InvoiceID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body InvoiceResponse `json:"body"`
			}{Body: invoiceResponse(inv, inv.Status)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "record-credit-failure",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/invoices/{invoice_id}/credit-failure",
		Summary:     "Record a failed wallet credit attempt",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		InvoiceID string               `path:"invoice_id"`
		Body      CreditFailureRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RecordCreditFailure(ctx, input.InvoiceID, input.Body.Reason, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "recorded"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Read the project event log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		ActorID   string `query:"actor_id"`
		TargetID  string `query:"target_id"`
		Limit     int    `query:"limit" default:"100"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		log, err := e.Repo.ListEvents(ctx, repo.EventFilter{
			ProjectID: input.ProjectID,
			Type:      input.Type,
			ActorID:   input.ActorID,
			TargetID:  input.TargetID,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(log)}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/notifications",
		Summary:     "Read the notification feed projected from the event log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		RecipientID string `query:"recipient_id"`
		Limit       int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.NotificationRecord `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		log, err := e.Repo.ListEvents(ctx, repo.EventFilter{ProjectID: input.ProjectID, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		records := notify.All(log)
		if input.RecipientID != "" {
			filtered := records[:0]
			for _, rec := range records {
				if rec.RecipientID == input.RecipientID {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}
		if records == nil {
			records = []domain.NotificationRecord{}
		}
		return &struct {
			Body []domain.NotificationRecord `json:"body"`
		}{Body: records}, nil
	})
}

func registerWallet(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-wallet-instructions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/wallet-instructions",
		Summary:     "List credit instructions handed to the wallet ledger",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []WalletInstructionResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListWalletInstructions(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]WalletInstructionResponse, 0, len(items))
		for _, w := range items {
			out = append(out, instructionResponse(w))
		}
		return &struct {
			Body []WalletInstructionResponse `json:"body"`
		}{Body: out}, nil
	})
}
