package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/notify"
	"gigline/internal/repo"
	"gigline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gigline CLI",
	Long: `Gigline runs project billing for matched gigs.
Core concepts:
- Workspace: your .gigline directory holding the database; gigline.yml next to it configures billing and webhooks.
- Project: one matched gig between a client and a freelancer, activated with a budget, a task list and an invoicing method.
- Milestone billing: every approved task auto-issues its slice of the budget as a sent invoice.
- Completion billing: an upfront share is issued at activation, the freelancer invoices manually, and completing the project settles the remainder.
- Invoices: flow draft -> sent -> paid (or on_hold/cancelled); sent invoices past the project due date read as overdue.
- Wallet: confirming a payment writes exactly one credit instruction for the freelancer's wallet ledger.
- Event log: append-only diary of everything; notifications are projected from it, view with 'gl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage billing projects"}
	prj.AddCommand(projectActivateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectPauseCmd())
	prj.AddCommand(projectResumeCmd())
	prj.AddCommand(projectCompleteCmd())
	return prj
}

func projectActivateCmd() *cobra.Command {
	var id, clientID, freelancerID, method, budget, weeks, hours, postedDate, activatedAt string
	var tasks int
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a matched gig as a billable project",
		RunE: func(cmd *cobra.Command, args []string) error {
			budgetDec, err := decimal.NewFromString(budget)
			if err != nil {
				return fmt.Errorf("--budget must be a decimal: %w", err)
			}
			opts := engine.ActivateOptions{
				ProjectID:       id,
				ClientID:        clientID,
				FreelancerID:    freelancerID,
				InvoicingMethod: method,
				TotalBudget:     budgetDec,
				TotalTasks:      tasks,
				GigPostedDate:   postedDate,
				ActorID:         viper.GetString("actor-id"),
			}
			if weeks != "" {
				if opts.Duration.Weeks, err = decimal.NewFromString(weeks); err != nil {
					return fmt.Errorf("--weeks must be a decimal: %w", err)
				}
			}
			if hours != "" {
				if opts.Duration.EstimatedHours, err = decimal.NewFromString(hours); err != nil {
					return fmt.Errorf("--hours must be a decimal: %w", err)
				}
			}
			if activatedAt != "" {
				if opts.ActivatedAt, err = time.Parse(time.RFC3339, activatedAt); err != nil {
					return fmt.Errorf("--activated-at must be RFC3339: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ActivateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	cmd.Flags().StringVar(&freelancerID, "freelancer", "", "freelancer id")
	cmd.Flags().StringVar(&method, "method", "milestone", "invoicing method (milestone, completion)")
	cmd.Flags().StringVar(&budget, "budget", "", "total budget")
	cmd.Flags().IntVar(&tasks, "tasks", 0, "total number of tasks")
	cmd.Flags().StringVar(&weeks, "weeks", "", "intended duration in weeks")
	cmd.Flags().StringVar(&hours, "hours", "", "estimated hours")
	cmd.Flags().StringVar(&postedDate, "posted", "", "gig posted date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&activatedAt, "activated-at", "", "activation time (RFC3339, defaults to now)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("freelancer")
	_ = cmd.MarkFlagRequired("budget")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Method", "Budget", "Status", "Phase", "Due"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.InvoicingMethod, p.TotalBudget.String(), p.Status, p.PaymentPhase, p.DueDate})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show project billing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				approved, err := e.Repo.CountApprovedTasks(ctx, p.ID)
				if err != nil {
					return err
				}
				invoiced, err := e.Repo.SumInvoiced(ctx, p.ID, "")
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":     p.ID,
					"status":         p.Status,
					"payment_phase":  p.PaymentPhase,
					"due_date":       p.DueDate,
					"approved_tasks": approved,
					"total_tasks":    p.TotalTasks,
					"total_invoiced": invoiced.String(),
					"total_budget":   p.TotalBudget.String(),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s, %s)\n", p.ID, p.Status, p.PaymentPhase)
				fmt.Printf("Due: %s\n", p.DueDate)
				fmt.Printf("Tasks approved: %d/%d\n", approved, p.TotalTasks)
				fmt.Printf("Invoiced: %s of %s\n", invoiced.String(), p.TotalBudget.String())
				return nil
			})
		},
	}
	return cmd
}

func projectPauseCmd() *cobra.Command {
	return projectTransitionCmd("pause", "Pause a project", func(e engine.Engine) func(context.Context, string, string) (domain.Project, error) {
		return e.PauseProject
	})
}

func projectResumeCmd() *cobra.Command {
	return projectTransitionCmd("resume", "Resume a paused project", func(e engine.Engine) func(context.Context, string, string) (domain.Project, error) {
		return e.ResumeProject
	})
}

func projectCompleteCmd() *cobra.Command {
	return projectTransitionCmd("complete", "Complete a completion-model project", func(e engine.Engine) func(context.Context, string, string) (domain.Project, error) {
		return e.CompleteProject
	})
}

func projectTransitionCmd(verb, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.Project, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage project tasks",
		Long:  "Tasks are generated at activation and flow pending -> submitted -> in_review -> approved (or rejected and resubmitted). On milestone projects an approval issues the task's invoice.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskTransitionCmd("submit", "Submit a task for review", func(e engine.Engine) func(context.Context, string, string) (domain.Task, error) {
		return e.SubmitTask
	}))
	task.AddCommand(taskTransitionCmd("review", "Start reviewing a submitted task", func(e engine.Engine) func(context.Context, string, string) (domain.Task, error) {
		return e.StartTaskReview
	}))
	task.AddCommand(taskTransitionCmd("approve", "Approve a task", func(e engine.Engine) func(context.Context, string, string) (domain.Task, error) {
		return e.ApproveTask
	}))
	task.AddCommand(taskTransitionCmd("reject", "Reject a task", func(e engine.Engine) func(context.Context, string, string) (domain.Task, error) {
		return e.RejectTask
	}))
	return task
}

func taskListCmd() *cobra.Command {
	var projectID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, projectID)
				if err != nil {
					return err
				}
				if status != "" {
					filtered := tasks[:0]
					for _, t := range tasks {
						if t.Status == status {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Seq", "Title", "Status", "Approved At"})
				for _, t := range tasks {
					approved := ""
					if t.ApprovedAt != nil {
						approved = *t.ApprovedAt
					}
					tw.AppendRow(table.Row{t.ID, t.Seq, t.Title, t.Status, approved})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskTransitionCmd(verb, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{
		Use:   "invoice",
		Short: "Manage invoices",
		Long:  "Invoices flow draft -> sent -> paid, with on_hold and cancelled as exits from sent. Confirming payment writes the wallet credit instruction; a sent invoice past the project due date reads as overdue.",
	}
	inv.AddCommand(invoiceSubmitCmd())
	inv.AddCommand(invoiceListCmd())
	inv.AddCommand(invoiceTransitionCmd("confirm-paid", "Confirm a wallet payment", func(e engine.Engine) func(context.Context, string, string) (domain.Invoice, error) {
		return e.ConfirmInvoicePaid
	}))
	inv.AddCommand(invoiceTransitionCmd("hold", "Put a sent invoice on hold", func(e engine.Engine) func(context.Context, string, string) (domain.Invoice, error) {
		return e.HoldInvoice
	}))
	inv.AddCommand(invoiceTransitionCmd("release", "Release an on-hold invoice", func(e engine.Engine) func(context.Context, string, string) (domain.Invoice, error) {
		return e.ReleaseInvoice
	}))
	inv.AddCommand(invoiceTransitionCmd("cancel", "Cancel a sent invoice", func(e engine.Engine) func(context.Context, string, string) (domain.Invoice, error) {
		return e.CancelInvoice
	}))
	inv.AddCommand(invoiceFailCmd())
	return inv
}

func invoiceSubmitCmd() *cobra.Command {
	var projectID, amount string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a manual completion-model invoice",
		RunE: func(cmd *cobra.Command, args []string) error {
			amountDec, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("--amount must be a decimal: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.SubmitManualInvoice(ctx, projectID, amountDec, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&amount, "amount", "", "invoice amount")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func invoiceListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices with effective status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				invoices, err := e.Repo.ListInvoices(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(invoices)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Amount", "Status", "Paid At"})
				for _, inv := range invoices {
					paid := ""
					if inv.PaidAt != nil {
						paid = *inv.PaidAt
					}
					tw.AppendRow(table.Row{inv.ID, inv.Type, inv.TotalAmount.String(), e.EffectiveInvoiceStatus(inv, p), paid})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func invoiceTransitionCmd(verb, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.Invoice, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <invoice-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
}

func invoiceFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <invoice-id>",
		Short: "Record a failed wallet credit attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RecordCreditFailure(ctx, args[0], reason, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var projectID, recipient string
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show the notification feed projected from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				log, err := r.ListEvents(ctx, repo.EventFilter{ProjectID: projectID, Limit: limit})
				if err != nil {
					return err
				}
				records := notify.All(log)
				if recipient != "" {
					filtered := records[:0]
					for _, rec := range records {
						if rec.RecipientID == recipient {
							filtered = append(filtered, rec)
						}
					}
					records = filtered
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event", "Recipient", "Title", "Body", "TS"})
				for _, rec := range records {
					tw.AppendRow(table.Row{rec.EventID, rec.RecipientID, rec.Title, rec.Body, rec.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient filter")
	cmd.Flags().IntVar(&limit, "n", 100, "number of events to scan")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var projectID, evtType, actorID string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, repo.EventFilter{
					ProjectID: projectID,
					Type:      evtType,
					ActorID:   actorID,
					Limit:     n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GIGLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("GIGLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			stopWebhooks := server.StartWebhookDispatcher(e)
			defer stopWebhooks()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gigline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
