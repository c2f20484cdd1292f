package events

// Domain event types. The vocabulary is open: appending an unknown type is
// legal and degrades to the unclassified notification code.
const (
	TypeProjectActivated = "project_activated"
	TypeProjectPaused    = "project_paused"
	TypeProjectResumed   = "project_resumed"
	TypeTaskCreated      = "task_created"
	TypeTaskSubmitted    = "task_submitted"
	TypeTaskReviewed     = "task_review_started"
	TypeTaskApproved     = "task_approved"
	TypeTaskRejected     = "task_rejected"
	TypeInvoiceCreated   = "invoice_created"
	TypeInvoiceSent      = "invoice_sent"
	TypeInvoicePaid      = "invoice_paid"
	TypeInvoiceOnHold    = "invoice_on_hold"
	TypeInvoiceReleased  = "invoice_released"
	TypeInvoiceCancelled = "invoice_cancelled"
	TypeUpfrontPaid      = "completion.upfront_paid"
	TypeFinalSettled     = "completion.final_settled"
	TypeProjectCompleted = "completion.project_completed"
	TypeCreditFailed     = "wallet.credit_failed"
)

// Notification type codes form a closed enumeration. 0 means "log but do not
// surface"; consumers must treat unknown event types as 0.
const (
	NotifyUnclassified     = 0
	NotifyProjectActivated = 1
	NotifyTaskSubmitted    = 2
	NotifyTaskApproved     = 3
	NotifyTaskRejected     = 4
	NotifyInvoiceSent      = 5
	NotifyInvoicePaid      = 6
	NotifyUpfrontPaid      = 7
	NotifyFinalSettled     = 8
	NotifyProjectCompleted = 9
	NotifyPaymentFailed    = 10
	NotifyProjectPaused    = 11
	NotifyProjectResumed   = 12
	NotifyInvoiceCancelled = 13
)

// Entity type codes, closed enumeration.
const (
	EntityUnknown = 0
	EntityProject = 1
	EntityTask    = 2
	EntityInvoice = 3
	EntityWallet  = 4
)

// notificationTypes maps event types to notification codes. Omission is
// deliberate for bookkeeping-only types (task_created, invoice_created,
// review transitions, invoice hold/release): those events are logged but
// never surfaced.
var notificationTypes = map[string]int{
	TypeProjectActivated: NotifyProjectActivated,
	TypeProjectPaused:    NotifyProjectPaused,
	TypeProjectResumed:   NotifyProjectResumed,
	TypeTaskSubmitted:    NotifyTaskSubmitted,
	TypeTaskApproved:     NotifyTaskApproved,
	TypeTaskRejected:     NotifyTaskRejected,
	TypeInvoiceSent:      NotifyInvoiceSent,
	TypeInvoicePaid:      NotifyInvoicePaid,
	TypeInvoiceCancelled: NotifyInvoiceCancelled,
	TypeUpfrontPaid:      NotifyUpfrontPaid,
	TypeFinalSettled:     NotifyFinalSettled,
	TypeProjectCompleted: NotifyProjectCompleted,
	TypeCreditFailed:     NotifyPaymentFailed,
}

var entityTypes = map[string]int{
	"project": EntityProject,
	"task":    EntityTask,
	"invoice": EntityInvoice,
	"wallet":  EntityWallet,
}

// NotificationTypeFor returns the closed code for an event type, 0 when the
// type is unmapped.
func NotificationTypeFor(eventType string) int {
	return notificationTypes[eventType]
}

// EntityTypeFor returns the closed code for an entity kind, 0 when unknown.
func EntityTypeFor(kind string) int {
	return entityTypes[kind]
}
