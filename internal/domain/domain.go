package domain

// Work order statuses.
const (
	StatusActive     = "active"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

// Work order types.
const (
	TypePreventive = "preventive"
	TypeComplaint  = "complaint"
	TypeJob        = "job"
	TypeRepair     = "repair"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Notification actions.
const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionDeleted       = "deleted"
	ActionStatusChanged = "status_changed"
)

// ModuleWorkOrders is the module label stamped on notifications that
// originate from the work-order subsystem.
const ModuleWorkOrders = "Work Orders"

type Property struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// WorkOrder is a trackable maintenance/complaint/job/repair record.
// Exactly one of Preventive/Job/Repair is set, matching WorkType;
// complaint carries no variant.
type WorkOrder struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	PropertyID  string  `json:"property_id"`
	WorkType    string  `json:"work_type" enum:"preventive,complaint,job,repair"`
	Status      string  `json:"status" enum:"active,in_progress,review,done"`
	Priority    string  `json:"priority" enum:"low,medium,high"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	AssetID     string  `json:"asset_id"`
	LocationID  string  `json:"location_id,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	RequestedBy string  `json:"requested_by"`
	DueDate     string  `json:"due_date,omitempty" format:"date"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`

	Preventive *PreventiveDetails `json:"preventive,omitempty"`
	Job        *JobDetails        `json:"job,omitempty"`
	Repair     *RepairDetails     `json:"repair,omitempty"`
}

// PreventiveDetails is the recurrence window for preventive orders.
type PreventiveDetails struct {
	RecurrenceRule string `json:"recurrence_rule"`
	WindowDays     int    `json:"window_days,omitempty"`
}

// JobDetails carries the job category and service-provider contact.
type JobDetails struct {
	Category     string `json:"category"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

// RepairDetails carries the unit number and on-site contact.
type RepairDetails struct {
	UnitNumber   string `json:"unit_number"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type Photo struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"work_order_id"`
	URL         string `json:"url"`
	AddedBy     string `json:"added_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// HistoryEntry is one immutable row of a work order's audit trail.
// PerformedByName is resolved at read time from the actor registry and
// degrades to "Unknown User" when the actor no longer exists.
type HistoryEntry struct {
	ID              int64  `json:"id"`
	WorkOrderID     string `json:"work_order_id"`
	Action          string `json:"action"`
	Description     string `json:"description,omitempty"`
	PerformedBy     string `json:"performed_by"`
	PerformedByName string `json:"performed_by_name,omitempty"`
	PerformedAt     string `json:"performed_at" format:"date-time"`
}

// Notification is immutable after creation except for IsRead, and is
// removed only by an explicit recipient delete.
type Notification struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	Module     string   `json:"module"`
	Action     string   `json:"action" enum:"created,updated,deleted,status_changed"`
	EntityID   string   `json:"entity_id"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	IsRead     bool     `json:"is_read"`
}

// RecipientOf reports whether userID is in the recipient set.
func (n Notification) RecipientOf(userID string) bool {
	for _, r := range n.Recipients {
		if r == userID {
			return true
		}
	}
	return false
}

type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
