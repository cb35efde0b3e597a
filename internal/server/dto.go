package server

import (
	"atrium/internal/config"
	"atrium/internal/domain"
)

// Request payloads

type CreatePropertyRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type PreventiveDetailsRequest struct {
	RecurrenceRule string `json:"recurrence_rule"`
	WindowDays     int    `json:"window_days,omitempty"`
}

type JobDetailsRequest struct {
	Category     string `json:"category"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type RepairDetailsRequest struct {
	UnitNumber   string `json:"unit_number"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type CreateWorkOrderRequest struct {
	ID          *string                   `json:"id,omitempty"`
	WorkType    string                    `json:"work_type" enum:"preventive,complaint,job,repair"`
	Title       string                    `json:"title"`
	Description *string                   `json:"description,omitempty"`
	Priority    *string                   `json:"priority,omitempty" enum:"low,medium,high"`
	AssetID     string                    `json:"asset_id"`
	LocationID  *string                   `json:"location_id,omitempty"`
	AssignedTo  *string                   `json:"assigned_to,omitempty"`
	DueDate     *string                   `json:"due_date,omitempty" format:"date"`
	Preventive  *PreventiveDetailsRequest `json:"preventive,omitempty"`
	Job         *JobDetailsRequest        `json:"job,omitempty"`
	Repair      *RepairDetailsRequest     `json:"repair,omitempty"`
}

type UpdateWorkOrderRequest struct {
	Title       *string                   `json:"title,omitempty"`
	Description *string                   `json:"description,omitempty"`
	Priority    *string                   `json:"priority,omitempty" enum:"low,medium,high"`
	LocationID  *string                   `json:"location_id,omitempty"`
	AssignedTo  *string                   `json:"assigned_to,omitempty"`
	DueDate     *string                   `json:"due_date,omitempty" format:"date"`
	Preventive  *PreventiveDetailsRequest `json:"preventive,omitempty"`
	Job         *JobDetailsRequest        `json:"job,omitempty"`
	Repair      *RepairDetailsRequest     `json:"repair,omitempty"`
}

type TransitionWorkOrderRequest struct {
	Status string `json:"status" enum:"active,in_progress,review,done"`
}

type AttachPhotoRequest struct {
	URL string `json:"url"`
}

// Response payloads

type PropertyResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type WorkOrderResponse struct {
	ID          string                    `json:"id"`
	Code        string                    `json:"code"`
	PropertyID  string                    `json:"property_id"`
	WorkType    string                    `json:"work_type" enum:"preventive,complaint,job,repair"`
	Status      string                    `json:"status" enum:"active,in_progress,review,done"`
	Priority    string                    `json:"priority" enum:"low,medium,high"`
	Title       string                    `json:"title"`
	Description string                    `json:"description,omitempty"`
	AssetID     string                    `json:"asset_id"`
	LocationID  string                    `json:"location_id,omitempty"`
	AssignedTo  *string                   `json:"assigned_to,omitempty"`
	RequestedBy string                    `json:"requested_by"`
	DueDate     string                    `json:"due_date,omitempty" format:"date"`
	Preventive  *domain.PreventiveDetails `json:"preventive,omitempty"`
	Job         *domain.JobDetails        `json:"job,omitempty"`
	Repair      *domain.RepairDetails     `json:"repair,omitempty"`
	CreatedAt   string                    `json:"created_at" format:"date-time"`
	UpdatedAt   string                    `json:"updated_at" format:"date-time"`
}

type PhotoResponse struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"work_order_id"`
	URL         string `json:"url"`
	AddedBy     string `json:"added_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type HistoryEntryResponse struct {
	ID              int64  `json:"id"`
	WorkOrderID     string `json:"work_order_id"`
	Action          string `json:"action"`
	Description     string `json:"description,omitempty"`
	PerformedBy     string `json:"performed_by"`
	PerformedByName string `json:"performed_by_name"`
	PerformedAt     string `json:"performed_at" format:"date-time"`
}

type NotificationResponse struct {
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

type ActorResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type PropertyConfigResponse struct {
	Property struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"property"`
	WorkOrders struct {
		CodePrefix      string `json:"code_prefix"`
		DefaultPriority string `json:"default_priority"`
	} `json:"workorders"`
	Notifications struct {
		Strategy           string `json:"strategy"`
		NotifyStakeholders bool   `json:"notify_stakeholders"`
	} `json:"notifications"`
}

type paginatedWorkOrders struct {
	Items      []WorkOrderResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedNotifications struct {
	Items      []NotificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// Conversion helpers

func propertyResponse(p domain.Property) PropertyResponse {
	return PropertyResponse(p)
}

func workOrderResponse(w domain.WorkOrder) WorkOrderResponse {
	return WorkOrderResponse{
		ID:          w.ID,
		Code:        w.Code,
		PropertyID:  w.PropertyID,
		WorkType:    w.WorkType,
		Status:      w.Status,
		Priority:    w.Priority,
		Title:       w.Title,
		Description: w.Description,
		AssetID:     w.AssetID,
		LocationID:  w.LocationID,
		AssignedTo:  w.AssignedTo,
		RequestedBy: w.RequestedBy,
		DueDate:     w.DueDate,
		Preventive:  w.Preventive,
		Job:         w.Job,
		Repair:      w.Repair,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func photoResponse(p domain.Photo) PhotoResponse {
	return PhotoResponse(p)
}

func historyResponse(e domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse(e)
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         n.ID,
		UserID:     n.UserID,
		Module:     n.Module,
		Action:     n.Action,
		EntityID:   n.EntityID,
		Message:    n.Message,
		Recipients: nonNilSlice(n.Recipients),
		CreatedAt:  n.CreatedAt,
		IsRead:     n.IsRead,
	}
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse(a)
}

func configResponse(cfg *config.Config) PropertyConfigResponse {
	var res PropertyConfigResponse
	res.Property.ID = cfg.Property.ID
	res.Property.Kind = cfg.Property.Kind
	res.WorkOrders.CodePrefix = cfg.WorkOrders.CodePrefix
	res.WorkOrders.DefaultPriority = cfg.DefaultPriority()
	res.Notifications.Strategy = cfg.Strategy()
	res.Notifications.NotifyStakeholders = cfg.Notifications.NotifyStakeholders
	return res
}

func mapWorkOrders(items []domain.WorkOrder) []WorkOrderResponse {
	res := make([]WorkOrderResponse, 0, len(items))
	for _, w := range items {
		res = append(res, workOrderResponse(w))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
