package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"atrium/internal/config"
	"atrium/internal/domain"
	"atrium/internal/history"
	"atrium/internal/notify"
	"atrium/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	History   history.Recorder
	Publisher *notify.Publisher
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, pub *notify.Publisher) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		History:   history.Recorder{DB: db},
		Publisher: pub,
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError marks request-shape problems the caller can fix.
type ValidationError struct {
	Msg string
}

func (v ValidationError) Error() string { return v.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransitionError is a status change the lifecycle does not allow.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (t TransitionError) Error() string {
	if t.Reason != "" {
		return fmt.Sprintf("invalid work order status transition %s -> %s: %s", t.From, t.To, t.Reason)
	}
	return fmt.Sprintf("invalid work order status transition %s -> %s", t.From, t.To)
}

// InitProperty initializes a new property with migrations already run.
func (e Engine) InitProperty(ctx context.Context, propertyID, name, description, actorID string) (domain.Property, error) {
	if name == "" {
		name = propertyID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Property{}, err
	}
	defer tx.Rollback()

	p := domain.Property{
		ID:          propertyID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO properties(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Property{}, fmt.Errorf("insert property: %w", err)
	}
	if err := e.Repo.UpsertPropertyConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Property{}, fmt.Errorf("insert property config: %w", err)
	}
	if actorID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, p.CreatedAt); err != nil {
			return domain.Property{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Property{}, err
	}
	return p, nil
}

// WorkOrderCreateOptions are parameters for creating a work order.
type WorkOrderCreateOptions struct {
	ID          string
	PropertyID  string
	WorkType    string
	Priority    string
	Title       string
	Description string
	AssetID     string
	LocationID  string
	AssignedTo  string
	DueDate     string
	Preventive  *domain.PreventiveDetails
	Job         *domain.JobDetails
	Repair      *domain.RepairDetails
	ActorID     string
}

func validWorkType(t string) bool {
	switch t {
	case domain.TypePreventive, domain.TypeComplaint, domain.TypeJob, domain.TypeRepair:
		return true
	}
	return false
}

func validPriority(p string) bool {
	switch p {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
		return true
	}
	return false
}

// ensureDetailsMatchType checks that exactly the variant for the work
// type is present. Complaints carry no variant at all.
func ensureDetailsMatchType(workType string, preventive *domain.PreventiveDetails, job *domain.JobDetails, repair *domain.RepairDetails) error {
	count := 0
	if preventive != nil {
		count++
	}
	if job != nil {
		count++
	}
	if repair != nil {
		count++
	}
	switch workType {
	case domain.TypePreventive:
		if preventive == nil || count != 1 {
			return validationf("preventive work order requires preventive details and no other variant")
		}
		if preventive.RecurrenceRule == "" {
			return validationf("preventive.recurrence_rule is required")
		}
	case domain.TypeJob:
		if job == nil || count != 1 {
			return validationf("job work order requires job details and no other variant")
		}
		if job.Category == "" {
			return validationf("job.category is required")
		}
	case domain.TypeRepair:
		if repair == nil || count != 1 {
			return validationf("repair work order requires repair details and no other variant")
		}
		if repair.UnitNumber == "" {
			return validationf("repair.unit_number is required")
		}
	case domain.TypeComplaint:
		if count != 0 {
			return validationf("complaint work order carries no details variant")
		}
	}
	return nil
}

func (e Engine) CreateWorkOrder(ctx context.Context, opts WorkOrderCreateOptions) (domain.WorkOrder, error) {
	if e.Config == nil {
		return domain.WorkOrder{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.WorkOrder{}, validationf("title is required")
	}
	if opts.PropertyID == "" {
		return domain.WorkOrder{}, validationf("property is required")
	}
	if opts.AssetID == "" {
		return domain.WorkOrder{}, validationf("asset_id is required")
	}
	if !validWorkType(opts.WorkType) {
		return domain.WorkOrder{}, validationf("work_type must be one of preventive, complaint, job, repair")
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.DefaultPriority()
	}
	if !validPriority(opts.Priority) {
		return domain.WorkOrder{}, validationf("priority must be one of low, medium, high")
	}
	if err := ensureDetailsMatchType(opts.WorkType, opts.Preventive, opts.Job, opts.Repair); err != nil {
		return domain.WorkOrder{}, err
	}
	if opts.DueDate == "" {
		return domain.WorkOrder{}, validationf("due_date is required")
	}
	if _, err := time.Parse("2006-01-02", opts.DueDate); err != nil {
		return domain.WorkOrder{}, validationf("due_date must be YYYY-MM-DD")
	}
	if _, err := e.Repo.GetProperty(ctx, opts.PropertyID); err != nil {
		return domain.WorkOrder{}, err
	}

	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewString()
	}
	if opts.ActorID == "" {
		opts.ActorID = "local-user"
	}
	w := domain.WorkOrder{
		ID:          id,
		PropertyID:  opts.PropertyID,
		WorkType:    opts.WorkType,
		Status:      domain.StatusActive,
		Priority:    opts.Priority,
		Title:       opts.Title,
		Description: opts.Description,
		AssetID:     opts.AssetID,
		LocationID:  opts.LocationID,
		AssignedTo:  optionalString(opts.AssignedTo),
		RequestedBy: opts.ActorID,
		DueDate:     opts.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
		Preventive:  opts.Preventive,
		Job:         opts.Job,
		Repair:      opts.Repair,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	seq, err := e.Repo.NextWorkOrderSeq(ctx, tx, opts.PropertyID)
	if err != nil {
		return domain.WorkOrder{}, fmt.Errorf("work order sequence: %w", err)
	}
	prefix := e.Config.WorkOrders.CodePrefix
	if prefix == "" {
		prefix = "WO"
	}
	w.Code = fmt.Sprintf("%s-%05d", prefix, seq)

	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.Repo.InsertWorkOrder(ctx, tx, w); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.History.Append(ctx, tx, w.ID, "created", fmt.Sprintf("work order %s created", w.Code), opts.ActorID); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.publish(ctx, w, domain.ActionCreated, fmt.Sprintf("Work order %s created: %s", w.Code, w.Title), opts.ActorID)
	return w, nil
}

// WorkOrderUpdateOptions encapsulates allowed updates. Nil pointer
// fields are left untouched.
type WorkOrderUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Priority    *string
	AssignedTo  *string
	LocationID  *string
	DueDate     *string
	Preventive  *domain.PreventiveDetails
	Job         *domain.JobDetails
	Repair      *domain.RepairDetails
	ActorID     string
}

func (e Engine) UpdateWorkOrder(ctx context.Context, opts WorkOrderUpdateOptions) (domain.WorkOrder, error) {
	w, err := e.Repo.GetWorkOrder(ctx, opts.ID)
	if err != nil {
		return w, err
	}
	if w.Status == domain.StatusDone {
		return w, validationf("work order %s is done and can no longer be edited", w.Code)
	}
	var changed []string
	if opts.Title != nil && *opts.Title != w.Title {
		if *opts.Title == "" {
			return w, validationf("title is required")
		}
		w.Title = *opts.Title
		changed = append(changed, "title")
	}
	if opts.Description != nil && *opts.Description != w.Description {
		w.Description = *opts.Description
		changed = append(changed, "description")
	}
	if opts.Priority != nil && *opts.Priority != w.Priority {
		if !validPriority(*opts.Priority) {
			return w, validationf("priority must be one of low, medium, high")
		}
		w.Priority = *opts.Priority
		changed = append(changed, "priority")
	}
	if opts.AssignedTo != nil {
		if *opts.AssignedTo == "" {
			if w.AssignedTo != nil {
				w.AssignedTo = nil
				changed = append(changed, "assigned_to")
			}
		} else if w.AssignedTo == nil || *w.AssignedTo != *opts.AssignedTo {
			w.AssignedTo = opts.AssignedTo
			changed = append(changed, "assigned_to")
		}
	}
	if opts.LocationID != nil && *opts.LocationID != w.LocationID {
		w.LocationID = *opts.LocationID
		changed = append(changed, "location_id")
	}
	if opts.DueDate != nil && *opts.DueDate != w.DueDate {
		if *opts.DueDate != "" {
			if _, err := time.Parse("2006-01-02", *opts.DueDate); err != nil {
				return w, validationf("due_date must be YYYY-MM-DD")
			}
		}
		w.DueDate = *opts.DueDate
		changed = append(changed, "due_date")
	}
	if opts.Preventive != nil || opts.Job != nil || opts.Repair != nil {
		if err := ensureDetailsMatchType(w.WorkType, opts.Preventive, opts.Job, opts.Repair); err != nil {
			return w, err
		}
		w.Preventive = opts.Preventive
		w.Job = opts.Job
		w.Repair = opts.Repair
		changed = append(changed, "details")
	}
	if len(changed) == 0 {
		return w, nil
	}
	if opts.ActorID == "" {
		opts.ActorID = "local-user"
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
		return w, err
	}
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.History.Append(ctx, tx, w.ID, "updated", "updated "+strings.Join(changed, ", "), opts.ActorID); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	e.publish(ctx, w, domain.ActionUpdated, fmt.Sprintf("Work order %s updated (%s)", w.Code, strings.Join(changed, ", ")), opts.ActorID)
	return w, nil
}

// ensureWorkOrderTransition enforces the lifecycle. Review requires at
// least one photo on the order; done is terminal.
func ensureWorkOrderTransition(oldStatus, newStatus string, photoCount int) error {
	if oldStatus == newStatus {
		return nil
	}
	allowed := func() bool {
		switch oldStatus {
		case domain.StatusActive:
			return newStatus == domain.StatusInProgress || newStatus == domain.StatusReview
		case domain.StatusInProgress:
			return newStatus == domain.StatusActive || newStatus == domain.StatusReview || newStatus == domain.StatusDone
		case domain.StatusReview:
			return newStatus == domain.StatusDone
		}
		return false
	}()
	if !allowed {
		return TransitionError{From: oldStatus, To: newStatus}
	}
	if newStatus == domain.StatusReview && photoCount == 0 {
		return TransitionError{From: oldStatus, To: newStatus, Reason: "at least one photo is required before review"}
	}
	return nil
}

// TransitionWorkOrder moves a work order to a new status. Requesting
// the current status is a no-op, not an error.
func (e Engine) TransitionWorkOrder(ctx context.Context, id, newStatus, actorID string) (domain.WorkOrder, error) {
	switch newStatus {
	case domain.StatusActive, domain.StatusInProgress, domain.StatusReview, domain.StatusDone:
	default:
		return domain.WorkOrder{}, validationf("status must be one of active, in_progress, review, done")
	}
	w, err := e.Repo.GetWorkOrder(ctx, id)
	if err != nil {
		return w, err
	}
	if w.Status == newStatus {
		return w, nil
	}
	if actorID == "" {
		actorID = "local-user"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()

	photos, err := e.Repo.CountPhotosTx(ctx, tx, w.ID)
	if err != nil {
		return w, err
	}
	if err := ensureWorkOrderTransition(w.Status, newStatus, photos); err != nil {
		return w, err
	}
	oldStatus := w.Status
	w.Status = newStatus
	now := e.now().UTC().Format(time.RFC3339)
	w.UpdatedAt = now

	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return w, err
	}
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.History.Append(ctx, tx, w.ID, "status_changed",
		fmt.Sprintf("status changed from %s to %s", oldStatus, newStatus), actorID); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	e.publish(ctx, w, domain.ActionStatusChanged,
		fmt.Sprintf("Work order %s moved from %s to %s", w.Code, oldStatus, newStatus), actorID)
	return w, nil
}

// AttachPhoto adds a photo to a work order and records it in history.
func (e Engine) AttachPhoto(ctx context.Context, workOrderID, url, actorID string) (domain.Photo, error) {
	if url == "" {
		return domain.Photo{}, validationf("url is required")
	}
	w, err := e.Repo.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return domain.Photo{}, err
	}
	if w.Status == domain.StatusDone {
		return domain.Photo{}, validationf("work order %s is done and can no longer be edited", w.Code)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Photo{
		ID:          uuid.NewString(),
		WorkOrderID: w.ID,
		URL:         url,
		AddedBy:     actorID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return p, err
	}
	if err := e.Repo.InsertPhoto(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.History.Append(ctx, tx, w.ID, "photo_added", "photo attached", actorID); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.publish(ctx, w, domain.ActionUpdated, fmt.Sprintf("Work order %s updated (photo added)", w.Code), actorID)
	return p, nil
}

// DeleteWorkOrder removes the order and its photos. History entries
// stay behind as the record of what happened.
func (e Engine) DeleteWorkOrder(ctx context.Context, id, actorID string) error {
	w, err := e.Repo.GetWorkOrder(ctx, id)
	if err != nil {
		return err
	}
	if actorID == "" {
		actorID = "local-user"
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return err
	}
	if err := e.Repo.DeleteWorkOrder(ctx, tx, id); err != nil {
		return err
	}
	if err := e.History.Append(ctx, tx, w.ID, "deleted", fmt.Sprintf("work order %s deleted", w.Code), actorID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, w, domain.ActionDeleted, fmt.Sprintf("Work order %s deleted", w.Code), actorID)
	return nil
}

// publish announces a committed change. Failures are logged inside the
// publisher and never surface to the caller.
func (e Engine) publish(ctx context.Context, w domain.WorkOrder, action, message, actorID string) {
	if e.Publisher == nil {
		return
	}
	var stakeholders []string
	if w.RequestedBy != "" {
		stakeholders = append(stakeholders, w.RequestedBy)
	}
	if w.AssignedTo != nil {
		stakeholders = append(stakeholders, *w.AssignedTo)
	}
	e.Publisher.Publish(ctx, notify.Event{
		Module:       domain.ModuleWorkOrders,
		Action:       action,
		EntityID:     w.ID,
		Message:      message,
		ActorID:      actorID,
		Stakeholders: stakeholders,
	})
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
