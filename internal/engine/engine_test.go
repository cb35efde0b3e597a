package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"atrium/internal/config"
	"atrium/internal/db"
	"atrium/internal/domain"
	"atrium/internal/engine"
	"atrium/internal/migrate"
	"atrium/internal/notify"
	"atrium/internal/repo"
)

const testPropertyID = "prop-1"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cfg := config.Default(testPropertyID)
	cfg.Notifications.NotifyStakeholders = true
	return newTestEnvWithConfig(t, cfg)
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) testEnv {
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
	r := repo.Repo{DB: conn}
	pub := notify.NewPublisher(r, notify.ResolverFor(cfg.Notifications.NotifyStakeholders), nil)
	eng := engine.New(conn, cfg, pub)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	eng.History.Now = func() time.Time { return clock }
	pub.Now = func() time.Time { return clock }
	ctx := context.Background()
	if _, err := eng.InitProperty(ctx, testPropertyID, "Test Property", "", "tester"); err != nil {
		t.Fatalf("init property: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createOrder(t *testing.T, env testEnv, mutate func(*engine.WorkOrderCreateOptions)) domain.WorkOrder {
	t.Helper()
	opts := engine.WorkOrderCreateOptions{
		PropertyID: testPropertyID,
		WorkType:   domain.TypeComplaint,
		Title:      "Leaky faucet",
		AssetID:    "asset-1",
		DueDate:    "2024-02-01",
		ActorID:    "tester",
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := env.Engine.CreateWorkOrder(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create work order: %v", err)
	}
	return w
}

func TestCreateAssignsSequentialCodes(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 3; i++ {
		w := createOrder(t, env, nil)
		want := fmt.Sprintf("WO-%05d", i)
		if w.Code != want {
			t.Fatalf("expected code %s, got %s", want, w.Code)
		}
		if w.Status != domain.StatusActive {
			t.Fatalf("expected new order active, got %s", w.Status)
		}
		if w.Priority != "medium" {
			t.Fatalf("expected default priority medium, got %s", w.Priority)
		}
	}
}

func TestReviewRequiresPhoto(t *testing.T) {
	env := newTestEnv(t)
	w := createOrder(t, env, nil)

	if _, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusInProgress, "tester"); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}

	_, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusReview, "tester")
	var terr engine.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if terr.Reason == "" {
		t.Fatalf("expected a photo reason on the error")
	}

	if _, err := env.Engine.AttachPhoto(env.Ctx, w.ID, "https://img.example/1.jpg", "tester"); err != nil {
		t.Fatalf("attach photo: %v", err)
	}
	got, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusReview, "tester")
	if err != nil {
		t.Fatalf("to review with photo: %v", err)
	}
	if got.Status != domain.StatusReview {
		t.Fatalf("expected review, got %s", got.Status)
	}
}

func TestSkipToDoneRejected(t *testing.T) {
	env := newTestEnv(t)
	w := createOrder(t, env, nil)

	_, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusDone, "tester")
	var terr engine.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if terr.From != domain.StatusActive || terr.To != domain.StatusDone {
		t.Fatalf("unexpected transition error: %+v", terr)
	}
}

func TestReviewCannotGoBack(t *testing.T) {
	env := newTestEnv(t)
	w := createOrder(t, env, nil)

	if _, err := env.Engine.AttachPhoto(env.Ctx, w.ID, "https://img.example/1.jpg", "tester"); err != nil {
		t.Fatalf("attach photo: %v", err)
	}
	if _, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusReview, "tester"); err != nil {
		t.Fatalf("to review: %v", err)
	}

	for _, back := range []string{domain.StatusActive, domain.StatusInProgress} {
		_, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, back, "tester")
		var terr engine.TransitionError
		if !errors.As(err, &terr) {
			t.Fatalf("expected review->%s rejected, got %v", back, err)
		}
		if terr.From != domain.StatusReview || terr.To != back {
			t.Fatalf("unexpected transition error: %+v", terr)
		}
	}
}

func TestCreateRequiresDueDate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateWorkOrder(env.Ctx, engine.WorkOrderCreateOptions{
		PropertyID: testPropertyID,
		WorkType:   domain.TypeComplaint,
		Title:      "Leaky faucet",
		AssetID:    "asset-1",
		ActorID:    "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for missing due date, got %v", err)
	}
}

func TestSameStatusIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	w := createOrder(t, env, nil)

	got, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusActive, "tester")
	if err != nil {
		t.Fatalf("same status transition: %v", err)
	}
	if got.Status != domain.StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
	n, err := env.Engine.Repo.CountHistory(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the created entry, got %d", n)
	}
}

func TestDetailsMustMatchWorkType(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateWorkOrder(env.Ctx, engine.WorkOrderCreateOptions{
		PropertyID: testPropertyID,
		WorkType:   domain.TypeComplaint,
		Title:      "Noise complaint",
		AssetID:    "asset-1",
		ActorID:    "tester",
		Preventive: &domain.PreventiveDetails{RecurrenceRule: "monthly"},
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for stray variant, got %v", err)
	}

	_, err = env.Engine.CreateWorkOrder(env.Ctx, engine.WorkOrderCreateOptions{
		PropertyID: testPropertyID,
		WorkType:   domain.TypePreventive,
		Title:      "HVAC inspection",
		AssetID:    "asset-2",
		ActorID:    "tester",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for missing preventive details, got %v", err)
	}

	w, err := env.Engine.CreateWorkOrder(env.Ctx, engine.WorkOrderCreateOptions{
		PropertyID: testPropertyID,
		WorkType:   domain.TypePreventive,
		Title:      "HVAC inspection",
		AssetID:    "asset-2",
		DueDate:    "2024-02-01",
		ActorID:    "tester",
		Preventive: &domain.PreventiveDetails{RecurrenceRule: "monthly", WindowDays: 7},
	})
	if err != nil {
		t.Fatalf("create preventive order: %v", err)
	}
	if w.Preventive == nil || w.Preventive.RecurrenceRule != "monthly" {
		t.Fatalf("expected preventive details persisted, got %+v", w.Preventive)
	}
}

func TestDoneOrdersAreFrozen(t *testing.T) {
	env := newTestEnv(t)
	w := createOrder(t, env, nil)
	if _, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusInProgress, "tester"); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if _, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, domain.StatusDone, "tester"); err != nil {
		t.Fatalf("to done: %v", err)
	}

	title := "New title"
	_, err := env.Engine.UpdateWorkOrder(env.Ctx, engine.WorkOrderUpdateOptions{
		ID:      w.ID,
		Title:   &title,
		ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected done orders to reject edits, got %v", err)
	}
}

func TestHistorySurvivesDeletion(t *testing.T) {
	env := newTestEnv(t)
	w := createOrder(t, env, nil)

	if err := env.Engine.DeleteWorkOrder(env.Ctx, w.ID, "tester"); err != nil {
		t.Fatalf("delete work order: %v", err)
	}
	if _, err := env.Engine.Repo.GetWorkOrder(env.Ctx, w.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected order gone, got %v", err)
	}

	entries, err := env.Engine.Repo.ListHistory(env.Ctx, repo.HistoryFilters{WorkOrderID: w.ID})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected created and deleted entries, got %d", len(entries))
	}
	if entries[0].Action != "deleted" || entries[1].Action != "created" {
		t.Fatalf("expected most recent entry first, got %s then %s", entries[0].Action, entries[1].Action)
	}
}

func TestDeletedActorResolvesToUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	w := createOrder(t, env, func(o *engine.WorkOrderCreateOptions) {
		o.ActorID = "temp-user"
	})

	if err := env.Engine.Repo.DeleteActor(env.Ctx, "temp-user"); err != nil {
		t.Fatalf("delete actor: %v", err)
	}
	entries, err := env.Engine.Repo.ListHistory(env.Ctx, repo.HistoryFilters{WorkOrderID: w.ID})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].PerformedByName != repo.UnknownUserName {
		t.Fatalf("expected %q, got %q", repo.UnknownUserName, entries[0].PerformedByName)
	}
	if entries[0].PerformedBy != "temp-user" {
		t.Fatalf("expected raw actor id kept, got %q", entries[0].PerformedBy)
	}
}

func TestNotificationsAddressStakeholders(t *testing.T) {
	env := newTestEnv(t)
	createOrder(t, env, func(o *engine.WorkOrderCreateOptions) {
		o.ActorID = "alice"
		o.AssignedTo = "bob"
	})

	for _, user := range []string{"alice", "bob"} {
		items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: user})
		if err != nil {
			t.Fatalf("list notifications for %s: %v", user, err)
		}
		if len(items) != 1 {
			t.Fatalf("expected 1 notification for %s, got %d", user, len(items))
		}
		if items[0].Action != domain.ActionCreated {
			t.Fatalf("expected created action, got %s", items[0].Action)
		}
	}

	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: "carol"})
	if err != nil {
		t.Fatalf("list notifications for carol: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no notifications for carol, got %d", len(items))
	}
}

func TestDefaultConfigNotifiesActorOnly(t *testing.T) {
	env := newTestEnvWithConfig(t, config.Default(testPropertyID))
	createOrder(t, env, func(o *engine.WorkOrderCreateOptions) {
		o.ActorID = "alice"
		o.AssignedTo = "bob"
	})

	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: "alice"})
	if err != nil {
		t.Fatalf("list notifications for alice: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 notification for the acting user, got %d", len(items))
	}

	items, err = env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: "bob"})
	if err != nil {
		t.Fatalf("list notifications for bob: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected assignee unaddressed by default, got %d", len(items))
	}
}
