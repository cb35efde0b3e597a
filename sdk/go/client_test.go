package atriumsdk_test

import (
	"context"
	"net"
	"net/http"
	"testing"

	"atrium/internal/config"
	"atrium/internal/db"
	"atrium/internal/engine"
	"atrium/internal/migrate"
	"atrium/internal/notify"
	"atrium/internal/repo"
	"atrium/internal/server"
	atriumsdk "atrium/sdk/go"
)

const testPropertyID = "prop-1"

func startServer(t *testing.T) string {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(testPropertyID)
	r := repo.Repo{DB: conn}
	pub := notify.NewPublisher(r, notify.ResolverFor(cfg.Notifications.NotifyStakeholders), nil)
	e := engine.New(conn, cfg, pub)
	if _, err := e.InitProperty(context.Background(), testPropertyID, "", "", "tester"); err != nil {
		t.Fatalf("init property: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "test-secret"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return "http://" + ln.Addr().String()
}

func TestClientWorkOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := atriumsdk.New(startServer(t), testPropertyID)

	if _, err := client.DevLogin(ctx, "alice", nil); err != nil {
		t.Fatalf("dev login: %v", err)
	}

	created, err := client.CreateWorkOrder(ctx, atriumsdk.CreateWorkOrderParams{
		WorkType: "complaint",
		Title:    "Leaky faucet",
		AssetID:  "asset-1",
		DueDate:  "2026-09-15",
	})
	if err != nil {
		t.Fatalf("create work order: %v", err)
	}
	if created.Code != "WO-00001" || created.Status != "active" {
		t.Fatalf("unexpected work order: %+v", created)
	}

	if _, err := client.TransitionWorkOrder(ctx, created.ID, "in_progress"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := client.AttachPhoto(ctx, created.ID, "https://img.example/faucet.jpg"); err != nil {
		t.Fatalf("attach photo: %v", err)
	}

	entries, err := client.History(ctx, created.ID, 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(entries))
	}
	if entries[0].Action != "photo_added" {
		t.Fatalf("expected most recent entry first, got %s", entries[0].Action)
	}
	if entries[len(entries)-1].Action != "created" {
		t.Fatalf("expected created entry last, got %s", entries[len(entries)-1].Action)
	}
	if entries[0].PerformedBy != "alice" {
		t.Fatalf("expected alice in history, got %s", entries[0].PerformedBy)
	}
}

func TestClientNotifications(t *testing.T) {
	ctx := context.Background()
	client := atriumsdk.New(startServer(t), testPropertyID)

	if _, err := client.DevLogin(ctx, "alice", nil); err != nil {
		t.Fatalf("dev login: %v", err)
	}
	if _, err := client.CreateWorkOrder(ctx, atriumsdk.CreateWorkOrderParams{
		WorkType: "complaint",
		Title:    "Broken lamp",
		AssetID:  "asset-1",
		DueDate:  "2026-09-15",
	}); err != nil {
		t.Fatalf("create work order: %v", err)
	}

	unread, err := client.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread, got %d", unread)
	}

	items, err := client.ListNotifications(ctx, "alice", 50)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(items))
	}
	if err := client.MarkNotificationRead(ctx, items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err = client.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread count after read: %v", err)
	}
	if unread != 0 {
		t.Fatalf("expected 0 unread, got %d", unread)
	}
}
