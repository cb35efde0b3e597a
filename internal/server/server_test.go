package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"atrium/internal/config"
	"atrium/internal/db"
	"atrium/internal/engine"
	"atrium/internal/migrate"
	"atrium/internal/notify"
	"atrium/internal/repo"
)

const testPropertyID = "prop-1"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testPropertyID)
	cfg.Notifications.NotifyStakeholders = true
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	pub := notify.NewPublisher(r, notify.ResolverFor(cfg.Notifications.NotifyStakeholders), nil)
	e := engine.New(conn, cfg, pub)
	if _, err := e.InitProperty(context.Background(), testPropertyID, "", "", "tester"); err != nil {
		t.Fatalf("init property: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
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
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func createWorkOrder(t *testing.T, srv *testServer, headers map[string]string, body map[string]any) WorkOrderResponse {
	t.Helper()
	if body == nil {
		body = map[string]any{}
	}
	if body["title"] == nil {
		body["title"] = "Fix lobby door"
	}
	if body["work_type"] == nil {
		body["work_type"] = "complaint"
	}
	if body["asset_id"] == nil {
		body["asset_id"] = "asset-1"
	}
	if body["due_date"] == nil {
		body["due_date"] = "2026-09-15"
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/properties/"+testPropertyID+"/work-orders", body, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work order status %d: %s", res.StatusCode, string(data))
	}
	var created WorkOrderResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal work order: %v", err)
	}
	return created
}

func TestWorkOrderLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	headers := asActor("tester")

	created := createWorkOrder(t, srv, headers, nil)
	if created.Status != "active" {
		t.Fatalf("expected new work order active, got %s", created.Status)
	}
	if created.Code != "WO-00001" {
		t.Fatalf("expected code WO-00001, got %s", created.Code)
	}
	base := srv.URL + "/v0/properties/" + testPropertyID + "/work-orders/" + created.ID

	res, body := doJSON(t, client, http.MethodPost, base+"/transition", map[string]any{"status": "in_progress"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to in_progress: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/transition", map[string]any{"status": "review"}, headers)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected review without photo rejected with 422, got %d %s", res.StatusCode, string(body))
	}
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if apiErr.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", apiErr.Error.Code)
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/photos", map[string]any{"url": "https://img.example/door.jpg"}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach photo: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/transition", map[string]any{"status": "review"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to review after photo: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/transition", map[string]any{"status": "done"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to done: %d %s", res.StatusCode, string(body))
	}
	var done WorkOrderResponse
	if err := json.Unmarshal(body, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.Status != "done" {
		t.Fatalf("expected done, got %s", done.Status)
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/history", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(body))
	}
	var entries []HistoryEntryResponse
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(entries) < 5 {
		t.Fatalf("expected at least 5 history entries, got %d", len(entries))
	}
	if entries[0].Action != "status_changed" {
		t.Fatalf("expected most recent entry first, got %s", entries[0].Action)
	}
	if entries[len(entries)-1].Action != "created" {
		t.Fatalf("expected created entry last, got %s", entries[len(entries)-1].Action)
	}
	if entries[0].PerformedByName == "" {
		t.Fatalf("expected actor name resolved in history")
	}
}

func TestSkipForwardTransitionRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := asActor("tester")
	created := createWorkOrder(t, srv, headers, nil)
	base := srv.URL + "/v0/properties/" + testPropertyID + "/work-orders/" + created.ID

	res, body := doJSON(t, srv.Client(), http.MethodPost, base+"/transition", map[string]any{"status": "done"}, headers)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected active->done rejected with 422, got %d %s", res.StatusCode, string(body))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/properties/"+testPropertyID+"/work-orders", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected health open, got %d", res.StatusCode)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "alice",
		"roles":    []string{"manager"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(body))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("expected a token")
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(body))
	}
	var me MeResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "alice" || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected bad token rejected, got %d %s", res.StatusCode, string(body))
	}
}

func TestWorkOrderListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	headers := asActor("tester")

	for i := 0; i < 3; i++ {
		createWorkOrder(t, srv, headers, map[string]any{"title": "Order"})
	}

	listURL := srv.URL + "/v0/properties/" + testPropertyID + "/work-orders"
	res, body := doJSON(t, client, http.MethodGet, listURL+"?limit=2", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(body))
	}
	var page paginatedWorkOrders
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 items and a cursor, got %d items cursor %q", len(page.Items), page.NextCursor)
	}

	res, body = doJSON(t, client, http.MethodGet, listURL+"?limit=2&cursor="+page.NextCursor, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page: %d %s", res.StatusCode, string(body))
	}
	var second paginatedWorkOrders
	if err := json.Unmarshal(body, &second); err != nil {
		t.Fatalf("unmarshal second page: %v", err)
	}
	if len(second.Items) != 1 || second.NextCursor != "" {
		t.Fatalf("expected final page of 1, got %d items cursor %q", len(second.Items), second.NextCursor)
	}
}

func TestPropertyMismatchHidesWorkOrder(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := asActor("tester")
	created := createWorkOrder(t, srv, headers, nil)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/properties/other-prop/work-orders/"+created.ID, nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong property, got %d %s", res.StatusCode, string(body))
	}
}

func TestNotificationFanOut(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createWorkOrder(t, srv, asActor("alice"), map[string]any{
		"title":       "Replace filter",
		"assigned_to": "bob",
	})

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list notifications: %d %s", res.StatusCode, string(body))
	}
	var page paginatedNotifications
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 notification for assignee, got %d", len(page.Items))
	}
	n := page.Items[0]
	if n.Action != "created" || n.IsRead {
		t.Fatalf("unexpected notification: %+v", n)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications/unread-count", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unread count: %d %s", res.StatusCode, string(body))
	}
	var count struct {
		Unread int `json:"unread"`
	}
	if err := json.Unmarshal(body, &count); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if count.Unread != 1 {
		t.Fatalf("expected 1 unread, got %d", count.Unread)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/"+n.ID+"/read", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark read: %d %s", res.StatusCode, string(body))
	}
	var updated NotificationResponse
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("unmarshal updated: %v", err)
	}
	if !updated.IsRead {
		t.Fatalf("expected notification marked read")
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, asActor("stranger"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stranger list: %d %s", res.StatusCode, string(body))
	}
	var strangerPage paginatedNotifications
	if err := json.Unmarshal(body, &strangerPage); err != nil {
		t.Fatalf("unmarshal stranger page: %v", err)
	}
	if len(strangerPage.Items) != 0 {
		t.Fatalf("expected no notifications for stranger, got %d", len(strangerPage.Items))
	}
}

func TestValidationErrorsMapToBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := asActor("tester")

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/properties/"+testPropertyID+"/work-orders", map[string]any{
		"title":     "Broken elevator",
		"work_type": "complaint",
		"asset_id":  "asset-1",
		"due_date":  "not-a-date",
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad due date, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/properties/"+testPropertyID+"/work-orders", map[string]any{
		"title":     "Broken elevator",
		"work_type": "complaint",
		"asset_id":  "asset-1",
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing due date, got %d %s", res.StatusCode, string(body))
	}
}
