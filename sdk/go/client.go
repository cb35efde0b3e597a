package atriumsdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"atrium/internal/domain"
)

// Client is a minimal Atrium HTTP API client.
type Client struct {
	BaseURL     string
	PropertyID  string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, propertyID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		PropertyID: propertyID,
		Timeout:    10 * time.Second,
	}
}

// WorkOrder represents the API work order model (partial).
type WorkOrder struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	Code       string `json:"code"`
	WorkType   string `json:"work_type"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	AssignedTo string `json:"assigned_to,omitempty"`
	DueDate    string `json:"due_date,omitempty"`
}

// Photo represents an attached photo.
type Photo struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"work_order_id"`
	URL         string `json:"url"`
	AddedBy     string `json:"added_by"`
	CreatedAt   string `json:"created_at"`
}

// HistoryEntry represents an audit log entry.
type HistoryEntry struct {
	ID              int64  `json:"id"`
	WorkOrderID     string `json:"work_order_id"`
	Action          string `json:"action"`
	Description     string `json:"description"`
	PerformedBy     string `json:"performed_by"`
	PerformedByName string `json:"performed_by_name,omitempty"`
	PerformedAt     string `json:"performed_at"`
}

// CreateWorkOrderParams carries the fields for work order creation.
type CreateWorkOrderParams struct {
	WorkType    string `json:"work_type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssetID     string `json:"asset_id"`
	LocationID  string `json:"location_id,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedWorkOrders wraps list responses with cursors.
type PaginatedWorkOrders struct {
	Items      []WorkOrder `json:"items"`
	NextCursor string      `json:"next_cursor"`
}

// PaginatedNotifications wraps notification listings with cursors.
type PaginatedNotifications struct {
	Items      []domain.Notification `json:"items"`
	NextCursor string                `json:"next_cursor"`
}

// CreateWorkOrder creates a work order.
func (c *Client) CreateWorkOrder(ctx context.Context, params CreateWorkOrderParams) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.propertyPath("work-orders"), params, &resp)
	return resp, err
}

// GetWorkOrder fetches a work order by id.
func (c *Client) GetWorkOrder(ctx context.Context, id string) (WorkOrder, error) {
	var resp WorkOrder
	endpoint := c.propertyPath("work-orders/" + url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WorkOrdersPage returns a paginated work order listing.
func (c *Client) WorkOrdersPage(ctx context.Context, limit int, cursor string) (PaginatedWorkOrders, error) {
	endpoint := c.propertyPath("work-orders")
	endpoint = withQuery(endpoint, limit, cursor)
	var resp PaginatedWorkOrders
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TransitionWorkOrder moves a work order to a new status.
func (c *Client) TransitionWorkOrder(ctx context.Context, id, status string) (WorkOrder, error) {
	body := map[string]any{"status": status}
	var resp WorkOrder
	endpoint := c.propertyPath(fmt.Sprintf("work-orders/%s/transition", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AttachPhoto adds a photo to a work order.
func (c *Client) AttachPhoto(ctx context.Context, workOrderID, photoURL string) (Photo, error) {
	body := map[string]any{"url": photoURL}
	var resp Photo
	endpoint := c.propertyPath(fmt.Sprintf("work-orders/%s/photos", url.PathEscape(workOrderID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// History returns audit entries for a work order, most recent first.
// The server responds with a bare JSON array.
func (c *Client) History(ctx context.Context, workOrderID string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	endpoint := c.propertyPath(fmt.Sprintf("work-orders/%s/history", url.PathEscape(workOrderID)))
	endpoint = withQuery(endpoint, limit, "")
	err := c.do(ctx, http.MethodGet, endpoint, nil, &entries)
	return entries, err
}

// NotificationsPage returns a paginated notification listing for the
// authenticated principal.
func (c *Client) NotificationsPage(ctx context.Context, limit int, cursor string) (PaginatedNotifications, error) {
	endpoint := withQuery("v0/notifications", limit, cursor)
	var resp PaginatedNotifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListNotifications satisfies notify.Store. The server scopes results
// to the authenticated principal, so userID is not sent.
func (c *Client) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	page, err := c.NotificationsPage(ctx, limit, "")
	return page.Items, err
}

// UnreadCount returns the unread notification count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Unread int `json:"unread"`
	}
	err := c.do(ctx, http.MethodGet, "v0/notifications/unread-count", nil, &resp)
	return resp.Unread, err
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/notifications/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// MarkAllNotificationsRead marks every notification read and returns
// the number affected.
func (c *Client) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	err := c.do(ctx, http.MethodPost, "v0/notifications/read-all", nil, &resp)
	return resp.Marked, err
}

// DeleteNotification removes a notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	endpoint := "v0/notifications/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// DevLogin exchanges an actor id for a bearer token on servers with the
// dev login endpoint enabled, and stores the token on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string, roles []string) (string, error) {
	body := map[string]any{"actor_id": actorID, "roles": roles}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// SubscribeNotifications opens the live notification stream and invokes
// handler for each notification. onResync is called when the server
// signals that events were dropped and the caller should refetch; it
// may be nil. Blocks until ctx is done or the stream fails.
func (c *Client) SubscribeNotifications(ctx context.Context, handler func(domain.Notification), onResync func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/v0/notifications/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			if event == "resync" && onResync != nil {
				onResync()
			}
		case strings.HasPrefix(line, "data: "):
			if event != "notification" {
				continue
			}
			var n domain.Notification
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
				continue
			}
			handler(n)
		case line == "":
			event = ""
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
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
	c.authorize(req)
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

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) propertyPath(p string) string {
	property := url.PathEscape(c.PropertyID)
	return fmt.Sprintf("v0/properties/%s/%s", property, strings.TrimLeft(p, "/"))
}

func withQuery(endpoint string, limit int, cursor string) string {
	if limit > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%slimit=%d", endpoint, sep, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
