package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"atrium/internal/config"
	"atrium/internal/domain"
	"atrium/internal/engine"
	"atrium/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	property string
	webhooks []config.WebhookConfig
	client   *http.Client
}

// StartWebhookDispatcher delivers stored notifications to the
// configured webhook URLs. Cursors persist per hook name, so a restart
// resumes where delivery left off instead of replaying everything.
func StartWebhookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	propertyID := e.Config.Property.ID
	if strings.TrimSpace(propertyID) == "" {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		property: propertyID,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for _, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(hook config.WebhookConfig) {
	ctx := context.Background()
	cursor, err := d.engine.Repo.GetWebhookCursor(ctx, hook.Name)
	if err != nil {
		log.Printf("webhook: load cursor for %s failed: %v", hook.Name, err)
		return
	}
	items, err := d.engine.Repo.NotificationsAfter(ctx, defaultWebhookBatch, cursor.LastCreatedAt, cursor.LastID)
	if err != nil {
		log.Printf("webhook: fetch notifications failed: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}
	filter := newActionFilter(hook.Actions)
	for _, n := range items {
		if filter.match(n.Action) {
			if err := d.postNotification(ctx, hook, n); err != nil {
				log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
				return
			}
		}
		if err := d.engine.Repo.SaveWebhookCursor(ctx, repo.WebhookCursor{
			HookName:      hook.Name,
			LastCreatedAt: n.CreatedAt,
			LastID:        n.ID,
		}); err != nil {
			log.Printf("webhook: save cursor for %s failed: %v", hook.Name, err)
			return
		}
	}
}

type webhookNotification struct {
	ID         string   `json:"id"`
	Module     string   `json:"module"`
	Action     string   `json:"action"`
	EntityID   string   `json:"entity_id"`
	Message    string   `json:"message"`
	ActorID    string   `json:"actor_id"`
	Recipients []string `json:"recipients"`
	CreatedAt  string   `json:"created_at"`
}

func (d *webhookDispatcher) postNotification(ctx context.Context, hook config.WebhookConfig, n domain.Notification) error {
	body := webhookNotification{
		ID:         n.ID,
		Module:     n.Module,
		Action:     n.Action,
		EntityID:   n.EntityID,
		Message:    n.Message,
		ActorID:    n.UserID,
		Recipients: nonNilSlice(n.Recipients),
		CreatedAt:  n.CreatedAt,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Atrium-Action", n.Action)
	req.Header.Set("X-Atrium-Delivery", n.ID)
	req.Header.Set("X-Atrium-Property", d.property)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Atrium-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type actionFilter struct {
	all bool
	set map[string]struct{}
}

func newActionFilter(actions []string) actionFilter {
	if len(actions) == 0 {
		return actionFilter{all: true}
	}
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		key := strings.TrimSpace(a)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return actionFilter{all: true}
	}
	return actionFilter{set: set}
}

func (f actionFilter) match(action string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[action]
	return ok
}
