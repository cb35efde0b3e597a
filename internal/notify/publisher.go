package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"atrium/internal/domain"
	"atrium/internal/repo"
)

// Publisher turns domain events into stored notifications and pushes
// them to live consumers. Publish runs after the originating mutation
// has committed and never fails that mutation: errors are logged and
// swallowed.
type Publisher struct {
	Repo     repo.Repo
	Resolver RecipientResolver
	Sink     NotificationSink
	Now      func() time.Time
}

func NewPublisher(r repo.Repo, resolver RecipientResolver, sink NotificationSink) *Publisher {
	return &Publisher{Repo: r, Resolver: resolver, Sink: sink, Now: time.Now}
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Publish stores the notification and hands it to the sink. The
// returned notification has its ID and timestamp filled in; the bool
// reports whether the store succeeded.
func (p *Publisher) Publish(ctx context.Context, ev Event) (domain.Notification, bool) {
	var n domain.Notification
	if p == nil {
		return n, false
	}
	recipients, err := p.Resolver.Resolve(ctx, ev)
	if err != nil {
		log.Printf("notify: resolve recipients for %s %s: %v", ev.Module, ev.EntityID, err)
		return n, false
	}
	n = domain.Notification{
		ID:         uuid.NewString(),
		UserID:     ev.ActorID,
		Module:     ev.Module,
		Action:     ev.Action,
		EntityID:   ev.EntityID,
		Message:    ev.Message,
		Recipients: recipients,
		CreatedAt:  p.now().UTC().Format(time.RFC3339),
	}
	if err := p.Repo.InsertNotification(ctx, nil, n); err != nil {
		log.Printf("notify: store notification for %s %s: %v", ev.Module, ev.EntityID, err)
		return n, false
	}
	if p.Sink != nil {
		if err := p.Sink.Deliver(ctx, n); err != nil {
			log.Printf("notify: deliver notification %s: %v", n.ID, err)
		}
	}
	return n, true
}
