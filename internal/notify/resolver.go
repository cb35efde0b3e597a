package notify

import "context"

// Event describes a domain change about to be announced. Stakeholders
// are the actor IDs with a standing interest in the entity, typically
// the requester and the assignee of a work order.
type Event struct {
	Module       string
	Action       string
	EntityID     string
	Message      string
	ActorID      string
	Stakeholders []string
}

// RecipientResolver decides who a notification is addressed to.
type RecipientResolver interface {
	Resolve(ctx context.Context, ev Event) ([]string, error)
}

// SelfResolver addresses the acting user only. It is the fallback when
// stakeholder notification is disabled.
type SelfResolver struct{}

func (SelfResolver) Resolve(ctx context.Context, ev Event) ([]string, error) {
	if ev.ActorID == "" {
		return nil, nil
	}
	return []string{ev.ActorID}, nil
}

// StakeholderResolver addresses the actor plus every stakeholder of
// the entity, deduplicated.
type StakeholderResolver struct{}

func (StakeholderResolver) Resolve(ctx context.Context, ev Event) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(ev.ActorID)
	for _, s := range ev.Stakeholders {
		add(s)
	}
	return out, nil
}

// ResolverFor returns the resolver matching the configured stakeholder
// setting.
func ResolverFor(notifyStakeholders bool) RecipientResolver {
	if notifyStakeholders {
		return StakeholderResolver{}
	}
	return SelfResolver{}
}
