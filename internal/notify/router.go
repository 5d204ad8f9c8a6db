package notify

import (
	"context"
	"fmt"
)

// Router dispatches an event to the gateway matching its channel.
type Router struct {
	push Notifier
	sms  Notifier
}

func NewRouter(push, sms Notifier) *Router {
	return &Router{push: push, sms: sms}
}

func (r *Router) Notify(ctx context.Context, event Event) error {
	switch event.Channel {
	case ChannelPush:
		if r.push == nil {
			return fmt.Errorf("no push notifier configured")
		}
		return r.push.Notify(ctx, event)
	case ChannelSMS:
		if r.sms == nil {
			return fmt.Errorf("no sms notifier configured")
		}
		return r.sms.Notify(ctx, event)
	default:
		return fmt.Errorf("unknown notification channel %q", event.Channel)
	}
}
