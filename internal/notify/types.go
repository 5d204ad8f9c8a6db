package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelPush Channel = "push"
	ChannelSMS  Channel = "sms"
)

type RecipientKind string

const (
	KindCustomer   RecipientKind = "customer"
	KindTranslator RecipientKind = "translator"
	KindAdmin      RecipientKind = "admin"
)

// Recipient identifies who a notification is for. ID 0 on a translator
// recipient means "every eligible translator"; the gateway resolves
// the actual device/phone targets, account data is not our concern.
type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   int64         `json:"id,omitempty"`
}

func Customer(id int64) Recipient   { return Recipient{Kind: KindCustomer, ID: id} }
func Translator(id int64) Recipient { return Recipient{Kind: KindTranslator, ID: id} }
func Admin() Recipient              { return Recipient{Kind: KindAdmin} }

// AllTranslators is the broadcast recipient set used when a job is
// (re)offered to the whole eligible pool.
func AllTranslators() []Recipient {
	return []Recipient{{Kind: KindTranslator}}
}

// Event is an ephemeral notification produced by the booking engine.
// It is never persisted; delivery is best effort.
type Event struct {
	ID         string         `json:"id"`
	JobID      int64          `json:"job_id"`
	Recipients []Recipient    `json:"recipients"`
	Channel    Channel        `json:"channel"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func NewEvent(jobID int64, recipients []Recipient, channel Channel, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Recipients: recipients,
		Channel:    channel,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
}

// Notifier delivers an event. Errors are reported to the caller but
// must never be treated as fatal to the operation that produced the
// event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
