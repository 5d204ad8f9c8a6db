package booking

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusNoShow     Status = "no_show"
)

// Terminal reports whether a status admits no further transitions.
// Metadata fields (comments, flags, distance) stay writable for audit.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusNoShow:
		return true
	}
	return false
}

type YesNo string

const (
	Yes YesNo = "yes"
	No  YesNo = "no"
)

// ParseYesNo maps the literal string "true" to Yes and every other
// value, including the empty string, to No. Callers send form-style
// string fields; the exact-match comparison is the wire contract and
// must not be replaced by general boolean parsing.
func ParseYesNo(raw string) YesNo {
	if raw == "true" {
		return Yes
	}
	return No
}

type Actor string

const (
	ActorCustomer   Actor = "customer"
	ActorTranslator Actor = "translator"
	ActorAdmin      Actor = "admin"
)

// Job is a single translation booking with a due time and lifecycle
// status. Distance and TravelTime live in the 1:1 distance record and
// are joined into the projection on reads.
type Job struct {
	ID                   int64      `json:"id"`
	CustomerID           int64      `json:"customer_id"`
	FromLanguage         string     `json:"from_language"`
	ToLanguage           string     `json:"to_language"`
	Notes                string     `json:"notes,omitempty"`
	Status               Status     `json:"status"`
	DueTime              time.Time  `json:"due_time"`
	AcceptedTranslatorID *int64     `json:"accepted_translator_id,omitempty"`
	Distance             *float64   `json:"distance,omitempty"`
	TravelTime           string     `json:"travel_time,omitempty"`
	AdminComments        string     `json:"admin_comments,omitempty"`
	Flagged              YesNo      `json:"flagged"`
	ManuallyHandled      YesNo      `json:"manually_handled"`
	ByAdmin              YesNo      `json:"by_admin"`
	SessionTime          string     `json:"session_time,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// JobDraft is the store-facing shape of a create request after the
// engine has validated it.
type JobDraft struct {
	CustomerID   int64
	FromLanguage string
	ToLanguage   string
	Notes        string
	DueTime      time.Time
}
