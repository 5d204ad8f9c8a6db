package booking

import (
	"context"
	"time"
)

// TransitionFields are the extra columns a status transition writes
// atomically alongside the status itself.
type TransitionFields struct {
	AcceptedTranslatorID *int64
	// ClearTranslator releases the current acceptance. Set on cancel,
	// reopen and no-show so the translator invariant holds.
	ClearTranslator bool
	SessionTime     *string
	DueTime         *time.Time
}

// FieldUpdate is a non-status metadata update. Nil fields are left
// untouched.
type FieldUpdate struct {
	AdminComments   *string
	Flagged         *YesNo
	ManuallyHandled *YesNo
	ByAdmin         *YesNo
	SessionTime     *string
}

// DistanceUpdate targets the 1:1 distance record of a job.
type DistanceUpdate struct {
	Distance   *float64
	TravelTime *string // HH:MM
}

// Store persists jobs and their distance records. Implementations must
// make ConditionalTransition an atomic compare-and-set on (id, status)
// and UpdateDistanceAndDetails an all-or-nothing multi-record update;
// those two guarantees are the engine's only defense against racing
// translators and partial writes.
//
// Outcomes use the ErrJobNotFound / ErrStatusConflict sentinels.
type Store interface {
	Find(ctx context.Context, id int64) (*Job, error)
	Create(ctx context.Context, draft JobDraft) (*Job, error)
	ConditionalTransition(ctx context.Context, id int64, expected []Status, next Status, fields TransitionFields) (*Job, error)
	UpdateFields(ctx context.Context, id int64, fields FieldUpdate) error
	UpdateDistanceAndDetails(ctx context.Context, id int64, distance DistanceUpdate, details FieldUpdate) error
	// ListPending returns jobs still waiting for a translator, oldest
	// due first, bounded to jobs created at or before now.
	ListPending(ctx context.Context, now time.Time) ([]*Job, error)
}
