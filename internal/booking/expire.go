package booking

import "time"

// Policy computes when an unaccepted job stops being offered to
// translators. The ladder is ordered from most to least urgent and the
// first matching tier wins; both window boundaries are inclusive.
// Thresholds are explicit fields rather than constants so a deployment
// can retune the boundaries without touching the ladder itself.
type Policy struct {
	// ImmediateWindow covers jobs due almost right away: gap between
	// due time and creation at or below this keeps the offer open for
	// ImmediateLead after creation.
	ImmediateWindow time.Duration
	ImmediateLead   time.Duration

	// StandardWindow covers jobs due within a few days: the offer
	// stays open for StandardLead after creation.
	StandardWindow time.Duration
	StandardLead   time.Duration

	// Jobs with a gap above StandardWindow expire AdvanceMargin before
	// their due time.
	AdvanceMargin time.Duration
}

// DefaultPolicy returns the production tier ladder.
func DefaultPolicy() Policy {
	return Policy{
		ImmediateWindow: 24 * time.Hour,
		ImmediateLead:   90 * time.Minute,
		StandardWindow:  72 * time.Hour,
		StandardLead:    16 * time.Hour,
		AdvanceMargin:   48 * time.Hour,
	}
}

// WillExpireAt returns the instant after which a still-pending job is
// considered expired. Pure and deterministic; the result is truncated
// to whole seconds on the same calendar basis as the inputs.
func (p Policy) WillExpireAt(dueTime, createdAt time.Time) time.Time {
	gap := dueTime.Sub(createdAt)

	var at time.Time
	switch {
	case gap <= p.ImmediateWindow:
		at = createdAt.Add(p.ImmediateLead)
	case gap <= p.StandardWindow:
		at = createdAt.Add(p.StandardLead)
	default:
		at = dueTime.Add(-p.AdvanceMargin)
	}
	return at.Truncate(time.Second)
}
