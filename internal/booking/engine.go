package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/translation-booking/internal/notify"
	"github.com/MimeLyc/translation-booking/pkg/log"
)

// Broadcaster fans an event out to every eligible translator without
// blocking the caller.
type Broadcaster interface {
	Enqueue(event notify.Event) bool
}

// Engine is the booking state machine. Every status change goes
// through the store's compare-and-set; notifications are dispatched
// only after the transition has committed, so a notifier outage can
// never roll back or retry a committed state.
type Engine struct {
	store     Store
	notifier  notify.Notifier
	broadcast Broadcaster
	policy    Policy
	now       func() time.Time
}

type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(store Store, notifier notify.Notifier, broadcast Broadcaster, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		notifier:  notifier,
		broadcast: broadcast,
		policy:    policy,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a successful operation. Warnings carry
// delivery failures that did not affect the committed state.
type Result struct {
	Job      *Job     `json:"job,omitempty"`
	Message  string   `json:"message,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Get returns the current job projection.
func (e *Engine) Get(ctx context.Context, id int64) (*Job, error) {
	job, err := e.store.Find(ctx, id)
	if err != nil {
		return nil, e.mapStoreError(err, id)
	}
	return job, nil
}

type CreateRequest struct {
	CustomerID   int64
	FromLanguage string
	ToLanguage   string
	Notes        string
	DueTime      time.Time
}

// Create validates the request, persists a pending job and offers it
// to the eligible translator pool.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	verr := NewError(ErrValidation, "invalid job request")
	if req.CustomerID <= 0 {
		verr.WithField("customer_id", "required")
	}
	if req.DueTime.IsZero() {
		verr.WithField("due_time", "required")
	} else if req.DueTime.Before(e.now()) {
		verr.WithField("due_time", "must not be in the past")
	}

	if req.ToLanguage == "" {
		verr.WithField("to_language", "required")
	} else if tag, err := language.Parse(req.ToLanguage); err != nil {
		verr.WithField("to_language", "unknown language")
	} else {
		req.ToLanguage = tag.String()
	}

	if req.FromLanguage == "" && req.Notes != "" {
		req.FromLanguage = InferSourceLanguage(req.Notes)
	}
	if req.FromLanguage != "" {
		if tag, err := language.Parse(req.FromLanguage); err != nil {
			verr.WithField("from_language", "unknown language")
		} else {
			req.FromLanguage = tag.String()
		}
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}

	job, err := e.store.Create(ctx, JobDraft{
		CustomerID:   req.CustomerID,
		FromLanguage: req.FromLanguage,
		ToLanguage:   req.ToLanguage,
		Notes:        req.Notes,
		DueTime:      req.DueTime,
	})
	if err != nil {
		return nil, WrapError(err, ErrStore, "create job")
	}

	e.broadcastOffer(job)
	return &Result{Job: job}, nil
}

// Accept claims a pending job for a translator. Exactly one of N
// concurrent accepts wins; the rest are told the job is taken.
func (e *Engine) Accept(ctx context.Context, job *Job, translatorID int64) (*Result, error) {
	if job == nil {
		return nil, NewError(ErrValidation, "job is required")
	}
	if translatorID <= 0 {
		return nil, NewError(ErrValidation, "invalid translator").WithField("translator_id", "required")
	}

	updated, err := e.store.ConditionalTransition(ctx, job.ID,
		[]Status{StatusPending}, StatusAccepted,
		TransitionFields{AcceptedTranslatorID: &translatorID})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, e.acceptConflict(ctx, job.ID, translatorID)
		}
		return nil, e.mapStoreError(err, job.ID)
	}

	result := &Result{Job: updated}
	e.notifyParty(ctx, result, updated, notify.Customer(updated.CustomerID),
		fmt.Sprintf("A translator accepted your %s booking", updated.ToLanguage))
	return result, nil
}

// AcceptByID locates the job by id only and claims it.
func (e *Engine) AcceptByID(ctx context.Context, jobID, translatorID int64) (*Result, error) {
	job, err := e.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return e.Accept(ctx, job, translatorID)
}

// acceptConflict classifies a lost acceptance race: the translator who
// already holds the job gets InvalidTransition, everyone else
// AlreadyTaken.
func (e *Engine) acceptConflict(ctx context.Context, jobID, translatorID int64) error {
	current, err := e.store.Find(ctx, jobID)
	if err != nil {
		return e.mapStoreError(err, jobID)
	}
	if current.AcceptedTranslatorID != nil && *current.AcceptedTranslatorID == translatorID {
		return NewError(ErrInvalidTransition,
			fmt.Sprintf("job %d is already accepted by translator %d", jobID, translatorID))
	}
	return NewError(ErrAlreadyTaken, fmt.Sprintf("job %d is no longer available", jobID))
}

// Cancel withdraws a pending or accepted job and tells the other
// party.
func (e *Engine) Cancel(ctx context.Context, jobID int64, actor Actor) (*Result, error) {
	before, err := e.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.ConditionalTransition(ctx, jobID,
		[]Status{StatusPending, StatusAccepted}, StatusCancelled,
		TransitionFields{ClearTranslator: true})
	if err != nil {
		return nil, e.mapTransitionError(err, jobID, StatusCancelled)
	}

	result := &Result{Job: updated}
	switch actor {
	case ActorTranslator:
		e.notifyParty(ctx, result, updated, notify.Customer(updated.CustomerID),
			"The translator withdrew from your booking")
	default:
		if before.AcceptedTranslatorID != nil {
			e.notifyParty(ctx, result, updated, notify.Translator(*before.AcceptedTranslatorID),
				"The customer cancelled the booking")
		}
	}
	return result, nil
}

// End closes out an accepted or in-progress job, recording the session
// time from the due time to now.
func (e *Engine) End(ctx context.Context, jobID int64) (*Result, error) {
	before, err := e.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	session := formatSessionTime(e.now().Sub(before.DueTime))
	updated, err := e.store.ConditionalTransition(ctx, jobID,
		[]Status{StatusAccepted, StatusInProgress}, StatusCompleted,
		TransitionFields{SessionTime: &session})
	if err != nil {
		return nil, e.mapTransitionError(err, jobID, StatusCompleted)
	}

	result := &Result{Job: updated}
	e.notifyParty(ctx, result, updated, notify.Customer(updated.CustomerID),
		fmt.Sprintf("Session finished after %s", session))
	if updated.AcceptedTranslatorID != nil {
		e.notifyParty(ctx, result, updated, notify.Translator(*updated.AcceptedTranslatorID),
			fmt.Sprintf("Session finished after %s", session))
	}
	return result, nil
}

// CustomerNotCall records that the customer never showed up.
func (e *Engine) CustomerNotCall(ctx context.Context, jobID int64) (*Result, error) {
	updated, err := e.store.ConditionalTransition(ctx, jobID,
		[]Status{StatusAccepted, StatusInProgress}, StatusNoShow,
		TransitionFields{ClearTranslator: true})
	if err != nil {
		return nil, e.mapTransitionError(err, jobID, StatusNoShow)
	}

	result := &Result{Job: updated}
	e.notifyParty(ctx, result, updated, notify.Admin(),
		fmt.Sprintf("Customer did not show up for job %d", jobID))
	return result, nil
}

// Expire times out a pending job nobody accepted. A lost race against
// a concurrent accept surfaces as InvalidTransition and is benign.
func (e *Engine) Expire(ctx context.Context, jobID int64) (*Result, error) {
	updated, err := e.store.ConditionalTransition(ctx, jobID,
		[]Status{StatusPending}, StatusExpired,
		TransitionFields{})
	if err != nil {
		return nil, e.mapTransitionError(err, jobID, StatusExpired)
	}

	result := &Result{Job: updated}
	e.notifyParty(ctx, result, updated, notify.Admin(),
		fmt.Sprintf("Job %d expired without acceptance", jobID))
	return result, nil
}

type ReopenOptions struct {
	// DueTime, when non-nil, resets the due time of the reopened job.
	// Whether to reset is the caller's choice, not a policy default.
	DueTime *time.Time
}

// Reopen puts a cancelled or expired job back on offer.
func (e *Engine) Reopen(ctx context.Context, jobID int64, opts ReopenOptions) (*Result, error) {
	if opts.DueTime != nil && opts.DueTime.Before(e.now()) {
		return nil, NewError(ErrValidation, "invalid reopen request").
			WithField("due_time", "must not be in the past")
	}

	updated, err := e.store.ConditionalTransition(ctx, jobID,
		[]Status{StatusCancelled, StatusExpired}, StatusPending,
		TransitionFields{ClearTranslator: true, DueTime: opts.DueTime})
	if err != nil {
		return nil, e.mapTransitionError(err, jobID, StatusPending)
	}

	e.broadcastOffer(updated)
	return &Result{Job: updated}, nil
}

type DistanceFeedRequest struct {
	JobID         int64
	Distance      *float64
	TravelTime    string // HH:MM, optional
	AdminComments string
	SessionTime   string
	// Raw string flags; only the literal "true" means yes.
	Flagged         string
	ManuallyHandled string
	ByAdmin         string
}

// DistanceFeed updates the distance record and the job metadata as one
// atomic unit, independent of any status transition.
func (e *Engine) DistanceFeed(ctx context.Context, req DistanceFeedRequest) (*Result, error) {
	verr := NewError(ErrValidation, "invalid distance feed")
	if req.JobID <= 0 {
		verr.WithField("jobid", "required")
	}

	var travelTime *string
	if req.TravelTime != "" {
		if _, err := time.Parse("15:04", req.TravelTime); err != nil {
			verr.WithField("time", "must be in HH:MM format")
		} else {
			travelTime = &req.TravelTime
		}
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	flagged := ParseYesNo(req.Flagged)
	manuallyHandled := ParseYesNo(req.ManuallyHandled)
	byAdmin := ParseYesNo(req.ByAdmin)

	err := e.store.UpdateDistanceAndDetails(ctx, req.JobID,
		DistanceUpdate{Distance: req.Distance, TravelTime: travelTime},
		FieldUpdate{
			AdminComments:   &req.AdminComments,
			SessionTime:     &req.SessionTime,
			Flagged:         &flagged,
			ManuallyHandled: &manuallyHandled,
			ByAdmin:         &byAdmin,
		})
	if err != nil {
		return nil, e.mapStoreError(err, req.JobID)
	}

	job, err := e.Get(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	return &Result{Job: job, Message: "Record updated"}, nil
}

// ResendNotification re-renders the job payload and re-broadcasts the
// offer to every eligible translator.
func (e *Engine) ResendNotification(ctx context.Context, jobID int64) (*Result, error) {
	job, err := e.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.broadcastOffer(job)
	return &Result{Job: job, Message: "Push sent"}, nil
}

// ResendSMS texts the currently accepted translator. A transport
// failure is reported in the response message instead of failing the
// operation.
func (e *Engine) ResendSMS(ctx context.Context, jobID int64) (*Result, error) {
	job, err := e.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AcceptedTranslatorID == nil {
		return nil, NewError(ErrInvalidTransition,
			fmt.Sprintf("job %d has no accepted translator", jobID))
	}

	event := notify.NewEvent(job.ID,
		[]notify.Recipient{notify.Translator(*job.AcceptedTranslatorID)},
		notify.ChannelSMS, renderPayload(job))
	if err := e.notifier.Notify(ctx, event); err != nil {
		log.Warn("Failed to send SMS for job %d: %v", jobID, err)
		return &Result{Job: job, Message: err.Error()}, nil
	}
	return &Result{Job: job, Message: "SMS sent"}, nil
}

// UpdateDetails is the plain metadata path: comments, flags and
// session time, no distance record involved and no status CAS.
func (e *Engine) UpdateDetails(ctx context.Context, jobID int64, fields FieldUpdate) (*Result, error) {
	if err := e.store.UpdateFields(ctx, jobID, fields); err != nil {
		return nil, e.mapStoreError(err, jobID)
	}
	job, err := e.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Result{Job: job}, nil
}

// broadcastOffer fans the job offer out to the translator pool. The
// dispatch is asynchronous and never blocks or fails the transition
// that triggered it.
func (e *Engine) broadcastOffer(job *Job) {
	if e.broadcast == nil {
		return
	}
	event := notify.NewEvent(job.ID, notify.AllTranslators(), notify.ChannelPush, renderPayload(job))
	if !e.broadcast.Enqueue(event) {
		log.Warn("Dropped offer broadcast for job %d", job.ID)
	}
}

// notifyParty delivers a direct notification after the transition has
// committed. Failures become warnings on the result, never errors.
func (e *Engine) notifyParty(ctx context.Context, result *Result, job *Job, recipient notify.Recipient, message string) {
	payload := renderPayload(job)
	payload["message"] = message

	event := notify.NewEvent(job.ID, []notify.Recipient{recipient}, notify.ChannelPush, payload)
	if err := e.notifier.Notify(ctx, event); err != nil {
		log.Warn("Failed to notify %s for job %d: %v", recipient.Kind, job.ID, err)
		result.Warnings = append(result.Warnings,
			WrapError(err, ErrDelivery, fmt.Sprintf("notify %s", recipient.Kind)).Error())
	}
}

// renderPayload projects the job into the notification payload shared
// by push and SMS deliveries.
func renderPayload(job *Job) map[string]any {
	payload := map[string]any{
		"job_id":        job.ID,
		"status":        string(job.Status),
		"from_language": job.FromLanguage,
		"to_language":   job.ToLanguage,
		"due_time":      job.DueTime.Format(time.RFC3339),
	}
	if job.Distance != nil {
		payload["distance"] = *job.Distance
	}
	if job.TravelTime != "" {
		payload["travel_time"] = job.TravelTime
	}
	return payload
}

// mapTransitionError converts store sentinels from a CAS into the
// caller-facing taxonomy.
func (e *Engine) mapTransitionError(err error, jobID int64, next Status) error {
	if errors.Is(err, ErrStatusConflict) {
		return NewError(ErrInvalidTransition,
			fmt.Sprintf("job %d cannot move to %s from its current status", jobID, next))
	}
	return e.mapStoreError(err, jobID)
}

func (e *Engine) mapStoreError(err error, jobID int64) error {
	if errors.Is(err, ErrJobNotFound) {
		return NewError(ErrNotFound, fmt.Sprintf("job %d does not exist", jobID))
	}
	return WrapError(err, ErrStore, fmt.Sprintf("store operation for job %d", jobID))
}

// formatSessionTime renders a duration as HH:MM:SS. Negative values
// (job ended before its due time) clamp to zero.
func formatSessionTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
