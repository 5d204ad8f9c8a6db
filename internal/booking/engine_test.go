package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/translation-booking/internal/notify"
)

// memStore is an in-memory Store with the same compare-and-set
// semantics as the SQLite implementation.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*Job

	failDetails bool
}

func newMemStore() *memStore {
	return &memStore{
		nextID: 1,
		jobs:   make(map[int64]*Job),
	}
}

func (s *memStore) Find(_ context.Context, id int64) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *memStore) Create(_ context.Context, draft JobDraft) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	job := &Job{
		ID:              s.nextID,
		CustomerID:      draft.CustomerID,
		FromLanguage:    draft.FromLanguage,
		ToLanguage:      draft.ToLanguage,
		Notes:           draft.Notes,
		Status:          StatusPending,
		DueTime:         draft.DueTime,
		Flagged:         No,
		ManuallyHandled: No,
		ByAdmin:         No,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.nextID++
	s.jobs[job.ID] = job
	clone := *job
	return &clone, nil
}

func (s *memStore) ConditionalTransition(_ context.Context, id int64, expected []Status, next Status, fields TransitionFields) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	matched := false
	for _, status := range expected {
		if job.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrStatusConflict
	}

	job.Status = next
	if fields.AcceptedTranslatorID != nil {
		id := *fields.AcceptedTranslatorID
		job.AcceptedTranslatorID = &id
	}
	if fields.ClearTranslator {
		job.AcceptedTranslatorID = nil
	}
	if fields.SessionTime != nil {
		job.SessionTime = *fields.SessionTime
	}
	if fields.DueTime != nil {
		job.DueTime = *fields.DueTime
	}
	job.UpdatedAt = time.Now()
	clone := *job
	return &clone, nil
}

func (s *memStore) UpdateFields(_ context.Context, id int64, fields FieldUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyFields(id, fields)
}

func (s *memStore) UpdateDistanceAndDetails(_ context.Context, id int64, distance DistanceUpdate, details FieldUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if s.failDetails {
		// Injected failure on the second phase; the distance part must
		// not stick either.
		return errors.New("details update failed")
	}
	if distance.Distance != nil {
		v := *distance.Distance
		job.Distance = &v
	}
	if distance.TravelTime != nil {
		job.TravelTime = *distance.TravelTime
	}
	return s.applyFields(id, details)
}

func (s *memStore) applyFields(id int64, fields FieldUpdate) error {
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if fields.AdminComments != nil {
		job.AdminComments = *fields.AdminComments
	}
	if fields.Flagged != nil {
		job.Flagged = *fields.Flagged
	}
	if fields.ManuallyHandled != nil {
		job.ManuallyHandled = *fields.ManuallyHandled
	}
	if fields.ByAdmin != nil {
		job.ByAdmin = *fields.ByAdmin
	}
	if fields.SessionTime != nil {
		job.SessionTime = *fields.SessionTime
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) ListPending(_ context.Context, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Status == StatusPending && !job.CreatedAt.After(now) {
			clone := *job
			ret = append(ret, &clone)
		}
	}
	return ret, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []notify.Event
}

func (b *recordingBroadcaster) Enqueue(event notify.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return true
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *recordingNotifier, *recordingBroadcaster) {
	t.Helper()
	store := newMemStore()
	notifier := &recordingNotifier{}
	broadcast := &recordingBroadcaster{}
	engine := NewEngine(store, notifier, broadcast, DefaultPolicy())
	return engine, store, notifier, broadcast
}

func createPendingJob(t *testing.T, engine *Engine) *Job {
	t.Helper()
	result, err := engine.Create(context.Background(), CreateRequest{
		CustomerID:   7,
		FromLanguage: "sv",
		ToLanguage:   "en",
		DueTime:      time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Job)
	return result.Job
}

func TestCreate_Validation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, CreateRequest{
		ToLanguage: "en",
		DueTime:    time.Now().Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))

	_, err = engine.Create(ctx, CreateRequest{
		CustomerID: 7,
		ToLanguage: "en",
		DueTime:    time.Now().Add(-time.Hour),
	})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))

	_, err = engine.Create(ctx, CreateRequest{
		CustomerID: 7,
		ToLanguage: "not-a-language-at-all",
		DueTime:    time.Now().Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))
}

func TestCreate_BroadcastsOffer(t *testing.T) {
	engine, _, _, broadcast := newTestEngine(t)
	job := createPendingJob(t, engine)

	assert.Equal(t, StatusPending, job.Status)
	require.Equal(t, 1, broadcast.count())
	assert.Equal(t, notify.ChannelPush, broadcast.events[0].Channel)
	assert.Equal(t, notify.AllTranslators(), broadcast.events[0].Recipients)
}

func TestAccept_ExactlyOneWinner(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)

	const translators = 16
	var wg sync.WaitGroup
	results := make([]error, translators)
	for i := 0; i < translators; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := engine.AcceptByID(context.Background(), job.ID, int64(idx+1))
			results[idx] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, IsErrorType(err, ErrAlreadyTaken) || IsErrorType(err, ErrInvalidTransition),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)

	final, err := store.Find(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, final.Status)
	require.NotNil(t, final.AcceptedTranslatorID)
}

func TestAccept_RepeatBySameTranslator(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.AcceptByID(ctx, job.ID, 42)
	require.NoError(t, err)

	_, err = engine.AcceptByID(ctx, job.ID, 42)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidTransition))

	_, err = engine.AcceptByID(ctx, job.ID, 43)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrAlreadyTaken))
}

func TestAccept_NotifiesCustomer(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	job := createPendingJob(t, engine)

	result, err := engine.AcceptByID(context.Background(), job.ID, 42)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, notify.Customer(job.CustomerID), notifier.events[0].Recipients[0])
}

func TestAccept_NotifierFailureIsWarningOnly(t *testing.T) {
	engine, store, notifier, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	notifier.err = errors.New("gateway down")

	result, err := engine.AcceptByID(context.Background(), job.ID, 42)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "gateway down")

	final, err := store.Find(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, final.Status)
}

func TestCancel_ByCustomerNotifiesTranslator(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.AcceptByID(ctx, job.ID, 42)
	require.NoError(t, err)

	result, err := engine.Cancel(ctx, job.ID, ActorCustomer)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Job.Status)
	assert.Nil(t, result.Job.AcceptedTranslatorID)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, notify.Translator(42), last.Recipients[0])
}

func TestCancel_ByTranslatorNotifiesCustomer(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.AcceptByID(ctx, job.ID, 42)
	require.NoError(t, err)

	result, err := engine.Cancel(ctx, job.ID, ActorTranslator)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Job.Status)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, notify.Customer(job.CustomerID), last.Recipients[0])
}

func TestCancel_TerminalJobRejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.Cancel(ctx, job.ID, ActorCustomer)
	require.NoError(t, err)

	_, err = engine.Cancel(ctx, job.ID, ActorCustomer)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidTransition))
}

func TestEnd_RecordsSessionTime(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	broadcast := &recordingBroadcaster{}

	due := time.Now().Add(time.Hour)
	fixedNow := due.Add(90*time.Minute + 30*time.Second)
	engine := NewEngine(store, notifier, broadcast, DefaultPolicy(),
		WithClock(func() time.Time { return fixedNow }))

	job, err := store.Create(context.Background(), JobDraft{
		CustomerID: 7,
		ToLanguage: "en",
		DueTime:    due,
	})
	require.NoError(t, err)
	_, err = store.ConditionalTransition(context.Background(), job.ID,
		[]Status{StatusPending}, StatusAccepted,
		TransitionFields{AcceptedTranslatorID: ptrInt64(42)})
	require.NoError(t, err)

	result, err := engine.End(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Job.Status)
	assert.Equal(t, "01:30:30", result.Job.SessionTime)
}

func TestEnd_PendingJobRejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)

	_, err := engine.End(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidTransition))
}

func TestCustomerNotCall_ClearsTranslatorAndTellsAdmin(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.AcceptByID(ctx, job.ID, 42)
	require.NoError(t, err)

	result, err := engine.CustomerNotCall(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, result.Job.Status)
	assert.Nil(t, result.Job.AcceptedTranslatorID)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, notify.Admin(), last.Recipients[0])
}

func TestExpire_OnlyPendingJobs(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	result, err := engine.Expire(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, result.Job.Status)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, notify.Admin(), last.Recipients[0])

	_, err = engine.Expire(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidTransition))
}

func TestExpire_AcceptedJobRejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.AcceptByID(ctx, job.ID, 42)
	require.NoError(t, err)

	_, err = engine.Expire(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidTransition))
}

func TestReopen_FromCancelledAndExpired(t *testing.T) {
	engine, _, _, broadcast := newTestEngine(t)
	ctx := context.Background()

	cancelled := createPendingJob(t, engine)
	_, err := engine.Cancel(ctx, cancelled.ID, ActorCustomer)
	require.NoError(t, err)

	before := broadcast.count()
	result, err := engine.Reopen(ctx, cancelled.ID, ReopenOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Job.Status)
	assert.Nil(t, result.Job.AcceptedTranslatorID)
	assert.Equal(t, before+1, broadcast.count())

	expired := createPendingJob(t, engine)
	_, err = engine.Expire(ctx, expired.ID)
	require.NoError(t, err)

	newDue := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	result, err = engine.Reopen(ctx, expired.ID, ReopenOptions{DueTime: &newDue})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Job.Status)
	assert.Equal(t, newDue, result.Job.DueTime)
}

func TestReopen_RejectsPastDueTime(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.Cancel(ctx, job.ID, ActorCustomer)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	_, err = engine.Reopen(ctx, job.ID, ReopenOptions{DueTime: &past})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))
}

func TestReopen_CompletedJobRejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.AcceptByID(ctx, job.ID, 42)
	require.NoError(t, err)
	_, err = engine.End(ctx, job.ID)
	require.NoError(t, err)

	_, err = engine.Reopen(ctx, job.ID, ReopenOptions{})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidTransition))
}

func TestDistanceFeed_UpdatesRecord(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)

	distance := 12.5
	result, err := engine.DistanceFeed(context.Background(), DistanceFeedRequest{
		JobID:         job.ID,
		Distance:      &distance,
		TravelTime:    "01:30",
		AdminComments: "long trip",
		Flagged:       "true",
		ByAdmin:       "false",
	})
	require.NoError(t, err)
	assert.Equal(t, "Record updated", result.Message)
	require.NotNil(t, result.Job.Distance)
	assert.Equal(t, 12.5, *result.Job.Distance)
	assert.Equal(t, "01:30", result.Job.TravelTime)
	assert.Equal(t, "long trip", result.Job.AdminComments)
	assert.Equal(t, Yes, result.Job.Flagged)
	assert.Equal(t, No, result.Job.ByAdmin)
	assert.Equal(t, No, result.Job.ManuallyHandled)
}

func TestDistanceFeed_InvalidTravelTime(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)

	_, err := engine.DistanceFeed(context.Background(), DistanceFeedRequest{
		JobID:      job.ID,
		TravelTime: "90 minutes",
	})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))
}

func TestDistanceFeed_StoreFailureLeavesNoPartialState(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	store.failDetails = true

	distance := 3.2
	_, err := engine.DistanceFeed(context.Background(), DistanceFeedRequest{
		JobID:    job.ID,
		Distance: &distance,
	})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrStore))

	final, err := store.Find(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, final.Distance)
	assert.Empty(t, final.TravelTime)
}

func TestResendNotification_Rebroadcasts(t *testing.T) {
	engine, _, _, broadcast := newTestEngine(t)
	job := createPendingJob(t, engine)

	before := broadcast.count()
	result, err := engine.ResendNotification(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Push sent", result.Message)
	assert.Equal(t, before+1, broadcast.count())
}

func TestResendSMS_RequiresAcceptedTranslator(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)

	_, err := engine.ResendSMS(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidTransition))
}

func TestResendSMS_DeliveryFailureIsSoft(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	job := createPendingJob(t, engine)
	ctx := context.Background()

	_, err := engine.AcceptByID(ctx, job.ID, 42)
	require.NoError(t, err)

	notifier.err = errors.New("sms gateway timeout")
	result, err := engine.ResendSMS(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "sms gateway timeout", result.Message)

	notifier.err = nil
	result, err = engine.ResendSMS(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "SMS sent", result.Message)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, notify.ChannelSMS, last.Channel)
	assert.Equal(t, notify.Translator(42), last.Recipients[0])
}

func TestGet_UnknownJob(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.Get(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrNotFound))
}

func TestUpdateDetails_MetadataOnly(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	job := createPendingJob(t, engine)

	comments := "verified by phone"
	flagged := Yes
	result, err := engine.UpdateDetails(context.Background(), job.ID, FieldUpdate{
		AdminComments: &comments,
		Flagged:       &flagged,
	})
	require.NoError(t, err)
	assert.Equal(t, "verified by phone", result.Job.AdminComments)
	assert.Equal(t, Yes, result.Job.Flagged)
	assert.Equal(t, StatusPending, result.Job.Status)
}

func ptrInt64(v int64) *int64 { return &v }

func TestFormatSessionTime(t *testing.T) {
	assert.Equal(t, "00:00:00", formatSessionTime(-time.Minute))
	assert.Equal(t, "00:05:00", formatSessionTime(5*time.Minute))
	assert.Equal(t, "26:03:07", formatSessionTime(26*time.Hour+3*time.Minute+7*time.Second))
}

func TestParseYesNo(t *testing.T) {
	cases := []struct {
		raw  string
		want YesNo
	}{
		{"true", Yes},
		{"TRUE", No},
		{"True", No},
		{"1", No},
		{"yes", No},
		{"false", No},
		{"", No},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.raw), func(t *testing.T) {
			assert.Equal(t, tc.want, ParseYesNo(tc.raw))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusAccepted.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusNoShow.Terminal())
}
