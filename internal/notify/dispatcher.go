package notify

import (
	"context"
	"sync"
	"time"

	"github.com/MimeLyc/translation-booking/pkg/log"
)

// Dispatcher fans broadcast events out to the notifier from background
// workers so a broadcast never blocks the state transition that
// produced it. Delivery failures are logged and dropped; broadcasts
// can always be resent.
type Dispatcher struct {
	notifier    Notifier
	workerCount int
	timeout     time.Duration

	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, workerCount int) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Dispatcher{
		notifier:    notifier,
		workerCount: workerCount,
		timeout:     15 * time.Second,
		events:      make(chan Event, 256),
		stopCh:      make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
}

// Enqueue hands an event to the workers without blocking. Returns
// false when the buffer is full and the event was dropped.
func (d *Dispatcher) Enqueue(event Event) bool {
	select {
	case d.events <- event:
		return true
	default:
		log.Warn("Notification buffer full, dropping event %s for job %d", event.ID, event.JobID)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case event := <-d.events:
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := d.notifier.Notify(ctx, event); err != nil {
				log.Warn("Failed to deliver %s notification %s for job %d: %v",
					event.Channel, event.ID, event.JobID, err)
			}
			cancel()
		}
	}
}
