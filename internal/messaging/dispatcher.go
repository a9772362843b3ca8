package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BTreeMap/SwasthPipe/internal/models"
	"github.com/BTreeMap/SwasthPipe/internal/store"
)

// DefaultMailboxIdle is how long a conversation worker waits for more events before exiting.
const DefaultMailboxIdle = 30 * time.Second

// HandlerFunc processes one inbound event.
type HandlerFunc func(ctx context.Context, evt models.Event) error

// Dispatcher runs each conversation's events strictly in arrival order on
// its own goroutine while different conversations proceed concurrently.
type Dispatcher struct {
	handle HandlerFunc
	dedup  store.DedupRepo
	idle   time.Duration

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	wg        sync.WaitGroup
}

// mailbox holds a conversation's not-yet-handled events. The queue is
// unbounded so a stalled conversation never holds up Dispatch.
type mailbox struct {
	queue []models.Event
	wake  chan struct{}
}

func (mb *mailbox) notify() {
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDedup skips events whose MessageID was already recorded.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = repo }
}

// WithMailboxIdle sets how long an idle conversation worker lingers.
func WithMailboxIdle(idle time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if idle > 0 {
			d.idle = idle
		}
	}
}

// NewDispatcher creates a dispatcher that calls handle for each event.
func NewDispatcher(handle HandlerFunc, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handle:    handle,
		idle:      DefaultMailboxIdle,
		mailboxes: make(map[string]*mailbox),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches events until the channel is closed or ctx is cancelled,
// then waits for in-flight conversations to drain.
func (d *Dispatcher) Run(ctx context.Context, events <-chan models.Event) {
	defer d.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			d.Dispatch(ctx, evt)
		}
	}
}

// Dispatch queues evt on its conversation's mailbox, starting a worker if needed.
func (d *Dispatcher) Dispatch(ctx context.Context, evt models.Event) {
	if d.isDuplicate(evt) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	mb, ok := d.mailboxes[evt.ConversationID]
	if !ok {
		mb = &mailbox{wake: make(chan struct{}, 1)}
		d.mailboxes[evt.ConversationID] = mb
		d.wg.Add(1)
		go d.work(ctx, evt.ConversationID, mb)
	}
	mb.queue = append(mb.queue, evt)
	if n := len(mb.queue); n == DefaultChannelBufferSize {
		slog.Warn("Dispatcher mailbox backlog growing", "conversationID", evt.ConversationID, "queued", n)
	}
	mb.notify()
}

// Wait blocks until every conversation worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) isDuplicate(evt models.Event) bool {
	if d.dedup == nil || evt.MessageID == "" {
		return false
	}
	fresh, err := d.dedup.RecordInbound(evt.MessageID, evt.ConversationID)
	if err != nil {
		slog.Warn("Dispatcher dedup check failed, processing anyway", "messageID", evt.MessageID, "error", err)
		return false
	}
	if !fresh {
		slog.Debug("Dispatcher skipping duplicate event", "messageID", evt.MessageID)
	}
	return !fresh
}

func (d *Dispatcher) work(ctx context.Context, conversationID string, mb *mailbox) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		if evt, ok := d.next(mb); ok {
			d.process(ctx, evt)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
			continue
		}

		select {
		case <-mb.wake:
		case <-timer.C:
			if d.retire(conversationID, mb) {
				return
			}
			timer.Reset(d.idle)
		case <-ctx.Done():
			// Drain what was already accepted so no event is lost mid-conversation.
			for {
				evt, ok := d.next(mb)
				if !ok {
					if d.retire(conversationID, mb) {
						return
					}
					continue
				}
				d.process(ctx, evt)
			}
		}
	}
}

// next pops the oldest queued event.
func (d *Dispatcher) next(mb *mailbox) (models.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(mb.queue) == 0 {
		return models.Event{}, false
	}
	evt := mb.queue[0]
	mb.queue[0] = models.Event{}
	mb.queue = mb.queue[1:]
	return evt, true
}

// retire removes an empty mailbox. A mailbox with queued events stays.
func (d *Dispatcher) retire(conversationID string, mb *mailbox) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(mb.queue) > 0 {
		return false
	}
	delete(d.mailboxes, conversationID)
	return true
}

func (d *Dispatcher) process(ctx context.Context, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher handler panic", "conversationID", evt.ConversationID,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	if err := d.handle(ctx, evt); err != nil {
		slog.Error("Dispatcher handler failed", "conversationID", evt.ConversationID, "error", err)
		return
	}
	if d.dedup != nil && evt.MessageID != "" {
		if err := d.dedup.MarkProcessed(evt.MessageID); err != nil {
			slog.Warn("Dispatcher mark processed failed", "messageID", evt.MessageID, "error", err)
		}
	}
}
