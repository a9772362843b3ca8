package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen map[string][]string
}

func (h *recordingHandler) handle(ctx context.Context, evt models.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = make(map[string][]string)
	}
	h.seen[evt.ConversationID] = append(h.seen[evt.ConversationID], evt.Text)
	return nil
}

func textEvent(conv, text, id string) models.Event {
	return models.Event{ConversationID: conv, Kind: models.EventText, Text: text, MessageID: id}
}

func runAll(t *testing.T, d *Dispatcher, events []models.Event) {
	t.Helper()
	ch := make(chan models.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
}

func TestDispatcher_OrderPerConversation(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h.handle, WithMailboxIdle(10*time.Millisecond))

	var events []models.Event
	for i := 0; i < 50; i++ {
		for _, conv := range []string{"a", "b", "c"} {
			events = append(events, textEvent(conv, fmt.Sprint(i), ""))
		}
	}
	runAll(t, d, events)

	for _, conv := range []string{"a", "b", "c"} {
		got := h.seen[conv]
		if len(got) != 50 {
			t.Fatalf("conversation %s handled %d events, want 50", conv, len(got))
		}
		for i, text := range got {
			if text != fmt.Sprint(i) {
				t.Fatalf("conversation %s out of order at %d: %v", conv, i, got)
			}
		}
	}
}

func TestDispatcher_ConversationsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	bDone := make(chan struct{})
	handle := func(ctx context.Context, evt models.Event) error {
		switch evt.ConversationID {
		case "slow":
			<-release
		case "fast":
			close(bDone)
		}
		return nil
	}
	d := NewDispatcher(handle, WithMailboxIdle(10*time.Millisecond))
	ctx := context.Background()

	d.Dispatch(ctx, textEvent("slow", "x", ""))
	d.Dispatch(ctx, textEvent("fast", "y", ""))

	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked conversation held up another one")
	}
	close(release)
	d.Wait()
}

func TestDispatcher_BackloggedConversationDoesNotStallRun(t *testing.T) {
	release := make(chan struct{})
	otherDone := make(chan struct{})
	var mu sync.Mutex
	slowHandled := 0
	handle := func(ctx context.Context, evt models.Event) error {
		switch evt.ConversationID {
		case "slow":
			<-release
			mu.Lock()
			slowHandled++
			mu.Unlock()
		case "other":
			close(otherDone)
		}
		return nil
	}
	d := NewDispatcher(handle, WithMailboxIdle(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan models.Event)
	runDone := make(chan struct{})
	go func() {
		d.Run(ctx, events)
		close(runDone)
	}()

	backlog := DefaultChannelBufferSize + 2
	for i := 0; i < backlog; i++ {
		select {
		case events <- textEvent("slow", fmt.Sprint(i), ""):
		case <-time.After(2 * time.Second):
			t.Fatalf("Run stopped accepting events after %d for a stalled conversation", i)
		}
	}
	select {
	case events <- textEvent("other", "hello", ""):
	case <-time.After(2 * time.Second):
		t.Fatal("Run stopped accepting events behind a stalled conversation")
	}

	select {
	case <-otherDone:
	case <-time.After(2 * time.Second):
		t.Fatal("other conversation was held up by a backlogged one")
	}

	close(release)
	close(events)
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain the backlog")
	}
	mu.Lock()
	defer mu.Unlock()
	if slowHandled != backlog {
		t.Errorf("expected %d backlogged events handled, got %d", backlog, slowHandled)
	}
}

type memoryDedup struct {
	mu        sync.Mutex
	seen      map[string]bool
	processed []string
	err       error
}

func (m *memoryDedup) RecordInbound(id, participant string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memoryDedup) MarkProcessed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, id)
	return nil
}

func TestDispatcher_SkipsDuplicates(t *testing.T) {
	h := &recordingHandler{}
	dedup := &memoryDedup{}
	d := NewDispatcher(h.handle, WithDedup(dedup), WithMailboxIdle(10*time.Millisecond))

	runAll(t, d, []models.Event{
		textEvent("a", "45", "tg:1"),
		textEvent("a", "45", "tg:1"),
		textEvent("a", "70", "tg:2"),
		textEvent("a", "no id", ""),
	})

	if got := h.seen["a"]; len(got) != 3 {
		t.Errorf("expected duplicate to be skipped, handled %v", got)
	}
	if len(dedup.processed) != 2 {
		t.Errorf("expected 2 processed marks, got %v", dedup.processed)
	}
}

func TestDispatcher_DedupErrorStillProcesses(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h.handle, WithDedup(&memoryDedup{err: errors.New("db down")}), WithMailboxIdle(10*time.Millisecond))

	runAll(t, d, []models.Event{textEvent("a", "hi", "tg:1")})

	if len(h.seen["a"]) != 1 {
		t.Error("event should be handled when dedup storage fails")
	}
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	h := &recordingHandler{}
	handle := func(ctx context.Context, evt models.Event) error {
		if evt.Text == "boom" {
			panic("handler exploded")
		}
		return h.handle(ctx, evt)
	}
	d := NewDispatcher(handle, WithMailboxIdle(10*time.Millisecond))

	runAll(t, d, []models.Event{textEvent("a", "boom", ""), textEvent("a", "after", "")})

	if got := h.seen["a"]; len(got) != 1 || got[0] != "after" {
		t.Errorf("conversation should continue after a panic, got %v", got)
	}
}

func TestDispatcher_IdleWorkersExit(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h.handle, WithMailboxIdle(5*time.Millisecond))
	d.Dispatch(context.Background(), textEvent("a", "1", ""))
	d.Wait()

	d.mu.Lock()
	n := len(d.mailboxes)
	d.mu.Unlock()
	if n != 0 {
		t.Errorf("expected idle mailbox to be removed, %d remain", n)
	}

	d.Dispatch(context.Background(), textEvent("a", "2", ""))
	d.Wait()
	if got := h.seen["a"]; len(got) != 2 {
		t.Errorf("conversation should restart after idling out, got %v", got)
	}
}
