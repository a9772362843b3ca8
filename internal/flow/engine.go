package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/SwasthPipe/internal/advisory"
	"github.com/BTreeMap/SwasthPipe/internal/facility"
	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// DefaultAdvisoryTimeout bounds each advisory and facility call when no
// timeout is configured.
const DefaultAdvisoryTimeout = 45 * time.Second

// Sender delivers outbound messages to a conversation.
type Sender interface {
	Send(ctx context.Context, conversationID string, msg models.Outbound) error
}

// TypingNotifier is implemented by senders that can show a typing indicator.
type TypingNotifier interface {
	SendTyping(ctx context.Context, conversationID string) error
}

// TranscriptSink records completed assessments.
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, t models.Transcript) error
}

// Engine runs the screening dialogue. HandleEvent must not be called
// concurrently for the same conversation; events of different conversations
// may be handled in parallel.
type Engine struct {
	sessions    *SessionStore
	checklist   *Checklist
	sender      Sender
	gateway     advisory.Gateway
	searcher    ContextSearcher
	finder      facility.Finder
	transcripts TranscriptSink
	timeout     time.Duration
	idleTTL     time.Duration
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithContextSearcher sets the dataset oracle used for prompt context.
func WithContextSearcher(s ContextSearcher) Option {
	return func(e *Engine) { e.searcher = s }
}

// WithFacilityFinder sets the nearby-facility lookup.
func WithFacilityFinder(f facility.Finder) Option {
	return func(e *Engine) { e.finder = f }
}

// WithTranscriptSink records each successful assessment.
func WithTranscriptSink(s TranscriptSink) Option {
	return func(e *Engine) { e.transcripts = s }
}

// WithAdvisoryTimeout bounds each advisory and facility call.
func WithAdvisoryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSessionIdleTTL sets how long an untouched session survives ExpireIdleSessions.
func WithSessionIdleTTL(d time.Duration) Option {
	return func(e *Engine) { e.idleTTL = d }
}

// NewEngine creates a dialogue engine.
func NewEngine(sender Sender, gateway advisory.Gateway, checklist *Checklist, opts ...Option) *Engine {
	e := &Engine{
		sessions:  NewSessionStore(),
		checklist: checklist,
		sender:    sender,
		gateway:   gateway,
		timeout:   DefaultAdvisoryTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.checklist == nil {
		e.checklist = NewChecklist(nil)
	}
	return e
}

// Sessions exposes the session store.
func (e *Engine) Sessions() *SessionStore {
	return e.sessions
}

// HandleEvent applies one inbound event. Location shares, the begin command
// and "No, thanks" are handled before any session lookup.
func (e *Engine) HandleEvent(ctx context.Context, evt models.Event) error {
	if err := evt.Validate(); err != nil {
		slog.Warn("Engine HandleEvent invalid event", "error", err, "conversationID", evt.ConversationID, "kind", evt.Kind)
		return err
	}
	id := evt.ConversationID

	switch {
	case evt.Kind == models.EventLocation:
		return e.handleLocation(ctx, id, *evt.Location)
	case evt.IsBeginCommand():
		e.sessions.Create(id)
		slog.Info("Engine session started", "conversationID", id)
		return e.send(ctx, id, welcomeMessage())
	case evt.Kind == models.EventText && isDecline(evt.Text):
		e.sessions.Delete(id)
		slog.Info("Engine user declined", "conversationID", id)
		return e.send(ctx, id, plain(DeclineAckText))
	}

	session, ok := e.sessions.Get(id)
	if !ok {
		slog.Debug("Engine no active session", "conversationID", id, "kind", evt.Kind)
		return e.send(ctx, id, plain(NoSessionText))
	}

	transition, ok := transitions[transitionKey{state: session.State, input: classify(evt)}]
	if !ok {
		slog.Debug("Engine input ignored", "conversationID", id, "state", session.State, "kind", evt.Kind)
		return nil
	}
	from := session.State
	err := transition(e, ctx, session, evt)
	if session.State != from {
		slog.Debug("Engine state transition", "conversationID", id, "from", from, "to", session.State)
	}
	return err
}

func isDecline(s string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(DeclineLabel))
}

// ExpireIdleSessions drops sessions idle for longer than the configured TTL
// and returns how many were removed. It does nothing when no TTL is set.
func (e *Engine) ExpireIdleSessions() int {
	if e.idleTTL <= 0 {
		return 0
	}
	n := e.sessions.ExpireIdle(e.idleTTL)
	if n > 0 {
		slog.Info("Engine expired idle sessions", "count", n)
	}
	return n
}

func (e *Engine) send(ctx context.Context, conversationID string, msg models.Outbound) error {
	if err := e.sender.Send(ctx, conversationID, msg); err != nil {
		slog.Error("Engine send failed", "error", err, "conversationID", conversationID)
		return err
	}
	return nil
}

// askNextSymptom presents the symptom under the cursor, or moves on to the
// free-text question once the checklist is exhausted.
func (e *Engine) askNextSymptom(ctx context.Context, s *Session) error {
	if symptom, ok := e.checklist.Symptom(s.SymptomCursor); ok {
		return e.send(ctx, s.ConversationID, symptomMessage(symptom))
	}
	s.State = StateAwaitFreeText
	return e.send(ctx, s.ConversationID, models.Outbound{Text: AskFreeTextText, Markdown: true})
}

// finalize builds the profile, runs the assessment and triage calls and
// offers a doctor consultation. The session is removed whatever happens.
func (e *Engine) finalize(ctx context.Context, s *Session) error {
	id := s.ConversationID
	defer e.sessions.Delete(id)

	profile := AssembleProfile(s.Answers, e.searcher)
	prompt := AssessmentPrompt(profile)
	slog.Debug("Engine finalize: assessment prompt built", "conversationID", id, "summary", profile.Summary())

	if notifier, ok := e.sender.(TypingNotifier); ok {
		if err := notifier.SendTyping(ctx, id); err != nil {
			slog.Debug("Engine finalize: typing indicator failed", "error", err, "conversationID", id)
		}
	}

	narrative, err := e.assess(ctx, id, prompt)
	if err != nil {
		slog.Error("Engine finalize: assessment failed", "error", err, "conversationID", id)
		if sendErr := e.send(ctx, id, plain(AssessmentFailText)); sendErr != nil {
			slog.Warn("Engine finalize: failure notice not delivered", "conversationID", id)
		}
		return e.send(ctx, id, consultationOffer(""))
	}

	e.recordTranscript(ctx, id, prompt, narrative)
	delivered := e.send(ctx, id, assessmentMessage(narrative)) == nil

	triage, err := e.assess(ctx, id, TriagePrompt(profile))
	if err != nil {
		slog.Warn("Engine finalize: triage failed", "error", err, "conversationID", id)
		triage = ""
	}
	slog.Info("Engine finalize: assessment complete", "conversationID", id,
		"delivered", delivered, "triage", triage != "", "interview", e.now().Sub(s.CreatedAt).Round(time.Second))
	return e.send(ctx, id, consultationOffer(triage))
}

func (e *Engine) assess(ctx context.Context, conversationID, prompt string) (string, error) {
	if e.gateway == nil {
		return "", advisory.ErrEmptyNarrative
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.gateway.Assess(ctx, conversationID, prompt)
	if reply != nil && len(reply.Raw) > 0 && (err != nil || strings.TrimSpace(reply.Narrative) == "") {
		slog.Error("Engine advisory reply unusable", "conversationID", conversationID, "raw", string(reply.Raw))
	}
	if err != nil {
		return "", err
	}
	if reply == nil || strings.TrimSpace(reply.Narrative) == "" {
		return "", advisory.ErrEmptyNarrative
	}
	return reply.Narrative, nil
}

func (e *Engine) recordTranscript(ctx context.Context, conversationID, prompt, reply string) {
	if e.transcripts == nil {
		return
	}
	t := models.Transcript{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserPrompt:     prompt,
		AgentReply:     reply,
		Timestamp:      e.now().UTC(),
	}
	if err := e.transcripts.SaveTranscript(ctx, t); err != nil {
		slog.Error("Engine failed to record transcript", "error", err, "conversationID", conversationID)
	}
}

// handleLocation answers a location share with nearby facilities. It never
// touches dialogue state.
func (e *Engine) handleLocation(ctx context.Context, conversationID string, loc models.Location) error {
	e.send(ctx, conversationID, plain(SearchingText))

	var facilities []models.Facility
	if e.finder != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
		found, err := e.finder.FindNearby(lookupCtx, loc.Latitude, loc.Longitude)
		cancel()
		if err != nil {
			slog.Error("Engine facility lookup failed", "error", err, "conversationID", conversationID)
		}
		facilities = found
	}
	if len(facilities) > facility.MaxResults {
		facilities = facilities[:facility.MaxResults]
	}
	if len(facilities) == 0 {
		return e.send(ctx, conversationID, plain(NoFacilitiesText))
	}
	return e.send(ctx, conversationID, models.Outbound{Text: FormatFacilities(facilities), Markdown: true})
}
