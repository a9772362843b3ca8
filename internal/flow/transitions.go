package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// inputClass groups inbound events for the transition table.
type inputClass string

const (
	inputText   inputClass = "text"
	inputChoice inputClass = "choice"
)

func classify(evt models.Event) inputClass {
	if evt.Kind == models.EventChoice {
		return inputChoice
	}
	return inputText
}

type transitionKey struct {
	state State
	input inputClass
}

type transitionFunc func(e *Engine, ctx context.Context, s *Session, evt models.Event) error

// transitions maps (state, input class) to its handler. A missing entry means
// the input is ignored and the session stays where it is.
var transitions = map[transitionKey]transitionFunc{
	{StateSelectScreening, inputChoice}: (*Engine).onBegin,
	{StateAskAge, inputText}:            (*Engine).onAge,
	{StateAskGender, inputChoice}:       (*Engine).onGender,
	{StateAskWeight, inputText}:         (*Engine).onWeight,
	{StateAskHeight, inputText}:         (*Engine).onHeight,
	{StateAskBPKnow, inputChoice}:       (*Engine).onBPKnow,
	{StateAskBPValue, inputText}:        (*Engine).onBPValue,
	{StateChecklist, inputChoice}:       (*Engine).onSymptomAnswer,
	{StateAwaitFreeText, inputText}:     (*Engine).onFreeText,
}

func (e *Engine) onBegin(ctx context.Context, s *Session, evt models.Event) error {
	if evt.Choice != TokenBeginScreening {
		return nil
	}
	s.State = StateAskAge
	return e.send(ctx, s.ConversationID, plain(AskAgeText))
}

func (e *Engine) onAge(ctx context.Context, s *Session, evt models.Event) error {
	age, err := ParseAge(evt.Text)
	if err != nil {
		slog.Debug("Engine rejected age", "error", err, "conversationID", s.ConversationID)
		return e.send(ctx, s.ConversationID, plain(InvalidAgeText))
	}
	s.Answers.Age = &age
	s.State = StateAskGender
	return e.send(ctx, s.ConversationID, genderMessage())
}

func (e *Engine) onGender(ctx context.Context, s *Session, evt models.Event) error {
	gender, ok := ParseGender(evt.Choice)
	if !ok {
		return nil
	}
	s.Answers.Gender = gender
	s.State = StateAskWeight
	return e.send(ctx, s.ConversationID, plain(AskWeightText))
}

func (e *Engine) onWeight(ctx context.Context, s *Session, evt models.Event) error {
	weight, err := ParseMeasurement(evt.Text)
	if err != nil {
		slog.Debug("Engine rejected weight", "error", err, "conversationID", s.ConversationID)
		return e.send(ctx, s.ConversationID, plain(InvalidWeightText))
	}
	s.Answers.WeightKg = &weight
	s.State = StateAskHeight
	return e.send(ctx, s.ConversationID, plain(AskHeightText))
}

func (e *Engine) onHeight(ctx context.Context, s *Session, evt models.Event) error {
	height, err := ParseMeasurement(evt.Text)
	if err != nil {
		slog.Debug("Engine rejected height", "error", err, "conversationID", s.ConversationID)
		return e.send(ctx, s.ConversationID, plain(InvalidHeightText))
	}
	s.Answers.HeightCm = &height
	if bmi, ok := s.Answers.BMI(); ok {
		e.send(ctx, s.ConversationID, bmiMessage(bmi))
	}
	s.State = StateAskBPKnow
	return e.send(ctx, s.ConversationID, bpKnowMessage())
}

func (e *Engine) onBPKnow(ctx context.Context, s *Session, evt models.Event) error {
	switch evt.Choice {
	case TokenBPYes:
		s.State = StateAskBPValue
		return e.send(ctx, s.ConversationID, plain(AskBPValueText))
	case TokenBPNo:
		s.Answers.BloodPressure = BloodPressureNotKnown
		return e.startChecklist(ctx, s)
	default:
		return nil
	}
}

func (e *Engine) onBPValue(ctx context.Context, s *Session, evt models.Event) error {
	bp, err := ParseBloodPressure(evt.Text)
	if err != nil {
		slog.Debug("Engine rejected blood pressure", "error", err, "conversationID", s.ConversationID)
		return e.send(ctx, s.ConversationID, plain(InvalidBPText))
	}
	s.Answers.BloodPressure = bp
	return e.startChecklist(ctx, s)
}

func (e *Engine) startChecklist(ctx context.Context, s *Session) error {
	s.SymptomCursor = 0
	s.State = StateChecklist
	return e.askNextSymptom(ctx, s)
}

func (e *Engine) onSymptomAnswer(ctx context.Context, s *Session, evt models.Event) error {
	var yes bool
	switch evt.Choice {
	case TokenSymptomYes:
		yes = true
	case TokenSymptomNo:
	default:
		return nil
	}
	e.checklist.Answer(s, yes)
	return e.askNextSymptom(ctx, s)
}

func (e *Engine) onFreeText(ctx context.Context, s *Session, evt models.Event) error {
	text := strings.TrimSpace(evt.Text)
	if text == "" {
		return nil
	}
	s.Answers.FreeTextSymptoms = text
	s.State = StateFinalize
	return e.finalize(ctx, s)
}
