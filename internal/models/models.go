// Package models defines the core data structures for SwasthPipe.
//
// It includes the channel events and outbound messages exchanged between the chat
// transports and the dialogue engine, plus the records shared with storage and the API.
package models

import (
	"errors"
	"strings"
	"time"
)

// EventKind classifies an inbound channel event.
type EventKind string

const (
	// EventText is a free-form text message typed by the user.
	EventText EventKind = "text"
	// EventChoice is a button press (or a text reply mapped onto an offered choice).
	EventChoice EventKind = "choice"
	// EventLocation is a shared geocoordinate.
	EventLocation EventKind = "location"
)

// BeginCommand starts (or restarts) a screening interview.
const BeginCommand = "/start"

// Error variables for event validation
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrInvalidEventKind    = errors.New("invalid event kind")
	ErrMissingLocation     = errors.New("location event without coordinates")
	ErrEmptyChoice         = errors.New("choice event without a token")
)

// Location is a latitude/longitude pair shared by a user.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event is one inbound message, button press or location share tagged with its conversation.
type Event struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"` // transport id used for redelivery detection
	Kind           EventKind `json:"kind"`
	Text           string    `json:"text,omitempty"`
	Choice         string    `json:"choice,omitempty"` // callback token for EventChoice
	Location       *Location `json:"location,omitempty"`
	Time           time.Time `json:"time"`
}

// Validate checks that the event carries what its kind requires.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ConversationID) == "" {
		return ErrEmptyConversationID
	}
	switch e.Kind {
	case EventText:
		return nil
	case EventChoice:
		if e.Choice == "" {
			return ErrEmptyChoice
		}
		return nil
	case EventLocation:
		if e.Location == nil {
			return ErrMissingLocation
		}
		return nil
	default:
		return ErrInvalidEventKind
	}
}

// IsBeginCommand reports whether the event is the begin command.
func (e Event) IsBeginCommand() bool {
	return e.Kind == EventText && strings.HasPrefix(strings.TrimSpace(e.Text), BeginCommand)
}

// Choice is a selectable option rendered as an inline button (or numbered line).
type Choice struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// LocationRequest asks the user to share their location, with a decline option.
type LocationRequest struct {
	ShareLabel   string `json:"share_label"`
	DeclineLabel string `json:"decline_label"`
}

// Outbound is a message the engine pushes to a conversation.
type Outbound struct {
	Text            string           `json:"text"`
	Markdown        bool             `json:"markdown,omitempty"`
	Choices         []Choice         `json:"choices,omitempty"`
	LocationRequest *LocationRequest `json:"location_request,omitempty"`
}

// Facility is one nearby care option returned by the facility lookup.
type Facility struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone,omitempty"`
}

// Transcript is one completed interview exchange with the advisory service.
type Transcript struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"chat_id"`
	UserPrompt     string    `json:"user_message"`
	AgentReply     string    `json:"agent_reply"`
	Timestamp      time.Time `json:"timestamp"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
