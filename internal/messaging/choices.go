package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// textChoices renders buttons as numbered lines for text-only transports and
// maps numbered or labelled replies back to choice events.
type textChoices struct {
	mu   sync.Mutex
	last map[string][]models.Choice
}

func newTextChoices() *textChoices {
	return &textChoices{last: make(map[string][]models.Choice)}
}

// render returns the text to send and remembers the offered choices.
// Sending a message without choices clears what was offered before.
func (c *textChoices) render(conversationID string, msg models.Outbound) string {
	var b strings.Builder
	b.WriteString(msg.Text)

	if len(msg.Choices) > 0 {
		b.WriteString("\n")
		for i, choice := range msg.Choices {
			fmt.Fprintf(&b, "\n%d. %s", i+1, choice.Label)
		}
		b.WriteString("\n\nReply with a number or an option.")
	}
	if lr := msg.LocationRequest; lr != nil {
		fmt.Fprintf(&b, "\n\n%s: send your location from the attachment menu, or reply %q.", lr.ShareLabel, lr.DeclineLabel)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(msg.Choices) > 0 {
		c.last[conversationID] = append([]models.Choice(nil), msg.Choices...)
	} else {
		delete(c.last, conversationID)
	}
	return b.String()
}

// resolve turns a text reply matching an offered choice into a choice event.
// Other events are returned unchanged.
func (c *textChoices) resolve(evt models.Event) models.Event {
	if evt.Kind != models.EventText {
		return evt
	}
	c.mu.Lock()
	offered := c.last[evt.ConversationID]
	c.mu.Unlock()
	if len(offered) == 0 {
		return evt
	}

	reply := strings.TrimSpace(evt.Text)
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(offered) {
		return asChoice(evt, offered[n-1].Token)
	}
	for _, choice := range offered {
		if strings.EqualFold(reply, choice.Label) {
			return asChoice(evt, choice.Token)
		}
	}
	return evt
}

func asChoice(evt models.Event, token string) models.Event {
	evt.Kind = models.EventChoice
	evt.Choice = token
	evt.Text = ""
	return evt
}
