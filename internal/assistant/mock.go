package assistant

import (
	"context"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"persona-chat/internal/models"
)

const (
	defaultThinkDelayMin = 1 * time.Second
	defaultThinkDelayMax = 3 * time.Second

	mockDisclaimer = "\n\n(This is a simulated reply. Configure an AI provider in settings for real conversations.)"
)

// mockTemplates may reference {name} and {personality}
var mockTemplates = []string{
	"Hi there! I'm {name}. It's lovely to hear from you.",
	"That's an interesting thought. As someone who is {personality}, I'd love to hear more.",
	"Hmm, let me think about that for a moment... I think you're onto something.",
	"Thanks for sharing that with me! What made you think of it?",
	"Ha, you always know how to make me smile. Tell me more!",
	"{name} here. I've been wondering the same thing lately.",
	"Honestly? I'm not sure, but I'd enjoy figuring it out together.",
	"Being {personality}, I can't help but get excited about this!",
	"What a great question. Let's take it one step at a time.",
}

// MockResponder produces canned replies without any network access
type MockResponder struct {
	perRune pacer
	think   pacer
	pick    func(n int) int
}

// MockOption configures the mock responder
type MockOption func(*MockResponder)

// WithMockRuneDelay sets the per-character delay range for streamed replies
func WithMockRuneDelay(min, max time.Duration) MockOption {
	return func(m *MockResponder) {
		m.perRune = newPacer(min, max)
	}
}

// WithMockThinkDelay sets the delay range for non-streamed replies
func WithMockThinkDelay(min, max time.Duration) MockOption {
	return func(m *MockResponder) {
		m.think = newPacer(min, max)
	}
}

// WithMockPicker replaces the random template picker
func WithMockPicker(pick func(n int) int) MockOption {
	return func(m *MockResponder) {
		m.pick = pick
	}
}

// NewMockResponder creates a MockResponder with the default delays
func NewMockResponder(opts ...MockOption) *MockResponder {
	m := &MockResponder{
		perRune: newPacer(defaultTokenDelayMin, defaultTokenDelayMax),
		think:   newPacer(defaultThinkDelayMin, defaultThinkDelayMax),
		pick:    rand.IntN,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Reply renders one reply for persona
func (m *MockResponder) Reply(persona models.Persona) string {
	template := mockTemplates[m.pick(len(mockTemplates))]
	replacer := strings.NewReplacer(
		"{name}", persona.Name,
		"{personality}", persona.Personality,
	)
	return replacer.Replace(template) + mockDisclaimer
}

// Respond streams the reply one character at a time to onToken, each call carrying the text
// so far. With a nil onToken it waits once and returns the whole text. It fails only when
// ctx ends: ErrCancelled for a cancelled caller, TransportError for an expired deadline.
func (m *MockResponder) Respond(ctx context.Context, persona models.Persona, onToken func(string)) (string, error) {
	text := m.Reply(persona)
	log.Printf("[Mock] Respond started persona_id=%s streaming=%t length=%d", persona.ID, onToken != nil, len(text))

	if onToken == nil {
		if err := m.think.wait(ctx); err != nil {
			return "", contextError(ctx, 0)
		}
		return text, nil
	}

	for i := range text {
		if i == 0 {
			continue
		}
		onToken(text[:i])
		if err := m.perRune.wait(ctx); err != nil {
			return "", contextError(ctx, 0)
		}
	}
	onToken(text)

	log.Printf("[Mock] Respond completed persona_id=%s", persona.ID)
	return text, nil
}
