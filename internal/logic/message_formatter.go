package logic

import (
	"fmt"

	"persona-chat/internal/models"
)

// FormatPersonaIntroduction builds the message that introduces the persona to the model
// Format:
//
//	You are {name}, {personality}.
//	Backstory: {backstory}
//
//	Stay in character as {name} while talking with the user.
func FormatPersonaIntroduction(persona models.Persona) string {
	return fmt.Sprintf(
		"You are %s, %s.\nBackstory: %s\n\nStay in character as %s while talking with the user.",
		persona.Name, persona.Personality, persona.Backstory, persona.Name,
	)
}

// WireRole maps a domain message to the provider role
func WireRole(msg models.Message) string {
	if msg.IsFromUser {
		return models.RoleUser
	}
	return models.RoleAssistant
}

// FormatConversation converts a persona and its ordered history into provider messages.
// The result always starts with exactly one introduction message followed by the history
// in its original order.
func FormatConversation(persona models.Persona, messages []models.Message) []models.WireMessage {
	wire := make([]models.WireMessage, 0, len(messages)+1)
	wire = append(wire, models.WireMessage{
		Role:    models.RoleUser,
		Content: FormatPersonaIntroduction(persona),
	})

	for _, msg := range messages {
		wire = append(wire, models.WireMessage{
			Role:    WireRole(msg),
			Content: msg.Content,
		})
	}

	return wire
}

// LatestUserMessage returns the index of the last user-role message, or -1
func LatestUserMessage(wire []models.WireMessage) int {
	for i := len(wire) - 1; i >= 0; i-- {
		if wire[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}
