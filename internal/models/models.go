package models

import "time"

// Persona represents a character profile the AI impersonates
type Persona struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Personality string    `json:"personality"`
	Backstory   string    `json:"backstory"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message represents a single chat message between a user and a persona
type Message struct {
	ID         int64     `json:"id"`
	PersonaID  string    `json:"persona_id"`
	ActorID    string    `json:"actor_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	IsFromUser bool      `json:"is_from_user"`
	Timestamp  time.Time `json:"timestamp"`
}

// Wire roles understood by every provider
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// WireMessage is a provider-facing chat message
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
