package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"persona-chat/internal/assistant"
	"persona-chat/internal/db"
	"persona-chat/internal/models"
)

// ChatHandler handles message exchange with a persona
type ChatHandler struct {
	db          *db.DB
	service     *assistant.Service
	broadcaster *EventBroadcaster
}

// NewChatHandler creates a new chat handler
func NewChatHandler(database *db.DB, service *assistant.Service, broadcaster *EventBroadcaster) *ChatHandler {
	return &ChatHandler{
		db:          database,
		service:     service,
		broadcaster: broadcaster,
	}
}

// SendMessageRequest represents the request body for sending a message
type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=8000"`
}

// SendMessageResponse is the JSON reply of a non-streaming exchange
type SendMessageResponse struct {
	UserMessage models.Message  `json:"user_message"`
	Reply       *models.Message `json:"reply"`
}

// GenerateContentRequest represents the request body for one-shot content generation
type GenerateContentRequest struct {
	Prompt string `json:"prompt" validate:"required,max=8000"`
}

// emptyReplyMessage is shown when the provider stream ended without a complete reply
const emptyReplyMessage = "The AI provider ended the reply before it was complete."

// tokenPayload is the data of a streamed token event
type tokenPayload struct {
	Text string `json:"text"`
}

// errorPayload is the data of an error event and the body of a failed exchange
type errorPayload struct {
	Error string `json:"error"`
}

// GetMessages handles GET /api/personas/{id}/messages
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	persona, ok := loadPersona(w, r, h.db)
	if !ok {
		return
	}

	messages, err := h.db.GetMessages(r.Context(), persona.ID, actor)
	if err != nil {
		http.Error(w, "Failed to get messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	writeJSON(w, http.StatusOK, messages)
}

// SendMessage handles POST /api/personas/{id}/messages.
// The user turn is saved first, then the persona's reply is generated from the full history.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	persona, ok := loadPersona(w, r, h.db)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	userMsg, err := h.db.CreateMessage(ctx, models.Message{
		PersonaID:  persona.ID,
		ActorID:    actor,
		SenderID:   actor,
		SenderName: actor,
		Content:    req.Content,
		IsFromUser: true,
	})
	if err != nil {
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}
	h.broadcaster.BroadcastMessage(persona.ID, userMsg)

	history, err := h.db.GetMessages(ctx, persona.ID, actor)
	if err != nil {
		http.Error(w, "Failed to get messages", http.StatusInternalServerError)
		return
	}

	if wantsEventStream(r) {
		h.streamReply(w, r, actor, persona, history)
		return
	}

	text, err := h.service.GenerateResponse(ctx, actor, *persona, history)
	if err != nil {
		log.Printf("[API] Reply generation failed persona_id=%s actor_id=%s err=%v", persona.ID, actor, err)
		writeJSON(w, http.StatusBadGateway, errorPayload{Error: assistant.UserMessage(err)})
		return
	}

	if text == "" {
		log.Printf("[API] Empty reply persona_id=%s actor_id=%s", persona.ID, actor)
		writeJSON(w, http.StatusBadGateway, errorPayload{Error: emptyReplyMessage})
		return
	}

	reply, err := h.saveReply(ctx, actor, persona, text)
	if err != nil {
		http.Error(w, "Failed to save reply", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, SendMessageResponse{UserMessage: *userMsg, Reply: reply})
}

// streamReply writes the reply as token events followed by a done or error event
func (h *ChatHandler) streamReply(w http.ResponseWriter, r *http.Request, actor string, persona *models.Persona, history []models.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	writeFailed := false
	text, err := h.service.GenerateStreamResponse(ctx, actor, *persona, history, func(token string) {
		if writeFailed {
			return
		}
		if err := writeSSE(w, flusher, Event{Type: EventToken, Data: tokenPayload{Text: token}}); err != nil {
			log.Printf("[SSE] Failed to write token persona_id=%s err=%v", persona.ID, err)
			writeFailed = true
		}
	})
	if err != nil {
		if errors.Is(err, assistant.ErrCancelled) {
			log.Printf("[API] Reply cancelled persona_id=%s actor_id=%s", persona.ID, actor)
			return
		}
		log.Printf("[API] Reply generation failed persona_id=%s actor_id=%s err=%v", persona.ID, actor, err)
		_ = writeSSE(w, flusher, Event{Type: EventError, Data: errorPayload{Error: assistant.UserMessage(err)}})
		return
	}

	// tokens may already be on screen; tell the client they will not be kept
	if text == "" {
		log.Printf("[API] Empty reply persona_id=%s actor_id=%s", persona.ID, actor)
		_ = writeSSE(w, flusher, Event{Type: EventError, Data: errorPayload{Error: emptyReplyMessage}})
		return
	}

	reply, err := h.saveReply(context.WithoutCancel(ctx), actor, persona, text)
	if err != nil {
		_ = writeSSE(w, flusher, Event{Type: EventError, Data: errorPayload{Error: "Failed to save reply"}})
		return
	}

	_ = writeSSE(w, flusher, Event{Type: EventDone, Data: reply})
}

// saveReply persists and broadcasts the persona's reply
func (h *ChatHandler) saveReply(ctx context.Context, actor string, persona *models.Persona, text string) (*models.Message, error) {
	reply, err := h.db.CreateMessage(ctx, models.Message{
		PersonaID:  persona.ID,
		ActorID:    actor,
		SenderID:   persona.ID,
		SenderName: persona.Name,
		Content:    text,
		IsFromUser: false,
	})
	if err != nil {
		log.Printf("[API] Failed to save reply persona_id=%s err=%v", persona.ID, err)
		return nil, err
	}

	h.broadcaster.BroadcastMessage(persona.ID, reply)
	return reply, nil
}

// GenerateContent handles POST /api/personas/{id}/content
func (h *ChatHandler) GenerateContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	persona, ok := loadPersona(w, r, h.db)
	if !ok {
		return
	}

	var req GenerateContentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	content, err := h.service.GenerateContent(r.Context(), actor, *persona, req.Prompt)
	if err != nil {
		log.Printf("[API] Content generation failed persona_id=%s err=%v", persona.ID, err)
		writeJSON(w, http.StatusBadGateway, errorPayload{Error: assistant.UserMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
