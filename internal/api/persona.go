package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"persona-chat/internal/db"
	"persona-chat/internal/models"
)

// PersonaHandler handles persona-related HTTP requests
type PersonaHandler struct {
	db *db.DB
}

// NewPersonaHandler creates a new persona handler
func NewPersonaHandler(database *db.DB) *PersonaHandler {
	return &PersonaHandler{db: database}
}

// CreatePersonaRequest represents the request body for creating a persona
type CreatePersonaRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Personality string `json:"personality" validate:"max=2000"`
	Backstory   string `json:"backstory" validate:"max=10000"`
}

// Create handles POST /api/personas
func (h *PersonaHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CreatePersonaRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	persona, err := h.db.CreatePersona(r.Context(), actor, req.Name, req.Personality, req.Backstory)
	if err != nil {
		http.Error(w, "Failed to create persona", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, persona)
}

// List handles GET /api/personas
func (h *PersonaHandler) List(w http.ResponseWriter, r *http.Request) {
	personas, err := h.db.GetAllPersonas(r.Context())
	if err != nil {
		http.Error(w, "Failed to get personas", http.StatusInternalServerError)
		return
	}
	if personas == nil {
		personas = []models.Persona{}
	}

	writeJSON(w, http.StatusOK, personas)
}

// Get handles GET /api/personas/{id}
func (h *PersonaHandler) Get(w http.ResponseWriter, r *http.Request) {
	persona, ok := loadPersona(w, r, h.db)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, persona)
}

// Delete handles DELETE /api/personas/{id}. Only the owner may delete a persona.
func (h *PersonaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	persona, ok := loadPersona(w, r, h.db)
	if !ok {
		return
	}
	if persona.OwnerID != actor {
		http.Error(w, "Only the owner can delete this persona", http.StatusForbidden)
		return
	}

	if err := h.db.DeletePersona(r.Context(), persona.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Persona not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete persona", http.StatusInternalServerError)
		return
	}

	log.Printf("[API] Persona deleted persona_id=%s actor_id=%s", persona.ID, actor)
	w.WriteHeader(http.StatusNoContent)
}

// ResetSession handles DELETE /api/personas/{id}/session.
// The next turn starts a new provider conversation.
func (h *PersonaHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	persona, ok := loadPersona(w, r, h.db)
	if !ok {
		return
	}

	if err := h.db.DeleteSession(r.Context(), actor, persona.ID); err != nil {
		http.Error(w, "Failed to reset session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadPersona resolves the {id} path value. On failure the response is written.
func loadPersona(w http.ResponseWriter, r *http.Request, database *db.DB) (*models.Persona, bool) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Invalid persona ID", http.StatusBadRequest)
		return nil, false
	}

	persona, err := database.GetPersona(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Persona not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.Printf("[API] Failed to get persona persona_id=%s err=%v", id, err)
		http.Error(w, "Failed to get persona", http.StatusInternalServerError)
		return nil, false
	}

	return persona, true
}
