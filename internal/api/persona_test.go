package api

import (
	"net/http"
	"strings"
	"testing"

	"persona-chat/internal/models"
)

func TestPersonaHandler_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/personas", "u1", CreatePersonaRequest{
		Name:        "Alice",
		Personality: "cheerful and curious",
		Backstory:   "A lighthouse keeper.",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}

	created := decodeJSON[models.Persona](t, rr)
	if created.ID == "" || created.OwnerID != "u1" || created.Name != "Alice" {
		t.Errorf("Unexpected persona %+v", created)
	}

	rr = env.do(t, "GET", "/api/personas/"+created.ID, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rr.Code)
	}
	got := decodeJSON[models.Persona](t, rr)
	if got.Personality != "cheerful and curious" || got.Backstory != "A lighthouse keeper." {
		t.Errorf("Unexpected persona %+v", got)
	}

	rr = env.do(t, "GET", "/api/personas", "", nil)
	list := decodeJSON[[]models.Persona](t, rr)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("Expected one persona in list, got %+v", list)
	}
}

func TestPersonaHandler_List_Empty(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/personas", "", nil)
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("Expected empty JSON array, got %q", body)
	}
}

func TestPersonaHandler_Create_RequiresActor(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/personas", "", CreatePersonaRequest{Name: "Alice"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestPersonaHandler_Create_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/personas", "u1", CreatePersonaRequest{Personality: "quiet"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "name is required") {
		t.Errorf("Unexpected body %q", rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/personas", "u1", "not an object")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestPersonaHandler_Get_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/personas/missing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestPersonaHandler_Delete_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	persona := env.createPersona(t, "owner", "Alice")

	rr := env.do(t, "DELETE", "/api/personas/"+persona.ID, "intruder", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, rr.Code)
	}

	rr = env.do(t, "DELETE", "/api/personas/"+persona.ID, "owner", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, rr.Code)
	}

	rr = env.do(t, "GET", "/api/personas/"+persona.ID, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status %d after delete, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestPersonaHandler_ResetSession(t *testing.T) {
	env := newTestEnv(t)
	persona := env.createPersona(t, "owner", "Alice")
	ctx := t.Context()

	if err := env.db.SaveSessionID(ctx, "u1", persona.ID, "conv-1"); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	rr := env.do(t, "DELETE", "/api/personas/"+persona.ID+"/session", "u1", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status %d, got %d", http.StatusNoContent, rr.Code)
	}

	sessionID, err := env.db.GetSessionID(ctx, "u1", persona.ID)
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if sessionID != "" {
		t.Errorf("Expected session to be cleared, got %q", sessionID)
	}
}
