package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"persona-chat/internal/provider"
)

const (
	// ActorHeader carries the id of the acting user
	ActorHeader = "X-User-ID"

	// maxBodyBytes bounds every JSON request body
	maxBodyBytes = 1 << 20
)

// validate is shared by every request type in this package
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// provider values must name a registered provider
	_ = validate.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
		_, err := provider.Parse(fl.Field().String())
		return err == nil
	})
}

// HealthHandler handles GET /health
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actorID returns the acting user, or "" when the header is missing
func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

// requireActor writes 401 and returns false when the request has no actor
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := actorID(r)
	if actor == "" {
		http.Error(w, ActorHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return actor, true
}

// decodeRequest decodes and validates a JSON body into v. On failure the response is
// written and false is returned.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("[API] Invalid request body path=%s err=%v", r.URL.Path, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}

	if err := validate.Struct(v); err != nil {
		log.Printf("[API] Request validation failed path=%s err=%v", r.URL.Path, err)
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

// validationMessage renders the first failed rule
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "provider":
		return fmt.Sprintf("%s is not a known provider", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response err=%v", err)
	}
}
