package api

import (
	"log"
	"net/http"

	"persona-chat/internal/config"
	"persona-chat/internal/provider"
)

// SettingsHandler handles the AI provider settings
type SettingsHandler struct {
	settings *config.Settings
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *config.Settings) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// ProviderSettingsResponse describes one provider. The API key itself is never returned.
type ProviderSettingsResponse struct {
	ID          provider.Provider `json:"id"`
	DisplayName string            `json:"display_name"`
	Model       string            `json:"model"`
	HasAPIKey   bool              `json:"has_api_key"`
	WireFormat  string            `json:"wire_format"`
}

// AISettingsResponse is the body of GET /api/settings/ai
type AISettingsResponse struct {
	SelectedProvider provider.Provider          `json:"selected_provider"`
	Providers        []ProviderSettingsResponse `json:"providers"`
}

// SelectProviderRequest represents the request body for switching providers
type SelectProviderRequest struct {
	Provider string `json:"provider" validate:"required,provider"`
}

// UpdateProviderRequest edits one provider; omitted fields are left unchanged
type UpdateProviderRequest struct {
	APIKey *string `json:"api_key" validate:"omitnil,max=512"`
	Model  *string `json:"model" validate:"omitnil,max=200"`
}

// Get handles GET /api/settings/ai
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsResponse(h.settings.Snapshot()))
}

// SelectProvider handles PUT /api/settings/ai/provider
func (h *SettingsHandler) SelectProvider(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	var req SelectProviderRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	p, err := provider.Parse(req.Provider)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.settings.SelectProvider(r.Context(), p); err != nil {
		log.Printf("[API] Failed to select provider provider=%s err=%v", p, err)
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse(h.settings.Snapshot()))
}

// UpdateProvider handles PUT /api/settings/ai/providers/{provider}
func (h *SettingsHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	p, err := provider.Parse(r.PathValue("provider"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var req UpdateProviderRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.settings.SetProviderConfig(r.Context(), p, req.APIKey, req.Model); err != nil {
		log.Printf("[API] Failed to update provider provider=%s err=%v", p, err)
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse(h.settings.Snapshot()))
}

func settingsResponse(cfg config.AIConfig) AISettingsResponse {
	providers := make([]ProviderSettingsResponse, 0, len(provider.All()))
	for _, p := range provider.All() {
		pc := cfg.For(p)
		providers = append(providers, ProviderSettingsResponse{
			ID:          p,
			DisplayName: p.DisplayName(),
			Model:       pc.Model,
			HasAPIKey:   pc.APIKey != "",
			WireFormat:  p.WireFormat().String(),
		})
	}

	return AISettingsResponse{
		SelectedProvider: cfg.SelectedProvider,
		Providers:        providers,
	}
}
