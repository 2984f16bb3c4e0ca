package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/encodefleet/encodefleet/internal/registry"
)

// SettingsHandler reads and updates runtime controller settings.
type SettingsHandler struct {
	settings *registry.Settings
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(settings *registry.Settings) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// SettingsBody is the settings document exchanged on both directions.
type SettingsBody struct {
	PublicBaseURL string `json:"publicBaseUrl" doc:"Base URL agents use to reach the data plane" example:"http://controller:4000"`
}

// SettingsOutput wraps the settings document.
type SettingsOutput struct {
	Body SettingsBody
}

// UpdateSettingsInput is the settings update request.
type UpdateSettingsInput struct {
	Body SettingsBody
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSettings",
		Method:      http.MethodGet,
		Path:        "/api/settings",
		Summary:     "Get settings",
		Tags:        []string{"Settings"},
	}, h.GetSettings)

	huma.Register(api, huma.Operation{
		OperationID: "updateSettings",
		Method:      http.MethodPost,
		Path:        "/api/settings",
		Summary:     "Update settings",
		Description: "Sets the public base URL. Only absolute http and https URLs are accepted.",
		Tags:        []string{"Settings"},
	}, h.UpdateSettings)
}

// GetSettings returns the current settings.
func (h *SettingsHandler) GetSettings(ctx context.Context, _ *struct{}) (*SettingsOutput, error) {
	out := &SettingsOutput{}
	out.Body.PublicBaseURL = h.settings.PublicBaseURL()
	return out, nil
}

// UpdateSettings validates and applies a settings change.
func (h *SettingsHandler) UpdateSettings(ctx context.Context, input *UpdateSettingsInput) (*SettingsOutput, error) {
	if err := h.settings.SetPublicBaseURL(input.Body.PublicBaseURL); err != nil {
		return nil, huma.Error400BadRequest("invalid public base URL", err)
	}
	out := &SettingsOutput{}
	out.Body.PublicBaseURL = h.settings.PublicBaseURL()
	return out, nil
}
