package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/encodefleet/encodefleet/internal/registry"
)

// PairHandler admits pairing tokens for new agents.
type PairHandler struct {
	settings *registry.Settings
}

// NewPairHandler creates a pairing handler.
func NewPairHandler(settings *registry.Settings) *PairHandler {
	return &PairHandler{settings: settings}
}

// PairInput optionally carries a caller-chosen token.
type PairInput struct {
	Body struct {
		Token string `json:"token,omitempty" doc:"Token to admit; minted server-side when omitted. Must be exactly 25 characters."`
	}
}

// PairOutput carries the admitted pairing token.
type PairOutput struct {
	Body struct {
		Token string `json:"token" doc:"Pairing token to configure on a new agent"`
	}
}

// Register registers the pairing route with the API.
func (h *PairHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "addPairingToken",
		Method:      http.MethodPost,
		Path:        "/api/pair",
		Summary:     "Admit a pairing token",
		Description: "Adds a pairing token to the accepted set. Tokens are exactly 25 characters; one is minted when none is supplied.",
		Tags:        []string{"Settings"},
	}, h.AddToken)
}

// AddToken admits the supplied token, or mints one when absent.
func (h *PairHandler) AddToken(ctx context.Context, input *PairInput) (*PairOutput, error) {
	token := input.Body.Token
	if token == "" {
		token = models.NewPairingToken()
	}
	if err := h.settings.AddToken(token); err != nil {
		return nil, huma.Error400BadRequest("invalid pairing token", err)
	}
	out := &PairOutput{}
	out.Body.Token = token
	return out, nil
}
