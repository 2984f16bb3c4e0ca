// Package handlers provides the management API operations.
package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/encodefleet/encodefleet/internal/registry"
)

// NodesHandler exposes the connected agent fleet.
type NodesHandler struct {
	agents *registry.AgentRegistry
}

// NewNodesHandler creates a nodes handler.
func NewNodesHandler(agents *registry.AgentRegistry) *NodesHandler {
	return &NodesHandler{agents: agents}
}

// NodesOutput is the response for the node listing endpoint.
type NodesOutput struct {
	Body struct {
		Nodes []models.Agent `json:"nodes"`
	}
}

// Register registers the node routes with the API.
func (h *NodesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listNodes",
		Method:      http.MethodGet,
		Path:        "/api/nodes",
		Summary:     "List worker nodes",
		Description: "Returns every known agent with capabilities, load and telemetry.",
		Tags:        []string{"Nodes"},
	}, h.ListNodes)
}

// ListNodes returns all known agents ordered by id.
func (h *NodesHandler) ListNodes(ctx context.Context, _ *struct{}) (*NodesOutput, error) {
	out := &NodesOutput{}
	out.Body.Nodes = h.agents.Snapshot()
	if out.Body.Nodes == nil {
		out.Body.Nodes = []models.Agent{}
	}
	return out, nil
}
