package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/encodefleet/encodefleet/internal/scan"
)

// ScanHandler walks library roots for transcodable media.
type ScanHandler struct{}

// NewScanHandler creates a scan handler.
func NewScanHandler() *ScanHandler {
	return &ScanHandler{}
}

// ScanInput is the scan request.
type ScanInput struct {
	Body struct {
		Root       string             `json:"root" doc:"Directory to scan recursively"`
		MediaTypes []models.MediaType `json:"mediaTypes,omitempty" doc:"Restrict results to these media types"`
	}
}

// ScanOutput lists the media files found under the root.
type ScanOutput struct {
	Body struct {
		Entries []scan.Entry `json:"entries"`
		Count   int          `json:"count"`
	}
}

// Register registers the scan route with the API.
func (h *ScanHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "scanLibrary",
		Method:      http.MethodPost,
		Path:        "/api/scan",
		Summary:     "Scan a directory for media",
		Tags:        []string{"Jobs"},
	}, h.Scan)
}

// Scan walks the requested root and classifies what it finds.
func (h *ScanHandler) Scan(ctx context.Context, input *ScanInput) (*ScanOutput, error) {
	if input.Body.Root == "" {
		return nil, huma.Error400BadRequest("root is required")
	}
	for _, mt := range input.Body.MediaTypes {
		if !mt.Valid() {
			return nil, huma.Error400BadRequest("unknown media type: " + string(mt))
		}
	}

	entries, err := scan.Walk(input.Body.Root, input.Body.MediaTypes)
	if err != nil {
		return nil, huma.Error400BadRequest("scanning root", err)
	}

	out := &ScanOutput{}
	out.Body.Entries = entries
	if out.Body.Entries == nil {
		out.Body.Entries = []scan.Entry{}
	}
	out.Body.Count = len(entries)
	return out, nil
}
