package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
)

type entrypointUpdateInput struct {
	ID        uuid.UUID `json:"id"`
	IsEnabled bool      `json:"isEnabled"`
}

type entrypointResponse struct {
	ID         uuid.UUID `json:"id"`
	ContractID uuid.UUID `json:"contractId"`
	Name       string    `json:"name"`
	IsEnabled  bool      `json:"isEnabled"`
}

func toEntrypointResponse(e ledger.Entrypoint) entrypointResponse {
	return entrypointResponse{ID: e.ID, ContractID: e.ContractID, Name: e.Name, IsEnabled: e.IsEnabled}
}

// handleUpdateEntrypoints is PUT /entrypoints: a bulk enable/disable toggle.
func (s *Server) handleUpdateEntrypoints(w http.ResponseWriter, r *http.Request) {
	var req []entrypointUpdateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}
	updates := make([]ledger.EntrypointUpdate, len(req))
	for i, u := range req {
		updates[i] = ledger.EntrypointUpdate{ID: u.ID, IsEnabled: u.IsEnabled}
	}
	updated, err := s.Ledger.UpdateEntrypoints(r.Context(), updates)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]entrypointResponse, len(updated))
	for i, e := range updated {
		out[i] = toEntrypointResponse(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListEntrypoints(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractId"))
	if err != nil {
		writeError(w, apperr.NotFound("contract"))
		return
	}
	eps, err := s.Ledger.ListEntrypoints(r.Context(), contractID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]entrypointResponse, len(eps))
	for i, e := range eps {
		out[i] = toEntrypointResponse(e)
	}
	writeJSON(w, http.StatusOK, out)
}
