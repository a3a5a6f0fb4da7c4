package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
)

type createContractRequest struct {
	Address          string                  `json:"address"`
	OwnerID          uuid.UUID               `json:"ownerId"`
	Name             string                  `json:"name"`
	VaultID          uuid.UUID               `json:"vaultId"`
	MaxCallsPerMonth int                     `json:"maxCallsPerMonth"`
	Entrypoints      []entrypointFieldsInput `json:"entrypoints"`
}

type entrypointFieldsInput struct {
	Name      string `json:"name"`
	IsEnabled bool   `json:"isEnabled"`
}

type contractResponse struct {
	ID               uuid.UUID `json:"id"`
	Address          string    `json:"address"`
	OwnerSponsorID   uuid.UUID `json:"ownerId"`
	VaultID          uuid.UUID `json:"vaultId"`
	Name             string    `json:"name"`
	MaxCallsPerMonth int       `json:"maxCallsPerMonth"`
}

func toContractResponse(c ledger.Contract) contractResponse {
	return contractResponse{
		ID:               c.ID,
		Address:          c.Address,
		OwnerSponsorID:   c.OwnerSponsorID,
		VaultID:          c.VaultID,
		Name:             c.Name,
		MaxCallsPerMonth: c.MaxCallsPerMonth,
	}
}

// handleCreateContract is POST /contracts. §6: 403 if the address is
// already registered — RegisterContract already returns apperr.AlreadyRegistered
// for that case, which writeError maps to 403.
func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}
	if req.MaxCallsPerMonth == 0 {
		req.MaxCallsPerMonth = -1
	}

	eps := make([]ledger.NewEntrypoint, len(req.Entrypoints))
	for i, e := range req.Entrypoints {
		eps[i] = ledger.NewEntrypoint{Name: e.Name, IsEnabled: e.IsEnabled}
	}

	contract, err := s.Ledger.RegisterContract(r.Context(), ledger.NewContract{
		Address:          req.Address,
		OwnerSponsorID:   req.OwnerID,
		VaultID:          req.VaultID,
		Name:             req.Name,
		MaxCallsPerMonth: req.MaxCallsPerMonth,
		Entrypoints:      eps,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(contract))
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.NotFound("contract"))
		return
	}
	contract, err := s.Ledger.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(contract))
}

func (s *Server) handleGetContractByAddress(w http.ResponseWriter, r *http.Request) {
	contract, err := s.Ledger.GetContractByAddress(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(contract))
}

func (s *Server) handleListContractsBySponsor(w http.ResponseWriter, r *http.Request) {
	sponsorID, err := uuid.Parse(chi.URLParam(r, "sponsorId"))
	if err != nil {
		writeError(w, apperr.NotFound("sponsor"))
		return
	}
	contracts, err := s.Ledger.ListContractsBySponsor(r.Context(), sponsorID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]contractResponse, len(contracts))
	for i, c := range contracts {
		out[i] = toContractResponse(c)
	}
	writeJSON(w, http.StatusOK, out)
}

type setMaxCallsRequest struct {
	MaxCalls int `json:"maxCalls"`
}

func (s *Server) handleSetMaxCalls(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.NotFound("contract"))
		return
	}
	var req setMaxCallsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}
	contract, err := s.Ledger.UpdateMaxCallsPerMonth(r.Context(), id, req.MaxCalls)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(contract))
}
