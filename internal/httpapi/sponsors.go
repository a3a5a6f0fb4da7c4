package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/marigold-dev/gas-station/internal/apperr"
)

type createSponsorRequest struct {
	Name         string `json:"name"`
	ChainAddress string `json:"chainAddress"`
}

type sponsorResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	ChainAddress    string    `json:"chainAddress"`
	WithdrawCounter int       `json:"withdrawCounter"`
	VaultID         uuid.UUID `json:"vaultId"`
}

// handleCreateSponsor is POST /sponsors. Registering a sponsor always opens
// a default credit vault in the same call, per SPEC_FULL.md §12.
func (s *Server) handleCreateSponsor(w http.ResponseWriter, r *http.Request) {
	var req createSponsorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}
	if req.Name == "" || req.ChainAddress == "" {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "name and chainAddress are required"))
		return
	}

	sponsor, vault, err := s.Ledger.RegisterSponsor(r.Context(), req.Name, req.ChainAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sponsorResponse{
		ID:              sponsor.ID,
		Name:            sponsor.Name,
		ChainAddress:    sponsor.ChainAddress,
		WithdrawCounter: sponsor.WithdrawCounter,
		VaultID:         vault.ID,
	})
}
