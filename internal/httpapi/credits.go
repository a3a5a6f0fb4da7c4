package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
)

type vaultResponse struct {
	ID             uuid.UUID `json:"id"`
	OwnerSponsorID uuid.UUID `json:"ownerId"`
	Amount         int64     `json:"amount"`
}

func toVaultResponse(v ledger.Vault) vaultResponse {
	return vaultResponse{ID: v.ID, OwnerSponsorID: v.OwnerSponsorID, Amount: v.Amount}
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "vaultId"))
	if err != nil {
		writeError(w, apperr.NotFound("vault"))
		return
	}
	vault, err := s.Ledger.GetVault(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultResponse(vault))
}

type depositRequest struct {
	VaultID       uuid.UUID `json:"vaultId"`
	Amount        int64     `json:"amount"`
	OperationHash string    `json:"operationHash"`
	OwnerID       uuid.UUID `json:"ownerId"`
}

// handleDeposit is PUT /deposit. SPEC_FULL.md §12's deposit confirmation
// gate: the on-chain transfer named by operationHash must be confirmed by
// the Chain Oracle before the vault is credited; an unconfirmed deposit is
// a 404, matching §6's table.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}

	vault, err := s.Ledger.GetVault(r.Context(), req.VaultID)
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := s.Ledger.GetSponsor(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	ownerAddr, err := tezos.ParseAddress(owner.ChainAddress)
	if err != nil {
		writeError(w, apperr.InvalidAddress(owner.ChainAddress))
		return
	}
	hash, err := tezos.ParseOpHash(req.OperationHash)
	if err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed operation hash"))
		return
	}

	confirmed, err := s.Chain.ConfirmDeposit(r.Context(), hash, ownerAddr, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if !confirmed {
		writeError(w, apperr.NotFound("deposit"))
		return
	}

	updated, err := s.Ledger.CreditVault(r.Context(), vault.ID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultResponse(updated))
}
