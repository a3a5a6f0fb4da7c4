package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"blockwatch.cc/tzgo/micheline"
	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/oracle"
)

// WithdrawVerifier checks a withdraw signature against the packed
// (vaultId, counter, amount) triple described by §6's "Withdraw signature"
// note. Signature verification itself is out of scope per spec.md §1; this
// is the contract a real deployment plugs an implementation into.
type WithdrawVerifier interface {
	Verify(ctx context.Context, vaultID uuid.UUID, counter int, amount int64, sponsorAddress, signature string) error
}

// DenyAllVerifier is the zero-effort WithdrawVerifier: it always fails
// closed. cmd/gasstation always wires it, so /withdraw rejects every
// request rather than being silently unauthenticated.
type DenyAllVerifier struct{}

func (DenyAllVerifier) Verify(context.Context, uuid.UUID, int, int64, string, string) error {
	return apperr.New(apperr.KindInvalidSignature, "no withdraw verifier configured")
}

type withdrawRequest struct {
	VaultID         uuid.UUID `json:"vaultId"`
	Amount          int64     `json:"amount"`
	WithdrawCounter int       `json:"withdrawCounter"`
	Signature       string    `json:"signature"`
}

type withdrawResponse struct {
	TxHash  string `json:"txHash"`
	Counter int    `json:"counter"`
}

// handleWithdraw is PUT /withdraw. It reuses the Scheduler's enqueue path
// (through Server.Scheduler, the same scheduler Admission enqueues into,
// with a plain SubOp that has no entrypoint) per SPEC_FULL.md §12: a withdrawal is a bulk-eligible
// transfer to an implicit account like any other batched operation.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}

	vault, err := s.Ledger.GetVault(r.Context(), req.VaultID)
	if err != nil {
		writeError(w, err)
		return
	}
	if vault.Amount < req.Amount {
		writeError(w, apperr.NotEnoughFunds("vault balance insufficient for withdraw"))
		return
	}

	sponsor, err := s.Ledger.GetSponsor(r.Context(), vault.OwnerSponsorID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.WithdrawCounter != sponsor.WithdrawCounter+1 {
		writeError(w, apperr.BadWithdrawCounter())
		return
	}

	if err := s.Verifier.Verify(r.Context(), req.VaultID, req.WithdrawCounter, req.Amount, sponsor.ChainAddress, req.Signature); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidSignature, "withdraw signature verification failed"))
		return
	}

	destAddr, err := tezos.ParseAddress(sponsor.ChainAddress)
	if err != nil {
		writeError(w, apperr.InvalidAddress(sponsor.ChainAddress))
		return
	}

	res, err := s.Scheduler.Enqueue(r.Context(), sponsor.ChainAddress, []oracle.SubOp{
		{Destination: destAddr, Params: micheline.Parameters{}, Amount: req.Amount},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.Ledger.DebitVault(r.Context(), vault.ID, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Ledger.UpdateWithdrawCounter(r.Context(), sponsor.ID, req.WithdrawCounter); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{TxHash: res.Hash.String(), Counter: req.WithdrawCounter})
}
