package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
)

type createConditionRequest struct {
	Type         ledger.ConditionKind `json:"type"`
	ContractID   *uuid.UUID           `json:"contractId,omitempty"`
	EntrypointID *uuid.UUID           `json:"entrypointId,omitempty"`
	VaultID      uuid.UUID            `json:"vaultId"`
	Max          int                  `json:"max"`
}

type conditionResponse struct {
	ID           uuid.UUID            `json:"id"`
	Kind         ledger.ConditionKind `json:"type"`
	VaultID      uuid.UUID            `json:"vaultId"`
	Max          int                  `json:"max"`
	Current      int                  `json:"current"`
	IsActive     bool                 `json:"isActive"`
	ContractID   *uuid.UUID           `json:"contractId,omitempty"`
	EntrypointID *uuid.UUID           `json:"entrypointId,omitempty"`
	SponseeAddr  *string              `json:"sponseeAddress,omitempty"`
}

func toConditionResponse(c ledger.Condition) conditionResponse {
	return conditionResponse{
		ID: c.ID, Kind: c.Kind, VaultID: c.VaultID, Max: c.Max, Current: c.Current,
		IsActive: c.IsActive, ContractID: c.ContractID, EntrypointID: c.EntrypointID, SponseeAddr: c.SponseeAddr,
	}
}

func (s *Server) handleCreateCondition(w http.ResponseWriter, r *http.Request) {
	var req createConditionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}
	condition, err := s.Ledger.CreateCondition(r.Context(), ledger.NewCondition{
		Kind: req.Type, VaultID: req.VaultID, Max: req.Max,
		ContractID: req.ContractID, EntrypointID: req.EntrypointID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConditionResponse(condition))
}

func (s *Server) handleListConditions(w http.ResponseWriter, r *http.Request) {
	vaultID, err := uuid.Parse(chi.URLParam(r, "vaultId"))
	if err != nil {
		writeError(w, apperr.NotFound("vault"))
		return
	}
	conditions, err := s.Ledger.ListConditions(r.Context(), vaultID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]conditionResponse, len(conditions))
	for i, c := range conditions {
		out[i] = toConditionResponse(c)
	}
	writeJSON(w, http.StatusOK, out)
}
