package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marigold-dev/gas-station/internal/admission"
	"github.com/marigold-dev/gas-station/internal/httpapi"
	"github.com/marigold-dev/gas-station/internal/ledger/memory"
	"github.com/marigold-dev/gas-station/internal/oracle"
	"github.com/marigold-dev/gas-station/internal/scheduler"
)

const contractAddr = "KT1BEqzn5Wx8uJrZNvuS9DVHmLvG9td3fDLi"

// newTestServer wires a full in-memory stack the same way cmd/gasstation
// wires the real one, minus Postgres/RPC, so the router can be exercised
// with net/http/httptest end to end.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	l := memory.New()
	fake := oracle.NewFake()
	sched := scheduler.New(fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx, 10*time.Millisecond)

	srv := &httpapi.Server{
		Ledger:    l,
		Chain:     fake,
		Admission: admission.New(l, fake, sched),
		Scheduler: sched,
		Verifier:  httpapi.DenyAllVerifier{},
	}
	return srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// A sponsor, a contract on top of it, and an unsigned /operation call all
// the way through Admission and the Scheduler, end to end via the router.
func TestSponsorContractAndOperationFlow(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/sponsors", map[string]string{
		"name": "acme", "chainAddress": "tz1KqTpEZ7Yob7QbPE4Hy4Wo8fHG8LhKxZSx",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var sponsor struct {
		ID      string `json:"id"`
		VaultID string `json:"vaultId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sponsor))

	rec = doJSON(t, h, http.MethodPost, "/contracts", map[string]any{
		"address": contractAddr,
		"ownerId": sponsor.ID,
		"vaultId": sponsor.VaultID,
		"name":    "token",
		"entrypoints": []map[string]any{
			{"name": "transfer", "isEnabled": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPut, "/deposit", map[string]any{
		"vaultId":       sponsor.VaultID,
		"amount":        100_000,
		"operationHash": "oogC8ju9tMDqeB6RiAXdch3hnt8u3Pbf2ZXyyhAmJAhjQ4q1wUS",
		"ownerId":       sponsor.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/operation", map[string]any{
		"senderAddress": "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU",
		"operations": []map[string]any{
			{"destination": contractAddr, "entrypoint": "transfer", "value": map[string]any{"prim": "Unit"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome struct {
		Result string `json:"result"`
		TxHash string `json:"txHash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.Equal(t, "ok", outcome.Result)
	require.NotEmpty(t, outcome.TxHash)
}

func TestGetContractNotFoundMapsTo404(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/contracts/not-a-uuid", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmptyOperationListMapsTo400(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/operation", map[string]any{
		"senderAddress": "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU",
		"operations":    []map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
