package httpapi

import (
	"net/http"

	"blockwatch.cc/tzgo/micheline"
	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/admission"
	"github.com/marigold-dev/gas-station/internal/apperr"
)

type callInput struct {
	Destination string         `json:"destination"`
	Entrypoint  string         `json:"entrypoint"`
	Value       micheline.Prim `json:"value"`
}

type operationRequest struct {
	SenderAddress string      `json:"senderAddress"`
	Operations    []callInput `json:"operations"`
}

type signedOperationRequest struct {
	operationRequest
	SenderKey     string `json:"senderKey"`
	Signature     string `json:"signature"`
	MichelineType string `json:"michelineType"`
}

type operationOutcome struct {
	Result string `json:"result"`
	TxHash string `json:"txHash"`
}

func toCallRequests(calls []callInput) []admission.CallRequest {
	out := make([]admission.CallRequest, len(calls))
	for i, c := range calls {
		out[i] = admission.CallRequest{Destination: c.Destination, Entrypoint: c.Entrypoint, Value: c.Value}
	}
	return out
}

// handleOperation is POST /operation: the unsigned admission path.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}
	s.submit(w, r, req.SenderAddress, toCallRequests(req.Operations))
}

// handleSignedOperation is POST /signed_operation: verifies signature over
// the Micheline-encoded call parameters against the declared sender's
// public key before dispatching into the same pipeline as handleOperation,
// per spec.md §4.6's "signed variant".
func (s *Server) handleSignedOperation(w http.ResponseWriter, r *http.Request) {
	var req signedOperationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidAddress, "malformed request body"))
		return
	}

	key, err := tezos.ParseKey(req.SenderKey)
	if err != nil {
		writeError(w, apperr.InvalidAddress(req.SenderKey))
		return
	}
	sig, err := tezos.ParseSignature(req.Signature)
	if err != nil {
		writeError(w, apperr.New(apperr.KindInvalidSignature, "malformed signature"))
		return
	}
	digest := tezos.Digest(encodeCallsForSigning(req.Operations))
	if err := key.Verify(digest[:], sig); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidSignature, "signature does not match sender key"))
		return
	}

	s.submit(w, r, req.SenderAddress, toCallRequests(req.Operations))
}

// encodeCallsForSigning concatenates, in request order, each call's
// entrypoint name bytes followed by the binary encoding of its Micheline
// value. A value that fails to encode contributes no bytes.
func encodeCallsForSigning(calls []callInput) []byte {
	var buf []byte
	for _, c := range calls {
		buf = append(buf, []byte(c.Entrypoint)...)
		if raw, err := c.Value.MarshalBinary(); err == nil {
			buf = append(buf, raw...)
		}
	}
	return buf
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, sender string, calls []admission.CallRequest) {
	if len(calls) == 0 {
		writeError(w, apperr.EmptyOperationList())
		return
	}
	outcomes, err := s.Admission.Submit(r.Context(), sender, calls)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, operationOutcome{Result: "ok", TxHash: outcomes[0].TxHash.String()})
}
