package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/marigold-dev/gas-station/internal/apperr"
)

// writeError maps an apperr.Kind onto the §7 status code table and writes
// a JSON error body. Unrecognized errors are treated as KindInternal.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAlreadyRegistered, apperr.KindConditionAlreadyExists,
		apperr.KindEntrypointDisabled, apperr.KindNotEnoughFunds,
		apperr.KindTooManyCallsThisMonth, apperr.KindConditionExceeded:
		status = http.StatusForbidden
	case apperr.KindInvalidAddress, apperr.KindEmptyOperationList,
		apperr.KindInvalidSignature, apperr.KindBadWithdrawCounter,
		apperr.KindSimulationFailed:
		status = http.StatusBadRequest
	case apperr.KindBatchConflict:
		status = http.StatusConflict
	case apperr.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
