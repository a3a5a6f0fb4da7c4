// Package httpapi is the thin HTTP edge in front of the Admission API (C6):
// it decodes/encodes JSON, maps the closed apperr taxonomy onto the §7
// status codes, and otherwise defers every decision to the core packages.
// Routed with github.com/go-chi/chi/v5, the router the pack's
// r3e-network-service_layer manifest wires for the same purpose.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marigold-dev/gas-station/internal/admission"
	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/obslog"
	"github.com/marigold-dev/gas-station/internal/oracle"
	"github.com/marigold-dev/gas-station/internal/scheduler"
)

// Server bundles every collaborator the HTTP edge calls into. It holds no
// state of its own beyond the dependencies themselves. Scheduler is held
// directly (rather than only through Admission) because the withdraw flow
// enqueues a plain transfer that bypasses Policy/Oracle simulation-fee
// checks the normal /operation path runs.
type Server struct {
	Ledger    ledger.Ledger
	Chain     oracle.Chain
	Admission *admission.Admission
	Scheduler *scheduler.Scheduler
	Verifier  WithdrawVerifier
}

// Router builds the chi.Router described by spec.md §6.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/sponsors", s.handleCreateSponsor)
	r.Post("/contracts", s.handleCreateContract)
	r.Put("/entrypoints", s.handleUpdateEntrypoints)
	r.Put("/deposit", s.handleDeposit)
	r.Put("/withdraw", s.handleWithdraw)
	r.Post("/operation", s.handleOperation)
	r.Post("/signed_operation", s.handleSignedOperation)
	r.Post("/condition", s.handleCreateCondition)
	r.Put("/contract/{id}/condition/max_calls", s.handleSetMaxCalls)
	r.Get("/condition/{vaultId}", s.handleListConditions)
	r.Get("/contracts/{id}", s.handleGetContract)
	r.Get("/contracts/by_address/{address}", s.handleGetContractByAddress)
	r.Get("/contracts/by_sponsor/{sponsorId}", s.handleListContractsBySponsor)
	r.Get("/entrypoints/{contractId}", s.handleListEntrypoints)
	r.Get("/credits/{vaultId}", s.handleGetVault)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger is the teacher's own style of logging: one line per request
// through the HTTP subsystem's logger, matching cmd/tzcompose's use of
// per-component echa/log loggers rather than a generic access-log library.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		obslog.HTTP.Infof("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
