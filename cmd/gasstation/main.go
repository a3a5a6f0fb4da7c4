// Package main wires the gas station relayer daemon: it loads config,
// builds the Chain Oracle, Ledger, Batch Scheduler, Fee Reconciler and
// Admission API, then serves the HTTP edge until an interrupt signal,
// mirroring cmd/tzcompose/main.go's signal.NotifyContext shutdown style.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"blockwatch.cc/tzgo/rpc"
	"blockwatch.cc/tzgo/signer"
	"blockwatch.cc/tzgo/signer/remote"
	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/admission"
	"github.com/marigold-dev/gas-station/internal/config"
	"github.com/marigold-dev/gas-station/internal/httpapi"
	"github.com/marigold-dev/gas-station/internal/ledger/postgres"
	"github.com/marigold-dev/gas-station/internal/obslog"
	"github.com/marigold-dev/gas-station/internal/oracle"
	"github.com/marigold-dev/gas-station/internal/reconciler"
	"github.com/marigold-dev/gas-station/internal/scheduler"
)

// blockDelay and lookback are read once at startup, per §4.3's "read once"
// design note; a mainnet/ghostnet 15s block time and a two-hour lookback
// window are conservative defaults for findOperation's block walk.
const (
	blockDelay = 15 * time.Second
	lookback   = int64(480)
)

func main() {
	if err := run(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obslog.SetLevel(obslog.ParseLevel(cfg.LogLevel))

	store, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}

	chain, err := buildChain(cfg)
	if err != nil {
		return fmt.Errorf("build chain oracle: %w", err)
	}

	recon := reconciler.New(chain, store, cfg.ReconcilerTries)
	sched := scheduler.New(chain, recon.Reconcile)
	adm := admission.New(store, chain, sched)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go sched.Run(ctx, blockDelay)
	defer sched.Shutdown()

	server := &httpapi.Server{
		Ledger:    store,
		Chain:     chain,
		Admission: adm,
		Scheduler: sched,
		Verifier:  httpapi.DenyAllVerifier{},
	}

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	errCh := make(chan error, 1)
	go func() {
		obslog.HTTP.Infof("listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildChain resolves the relayer's signer from config and wires an
// RPCChain against the configured node, grounded on rpc/run.go's client
// construction. Two signer backends are supported, matching what the
// teacher's own signer package offers: an in-process key
// (signer.NewFromKey) or a remote signer daemon (signer/remote), selected
// by whether REMOTE_SIGNER_URL is configured.
func buildChain(cfg config.Config) (*oracle.RPCChain, error) {
	client, err := rpc.NewClient(cfg.RPCEndpoint, nil)
	if err != nil {
		return nil, err
	}

	if cfg.RemoteSignerURL != "" {
		relayer, err := tezos.ParseAddress(cfg.RelayerAddress)
		if err != nil {
			return nil, fmt.Errorf("parse RELAYER_ADDRESS: %w", err)
		}
		sgnr, err := remote.New(cfg.RemoteSignerURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial remote signer: %w", err)
		}
		sgnr.WithAddress(relayer)
		return oracle.NewRPCChain(client, sgnr, relayer, blockDelay, lookback), nil
	}

	key, err := tezos.ParsePrivateKey(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("parse SECRET_KEY: %w", err)
	}
	sgnr := signer.NewFromKey(key)
	relayer := key.Address()
	return oracle.NewRPCChain(client, sgnr, relayer, blockDelay, lookback), nil
}
