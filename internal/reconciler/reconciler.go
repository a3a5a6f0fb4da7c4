// Package reconciler is the Fee Reconciler (C5): a background task spawned
// once per submitted batch that waits for it to land, extracts the
// relayer's own balance-updates, groups them by destination contract, and
// debits each contract's vault at most once. Grounded on
// original_source/src/tezos_manager.py's update_fees/find_fees/group_fees.
package reconciler

import (
	"context"
	"time"

	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/obslog"
	"github.com/marigold-dev/gas-station/internal/oracle"
)

// Reconciler ties a Chain Oracle to the Ledger it debits.
type Reconciler struct {
	chain  oracle.Chain
	ledger ledger.Ledger
	tries  int
}

// New builds a Reconciler. tries bounds the number of findOperation polls
// (§4.5 step 1, K ≈ 4) before abandoning a tx with a log line.
func New(chain oracle.Chain, l ledger.Ledger, tries int) *Reconciler {
	if tries <= 0 {
		tries = 4
	}
	return &Reconciler{chain: chain, ledger: l, tries: tries}
}

// Reconcile is the ReconcileFunc the Scheduler spawns (without awaiting)
// once per successful submit. It is safe to run in its own goroutine: it
// opens no shared state beyond the Chain and Ledger it was built with.
func (r *Reconciler) Reconcile(tx oracle.PostedTx, submitted []oracle.SubOp) {
	ctx := context.Background()
	landed, ok := r.waitForLanding(ctx, tx.Hash)
	if !ok {
		abandonedTotal.Inc()
		obslog.Reconciler.Warnf("tx %s never landed after %d tries, abandoning reconciliation", tx.Hash, r.tries)
		return
	}

	fees := groupByDestination(landed.Fees)
	for dest, fee := range fees {
		if dest.IsEOA() {
			// a withdrawal, not a sponsored call — §4.5 step 4 skips these.
			continue
		}
		if err := r.debit(ctx, tx.Hash, dest, fee); err != nil {
			obslog.Reconciler.Errorf("debit vault for %s failed: %v", dest, err)
		}
	}
}

func (r *Reconciler) waitForLanding(ctx context.Context, hash tezos.OpHash) (oracle.LandedOp, bool) {
	delay := r.chain.BlockDelay()
	for i := 0; i < r.tries; i++ {
		landed, found, err := r.chain.FindOperation(ctx, hash)
		if err == nil && found {
			return landed, true
		}
		if i < r.tries-1 {
			time.Sleep(delay)
		}
	}
	return oracle.LandedOp{}, false
}

func groupByDestination(fees []oracle.LandedFee) map[tezos.Address]int64 {
	out := make(map[tezos.Address]int64, len(fees))
	for _, f := range fees {
		out[f.Destination] += f.Amount
	}
	return out
}

func (r *Reconciler) debit(ctx context.Context, hash tezos.OpHash, dest tezos.Address, fee int64) error {
	vault, err := r.ledger.GetVaultByContract(ctx, dest.String())
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			obslog.Reconciler.Warnf("no vault for destination %s, skipping debit", dest)
			return nil
		}
		return err
	}
	if _, err := r.ledger.DebitVault(ctx, vault.ID, fee); err != nil {
		return err
	}
	if err := r.ledger.SetOperationCost(ctx, hash.String(), dest.String(), fee); err != nil {
		return err
	}
	debitsTotal.Inc()
	debitFeeTotal.Add(float64(fee))
	obslog.Reconciler.Infof("debited vault %s by %d for tx %s", vault.ID, fee, hash)
	return nil
}
