// Package admission is the Admission API (C6): the request-level glue that
// validates shape, resolves contract/entrypoint, runs the Policy Engine and
// Chain Oracle, then enqueues with the Scheduler and blocks for the result.
// Grounded on original_source/src/routes.py's create_operation handler.
package admission

import (
	"context"

	"github.com/google/uuid"

	"blockwatch.cc/tzgo/micheline"
	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/obslog"
	"github.com/marigold-dev/gas-station/internal/oracle"
	"github.com/marigold-dev/gas-station/internal/policy"
	"github.com/marigold-dev/gas-station/internal/scheduler"
)

// CallRequest is one sub-operation in an incoming batch request.
type CallRequest struct {
	Destination string
	Entrypoint  string
	Value       micheline.Prim
}

// Outcome is the admission pipeline's result for one call.
type Outcome struct {
	TxHash tezos.OpHash
	Status ledger.OperationStatus
}

// enqueuer is the subset of *scheduler.Scheduler admission calls. New only
// accepts a *scheduler.Scheduler, so tests run a real coordinator.
type enqueuer interface {
	Enqueue(ctx context.Context, sender string, ops []oracle.SubOp) (scheduler.Result, error)
}

// Admission wires the Ledger, Policy Engine, Chain Oracle and Scheduler
// into the pipeline described in §4.6.
type Admission struct {
	ledger ledger.Ledger
	chain  oracle.Chain
	sched  enqueuer
}

// New builds an Admission pipeline.
func New(l ledger.Ledger, chain oracle.Chain, sched *scheduler.Scheduler) *Admission {
	return &Admission{ledger: l, chain: chain, sched: sched}
}

// Submit runs the full §4.6 pipeline for a batch of sub-operations from one
// sender. It either returns one Outcome per call (all sharing the same
// txHash, since they land in the same batch) or an error from the closed
// taxonomy.
func (a *Admission) Submit(ctx context.Context, sender string, calls []CallRequest) ([]Outcome, error) {
	if len(calls) == 0 {
		return nil, apperr.EmptyOperationList()
	}

	type resolved struct {
		call       CallRequest
		contract   ledger.Contract
		entrypoint ledger.Entrypoint
		vault      ledger.Vault
		decision   policy.Decision
	}

	resolvedCalls := make([]resolved, 0, len(calls))
	for _, call := range calls {
		destAddr, err := tezos.ParseAddress(call.Destination)
		if err != nil || !destAddr.IsContract() {
			return nil, apperr.InvalidAddress(call.Destination)
		}

		contract, err := a.ledger.GetContractByAddress(ctx, call.Destination)
		if err != nil {
			return nil, err
		}
		entrypoint, err := a.ledger.GetEntrypoint(ctx, contract.ID, call.Entrypoint)
		if err != nil {
			return nil, err
		}
		vault, err := a.ledger.GetVault(ctx, contract.VaultID)
		if err != nil {
			return nil, err
		}

		decision, err := policy.Evaluate(ctx, a.ledger, sender, contract, entrypoint, vault)
		if err != nil {
			return nil, err
		}

		resolvedCalls = append(resolvedCalls, resolved{call: call, contract: contract, entrypoint: entrypoint, vault: vault, decision: decision})
	}

	senderAddr, err := tezos.ParseAddress(sender)
	if err != nil {
		return nil, apperr.InvalidAddress(sender)
	}

	subOps := make([]oracle.SubOp, len(resolvedCalls))
	for i, rc := range resolvedCalls {
		destAddr, _ := tezos.ParseAddress(rc.call.Destination)
		subOps[i] = oracle.SubOp{
			Sender:      senderAddr,
			Destination: destAddr,
			Params:      micheline.Parameters{Entrypoint: rc.call.Entrypoint, Value: rc.call.Value},
		}
	}

	batch, err := a.chain.Simulate(ctx, subOps)
	if err != nil {
		return nil, err
	}

	var matchedConditions [][]uuid.UUID
	for i, rc := range resolvedCalls {
		fee, _ := batch.FeeFor(subOps[i].Destination)
		if err := policy.CheckCreditSufficiency(rc.vault, fee); err != nil {
			return nil, err
		}
		if err := policy.RecheckMonthlyCap(ctx, a.ledger, rc.contract); err != nil {
			return nil, err
		}
		matchedConditions = append(matchedConditions, rc.decision.MatchedConditions)
	}

	// One Enqueue call for the whole sender: §3's pending map holds a
	// simulatedBatch per sender, not one entry per call, so every call in
	// this request shares a slot and lands — or is evicted — together.
	res, enqueueErr := a.sched.Enqueue(ctx, sender, subOps)
	status := ledger.StatusOK
	if enqueueErr != nil {
		status = ledger.StatusFailing
	}

	results := make([]Outcome, len(resolvedCalls))
	for i, rc := range resolvedCalls {
		// Conditions only move when the call actually lands — a batch
		// eviction is a reject as far as §4.2's counter-coupling rule is
		// concerned, even though Policy itself accepted the call earlier.
		conditions := matchedConditions[i]
		if status != ledger.StatusOK {
			conditions = nil
		}
		if _, recErr := a.ledger.AdmitOperation(ctx, ledger.NewOperation{
			SenderAddress: sender,
			ContractID:    rc.contract.ID,
			EntrypointID:  rc.entrypoint.ID,
			TxHash:        res.Hash.String(),
			Status:        status,
		}, conditions); recErr != nil {
			obslog.Admission.Errorf("record operation failed: %v", recErr)
		}
		results[i] = Outcome{TxHash: res.Hash, Status: status}
	}

	if enqueueErr != nil {
		return nil, enqueueErr
	}
	return results, nil
}
