// Package policy is the Policy Engine (C2): stateless predicates over the
// Ledger and its Condition store. Nothing here mutates state — Evaluate only
// decides; AdmitOperation (on the Ledger) is the only place a condition
// counter moves, kept in the same transaction as the Operation insert per
// §4.2's coupling rule.
package policy

import (
	"context"

	"github.com/google/uuid"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
)

// Decision is the result of the pre-simulation checks (§4.2 steps 1-4): the
// set of active condition ids the call matched, to be incremented by
// AdmitOperation if the call is ultimately admitted.
type Decision struct {
	MatchedConditions []uuid.UUID
}

// Evaluate runs checks 1-4 in order, first failure wins. Step 5 (credit
// sufficiency against a simulated fee) happens after simulation and is
// implemented separately as CheckCreditSufficiency, since it needs a fee
// the Oracle has not produced yet at this point in the pipeline.
func Evaluate(ctx context.Context, l ledger.Ledger, sender string, contract ledger.Contract, entrypoint ledger.Entrypoint, vault ledger.Vault) (Decision, error) {
	// 1. entrypoint enabled
	if !entrypoint.IsEnabled {
		return Decision{}, apperr.EntrypointDisabled(entrypoint.Name)
	}

	// 2. monthly cap (skip when unlimited)
	if contract.MaxCallsPerMonth != -1 {
		count, err := l.CountOperationsThisMonth(ctx, contract.ID)
		if err != nil {
			return Decision{}, err
		}
		if count >= contract.MaxCallsPerMonth {
			return Decision{}, apperr.TooManyCallsThisMonth()
		}
	}

	var matched []uuid.UUID

	// 3. active MaxCallsPerEntrypoint condition
	epCond, err := l.GetActiveMaxCallsPerEntrypoint(ctx, contract.ID, entrypoint.ID, vault.ID)
	if err != nil {
		return Decision{}, err
	}
	if epCond != nil {
		if !epCond.Satisfied() {
			return Decision{}, apperr.ConditionExceeded("max calls per entrypoint reached")
		}
		matched = append(matched, epCond.ID)
	}

	// 4. active MaxCallsPerSponsee condition
	sponseeCond, err := l.GetActiveMaxCallsPerSponsee(ctx, contract.ID, vault.ID)
	if err != nil {
		return Decision{}, err
	}
	if sponseeCond != nil {
		since := sponseeCond.CreatedAt
		n, err := l.CountOperationsBySenderSince(ctx, contract.ID, sender, since)
		if err != nil {
			return Decision{}, err
		}
		if n >= sponseeCond.Max {
			return Decision{}, apperr.ConditionExceeded("max calls per sponsee reached")
		}
		matched = append(matched, sponseeCond.ID)
	}

	return Decision{MatchedConditions: matched}, nil
}

// CheckCreditSufficiency is step 5: after simulation, every destination's
// vault must be able to cover its simulated fee.
func CheckCreditSufficiency(vault ledger.Vault, simulatedFee int64) error {
	if vault.Amount < simulatedFee {
		return apperr.NotEnoughFunds("vault balance below estimated fee")
	}
	return nil
}

// RecheckMonthlyCap re-applies check 2 after simulation, just before the
// call is enqueued (§9 open question (c) names "before" as authoritative;
// this recheck does not change which side of simulation the cap is
// evaluated on). It sees only operations already recorded, and admission
// records a call after its batch lands, so two admissions that both
// recheck before either is recorded are both admitted.
func RecheckMonthlyCap(ctx context.Context, l ledger.Ledger, contract ledger.Contract) error {
	if contract.MaxCallsPerMonth == -1 {
		return nil
	}
	count, err := l.CountOperationsThisMonth(ctx, contract.ID)
	if err != nil {
		return err
	}
	if count >= contract.MaxCallsPerMonth {
		return apperr.TooManyCallsThisMonth()
	}
	return nil
}
