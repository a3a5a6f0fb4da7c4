// Package ledger defines the Credit Ledger (C1): the persistent mapping of
// sponsors to credit vaults and contracts, the per-contract/per-sponsee
// condition counters, and the audit trail of submitted operations. The
// relational schema itself is an external collaborator (out of scope per
// the purpose & scope section); this package specifies and exercises the
// Ledger interface that every other core component depends on.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OperationStatus is the closed enumeration of an Operation row's lifecycle.
// There is no "waiting" status: a sender still waiting is only a pending
// slot inside the Scheduler, and is never persisted.
type OperationStatus string

const (
	StatusOK      OperationStatus = "ok"
	StatusFailing OperationStatus = "failing"
)

// ConditionKind discriminates the two Condition variants.
type ConditionKind string

const (
	MaxCallsPerEntrypoint ConditionKind = "MAX_CALLS_PER_ENTRYPOINT"
	MaxCallsPerSponsee    ConditionKind = "MAX_CALLS_PER_SPONSEE"
)

// Sponsor owns credit vaults and contracts. Lifecycle: created once,
// never deleted.
type Sponsor struct {
	ID              uuid.UUID
	Name            string
	ChainAddress    string
	WithdrawCounter int
}

// Vault is a prepaid credit balance. Amount must never go negative after a
// commit; DebitVault enforces that by refusing, with NotEnoughFunds, any
// debit larger than the current Amount.
type Vault struct {
	ID            uuid.UUID
	OwnerSponsorID uuid.UUID
	Amount        int64
}

// Contract binds an on-chain target to exactly one vault.
// MaxCallsPerMonth of -1 means unlimited.
type Contract struct {
	ID               uuid.UUID
	Address          string
	OwnerSponsorID   uuid.UUID
	VaultID          uuid.UUID
	Name             string
	MaxCallsPerMonth int
}

// Entrypoint is a named method of a Contract, unique per (ContractID, Name).
type Entrypoint struct {
	ID         uuid.UUID
	ContractID uuid.UUID
	Name       string
	IsEnabled  bool
}

// Operation is the audit record of one admitted sub-operation.
type Operation struct {
	ID            uuid.UUID
	SenderAddress string
	ContractID    uuid.UUID
	EntrypointID  uuid.UUID
	TxHash        string
	Status        OperationStatus
	Cost          *int64
	CreatedAt     time.Time
}

// Condition is the tagged-variant policy row. Scope fields are non-nil iff
// the Kind requires them: MaxCallsPerEntrypoint needs ContractID+EntrypointID,
// MaxCallsPerSponsee needs ContractID+SponseeAddress.
type Condition struct {
	ID           uuid.UUID
	Kind         ConditionKind
	VaultID      uuid.UUID
	Max          int
	Current      int
	CreatedAt    time.Time
	IsActive     bool
	ContractID   *uuid.UUID
	EntrypointID *uuid.UUID
	SponseeAddr  *string
}

// Satisfied reports whether the condition still admits another call.
func (c Condition) Satisfied() bool { return c.Current < c.Max }

// NewContract is the input to RegisterContract.
type NewContract struct {
	Address          string
	OwnerSponsorID   uuid.UUID
	VaultID          uuid.UUID
	Name             string
	MaxCallsPerMonth int
	Entrypoints      []NewEntrypoint
}

// NewEntrypoint is the input entrypoint row bundled with NewContract.
type NewEntrypoint struct {
	Name      string
	IsEnabled bool
}

// EntrypointUpdate is one row of a PUT /entrypoints request.
type EntrypointUpdate struct {
	ID        uuid.UUID
	IsEnabled bool
}

// NewOperation is the input to AdmitOperation.
type NewOperation struct {
	SenderAddress string
	ContractID    uuid.UUID
	EntrypointID  uuid.UUID
	TxHash        string
	Status        OperationStatus
}

// NewCondition is the input to CreateCondition.
type NewCondition struct {
	Kind         ConditionKind
	VaultID      uuid.UUID
	Max          int
	ContractID   *uuid.UUID
	EntrypointID *uuid.UUID
	SponseeAddr  *string
}

// Ledger is the full Credit Ledger contract (C1). All mutating methods must
// be serialisable: a concurrent admission reading Amount while the
// Reconciler debits must see either the pre- or the post-debit value, never
// a torn read.
type Ledger interface {
	RegisterSponsor(ctx context.Context, name, chainAddress string) (Sponsor, Vault, error)
	GetSponsor(ctx context.Context, id uuid.UUID) (Sponsor, error)
	GetSponsorByAddress(ctx context.Context, address string) (Sponsor, error)
	UpdateWithdrawCounter(ctx context.Context, sponsorID uuid.UUID, counter int) error

	RegisterContract(ctx context.Context, c NewContract) (Contract, error)
	GetContract(ctx context.Context, id uuid.UUID) (Contract, error)
	GetContractByAddress(ctx context.Context, address string) (Contract, error)
	ListContractsBySponsor(ctx context.Context, sponsorID uuid.UUID) ([]Contract, error)
	ListContractsByVault(ctx context.Context, vaultID uuid.UUID) ([]Contract, error)
	UpdateMaxCallsPerMonth(ctx context.Context, contractID uuid.UUID, max int) (Contract, error)

	ListEntrypoints(ctx context.Context, contractID uuid.UUID) ([]Entrypoint, error)
	GetEntrypoint(ctx context.Context, contractID uuid.UUID, name string) (Entrypoint, error)
	UpdateEntrypoints(ctx context.Context, updates []EntrypointUpdate) ([]Entrypoint, error)

	GetVault(ctx context.Context, id uuid.UUID) (Vault, error)
	GetVaultByContract(ctx context.Context, contractAddress string) (Vault, error)
	CreditVault(ctx context.Context, id uuid.UUID, delta int64) (Vault, error)
	DebitVault(ctx context.Context, id uuid.UUID, delta int64) (Vault, error)

	CountOperationsThisMonth(ctx context.Context, contractID uuid.UUID) (int, error)
	CountOperationsBySenderSince(ctx context.Context, contractID uuid.UUID, sender string, since time.Time) (int, error)
	SetOperationCost(ctx context.Context, txHash string, destination string, cost int64) error

	CreateCondition(ctx context.Context, c NewCondition) (Condition, error)
	ListConditions(ctx context.Context, vaultID uuid.UUID) ([]Condition, error)
	GetActiveMaxCallsPerEntrypoint(ctx context.Context, contractID, entrypointID, vaultID uuid.UUID) (*Condition, error)
	GetActiveMaxCallsPerSponsee(ctx context.Context, contractID, vaultID uuid.UUID) (*Condition, error)

	// AdmitOperation records one Operation row and, in the same
	// transaction, increments every condition in matchedConditions. Per
	// §4.2, policy reads and counter increments must be coupled so that
	// two concurrent admissions can never both observe current = max-1.
	AdmitOperation(ctx context.Context, op NewOperation, matchedConditions []uuid.UUID) (Operation, error)
}
