// Package memory is an in-memory Ledger used by tests and by the fake
// end-to-end harness for the Scheduler and Admission pipeline. It mirrors
// the concurrency contract of internal/ledger/postgres (every mutation
// under a single mutex) without needing a real database, the same role
// rpc.Client's test doubles play for tzgo's own RPC-dependent packages.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
)

// Ledger is a mutex-guarded in-memory implementation of ledger.Ledger.
type Ledger struct {
	mu sync.Mutex

	sponsors    map[uuid.UUID]ledger.Sponsor
	vaults      map[uuid.UUID]ledger.Vault
	contracts   map[uuid.UUID]ledger.Contract
	entrypoints map[uuid.UUID]ledger.Entrypoint
	conditions  map[uuid.UUID]ledger.Condition
	operations  []ledger.Operation
}

// New returns an empty in-memory Ledger.
func New() *Ledger {
	return &Ledger{
		sponsors:    make(map[uuid.UUID]ledger.Sponsor),
		vaults:      make(map[uuid.UUID]ledger.Vault),
		contracts:   make(map[uuid.UUID]ledger.Contract),
		entrypoints: make(map[uuid.UUID]ledger.Entrypoint),
		conditions:  make(map[uuid.UUID]ledger.Condition),
	}
}

func (l *Ledger) RegisterSponsor(ctx context.Context, name, chainAddress string) (ledger.Sponsor, ledger.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.sponsors {
		if s.ChainAddress == chainAddress {
			return ledger.Sponsor{}, ledger.Vault{}, apperr.AlreadyRegistered("sponsor")
		}
	}

	sp := ledger.Sponsor{ID: uuid.New(), Name: name, ChainAddress: chainAddress}
	v := ledger.Vault{ID: uuid.New(), OwnerSponsorID: sp.ID, Amount: 0}
	l.sponsors[sp.ID] = sp
	l.vaults[v.ID] = v
	return sp, v, nil
}

func (l *Ledger) GetSponsor(ctx context.Context, id uuid.UUID) (ledger.Sponsor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sponsors[id]
	if !ok {
		return ledger.Sponsor{}, apperr.NotFound("sponsor")
	}
	return s, nil
}

func (l *Ledger) GetSponsorByAddress(ctx context.Context, address string) (ledger.Sponsor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.sponsors {
		if s.ChainAddress == address {
			return s, nil
		}
	}
	return ledger.Sponsor{}, apperr.NotFound("sponsor")
}

func (l *Ledger) UpdateWithdrawCounter(ctx context.Context, sponsorID uuid.UUID, counter int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sponsors[sponsorID]
	if !ok {
		return apperr.NotFound("sponsor")
	}
	if counter <= s.WithdrawCounter {
		return apperr.BadWithdrawCounter()
	}
	s.WithdrawCounter = counter
	l.sponsors[sponsorID] = s
	return nil
}

func (l *Ledger) RegisterContract(ctx context.Context, c ledger.NewContract) (ledger.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.contracts {
		if existing.Address == c.Address {
			return ledger.Contract{}, apperr.AlreadyRegistered("contract")
		}
	}
	if _, ok := l.vaults[c.VaultID]; !ok {
		return ledger.Contract{}, apperr.NotFound("vault")
	}

	row := ledger.Contract{
		ID:               uuid.New(),
		Address:          c.Address,
		OwnerSponsorID:   c.OwnerSponsorID,
		VaultID:          c.VaultID,
		Name:             c.Name,
		MaxCallsPerMonth: c.MaxCallsPerMonth,
	}
	l.contracts[row.ID] = row
	for _, ep := range c.Entrypoints {
		epRow := ledger.Entrypoint{ID: uuid.New(), ContractID: row.ID, Name: ep.Name, IsEnabled: ep.IsEnabled}
		l.entrypoints[epRow.ID] = epRow
	}
	return row, nil
}

func (l *Ledger) GetContract(ctx context.Context, id uuid.UUID) (ledger.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[id]
	if !ok {
		return ledger.Contract{}, apperr.NotFound("contract")
	}
	return c, nil
}

func (l *Ledger) GetContractByAddress(ctx context.Context, address string) (ledger.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.contracts {
		if c.Address == address {
			return c, nil
		}
	}
	return ledger.Contract{}, apperr.NotFound("contract")
}

func (l *Ledger) ListContractsBySponsor(ctx context.Context, sponsorID uuid.UUID) ([]ledger.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Contract
	for _, c := range l.contracts {
		if c.OwnerSponsorID == sponsorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l *Ledger) ListContractsByVault(ctx context.Context, vaultID uuid.UUID) ([]ledger.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Contract
	for _, c := range l.contracts {
		if c.VaultID == vaultID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l *Ledger) UpdateMaxCallsPerMonth(ctx context.Context, contractID uuid.UUID, max int) (ledger.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contractID]
	if !ok {
		return ledger.Contract{}, apperr.NotFound("contract")
	}
	c.MaxCallsPerMonth = max
	l.contracts[contractID] = c
	return c, nil
}

func (l *Ledger) ListEntrypoints(ctx context.Context, contractID uuid.UUID) ([]ledger.Entrypoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Entrypoint
	for _, e := range l.entrypoints {
		if e.ContractID == contractID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Ledger) GetEntrypoint(ctx context.Context, contractID uuid.UUID, name string) (ledger.Entrypoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entrypoints {
		if e.ContractID == contractID && e.Name == name {
			return e, nil
		}
	}
	return ledger.Entrypoint{}, apperr.NotFound("entrypoint")
}

func (l *Ledger) UpdateEntrypoints(ctx context.Context, updates []ledger.EntrypointUpdate) ([]ledger.Entrypoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.Entrypoint, 0, len(updates))
	for _, u := range updates {
		e, ok := l.entrypoints[u.ID]
		if !ok {
			return nil, apperr.NotFound("entrypoint")
		}
		e.IsEnabled = u.IsEnabled
		l.entrypoints[u.ID] = e
		out = append(out, e)
	}
	return out, nil
}

func (l *Ledger) GetVault(ctx context.Context, id uuid.UUID) (ledger.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.vaults[id]
	if !ok {
		return ledger.Vault{}, apperr.NotFound("vault")
	}
	return v, nil
}

func (l *Ledger) GetVaultByContract(ctx context.Context, contractAddress string) (ledger.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.contracts {
		if c.Address == contractAddress {
			v, ok := l.vaults[c.VaultID]
			if !ok {
				return ledger.Vault{}, apperr.NotFound("vault")
			}
			return v, nil
		}
	}
	return ledger.Vault{}, apperr.NotFound("contract")
}

func (l *Ledger) CreditVault(ctx context.Context, id uuid.UUID, delta int64) (ledger.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.vaults[id]
	if !ok {
		return ledger.Vault{}, apperr.NotFound("vault")
	}
	v.Amount += delta
	l.vaults[id] = v
	return v, nil
}

func (l *Ledger) DebitVault(ctx context.Context, id uuid.UUID, delta int64) (ledger.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.vaults[id]
	if !ok {
		return ledger.Vault{}, apperr.NotFound("vault")
	}
	if v.Amount < delta {
		return ledger.Vault{}, apperr.NotEnoughFunds("vault balance below debit amount")
	}
	v.Amount -= delta
	l.vaults[id] = v
	return v, nil
}

func (l *Ledger) CountOperationsThisMonth(ctx context.Context, contractID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	y, m, _ := now.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	n := 0
	for _, op := range l.operations {
		if op.ContractID == contractID && !op.CreatedAt.Before(start) {
			n++
		}
	}
	return n, nil
}

func (l *Ledger) CountOperationsBySenderSince(ctx context.Context, contractID uuid.UUID, sender string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, op := range l.operations {
		if op.ContractID == contractID && op.SenderAddress == sender && !op.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (l *Ledger) SetOperationCost(ctx context.Context, txHash string, destination string, cost int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, op := range l.operations {
		if op.TxHash == txHash {
			c, ok := l.contracts[op.ContractID]
			if ok && c.Address == destination {
				v := cost
				l.operations[i].Cost = &v
			}
		}
	}
	return nil
}

func (l *Ledger) CreateCondition(ctx context.Context, c ledger.NewCondition) (ledger.Condition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.conditions {
		if !existing.IsActive || existing.Kind != c.Kind || existing.VaultID != c.VaultID {
			continue
		}
		if sameScope(existing, c) {
			return ledger.Condition{}, apperr.ConditionAlreadyExists("condition already exists for this scope")
		}
	}

	row := ledger.Condition{
		ID:           uuid.New(),
		Kind:         c.Kind,
		VaultID:      c.VaultID,
		Max:          c.Max,
		Current:      0,
		CreatedAt:    time.Now(),
		IsActive:     true,
		ContractID:   c.ContractID,
		EntrypointID: c.EntrypointID,
		SponseeAddr:  c.SponseeAddr,
	}
	l.conditions[row.ID] = row
	return row, nil
}

func sameScope(existing ledger.Condition, c ledger.NewCondition) bool {
	switch existing.Kind {
	case ledger.MaxCallsPerEntrypoint:
		return ptrEq(existing.ContractID, c.ContractID) && ptrEq(existing.EntrypointID, c.EntrypointID)
	case ledger.MaxCallsPerSponsee:
		return ptrEq(existing.ContractID, c.ContractID) && strPtrEq(existing.SponseeAddr, c.SponseeAddr)
	default:
		return false
	}
}

func ptrEq(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (l *Ledger) ListConditions(ctx context.Context, vaultID uuid.UUID) ([]ledger.Condition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Condition
	for _, c := range l.conditions {
		if c.VaultID == vaultID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l *Ledger) GetActiveMaxCallsPerEntrypoint(ctx context.Context, contractID, entrypointID, vaultID uuid.UUID) (*ledger.Condition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conditions {
		if !c.IsActive || c.Kind != ledger.MaxCallsPerEntrypoint || c.VaultID != vaultID {
			continue
		}
		if c.ContractID != nil && *c.ContractID == contractID && c.EntrypointID != nil && *c.EntrypointID == entrypointID {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

func (l *Ledger) GetActiveMaxCallsPerSponsee(ctx context.Context, contractID, vaultID uuid.UUID) (*ledger.Condition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conditions {
		if !c.IsActive || c.Kind != ledger.MaxCallsPerSponsee || c.VaultID != vaultID {
			continue
		}
		if c.ContractID != nil && *c.ContractID == contractID {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

func (l *Ledger) AdmitOperation(ctx context.Context, op ledger.NewOperation, matchedConditions []uuid.UUID) (ledger.Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := ledger.Operation{
		ID:            uuid.New(),
		SenderAddress: op.SenderAddress,
		ContractID:    op.ContractID,
		EntrypointID:  op.EntrypointID,
		TxHash:        op.TxHash,
		Status:        op.Status,
		CreatedAt:     time.Now(),
	}
	l.operations = append(l.operations, row)
	for _, id := range matchedConditions {
		c, ok := l.conditions[id]
		if !ok {
			continue
		}
		c.Current++
		l.conditions[id] = c
	}
	return row, nil
}
