package admission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blockwatch.cc/tzgo/micheline"

	"github.com/marigold-dev/gas-station/internal/admission"
	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/ledger/memory"
	"github.com/marigold-dev/gas-station/internal/oracle"
	"github.com/marigold-dev/gas-station/internal/scheduler"
)

const (
	contractAddr = "KT1BEqzn5Wx8uJrZNvuS9DVHmLvG9td3fDLi"
	senderA      = "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU"
	senderB      = "tz1KqTpEZ7Yob7QbPE4Hy4Wo8fHG8LhKxZSx"
)

// harness bundles one ledger+fake-chain+scheduler+admission stack per test,
// grounded on internal/ledger/memory's own TestXxx style (one fresh
// in-memory ledger per test); t.Cleanup stops the scheduler's run loop.
type harness struct {
	l     *memory.Ledger
	chain *oracle.Fake
	adm   *admission.Admission
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := memory.New()
	chain := oracle.NewFake()
	sched := scheduler.New(chain, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx, 10*time.Millisecond)

	return &harness{l: l, chain: chain, adm: admission.New(l, chain, sched)}
}

func (h *harness) registerContract(t *testing.T, maxCallsPerMonth int, entrypointEnabled bool) (ledger.Contract, ledger.Vault) {
	t.Helper()
	ctx := context.Background()
	_, v, err := h.l.RegisterSponsor(ctx, "acme", "tz1sponsor")
	require.NoError(t, err)
	c, err := h.l.RegisterContract(ctx, ledger.NewContract{
		Address:          contractAddr,
		OwnerSponsorID:   v.OwnerSponsorID,
		VaultID:          v.ID,
		Name:             "token",
		MaxCallsPerMonth: maxCallsPerMonth,
		Entrypoints:      []ledger.NewEntrypoint{{Name: "transfer", IsEnabled: entrypointEnabled}},
	})
	require.NoError(t, err)
	return c, v
}

// S1: happy path single call lands and is recorded as StatusOK.
func TestSubmitHappySingleCall(t *testing.T) {
	h := newHarness(t)
	_, v := h.registerContract(t, -1, true)
	_, err := h.l.CreditVault(context.Background(), v.ID, 100_000)
	require.NoError(t, err)
	h.chain.FeeFor[contractAddr] = 1_234

	outcomes, err := h.adm.Submit(context.Background(), senderA, []admission.CallRequest{
		{Destination: contractAddr, Entrypoint: "transfer", Value: micheline.Prim{}},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, ledger.StatusOK, outcomes[0].Status)
	require.NotZero(t, outcomes[0].TxHash)
}

// S2: a disabled entrypoint is rejected before simulation ever runs, and
// nothing about the vault or the call count changes.
func TestSubmitEntrypointDisabled(t *testing.T) {
	h := newHarness(t)
	c, v := h.registerContract(t, -1, false)
	_, err := h.l.CreditVault(context.Background(), v.ID, 100_000)
	require.NoError(t, err)

	_, err = h.adm.Submit(context.Background(), senderA, []admission.CallRequest{
		{Destination: contractAddr, Entrypoint: "transfer", Value: micheline.Prim{}},
	})
	require.True(t, apperr.Is(err, apperr.KindEntrypointDisabled))

	vault, gerr := h.l.GetVault(context.Background(), v.ID)
	require.NoError(t, gerr)
	require.EqualValues(t, 100_000, vault.Amount)

	n, cerr := h.l.CountOperationsThisMonth(context.Background(), c.ID)
	require.NoError(t, cerr)
	require.Zero(t, n)
}

// S4: once the monthly cap is already reached, Submit is rejected by the
// pre-simulation check (§4.2 step 2) without ever calling Simulate.
func TestSubmitMonthlyCapReached(t *testing.T) {
	h := newHarness(t)
	c, v := h.registerContract(t, 2, true)
	_, err := h.l.CreditVault(context.Background(), v.ID, 100_000)
	require.NoError(t, err)
	ep, err := h.l.GetEntrypoint(context.Background(), c.ID, "transfer")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := h.l.AdmitOperation(context.Background(), ledger.NewOperation{
			SenderAddress: senderA, ContractID: c.ID, EntrypointID: ep.ID,
			TxHash: "seed", Status: ledger.StatusOK,
		}, nil)
		require.NoError(t, err)
	}

	_, err = h.adm.Submit(context.Background(), senderA, []admission.CallRequest{
		{Destination: contractAddr, Entrypoint: "transfer", Value: micheline.Prim{}},
	})
	require.True(t, apperr.Is(err, apperr.KindTooManyCallsThisMonth))
}

// S5: Policy's pre-checks pass but the vault cannot cover the simulated
// fee, so CheckCreditSufficiency rejects after Simulate runs.
func TestSubmitInsufficientCredit(t *testing.T) {
	h := newHarness(t)
	_, v := h.registerContract(t, -1, true)
	_, err := h.l.CreditVault(context.Background(), v.ID, 500)
	require.NoError(t, err)
	h.chain.FeeFor[contractAddr] = 1_000

	_, err = h.adm.Submit(context.Background(), senderA, []admission.CallRequest{
		{Destination: contractAddr, Entrypoint: "transfer", Value: micheline.Prim{}},
	})
	require.True(t, apperr.Is(err, apperr.KindNotEnoughFunds))
}

// S6: a MaxCallsPerSponsee condition scopes the cap to one sender; a
// second call from the same sender is rejected while a different sender
// against the same contract is unaffected.
func TestSubmitMaxCallsPerSponsee(t *testing.T) {
	h := newHarness(t)
	c, v := h.registerContract(t, -1, true)
	_, err := h.l.CreditVault(context.Background(), v.ID, 100_000)
	require.NoError(t, err)
	h.chain.FeeFor[contractAddr] = 100

	_, err = h.l.CreateCondition(context.Background(), ledger.NewCondition{
		Kind: ledger.MaxCallsPerSponsee, VaultID: v.ID, Max: 1, ContractID: &c.ID,
	})
	require.NoError(t, err)

	outcomes, err := h.adm.Submit(context.Background(), senderA, []admission.CallRequest{
		{Destination: contractAddr, Entrypoint: "transfer", Value: micheline.Prim{}},
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusOK, outcomes[0].Status)

	_, err = h.adm.Submit(context.Background(), senderA, []admission.CallRequest{
		{Destination: contractAddr, Entrypoint: "transfer", Value: micheline.Prim{}},
	})
	require.True(t, apperr.Is(err, apperr.KindConditionExceeded))

	outcomes, err = h.adm.Submit(context.Background(), senderB, []admission.CallRequest{
		{Destination: contractAddr, Entrypoint: "transfer", Value: micheline.Prim{}},
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusOK, outcomes[0].Status)
}
