package reconciler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/ledger/memory"
	"github.com/marigold-dev/gas-station/internal/oracle"
	"github.com/marigold-dev/gas-station/internal/reconciler"
)

const (
	contractAddr = "KT1BEqzn5Wx8uJrZNvuS9DVHmLvG9td3fDLi"
	senderAddr   = "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU"
)

func mustAddr(t *testing.T, s string) tezos.Address {
	t.Helper()
	a, err := tezos.ParseAddress(s)
	require.NoError(t, err)
	return a
}

// Reconcile debits the destination contract's vault by its landed fee once
// the submitted tx is found, per §4.5 steps 1-4.
func TestReconcileDebitsVaultForLandedFee(t *testing.T) {
	l := memory.New()
	ctx := context.Background()
	_, v, err := l.RegisterSponsor(ctx, "acme", "tz1sponsor")
	require.NoError(t, err)
	_, err = l.RegisterContract(ctx, ledger.NewContract{
		Address: contractAddr, OwnerSponsorID: v.OwnerSponsorID, VaultID: v.ID,
		Name: "token", MaxCallsPerMonth: -1,
		Entrypoints: []ledger.NewEntrypoint{{Name: "transfer", IsEnabled: true}},
	})
	require.NoError(t, err)
	_, err = l.CreditVault(ctx, v.ID, 10_000)
	require.NoError(t, err)

	fake := oracle.NewFake()
	fake.FeeFor[contractAddr] = 1_500
	dest := mustAddr(t, contractAddr)
	sender := mustAddr(t, senderAddr)
	subOps := []oracle.SubOp{{Sender: sender, Destination: dest}}
	tx, err := fake.Submit(ctx, subOps)
	require.NoError(t, err)

	r := reconciler.New(fake, l, 4)
	r.Reconcile(tx, subOps)

	got, err := l.GetVault(ctx, v.ID)
	require.NoError(t, err)
	require.EqualValues(t, 8_500, got.Amount)
}

// An implicit-account destination is a withdrawal (§4.5 step 4): no vault
// lookup or debit happens for it, since withdrawals have no vault of their
// own to charge.
func TestReconcileSkipsImplicitAccountDestinations(t *testing.T) {
	l := memory.New()
	ctx := context.Background()
	_, v, err := l.RegisterSponsor(ctx, "acme", "tz1sponsor")
	require.NoError(t, err)
	_, err = l.CreditVault(ctx, v.ID, 10_000)
	require.NoError(t, err)

	fake := oracle.NewFake()
	dest := mustAddr(t, senderAddr) // a tz1 implicit account, not a contract
	sender := mustAddr(t, senderAddr)
	subOps := []oracle.SubOp{{Sender: sender, Destination: dest, Amount: 5_000}}
	tx, err := fake.Submit(ctx, subOps)
	require.NoError(t, err)

	r := reconciler.New(fake, l, 4)
	r.Reconcile(tx, subOps)

	got, err := l.GetVault(ctx, v.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10_000, got.Amount)
}

// A tx that never lands within tries is abandoned without touching the
// ledger, rather than blocking forever.
func TestReconcileAbandonsUnlandedTx(t *testing.T) {
	l := memory.New()
	ctx := context.Background()
	_, v, err := l.RegisterSponsor(ctx, "acme", "tz1sponsor")
	require.NoError(t, err)
	_, err = l.CreditVault(ctx, v.ID, 10_000)
	require.NoError(t, err)

	fake := oracle.NewFake()
	dest := mustAddr(t, contractAddr)
	phantom := tezos.NewOpHash(make([]byte, 32))

	r := reconciler.New(fake, l, 1)
	r.Reconcile(oracle.PostedTx{Hash: phantom}, []oracle.SubOp{{Destination: dest}})

	got, err := l.GetVault(ctx, v.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10_000, got.Amount)
}
