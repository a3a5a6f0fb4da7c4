package memory_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/ledger/memory"
)

func TestRegisterSponsorOpensVault(t *testing.T) {
	l := memory.New()
	ctx := context.Background()

	sp, v, err := l.RegisterSponsor(ctx, "acme", "tz1acme")
	require.NoError(t, err)
	require.Equal(t, sp.ID, v.OwnerSponsorID)
	require.Zero(t, v.Amount)

	_, _, err = l.RegisterSponsor(ctx, "acme-2", "tz1acme")
	require.True(t, apperr.Is(err, apperr.KindAlreadyRegistered))
}

func TestCreditAndDebitVault(t *testing.T) {
	l := memory.New()
	ctx := context.Background()
	_, v, err := l.RegisterSponsor(ctx, "acme", "tz1acme")
	require.NoError(t, err)

	v, err = l.CreditVault(ctx, v.ID, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 1000, v.Amount)

	v, err = l.DebitVault(ctx, v.ID, 400)
	require.NoError(t, err)
	require.EqualValues(t, 600, v.Amount)

	_, err = l.DebitVault(ctx, v.ID, 1000)
	require.True(t, apperr.Is(err, apperr.KindNotEnoughFunds))
}

func TestConditionScopeUniqueness(t *testing.T) {
	l := memory.New()
	ctx := context.Background()
	_, v, _ := l.RegisterSponsor(ctx, "acme", "tz1acme")
	c, err := l.RegisterContract(ctx, ledger.NewContract{
		Address: "KT1xyz", OwnerSponsorID: v.OwnerSponsorID, VaultID: v.ID, Name: "token",
		MaxCallsPerMonth: -1,
		Entrypoints:      []ledger.NewEntrypoint{{Name: "transfer", IsEnabled: true}},
	})
	require.NoError(t, err)
	ep, err := l.GetEntrypoint(ctx, c.ID, "transfer")
	require.NoError(t, err)

	_, err = l.CreateCondition(ctx, ledger.NewCondition{
		Kind: ledger.MaxCallsPerEntrypoint, VaultID: v.ID, Max: 5,
		ContractID: &c.ID, EntrypointID: &ep.ID,
	})
	require.NoError(t, err)

	_, err = l.CreateCondition(ctx, ledger.NewCondition{
		Kind: ledger.MaxCallsPerEntrypoint, VaultID: v.ID, Max: 10,
		ContractID: &c.ID, EntrypointID: &ep.ID,
	})
	require.True(t, apperr.Is(err, apperr.KindConditionAlreadyExists))
}

func TestAdmitOperationIncrementsMatchedConditions(t *testing.T) {
	l := memory.New()
	ctx := context.Background()
	_, v, _ := l.RegisterSponsor(ctx, "acme", "tz1acme")
	c, _ := l.RegisterContract(ctx, ledger.NewContract{
		Address: "KT1xyz", OwnerSponsorID: v.OwnerSponsorID, VaultID: v.ID, Name: "token",
		MaxCallsPerMonth: -1,
		Entrypoints:      []ledger.NewEntrypoint{{Name: "transfer", IsEnabled: true}},
	})
	ep, _ := l.GetEntrypoint(ctx, c.ID, "transfer")
	cond, err := l.CreateCondition(ctx, ledger.NewCondition{
		Kind: ledger.MaxCallsPerEntrypoint, VaultID: v.ID, Max: 2,
		ContractID: &c.ID, EntrypointID: &ep.ID,
	})
	require.NoError(t, err)

	_, err = l.AdmitOperation(ctx, ledger.NewOperation{
		SenderAddress: "tz1sender", ContractID: c.ID, EntrypointID: ep.ID,
		TxHash: "op1", Status: ledger.StatusOK,
	}, []uuid.UUID{cond.ID})
	require.NoError(t, err)

	got, err := l.GetActiveMaxCallsPerEntrypoint(ctx, c.ID, ep.ID, v.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Current)
	require.True(t, got.Satisfied())
}
