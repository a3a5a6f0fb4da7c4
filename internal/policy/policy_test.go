package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/ledger/memory"
	"github.com/marigold-dev/gas-station/internal/policy"
)

func setup(t *testing.T) (*memory.Ledger, ledger.Contract, ledger.Entrypoint, ledger.Vault) {
	l := memory.New()
	ctx := context.Background()
	_, v, err := l.RegisterSponsor(ctx, "acme", "tz1acme")
	require.NoError(t, err)
	v, err = l.CreditVault(ctx, v.ID, 1_000_000)
	require.NoError(t, err)
	c, err := l.RegisterContract(ctx, ledger.NewContract{
		Address: "KT1xyz", OwnerSponsorID: v.OwnerSponsorID, VaultID: v.ID, Name: "token",
		MaxCallsPerMonth: -1,
		Entrypoints:      []ledger.NewEntrypoint{{Name: "transfer", IsEnabled: true}},
	})
	require.NoError(t, err)
	ep, err := l.GetEntrypoint(ctx, c.ID, "transfer")
	require.NoError(t, err)
	return l, c, ep, v
}

func TestEntrypointDisabledRejected(t *testing.T) {
	l, c, ep, v := setup(t)
	ep.IsEnabled = false

	_, err := policy.Evaluate(context.Background(), l, "tz1X", c, ep, v)
	require.True(t, apperr.Is(err, apperr.KindEntrypointDisabled))
}

func TestMonthlyCapBoundaries(t *testing.T) {
	l, c, ep, v := setup(t)
	ctx := context.Background()

	c, err := l.UpdateMaxCallsPerMonth(ctx, c.ID, 1)
	require.NoError(t, err)

	_, err = policy.Evaluate(ctx, l, "tz1X", c, ep, v)
	require.NoError(t, err)

	_, err = l.AdmitOperation(ctx, ledger.NewOperation{
		SenderAddress: "tz1X", ContractID: c.ID, EntrypointID: ep.ID, TxHash: "op1", Status: ledger.StatusOK,
	}, nil)
	require.NoError(t, err)

	_, err = policy.Evaluate(ctx, l, "tz1X", c, ep, v)
	require.True(t, apperr.Is(err, apperr.KindTooManyCallsThisMonth))
}

func TestUnlimitedMonthlyCapNeverRejects(t *testing.T) {
	l, c, ep, v := setup(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := policy.Evaluate(ctx, l, "tz1X", c, ep, v)
		require.NoError(t, err)
		_, err = l.AdmitOperation(ctx, ledger.NewOperation{
			SenderAddress: "tz1X", ContractID: c.ID, EntrypointID: ep.ID, TxHash: "op", Status: ledger.StatusOK,
		}, nil)
		require.NoError(t, err)
	}
}

func TestMaxCallsPerSponseeCondition(t *testing.T) {
	l, c, ep, v := setup(t)
	ctx := context.Background()

	cond, err := l.CreateCondition(ctx, ledger.NewCondition{
		Kind: ledger.MaxCallsPerSponsee, VaultID: v.ID, Max: 1, ContractID: &c.ID,
		SponseeAddr: ptr("tz1X"),
	})
	require.NoError(t, err)

	decision, err := policy.Evaluate(ctx, l, "tz1X", c, ep, v)
	require.NoError(t, err)
	require.Contains(t, decision.MatchedConditions, cond.ID)

	_, err = l.AdmitOperation(ctx, ledger.NewOperation{
		SenderAddress: "tz1X", ContractID: c.ID, EntrypointID: ep.ID, TxHash: "op1", Status: ledger.StatusOK,
	}, decision.MatchedConditions)
	require.NoError(t, err)

	_, err = policy.Evaluate(ctx, l, "tz1X", c, ep, v)
	require.True(t, apperr.Is(err, apperr.KindConditionExceeded))

	// a different sender is unaffected
	_, err = policy.Evaluate(ctx, l, "tz1Y", c, ep, v)
	require.NoError(t, err)
}

func TestCreditSufficiency(t *testing.T) {
	_, _, _, v := setup(t)
	v.Amount = 500
	require.Error(t, policy.CheckCreditSufficiency(v, 1000))
	require.NoError(t, policy.CheckCreditSufficiency(v, 500))
}

func ptr(s string) *string { return &s }
