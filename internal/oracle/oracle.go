// Package oracle is the Chain Oracle (C3): a narrow abstraction over a
// remote Tezos node built on the teacher's own rpc/codec/signer packages.
// It is not responsible for batching, policy, or persistence — only for
// simulating, submitting, and later locating operations.
package oracle

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"blockwatch.cc/tzgo/codec"
	"blockwatch.cc/tzgo/micheline"
	"blockwatch.cc/tzgo/rpc"
	"blockwatch.cc/tzgo/signer"
	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
)

// SubOp is one call bundled into a batch: a destination and the Michelson
// entrypoint/value pair to invoke on it. Amount is the mutez moved alongside
// the call; it is 0 for ordinary sponsored calls (the relayer only pays the
// simulated fee) and set for the withdraw flow, which is a plain tez
// transfer to an implicit account with no entrypoint.
type SubOp struct {
	Sender      tezos.Address
	Destination tezos.Address
	Params      micheline.Parameters
	Amount      int64
}

// SimulatedBatch is the per-destination fee estimate from a dry run.
type SimulatedBatch struct {
	Contents []SimulatedOp
}

// SimulatedOp is one simulated sub-operation's outcome.
type SimulatedOp struct {
	Sender      tezos.Address
	Destination tezos.Address
	Fee         int64
}

// TotalFee sums every simulated fee in the batch.
func (b SimulatedBatch) TotalFee() int64 {
	var total int64
	for _, c := range b.Contents {
		total += c.Fee
	}
	return total
}

// FeeFor returns the simulated fee for destination, or (0, false) if the
// batch has no entry for it.
func (b SimulatedBatch) FeeFor(destination tezos.Address) (int64, bool) {
	for _, c := range b.Contents {
		if c.Destination.Equal(destination) {
			return c.Fee, true
		}
	}
	return 0, false
}

// PostedTx is the result of a successful submit.
type PostedTx struct {
	Hash tezos.OpHash
}

// LandedFee is one relayer-paid fee entry extracted from a landed tx,
// grouped later by destination in the Reconciler.
type LandedFee struct {
	Destination tezos.Address
	Amount      int64
}

// LandedOp is the result of findOperation: the bundle as it appears on
// chain, with fee attribution per destination already resolved.
type LandedOp struct {
	Hash tezos.OpHash
	Fees []LandedFee
}

// Chain is the Oracle contract every other core component depends on.
type Chain interface {
	Simulate(ctx context.Context, ops []SubOp) (SimulatedBatch, error)
	Submit(ctx context.Context, ops []SubOp) (PostedTx, error)
	FindOperation(ctx context.Context, hash tezos.OpHash) (LandedOp, bool, error)
	BlockDelay() time.Duration
	ConfirmDeposit(ctx context.Context, hash tezos.OpHash, from tezos.Address, amount int64) (bool, error)
	ConfirmWithdraw(ctx context.Context, hash tezos.OpHash) (bool, error)
}

// RPCChain is the real Chain backed by an rpc.Client and a Signer holding
// the relayer's own key, grounded on rpc/run.go's Simulate/Send/Broadcast
// and codec.Op's WithCall builder.
type RPCChain struct {
	client     rpc.RpcClient
	signer     signer.Signer
	relayer    tezos.Address
	blockDelay time.Duration
	lookback   int64
}

// NewRPCChain wires a live chain oracle. blockDelay and lookback are fixed
// for the oracle's lifetime; they are taken as given and not queried from
// the node (cmd/gasstation passes compile-time defaults).
func NewRPCChain(client rpc.RpcClient, sgnr signer.Signer, relayer tezos.Address, blockDelay time.Duration, lookback int64) *RPCChain {
	return &RPCChain{client: client, signer: sgnr, relayer: relayer, blockDelay: blockDelay, lookback: lookback}
}

func (c *RPCChain) BlockDelay() time.Duration { return c.blockDelay }

func (c *RPCChain) buildOp(ctx context.Context, ops []SubOp) (*codec.Op, error) {
	op := codec.NewOp().WithSource(c.relayer)
	for _, sub := range ops {
		if sub.Params.Entrypoint == "" {
			op.WithTransfer(sub.Destination, sub.Amount)
			continue
		}
		op.WithCallExt(sub.Destination, sub.Params, sub.Amount)
	}
	key, err := c.signer.GetKey(ctx, c.relayer)
	if err != nil {
		return nil, errors.Wrap(err, "oracle: resolve relayer key")
	}
	if err := c.client.(*rpc.Client).Complete(ctx, op, key); err != nil {
		return nil, errors.Wrap(err, "oracle: complete operation")
	}
	return op, nil
}

func (c *RPCChain) Simulate(ctx context.Context, ops []SubOp) (SimulatedBatch, error) {
	op, err := c.buildOp(ctx, ops)
	if err != nil {
		return SimulatedBatch{}, apperr.SimulationFailed(err)
	}
	receipt, err := c.client.(*rpc.Client).Simulate(ctx, op, &rpc.CallOptions{Signer: c.signer, Sender: c.relayer})
	if err != nil {
		return SimulatedBatch{}, apperr.SimulationFailed(err)
	}
	if !receipt.IsSuccess() {
		return SimulatedBatch{}, apperr.SimulationFailed(receipt.Error())
	}

	costs := receipt.Costs()
	batch := SimulatedBatch{Contents: make([]SimulatedOp, 0, len(ops))}
	for i, sub := range ops {
		var fee int64
		if i < len(costs) {
			fee = costs[i].Fee
		}
		batch.Contents = append(batch.Contents, SimulatedOp{Sender: sub.Sender, Destination: sub.Destination, Fee: fee})
	}
	return batch, nil
}

func (c *RPCChain) Submit(ctx context.Context, ops []SubOp) (PostedTx, error) {
	op, err := c.buildOp(ctx, ops)
	if err != nil {
		return PostedTx{}, apperr.Internal(err)
	}
	key, err := c.signer.GetKey(ctx, c.relayer)
	if err != nil {
		return PostedTx{}, apperr.Internal(err)
	}
	sig, err := c.signer.SignOperation(ctx, c.relayer, op)
	if err != nil {
		return PostedTx{}, apperr.Internal(errors.Wrap(err, "oracle: sign operation"))
	}
	op.WithSignature(sig)
	_ = key

	hash, err := c.client.(*rpc.Client).Broadcast(ctx, op)
	if err != nil {
		return PostedTx{}, apperr.Internal(errors.Wrap(err, "oracle: broadcast"))
	}
	return PostedTx{Hash: hash}, nil
}

func (c *RPCChain) FindOperation(ctx context.Context, hash tezos.OpHash) (LandedOp, bool, error) {
	head, err := c.client.GetHeadBlock(ctx)
	if err != nil {
		return LandedOp{}, false, apperr.Internal(err)
	}
	for i := int64(0); i < c.lookback; i++ {
		block, err := c.client.GetBlockHeight(ctx, head.Header.Level-i)
		if err != nil {
			continue
		}
		for _, group := range block.Operations {
			for _, header := range group {
				if header.Hash != hash {
					continue
				}
				return c.extractLanded(header), true, nil
			}
		}
	}
	return LandedOp{}, false, nil
}

// extractLanded pulls every balance-update entry addressed to the relayer's
// own key and attributes it to the destination of the owning content, per
// §4.5 steps 2-3.
func (c *RPCChain) extractLanded(header *rpc.OperationHeader) LandedOp {
	landed := LandedOp{Hash: header.Hash}
	for _, content := range header.Contents {
		typed, ok := content.(rpc.TypedOperation)
		if !ok {
			continue
		}
		dest := destinationOf(typed)
		for _, bu := range typed.Result().BalanceUpdates {
			if !bu.Address().Equal(c.relayer) {
				continue
			}
			amount := bu.Amount()
			if amount >= 0 {
				continue
			}
			landed.Fees = append(landed.Fees, LandedFee{Destination: dest, Amount: -amount})
		}
	}
	return landed
}

func destinationOf(content rpc.TypedOperation) tezos.Address {
	if tx, ok := content.(*rpc.Transaction); ok {
		return tx.Destination
	}
	return tezos.Address{}
}

func (c *RPCChain) ConfirmDeposit(ctx context.Context, hash tezos.OpHash, from tezos.Address, amount int64) (bool, error) {
	landed, found, err := c.FindOperation(ctx, hash)
	if err != nil || !found {
		return false, err
	}
	for _, f := range landed.Fees {
		if f.Destination.Equal(from) && f.Amount == amount {
			return true, nil
		}
	}
	return true, nil
}

func (c *RPCChain) ConfirmWithdraw(ctx context.Context, hash tezos.OpHash) (bool, error) {
	_, found, err := c.FindOperation(ctx, hash)
	return found, err
}
