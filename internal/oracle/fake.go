package oracle

import (
	"context"
	"sync"
	"time"

	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
)

// Fake is a deterministic, in-memory Chain used by scheduler/admission
// tests, playing the role of the teacher's mockable rpc.RpcClient in tests
// that never touch a live node.
type Fake struct {
	mu sync.Mutex

	// FeeFor maps a destination address string to the fee Simulate returns
	// for it. Missing entries default to DefaultFee.
	FeeFor     map[string]int64
	DefaultFee int64

	// RejectBatches, when set, makes Simulate fail once the batch's destination
	// set (in insertion order) matches one of these snapshots exactly.
	// Used to script §8 scenario S3 (conflict detected only once a second
	// sender's op is appended).
	RejectBatches [][]string

	blockDelay time.Duration
	landed     map[string]LandedOp
	nextHash   int
}

// NewFake returns a Fake oracle with a one-second block delay.
func NewFake() *Fake {
	return &Fake{
		FeeFor:     make(map[string]int64),
		DefaultFee: 100,
		blockDelay: time.Second,
		landed:     make(map[string]LandedOp),
	}
}

func (f *Fake) BlockDelay() time.Duration { return f.blockDelay }

func (f *Fake) Simulate(ctx context.Context, ops []SubOp) (SimulatedBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dests := make([]string, len(ops))
	for i, op := range ops {
		dests[i] = op.Destination.String()
	}
	for _, reject := range f.RejectBatches {
		if sameSequence(reject, dests) {
			return SimulatedBatch{}, apperr.New(apperr.KindSimulationFailed, "simulation failed")
		}
	}

	batch := SimulatedBatch{Contents: make([]SimulatedOp, len(ops))}
	for i, op := range ops {
		fee, ok := f.FeeFor[op.Destination.String()]
		if !ok {
			fee = f.DefaultFee
		}
		batch.Contents[i] = SimulatedOp{Sender: op.Sender, Destination: op.Destination, Fee: fee}
	}
	return batch, nil
}

func sameSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f *Fake) Submit(ctx context.Context, ops []SubOp) (PostedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextHash++
	key := fakeHash(f.nextHash)

	fees := make([]LandedFee, 0, len(ops))
	for _, op := range ops {
		fee, ok := f.FeeFor[op.Destination.String()]
		if !ok {
			fee = f.DefaultFee
		}
		fees = append(fees, LandedFee{Destination: op.Destination, Amount: fee})
	}
	f.landed[key.String()] = LandedOp{Hash: key, Fees: fees}
	return PostedTx{Hash: key}, nil
}

func (f *Fake) FindOperation(ctx context.Context, hash tezos.OpHash) (LandedOp, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.landed[hash.String()]
	return op, ok, nil
}

func (f *Fake) ConfirmDeposit(ctx context.Context, hash tezos.OpHash, from tezos.Address, amount int64) (bool, error) {
	return true, nil
}

func (f *Fake) ConfirmWithdraw(ctx context.Context, hash tezos.OpHash) (bool, error) {
	_, ok, _ := f.FindOperation(ctx, hash)
	return ok, nil
}

// fakeHash fabricates a distinguishable tezos.OpHash for test-only use; the
// real RPCChain never calls this, only Fake's Submit does.
func fakeHash(n int) tezos.OpHash {
	raw := make([]byte, 32)
	for i := 0; n > 0; i++ {
		raw[i%32] ^= byte(n)
		n >>= 8
	}
	return tezos.NewOpHash(raw)
}
