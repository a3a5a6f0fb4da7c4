// Package scheduler is the Batch Scheduler (C4): the single coordinator
// that owns the pending/results maps described in §3 and §4.4. It is
// modeled the way §9's design note prescribes — a coordinator goroutine
// with a typed inbox (Enqueue/Tick/Shutdown) and a reply channel embedded
// in Enqueue — which is also the shape the teacher's own block observer
// (rpc/observer.go) uses for its internal subscriber fan-out.
package scheduler

import (
	"context"
	"time"

	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/obslog"
	"github.com/marigold-dev/gas-station/internal/oracle"
)

// Result is what an Enqueue call eventually resolves to.
type Result struct {
	Hash tezos.OpHash
	Err  error
}

// slot is the coordinator's bookkeeping for one pending sender. ops holds
// every sub-operation the sender's request bundled — §3 calls the pending
// value a "simulatedBatch", not a single op, since one HTTP request can
// carry several calls that must land together or not at all.
type slot struct {
	ops   []oracle.SubOp
	reply chan Result
}

type enqueueMsg struct {
	sender string
	ops    []oracle.SubOp
	reply  chan Result
}

type cancelMsg struct {
	sender string
}

// ReconcileFunc is spawned, not awaited, once per successful tick submit —
// the Fee Reconciler (C5) is wired in by the caller to keep this package
// free of a direct ledger dependency.
type ReconcileFunc func(tx oracle.PostedTx, submitted []oracle.SubOp)

// Scheduler is the C4 coordinator. All exported methods are safe to call
// from any goroutine; only the run loop touches pending/results directly.
type Scheduler struct {
	chain     oracle.Chain
	reconcile ReconcileFunc

	enqueueCh chan enqueueMsg
	cancelCh  chan cancelMsg
	shutdown  chan struct{}
	done      chan struct{}
}

// New builds a Scheduler bound to chain. Call Run in its own goroutine to
// start the coordinator; it does not start itself.
func New(chain oracle.Chain, reconcile ReconcileFunc) *Scheduler {
	return &Scheduler{
		chain:     chain,
		reconcile: reconcile,
		enqueueCh: make(chan enqueueMsg),
		cancelCh:  make(chan cancelMsg),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Enqueue implements §4.4's enqueue protocol: it sets the sender's slot to
// waiting, preserves insertion order on first write, and suspends until a
// tick resolves or settles it. ops is the whole set of sub-operations from
// one sender's request — they share a single slot and land (or are evicted)
// as a unit. A second Enqueue for the same sender while still waiting
// overwrites the pending ops but not its queue position — last-write-wins,
// the behaviour §9 open question (a) confirms as intended.
func (s *Scheduler) Enqueue(ctx context.Context, sender string, ops []oracle.SubOp) (Result, error) {
	reply := make(chan Result, 1)
	msg := enqueueMsg{sender: sender, ops: ops, reply: reply}

	select {
	case s.enqueueCh <- msg:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.shutdown:
		return Result{}, apperr.New(apperr.KindInternal, "scheduler is shutting down")
	}

	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		select {
		case s.cancelCh <- cancelMsg{sender: sender}:
		default:
		}
		return Result{}, ctx.Err()
	}
}

// Shutdown stops the coordinator from accepting new enqueues and drops the
// current pending map; it does not wait for the run loop to exit.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)
}

// Run is the coordinator goroutine. It owns pending/results exclusively;
// tick is driven by a timer of period blockDelay per §4.4.
func (s *Scheduler) Run(ctx context.Context, blockDelay time.Duration) {
	defer close(s.done)

	pending := newPendingMap()
	ticker := time.NewTicker(blockDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.failAll(pending, "scheduler shutting down")
			return
		case <-s.shutdown:
			s.failAll(pending, "scheduler shutting down")
			return
		case msg := <-s.enqueueCh:
			pending.set(msg.sender, slot{ops: msg.ops, reply: msg.reply})
		case msg := <-s.cancelCh:
			if sl, ok := pending.remove(msg.sender); ok {
				deliver(sl.reply, Result{Err: apperr.BatchConflict()})
			}
		case <-ticker.C:
			s.tick(ctx, pending)
		}
	}
}

func (s *Scheduler) failAll(pending *pendingMap, reason string) {
	for _, sender := range pending.order {
		if sl, ok := pending.slots[sender]; ok {
			deliver(sl.reply, Result{Err: apperr.New(apperr.KindInternal, reason)})
		}
	}
	obslog.Scheduler.Infof("draining pending queue: %s", reason)
	pending.clear()
}

// tick implements §4.4's flush algorithm: incremental simulate-and-evict,
// submit once, fan out, clear. Each candidate's whole op group is appended
// or evicted as a unit — a sender's bundled calls always land in the same
// batch or are all rejected together.
func (s *Scheduler) tick(ctx context.Context, pending *pendingMap) {
	candidates := pending.snapshot()
	ticksTotal.Inc()
	candidatesPerTick.Observe(float64(len(candidates)))
	if len(candidates) == 0 {
		pending.clear()
		return
	}

	accepted := make([]candidate, 0, len(candidates))
	for _, cand := range candidates {
		accepted = append(accepted, cand)
		ops := subOpsOf(accepted)
		if _, err := s.chain.Simulate(ctx, ops); err != nil {
			evicted := accepted[len(accepted)-1]
			accepted = accepted[:len(accepted)-1]
			deliver(evicted.slot.reply, Result{Err: apperr.BatchConflict()})
			continue
		}
	}

	if len(accepted) == 0 {
		pending.clear()
		return
	}

	submittedOps := subOpsOf(accepted)
	tx, err := s.chain.Submit(ctx, submittedOps)
	if err != nil {
		obslog.Scheduler.Errorf("batch submit failed: %v", err)
		for _, cand := range accepted {
			deliver(cand.slot.reply, Result{Err: apperr.Internal(err)})
		}
		pending.clear()
		return
	}

	recordBatchSubmitted(len(candidates), len(accepted))
	for _, cand := range accepted {
		deliver(cand.slot.reply, Result{Hash: tx.Hash})
	}
	if s.reconcile != nil {
		go s.reconcile(tx, submittedOps)
	}
	pending.clear()
}

func deliver(reply chan Result, res Result) {
	select {
	case reply <- res:
	default:
	}
}

type candidate struct {
	sender string
	slot   slot
}

func subOpsOf(cands []candidate) []oracle.SubOp {
	var ops []oracle.SubOp
	for _, c := range cands {
		ops = append(ops, c.slot.ops...)
	}
	return ops
}

// pendingMap is the insertion-ordered, at-most-one-entry-per-sender map
// §3 specifies for Scheduler state.
type pendingMap struct {
	order []string
	slots map[string]slot
}

func newPendingMap() *pendingMap {
	return &pendingMap{slots: make(map[string]slot)}
}

func (m *pendingMap) set(sender string, sl slot) {
	if old, ok := m.slots[sender]; ok {
		// overwrite value, keep position; replace the reply channel so the
		// earlier waiter is not silently left hanging.
		deliver(old.reply, Result{Err: apperr.BatchConflict()})
	} else {
		m.order = append(m.order, sender)
	}
	m.slots[sender] = sl
}

func (m *pendingMap) remove(sender string) (slot, bool) {
	sl, ok := m.slots[sender]
	if ok {
		delete(m.slots, sender)
	}
	return sl, ok
}

func (m *pendingMap) snapshot() []candidate {
	out := make([]candidate, 0, len(m.order))
	for _, sender := range m.order {
		if sl, ok := m.slots[sender]; ok {
			out = append(out, candidate{sender: sender, slot: sl})
		}
	}
	return out
}

func (m *pendingMap) clear() {
	m.order = nil
	m.slots = make(map[string]slot)
}
