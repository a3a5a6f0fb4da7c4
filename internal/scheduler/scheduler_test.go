package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blockwatch.cc/tzgo/tezos"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/oracle"
	"github.com/marigold-dev/gas-station/internal/scheduler"
)

func mustAddr(t *testing.T, s string) tezos.Address {
	t.Helper()
	a, err := tezos.ParseAddress(s)
	require.NoError(t, err)
	return a
}

// TestHappySingleCall is §8 scenario S1: one sender, one simulated op, no
// conflicts — it should land in the first tick and carry the oracle's hash.
func TestHappySingleCall(t *testing.T) {
	fake := oracle.NewFake()
	dest := mustAddr(t, "KT1BEqzn5Wx8uJrZNvuS9DVHmLvG9td3fDLi")
	fake.FeeFor[dest.String()] = 1234

	sched := scheduler.New(fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx, 20*time.Millisecond)

	res, err := sched.Enqueue(context.Background(), "tz1A", []oracle.SubOp{
		{Sender: mustAddr(t, "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU"), Destination: dest},
	})
	require.NoError(t, err)
	require.NotZero(t, res.Hash)
}

// TestConcurrentBatchWithConflict is §8 scenario S3: two senders enqueue in
// order within one block; simulating [A] succeeds but simulating [A,B]
// fails. A lands, B is evicted with a conflict, and exactly one batch
// (containing only A) is ever submitted.
func TestConcurrentBatchWithConflict(t *testing.T) {
	fake := oracle.NewFake()
	destA := mustAddr(t, "KT1BEqzn5Wx8uJrZNvuS9DVHmLvG9td3fDLi")
	destB := mustAddr(t, "KT1VG2WtYdSWz5E7chTeAdDPZNy2MpP8pTfL")
	fake.RejectBatches = [][]string{{destA.String(), destB.String()}}

	sched := scheduler.New(fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx, 30*time.Millisecond)

	type outcome struct {
		res scheduler.Result
		err error
	}
	resA := make(chan outcome, 1)
	resB := make(chan outcome, 1)

	go func() {
		r, err := sched.Enqueue(context.Background(), "tz1A", []oracle.SubOp{
			{Sender: mustAddr(t, "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU"), Destination: destA},
		})
		resA <- outcome{r, err}
	}()
	time.Sleep(2 * time.Millisecond)
	go func() {
		r, err := sched.Enqueue(context.Background(), "tz1B", []oracle.SubOp{
			{Sender: mustAddr(t, "tz1KqTpEZ7Yob7QbPE4Hy4Wo8fHG8LhKxZSx"), Destination: destB},
		})
		resB <- outcome{r, err}
	}()

	outA := <-resA
	outB := <-resB

	require.NoError(t, outA.err)
	require.NotZero(t, outA.res.Hash)

	require.Error(t, outB.err)
	require.True(t, apperr.Is(outB.err, apperr.KindBatchConflict))
}

// TestSecondEnqueueOverwritesPendingSlot documents §9 open question (a): a
// second Enqueue for the same sender before a tick overwrites the pending
// op but keeps the sender's queue position — this is last-write-wins, not
// a rejection.
func TestSecondEnqueueOverwritesPendingSlot(t *testing.T) {
	fake := oracle.NewFake()
	destFirst := mustAddr(t, "KT1BEqzn5Wx8uJrZNvuS9DVHmLvG9td3fDLi")
	destSecond := mustAddr(t, "KT1VG2WtYdSWz5E7chTeAdDPZNy2MpP8pTfL")

	sched := scheduler.New(fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx, 40*time.Millisecond)

	firstDone := make(chan struct{})
	go func() {
		_, err := sched.Enqueue(context.Background(), "tz1A", []oracle.SubOp{
			{Sender: mustAddr(t, "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU"), Destination: destFirst},
		})
		require.Error(t, err)
		require.True(t, apperr.Is(err, apperr.KindBatchConflict))
		close(firstDone)
	}()
	time.Sleep(2 * time.Millisecond)

	res, err := sched.Enqueue(context.Background(), "tz1A", []oracle.SubOp{
		{Sender: mustAddr(t, "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU"), Destination: destSecond},
	})
	require.NoError(t, err)
	require.NotZero(t, res.Hash)
	<-firstDone
}

// TestCancellationReleasesSlot ensures a waiter whose context is cancelled
// gets context.Canceled back from Enqueue instead of blocking until the
// (hour-long) tick; a slot that reached the coordinator is then removed.
func TestCancellationReleasesSlot(t *testing.T) {
	fake := oracle.NewFake()
	sched := scheduler.New(fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx, time.Hour)

	reqCtx, reqCancel := context.WithCancel(context.Background())
	reqCancel()

	_, err := sched.Enqueue(reqCtx, "tz1A", []oracle.SubOp{
		{Sender: mustAddr(t, "tz1Ke2h7sDdakHJQh8WX4Z372du1KChsksyU"), Destination: mustAddr(t, "KT1BEqzn5Wx8uJrZNvuS9DVHmLvG9td3fDLi")},
	})
	require.ErrorIs(t, err, context.Canceled)
}
