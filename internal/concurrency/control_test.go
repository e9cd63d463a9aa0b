package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActor_RunsTasksInOrder(t *testing.T) {
	a := NewActor("test", nil)
	defer a.Close(context.Background())

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		a.Run(func() { got = append(got, i) })
	}
	n, err := Call(context.Background(), a, func() (int, error) { return len(got), nil })
	require.NoError(t, err)
	require.Equal(t, 100, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestActor_CloseDrainsAndRejects(t *testing.T) {
	a := NewActor("test", nil)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		a.Run(func() { ran.Add(1) })
	}
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, int32(10), ran.Load())

	err := a.Submit(func() {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, a.Closed())
}

func TestActor_SurvivesPanickingTask(t *testing.T) {
	var recovered atomic.Value
	a := NewActor("test", func(_ string, r any) { recovered.Store(r) })
	defer a.Close(context.Background())

	a.Run(func() { panic("boom") })
	v, err := Call(context.Background(), a, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, "boom", recovered.Load())
}

func TestRunOnCompletion_PendingFuture(t *testing.T) {
	a := NewActor("test", nil)
	defer a.Close(context.Background())

	f := NewFuture[int]()
	got := make(chan int, 1)
	RunOnCompletion(a, f, func(v int, err error) { got <- v })

	f.Complete(42, nil)
	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("callback not executed")
	}
}

func TestInline_CompletedFutureRunsSynchronously(t *testing.T) {
	var ctl Inline
	var got error
	RunOnCompletion(&ctl, Failed[struct{}](errors.New("expected")), func(_ struct{}, err error) { got = err })
	require.EqualError(t, got, "expected")
}

func TestInline_NestedTasksKeepFIFO(t *testing.T) {
	var ctl Inline
	var order []string
	ctl.Run(func() {
		order = append(order, "outer-start")
		ctl.Run(func() { order = append(order, "nested") })
		order = append(order, "outer-end")
	})
	assert.Equal(t, []string{"outer-start", "outer-end", "nested"}, order)
}

func TestFuture_CompleteOnlyOnce(t *testing.T) {
	f := NewFuture[string]()
	assert.True(t, f.Complete("a", nil))
	assert.False(t, f.Complete("b", errors.New("late")))
	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := NewFuture[int]().Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
