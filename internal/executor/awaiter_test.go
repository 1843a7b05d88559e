package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(id string, st domain.OrderStatus) domain.OrderUpdate {
	return domain.OrderUpdate{OrderID: id, Symbol: "X", Side: domain.SideBuy, Status: st}
}

type result struct {
	u   domain.OrderUpdate
	err error
}

func waitAsync(a *Awaiter, ctx context.Context, id string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		u, err := a.WaitFinal(ctx, id)
		ch <- result{u, err}
	}()
	return ch
}

func waitRegistered(t *testing.T, a *Awaiter, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return a.Pending() == n }, time.Second, time.Millisecond)
}

func TestNonTerminalLeavesWaitOpenAndTerminalResolvesOnce(t *testing.T) {
	a := NewAwaiter(time.Minute)
	res := waitAsync(a, context.Background(), "o1")
	waitRegistered(t, a, 1)

	a.OnOrderUpdate(update("o1", domain.OrderStatusNew))
	a.OnOrderUpdate(update("o1", domain.OrderStatusPartiallyFilled))
	select {
	case <-res:
		t.Fatal("non-terminal update resolved the wait")
	case <-time.After(20 * time.Millisecond):
	}

	a.OnOrderUpdate(update("o1", domain.OrderStatusFilled))
	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, domain.OrderStatusFilled, r.u.Status)
	assert.Equal(t, 0, a.Pending())

	// a second terminal update must not panic or resurrect the handle
	a.OnOrderUpdate(update("o1", domain.OrderStatusCanceled))
	assert.Equal(t, 0, a.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.WaitFinal(ctx, "o1")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "consumed update is not handed out twice")
}

func TestCancelledWaitIsRemoved(t *testing.T) {
	a := NewAwaiter(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	res := waitAsync(a, ctx, "o2")
	waitRegistered(t, a, 1)

	cancel()
	r := <-res
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, 0, a.Pending())
}

func TestSharedHandleSurvivesOneCallerLeaving(t *testing.T) {
	a := NewAwaiter(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	first := waitAsync(a, ctx, "o3")
	second := waitAsync(a, context.Background(), "o3")
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		w, ok := a.waiting["o3"]
		return ok && w.refs == 2
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, (<-first).err, context.Canceled)

	a.OnOrderUpdate(update("o3", domain.OrderStatusRejected))
	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, domain.OrderStatusRejected, r.u.Status)
}

func TestTerminalBeforeWaitIsDelivered(t *testing.T) {
	a := NewAwaiter(time.Minute)
	a.OnOrderUpdate(update("fast", domain.OrderStatusFilled))

	u, err := a.WaitFinal(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, u.Status)
}

func TestEarlyUpdateExpires(t *testing.T) {
	a := NewAwaiter(time.Second)
	now := time.Now()
	a.now = func() time.Time { return now }
	a.OnOrderUpdate(update("late", domain.OrderStatusExpired))

	now = now.Add(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.WaitFinal(ctx, "late")
	assert.Error(t, err)
}

func TestConcurrentResolution(t *testing.T) {
	a := NewAwaiter(time.Minute)
	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			u, err := a.WaitFinal(context.Background(), id)
			assert.NoError(t, err)
			assert.Equal(t, id, u.OrderID)
		}(id)
	}
	waitRegistered(t, a, len(ids))
	for _, id := range ids {
		a.OnOrderUpdate(update(id, domain.OrderStatusFilled))
		a.OnOrderUpdate(update(id, domain.OrderStatusFilled))
	}
	wg.Wait()
}

func TestDedup(t *testing.T) {
	d := NewDedup(50 * time.Millisecond)
	assert.False(t, d.IsDuplicate("t1"))
	assert.True(t, d.IsDuplicate("t1"))
	assert.False(t, d.IsDuplicate("t2"))
	time.Sleep(60 * time.Millisecond)
	assert.False(t, d.IsDuplicate("t1"))
}
