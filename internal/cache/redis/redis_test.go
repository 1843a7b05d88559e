package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densityscalper/internal/domain"
)

func newMock(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return Wrap(db, 500), mock
}

func TestSignalBusPublishAndAppend(t *testing.T) {
	c, mock := newMock(t)
	bus := NewSignalBus(c)
	ctx := context.Background()
	payload := []byte(`{"stage":"signal"}`)

	mock.ExpectPublish(domain.ChannelSignal, payload).SetVal(1)
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: domain.StreamLifecycle,
		MaxLen: 500,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).SetVal("1-0")

	require.NoError(t, bus.Publish(ctx, domain.ChannelSignal, payload))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamLifecycle, payload))
}

func TestSignalBusStreamRead(t *testing.T) {
	c, mock := newMock(t)
	bus := NewSignalBus(c)
	args := &redis.XReadArgs{Streams: []string{domain.StreamLifecycle, "0"}, Count: 10, Block: -1}

	mock.ExpectXRead(args).SetVal([]redis.XStream{{
		Stream: domain.StreamLifecycle,
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"payload": "a"}},
			{ID: "2-0", Values: map[string]interface{}{"other": "skip"}},
			{ID: "3-0", Values: map[string]interface{}{"payload": "c"}},
		},
	}})
	msgs, err := bus.StreamRead(context.Background(), domain.StreamLifecycle, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, []byte("c"), msgs[1].Payload)

	mock.ExpectXRead(args).RedisNil()
	msgs, err = bus.StreamRead(context.Background(), domain.StreamLifecycle, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLockAcquireAndRelease(t *testing.T) {
	c, mock := newMock(t)
	lm := NewLockManager(c)
	lm.newToken = func() string { return "tok-1" }

	mock.ExpectSetNX("lock:scalper:SBER", "tok-1", time.Minute).SetVal(true)
	mock.ExpectEvalSha(redis.NewScript(unlockLua).Hash(), []string{"lock:scalper:SBER"}, "tok-1").SetVal(int64(1))

	unlock, err := lm.Acquire(context.Background(), "scalper:SBER", time.Minute)
	require.NoError(t, err)
	unlock()
	unlock()
}

func TestLockHeld(t *testing.T) {
	c, mock := newMock(t)
	lm := NewLockManager(c)
	lm.newToken = func() string { return "tok-2" }

	mock.ExpectSetNX("lock:scalper:GAZP", "tok-2", time.Minute).SetVal(false)
	_, err := lm.Acquire(context.Background(), "scalper:GAZP", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRateLimiterAllow(t *testing.T) {
	c, mock := newMock(t)
	rl := NewRateLimiter(c)
	now := time.UnixMicro(1_700_000_000_000_000)
	rl.now = func() time.Time { return now }
	sha := redis.NewScript(slidingWindowLua).Hash()
	window := time.Minute

	mock.ExpectEvalSha(sha, []string{"ratelimit:api:1.2.3.4"}, now.UnixMicro(), window.Microseconds(), 2).
		SetVal([]interface{}{int64(1), int64(1)})
	mock.ExpectEvalSha(sha, []string{"ratelimit:api:1.2.3.4"}, now.UnixMicro(), window.Microseconds(), 2).
		SetVal([]interface{}{int64(0), int64(2)})

	ok, err := rl.Allow(context.Background(), "api:1.2.3.4", 2, window)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(context.Background(), "api:1.2.3.4", 2, window)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBookCacheGetSnapshot(t *testing.T) {
	c, mock := newMock(t)
	bc := NewBookCache(c, 0)
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectZRevRange(bookBidsKey("SBER"), 0, -1).SetVal([]string{"100.05", "100"})
	mock.ExpectZRange(bookAsksKey("SBER"), 0, -1).SetVal([]string{"100.1"})
	mock.ExpectHGetAll(bookBidSizeKey("SBER")).SetVal(map[string]string{"100.05": "10", "100": "5000"})
	mock.ExpectHGetAll(bookAskSizeKey("SBER")).SetVal(map[string]string{"100.1": "40"})
	mock.ExpectHGetAll(bookMetaKey("SBER")).SetVal(map[string]string{"ts": "1772442000000000000"})

	snap, err := bc.GetSnapshot(context.Background(), "SBER")
	require.NoError(t, err)
	assert.Equal(t, ts, snap.Timestamp)
	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("100.05")))
	assert.True(t, snap.Bids[1].Size.Equal(decimal.NewFromInt(5000)))
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Size.Equal(decimal.NewFromInt(40)))
}

func TestBookCacheMiss(t *testing.T) {
	c, mock := newMock(t)
	bc := NewBookCache(c, 0)

	mock.ExpectZRevRange(bookBidsKey("X"), 0, -1).SetVal(nil)
	mock.ExpectZRange(bookAsksKey("X"), 0, -1).SetVal(nil)
	mock.ExpectHGetAll(bookBidSizeKey("X")).SetVal(map[string]string{})
	mock.ExpectHGetAll(bookAskSizeKey("X")).SetVal(map[string]string{})
	mock.ExpectHGetAll(bookMetaKey("X")).SetVal(map[string]string{})

	_, err := bc.GetSnapshot(context.Background(), "X")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
