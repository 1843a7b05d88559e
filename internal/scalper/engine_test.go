package scalper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/executor"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type placement struct {
	id       string
	side     domain.Side
	qty      decimal.Decimal
	price    decimal.Decimal
	market   bool
	clientID string
}

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	placed    []placement
	cancelled []string
	limitErr  func(n int) error
	cancelErr func(id string) error
}

func (g *fakeGateway) PlaceLimit(_ context.Context, _ string, side domain.Side, qty, price decimal.Decimal, cid string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limitErr != nil {
		if err := g.limitErr(len(g.placed)); err != nil {
			return "", err
		}
	}
	g.seq++
	id := fmt.Sprintf("ord-%d", g.seq)
	g.placed = append(g.placed, placement{id: id, side: side, qty: qty, price: price, clientID: cid})
	return id, nil
}

func (g *fakeGateway) PlaceMarket(_ context.Context, _ string, side domain.Side, qty decimal.Decimal, cid string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("ord-%d", g.seq)
	g.placed = append(g.placed, placement{id: id, side: side, qty: qty, market: true, clientID: cid})
	return id, nil
}

func (g *fakeGateway) Cancel(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	if g.cancelErr != nil {
		return g.cancelErr(id)
	}
	return nil
}

func (g *fakeGateway) placements() []placement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]placement(nil), g.placed...)
}

func (g *fakeGateway) cancels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type fakeBooks struct {
	mu    sync.Mutex
	snaps map[string]domain.OrderBookSnapshot
}

func (b *fakeBooks) set(snap domain.OrderBookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snaps == nil {
		b.snaps = make(map[string]domain.OrderBookSnapshot)
	}
	b.snaps[snap.Symbol] = snap
}

func (b *fakeBooks) Snapshot(symbol string, _ int) (domain.OrderBookSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.snaps[symbol]
	return s, ok
}

type fakeLiquidity struct {
	snap domain.LiquiditySnapshot
	ok   bool
}

func (f fakeLiquidity) TryGet(string, time.Time, int) (domain.LiquiditySnapshot, bool) {
	return f.snap, f.ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (s *recordingSink) Record(ev domain.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) has(stage domain.LifecycleStage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Stage == stage {
			return true
		}
	}
	return false
}

func scenarioBook() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Symbol:    "X",
		Timestamp: time.Now(),
		Bids:      []domain.Level{{Price: d("100.00"), Size: d("5000")}},
		Asks:      []domain.Level{{Price: d("100.10"), Size: d("4000")}},
	}
}

func scenarioSettings() domain.ScalperSettings {
	s := domain.DefaultScalperSettings()
	s.Qty = d("1")
	s.OrderQtyIsLots = true
	s.DensityCoef = d("1")
	s.MinDayVolumeShares = d("100")
	s.OrderBookSizeIsLots = false
	s.EntryOffsetTicks = 1
	s.TakeProfitPct = d("0.001")
	s.BreakFactor = d("0.5")
	s.CooldownMs = 0
	s.BreakCheckMs = 5
	return s
}

type harness struct {
	engine  *Engine
	gateway *fakeGateway
	books   *fakeBooks
	awaiter *executor.Awaiter
	sink    *recordingSink
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		gateway: &fakeGateway{},
		books:   &fakeBooks{},
		awaiter: executor.NewAwaiter(0),
		sink:    &recordingSink{},
	}
	h.books.set(scenarioBook())
	liq := fakeLiquidity{ok: true, snap: domain.LiquiditySnapshot{
		LotSize:               d("1"),
		DayVolumeShares:       d("50000"),
		PriceStep:             d("0.05"),
		ElapsedTradingMinutes: decimal.NewFromInt(100),
		AvgWindowVolumeShares: d("1000"),
	}}
	opts.Sink = h.sink
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = New(h.gateway, h.books, liq, h.awaiter, opts, logger)
	t.Cleanup(func() {
		_ = h.engine.Stop()
		h.engine.Wait()
	})
	return h
}

func (h *harness) waitPlacements(t *testing.T, n int) []placement {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.gateway.placements()) >= n }, 2*time.Second, 2*time.Millisecond)
	return h.gateway.placements()
}

func (h *harness) waitIdle(t *testing.T, symbol string) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.engine.session(symbol).inFlight() }, 2*time.Second, 2*time.Millisecond)
}

func (h *harness) waitTracked(t *testing.T, symbol string) {
	t.Helper()
	require.Eventually(t, func() bool {
		entry, _ := h.engine.session(symbol).openOrders()
		return entry != ""
	}, 2*time.Second, 2*time.Millisecond)
}

func (h *harness) fill(id string, status domain.OrderStatus) {
	h.awaiter.OnOrderUpdate(domain.OrderUpdate{OrderID: id, Symbol: "X", Status: status})
}

func TestCooldownAdmitsOncePerWindow(t *testing.T) {
	s := newSymbolSession("X")
	t0 := time.Unix(1_700_000_000, 0)
	cooldown := 2000 * time.Millisecond

	assert.True(t, s.tryEnterCooldown(t0, cooldown))
	assert.False(t, s.tryEnterCooldown(t0.Add(1999*time.Millisecond), cooldown))
	assert.True(t, s.tryEnterCooldown(t0.Add(2000*time.Millisecond), cooldown))
}

func TestCooldownIsAtomicUnderContention(t *testing.T) {
	s := newSymbolSession("X")
	now := time.Now()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.tryEnterCooldown(now, time.Minute) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestStartStopTransitions(t *testing.T) {
	h := newHarness(t, Options{})
	require.ErrorIs(t, h.engine.Stop(), domain.ErrNotRunning)
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))
	assert.True(t, h.engine.Running())
	require.ErrorIs(t, h.engine.Start(context.Background(), scenarioSettings()), domain.ErrAlreadyRunning)
	require.NoError(t, h.engine.Stop())
	assert.False(t, h.engine.Running())
	assert.True(t, h.sink.has(domain.StageStarted))
	assert.True(t, h.sink.has(domain.StageStopped))
}

func TestSnapshotIgnoredWhileStopped(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.HandleSnapshot(scenarioBook())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.gateway.placements())

	err := h.engine.ManualTest("X", domain.SideBuy)
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestFullCycleEntryThenTakeProfit(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	placed := h.waitPlacements(t, 1)
	entry := placed[0]
	assert.Equal(t, domain.SideBuy, entry.side)
	assert.True(t, entry.price.Equal(d("100.05")), "entry price %s", entry.price)
	assert.True(t, entry.qty.Equal(d("1")))
	assert.Equal(t, byte('E'), entry.clientID[0])

	h.fill(entry.id, domain.OrderStatusFilled)
	placed = h.waitPlacements(t, 2)
	tp := placed[1]
	assert.Equal(t, domain.SideSell, tp.side)
	// 100.05 * 1.001 = 100.15005, rounded up to the 0.05 grid.
	assert.True(t, tp.price.Equal(d("100.20")), "tp price %s", tp.price)
	assert.Equal(t, byte('T'), tp.clientID[0])

	h.fill(tp.id, domain.OrderStatusFilled)
	h.waitIdle(t, "X")

	assert.Len(t, h.gateway.placements(), 2)
	assert.Empty(t, h.gateway.cancels())
	assert.True(t, h.sink.has(domain.StageTakeProfitFinal))
	st := h.engine.Status()
	require.Len(t, st.Sessions, 1)
	assert.Empty(t, st.Sessions[0].EntryOrderID)
	assert.Empty(t, st.Sessions[0].TPOrderID)
	assert.Nil(t, st.Sessions[0].Cluster)
}

func TestUnfilledEntryEndsCycle(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	entry := h.waitPlacements(t, 1)[0]
	h.fill(entry.id, domain.OrderStatusCanceled)
	h.waitIdle(t, "X")

	assert.Len(t, h.gateway.placements(), 1)
	assert.True(t, h.sink.has(domain.StageEntryFinal))
	assert.False(t, h.sink.has(domain.StageTakeProfitPlaced))
}

func TestDensityBreakTriggersEmergencyExit(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	entry := h.waitPlacements(t, 1)[0]
	h.fill(entry.id, domain.OrderStatusFilled)
	tp := h.waitPlacements(t, 2)[1]

	shrunk := scenarioBook()
	shrunk.Bids = []domain.Level{{Price: d("100.00"), Size: d("2000")}}
	h.books.set(shrunk)

	exit := h.waitPlacements(t, 3)[2]
	assert.True(t, exit.market)
	assert.Equal(t, domain.SideSell, exit.side)
	assert.True(t, exit.qty.Equal(d("1")))
	assert.Equal(t, byte('X'), exit.clientID[0])
	assert.Equal(t, []string{tp.id}, h.gateway.cancels())

	h.waitIdle(t, "X")
	assert.True(t, h.sink.has(domain.StageDensityBroken))
	assert.True(t, h.sink.has(domain.StageEmergencyExit))
}

func TestEmergencyExitPlacedWhenCancelFails(t *testing.T) {
	h := newHarness(t, Options{})
	h.gateway.cancelErr = func(string) error { return errors.New("broker unavailable") }
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	entry := h.waitPlacements(t, 1)[0]
	h.fill(entry.id, domain.OrderStatusFilled)
	tp := h.waitPlacements(t, 2)[1]

	shrunk := scenarioBook()
	shrunk.Bids = nil
	h.books.set(shrunk)

	exit := h.waitPlacements(t, 3)[2]
	assert.True(t, exit.market)
	assert.Equal(t, domain.SideSell, exit.side)
	assert.Equal(t, byte('X'), exit.clientID[0])
	assert.Equal(t, []string{tp.id}, h.gateway.cancels())

	h.waitIdle(t, "X")
	assert.True(t, h.sink.has(domain.StageEmergencyExit))
	_, tpID := h.engine.session("X").openOrders()
	assert.Equal(t, tp.id, tpID, "take-profit stays tracked after a failed cancel")
}

func TestSecondSignalDroppedWhileCycleInFlight(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	h.waitPlacements(t, 1)
	h.engine.HandleSnapshot(scenarioBook())
	h.engine.HandleSnapshot(scenarioBook())
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, h.gateway.placements(), 1)
}

func TestPanicCancelsOpenOrders(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	entry := h.waitPlacements(t, 1)[0]
	h.waitTracked(t, "X")

	report := h.engine.Panic(context.Background())
	assert.False(t, h.engine.Running())
	assert.Equal(t, []string{entry.id}, report.Cancelled)
	assert.Empty(t, report.Failed)
	assert.Contains(t, h.gateway.cancels(), entry.id)
	assert.True(t, h.sink.has(domain.StagePanic))

	h.engine.Wait()
	h.engine.HandleSnapshot(scenarioBook())
	assert.Len(t, h.gateway.placements(), 1)
}

func TestPanicContinuesPastFailedCancel(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.session("X").setEntry("ord-a")
	h.engine.session("Y").setTakeProfit("ord-b")
	h.gateway.cancelErr = func(id string) error {
		if id == "ord-a" {
			return errors.New("timeout")
		}
		return nil
	}

	report := h.engine.Panic(context.Background())
	assert.Equal(t, []string{"ord-b"}, report.Cancelled)
	assert.Contains(t, report.Failed, "ord-a")
	assert.ElementsMatch(t, []string{"ord-a", "ord-b"}, h.gateway.cancels())

	entry, _ := h.engine.session("X").openOrders()
	assert.Equal(t, "ord-a", entry)
	_, tp := h.engine.session("Y").openOrders()
	assert.Empty(t, tp)

	h.gateway.mu.Lock()
	h.gateway.cancelErr = nil
	h.gateway.mu.Unlock()
	report = h.engine.Panic(context.Background())
	assert.Equal(t, []string{"ord-a"}, report.Cancelled)
	assert.Empty(t, report.Failed)
	entry, _ = h.engine.session("X").openOrders()
	assert.Empty(t, entry)
}

func TestManualTestPricesAwayFromTouch(t *testing.T) {
	tests := []struct {
		side domain.Side
		want string
	}{
		{domain.SideBuy, "98"},     // 100.00 * 0.98
		{domain.SideSell, "102.1"}, // 100.10 * 1.02 = 102.102
	}
	for _, tc := range tests {
		t.Run(string(tc.side), func(t *testing.T) {
			h := newHarness(t, Options{})
			require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

			require.NoError(t, h.engine.ManualTest("X", tc.side))
			entry := h.waitPlacements(t, 1)[0]
			assert.Equal(t, tc.side, entry.side)
			assert.True(t, entry.price.Equal(d(tc.want)), "price %s", entry.price)

			require.ErrorIs(t, h.engine.ManualTest("X", tc.side), domain.ErrCycleInFlight)
		})
	}
}

func TestManualTestPreconditions(t *testing.T) {
	h := newHarness(t, Options{})
	require.ErrorIs(t, h.engine.ManualTest("X", domain.SideBuy), domain.ErrNotRunning)

	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))
	require.ErrorIs(t, h.engine.ManualTest("Y", domain.SideBuy), domain.ErrNoSnapshot)

	oneSided := scenarioBook()
	oneSided.Asks = nil
	h.books.set(oneSided)
	require.ErrorIs(t, h.engine.ManualTest("X", domain.SideBuy), domain.ErrNoTopOfBook)
	assert.Empty(t, h.gateway.placements())
}

func TestFractionalShareQuantityAborts(t *testing.T) {
	h := newHarness(t, Options{})
	s := scenarioSettings()
	s.Qty = d("0.5")
	s.OrderQtyIsLots = false
	require.NoError(t, h.engine.Start(context.Background(), s))

	h.engine.HandleSnapshot(scenarioBook())
	require.Eventually(t, func() bool { return h.sink.has(domain.StageCycleAborted) }, time.Second, 2*time.Millisecond)
	h.waitIdle(t, "X")
	assert.Empty(t, h.gateway.placements())
}

func TestTakeProfitPlacementFailureIsReported(t *testing.T) {
	h := newHarness(t, Options{})
	h.gateway.limitErr = func(n int) error {
		if n == 1 {
			return errors.New("rejected")
		}
		return nil
	}
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	entry := h.waitPlacements(t, 1)[0]
	h.fill(entry.id, domain.OrderStatusFilled)

	require.Eventually(t, func() bool { return h.sink.has(domain.StageTakeProfitFailed) }, time.Second, 2*time.Millisecond)
	h.waitIdle(t, "X")
	assert.Len(t, h.gateway.placements(), 1)
}

func TestSignalOnlyModeDoesNotTrade(t *testing.T) {
	h := newHarness(t, Options{SignalOnly: true})
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	assert.True(t, h.sink.has(domain.StageSignal))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.gateway.placements())

	require.ErrorIs(t, h.engine.ManualTest("X", domain.SideBuy), domain.ErrSignalOnly)
}

func TestStopCancelsLifecycleWaits(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.Start(context.Background(), scenarioSettings()))

	h.engine.HandleSnapshot(scenarioBook())
	entry := h.waitPlacements(t, 1)[0]
	h.waitTracked(t, "X")
	require.NoError(t, h.engine.Stop())
	h.engine.Wait()

	entryID, _ := h.engine.session("X").openOrders()
	assert.Equal(t, entry.id, entryID, "order stays tracked for a later panic")
	assert.Zero(t, h.awaiter.Pending())
}

func TestDensityBroken(t *testing.T) {
	cluster := domain.DensitySignal{Symbol: "X", Side: domain.SideBuy, Price: d("100"), Size: d("1000")}
	book := func(size string) domain.OrderBookSnapshot {
		return domain.OrderBookSnapshot{Bids: []domain.Level{{Price: d("100"), Size: d(size)}}}
	}
	assert.False(t, densityBroken(book("1000"), cluster, d("0.5")))
	assert.False(t, densityBroken(book("500"), cluster, d("0.5")))
	assert.True(t, densityBroken(book("499"), cluster, d("0.5")))
	assert.True(t, densityBroken(domain.OrderBookSnapshot{}, cluster, d("0.5")))

	sell := cluster
	sell.Side = domain.SideSell
	assert.True(t, densityBroken(book("1000"), sell, d("0.5")), "level on the other side does not count")
}

func TestTakeProfitPrice(t *testing.T) {
	assert.True(t, takeProfitPrice(domain.SideBuy, d("100.05"), d("0.001"), d("0.05")).Equal(d("100.20")))
	assert.True(t, takeProfitPrice(domain.SideSell, d("100.00"), d("0.001"), d("0.05")).Equal(d("99.90")))
	assert.True(t, takeProfitPrice(domain.SideSell, d("100.07"), d("0.001"), d("0.05")).Equal(d("99.95")))
}

func TestOrderShares(t *testing.T) {
	s := scenarioSettings()
	s.Qty = d("3")
	qty, ok := orderShares(s, d("10"))
	require.True(t, ok)
	assert.True(t, qty.Equal(d("30")))

	_, ok = orderShares(s, decimal.Zero)
	assert.False(t, ok)

	s.OrderQtyIsLots = false
	s.Qty = d("2.5")
	_, ok = orderShares(s, d("1"))
	assert.False(t, ok)
}
