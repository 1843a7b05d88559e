// Package liquidity estimates per-symbol traded volume over a rolling window
// from instrument metadata, the session schedule and live day volume.
package liquidity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/shopspring/decimal"
)

// Source is the broker surface the provider warms itself from.
type Source interface {
	Asset(ctx context.Context, accountID, symbol string) (domain.AssetInfo, error)
	Schedule(ctx context.Context, symbol string) ([]domain.Session, error)
	LastQuote(ctx context.Context, symbol string) (domain.Quote, error)
	StreamQuotes(ctx context.Context, symbols []string, fn func(domain.Quote)) error
}

// Fallback trading day used when the schedule cannot be loaded, as offsets
// from 00:00 UTC of the lookup date.
const (
	fallbackOpen  = 7 * time.Hour
	fallbackClose = 15*time.Hour + 45*time.Minute
)

// Config tunes the provider.
type Config struct {
	DefaultBoard   string
	ReconnectDelay time.Duration
}

// Provider implements domain.LiquiditySource.
type Provider struct {
	src    Source
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	lots     map[string]decimal.Decimal
	steps    map[string]decimal.Decimal
	volumes  map[string]decimal.Decimal
	sessions map[string][]domain.Session
	fallback map[string]bool
}

// NewProvider creates a Provider reading from src.
func NewProvider(src Source, cfg Config, logger *slog.Logger) *Provider {
	if cfg.DefaultBoard == "" {
		cfg.DefaultBoard = "MISX"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 300 * time.Millisecond
	}
	return &Provider{
		src:      src,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "liquidity")),
		lots:     make(map[string]decimal.Decimal),
		steps:    make(map[string]decimal.Decimal),
		volumes:  make(map[string]decimal.Decimal),
		sessions: make(map[string][]domain.Session),
		fallback: make(map[string]bool),
	}
}

// Normalize upper-cases a symbol and appends the default board when the
// symbol carries none.
func Normalize(symbol, board string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.Contains(s, "@") {
		return s
	}
	return s + "@" + strings.ToUpper(board)
}

// Normalize applies the provider's default board.
func (p *Provider) Normalize(symbol string) string {
	return Normalize(symbol, p.cfg.DefaultBoard)
}

// Start warms metadata for every symbol in the background, then keeps day
// volume current from the quote stream until ctx is cancelled.
func (p *Provider) Start(ctx context.Context, accountID string, symbols []string) error {
	syms := p.dedupe(symbols)
	if len(syms) == 0 {
		return nil
	}
	go p.warmUp(ctx, accountID, syms)
	return p.runQuoteStream(ctx, syms)
}

func (p *Provider) dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := p.Normalize(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (p *Provider) warmUp(ctx context.Context, accountID string, symbols []string) {
	for _, s := range symbols {
		if ctx.Err() != nil {
			return
		}
		p.loadAsset(ctx, accountID, s)
		p.loadSchedule(ctx, s)
		p.seedVolume(ctx, s)
	}
}

func (p *Provider) loadAsset(ctx context.Context, accountID, symbol string) {
	info, err := p.src.Asset(ctx, accountID, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("asset metadata load failed, using lot 1",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		info = domain.AssetInfo{}
	}
	lot := info.LotSize
	if !lot.IsPositive() {
		lot = decimal.NewFromInt(1)
	}
	step := info.PriceStep
	if !step.IsPositive() {
		if err == nil {
			p.logger.Warn("price step not available, deriving from book", slog.String("symbol", symbol))
		}
		step = decimal.Zero
	}

	p.mu.Lock()
	p.lots[symbol] = lot
	p.steps[symbol] = step
	p.mu.Unlock()
}

func (p *Provider) loadSchedule(ctx context.Context, symbol string) {
	sessions, err := p.src.Schedule(ctx, symbol)
	if err != nil && ctx.Err() != nil {
		return
	}
	valid := sessions[:0:0]
	for _, s := range sessions {
		if s.End.After(s.Start) {
			valid = append(valid, domain.Session{Start: s.Start.UTC(), End: s.End.UTC()})
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil || len(valid) == 0 {
		attrs := []any{slog.String("symbol", symbol)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		p.logger.Warn("schedule unavailable, using fallback session", attrs...)
		p.fallback[symbol] = true
		delete(p.sessions, symbol)
		return
	}
	p.sessions[symbol] = valid
	delete(p.fallback, symbol)
}

func (p *Provider) seedVolume(ctx context.Context, symbol string) {
	q, err := p.src.LastQuote(ctx, symbol)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("day volume seed failed",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
		return
	}
	p.SetDayVolume(symbol, q.DayVolume)
	p.logger.Debug("day volume seeded", slog.String("symbol", symbol), slog.String("volume", q.DayVolume.String()))
}

// SetDayVolume records the latest day volume for symbol.
func (p *Provider) SetDayVolume(symbol string, vol decimal.Decimal) {
	key := p.Normalize(symbol)
	p.mu.Lock()
	p.volumes[key] = vol
	p.mu.Unlock()
}

func (p *Provider) runQuoteStream(ctx context.Context, symbols []string) error {
	for {
		err := p.src.StreamQuotes(ctx, symbols, func(q domain.Quote) {
			p.SetDayVolume(q.Symbol, q.DayVolume)
		})
		if ctx.Err() != nil {
			return nil
		}
		attrs := []any{slog.String("op", "quote_stream")}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		p.logger.Warn("quote stream disconnected, reconnecting", attrs...)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.ReconnectDelay):
		}
	}
}

// TryGet derives the liquidity snapshot for symbol at now. It reports false
// when lot size, schedule or day volume is unknown, or when no trading time
// has elapsed yet.
func (p *Provider) TryGet(symbol string, now time.Time, windowMinutes int) (domain.LiquiditySnapshot, bool) {
	key := p.Normalize(symbol)

	p.mu.RLock()
	lot, okLot := p.lots[key]
	vol, okVol := p.volumes[key]
	sessions, okSes := p.sessions[key]
	fallback := p.fallback[key]
	step := p.steps[key]
	p.mu.RUnlock()

	if fallback {
		sessions, okSes = fallbackSessions(now), true
	}
	if !okLot || !okVol || !okSes {
		return domain.LiquiditySnapshot{}, false
	}

	elapsed := ElapsedTradingMinutes(sessions, now)
	if !elapsed.IsPositive() {
		return domain.LiquiditySnapshot{}, false
	}
	if windowMinutes < 1 {
		windowMinutes = 1
	}
	avg := vol.Mul(decimal.NewFromInt(int64(windowMinutes))).Div(elapsed)

	return domain.LiquiditySnapshot{
		LotSize:               lot,
		DayVolumeShares:       vol,
		PriceStep:             step,
		ElapsedTradingMinutes: elapsed,
		AvgWindowVolumeShares: avg,
	}, true
}

// ElapsedTradingMinutes sums the overlap of [start, min(now, end)] across all
// sessions that have started by now.
func ElapsedTradingMinutes(sessions []domain.Session, now time.Time) decimal.Decimal {
	var total time.Duration
	for _, s := range sessions {
		if !now.After(s.Start) {
			continue
		}
		till := s.End
		if now.Before(till) {
			till = now
		}
		if till.After(s.Start) {
			total += till.Sub(s.Start)
		}
	}
	return decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(time.Minute)))
}

func fallbackSessions(now time.Time) []domain.Session {
	n := now.UTC()
	day := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return []domain.Session{{Start: day.Add(fallbackOpen), End: day.Add(fallbackClose)}}
}

var _ domain.LiquiditySource = (*Provider)(nil)
