// Package service holds the application services that sit between the
// scalper engine and the outer infrastructure.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/metrics"
)

// DefaultJournalQueue is the event buffer used when none is configured.
const DefaultJournalQueue = 1024

// Alerter forwards important events to operators.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// alertStages are the lifecycle stages that page an operator.
var alertStages = map[domain.LifecycleStage]bool{
	domain.StagePanic:            true,
	domain.StageEmergencyExit:    true,
	domain.StageTakeProfitFailed: true,
	domain.StageError:            true,
}

type journalItem struct {
	event   *domain.LifecycleEvent
	channel string
	payload any
}

// JournalSinks are the journal's outputs. Any of them may be nil.
type JournalSinks struct {
	Bus    domain.SignalBus
	Audit  domain.AuditStore
	Alerts Alerter
}

// Journal fans lifecycle events, order updates and trades out to the
// signal bus, the audit log and the alerter. Producers
// never block: when the queue is full the item is dropped and counted.
type Journal struct {
	bus     domain.SignalBus
	audit   domain.AuditStore
	alerts  Alerter
	queue   chan journalItem
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewJournal creates a Journal with a queue of the given size.
func NewJournal(queueSize int, sinks JournalSinks, m *metrics.Registry, logger *slog.Logger) *Journal {
	if queueSize <= 0 {
		queueSize = DefaultJournalQueue
	}
	return &Journal{
		bus:     sinks.Bus,
		audit:   sinks.Audit,
		alerts:  sinks.Alerts,
		queue:   make(chan journalItem, queueSize),
		metrics: m,
		logger:  logger.With(slog.String("component", "journal")),
	}
}

// Record implements domain.EventSink.
func (j *Journal) Record(ev domain.LifecycleEvent) {
	j.enqueue(journalItem{event: &ev})
}

// OnOrderUpdate mirrors an order update onto the order channel.
func (j *Journal) OnOrderUpdate(u domain.OrderUpdate) {
	j.enqueue(journalItem{channel: domain.ChannelOrder, payload: u})
}

// OnTrade mirrors a trade onto the trade channel.
func (j *Journal) OnTrade(t domain.TradeUpdate) {
	j.enqueue(journalItem{channel: domain.ChannelTrade, payload: t})
}

func (j *Journal) enqueue(it journalItem) {
	select {
	case j.queue <- it:
	default:
		j.metrics.JournalDrop()
		j.logger.Warn("journal queue full, item dropped")
	}
}

// Run drains the queue until ctx is cancelled.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case it := <-j.queue:
			if it.event != nil {
				j.handleEvent(ctx, *it.event)
				continue
			}
			j.publish(ctx, it.channel, it.payload)
		}
	}
}

func (j *Journal) handleEvent(ctx context.Context, ev domain.LifecycleEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		j.logger.Error("marshal lifecycle event", slog.String("error", err.Error()))
		return
	}

	if j.bus != nil {
		channel := domain.ChannelLifecycle
		if ev.Stage == domain.StageSignal {
			channel = domain.ChannelSignal
		}
		if err := j.bus.Publish(ctx, channel, payload); err != nil {
			j.logger.Warn("publish lifecycle event failed",
				slog.String("stage", string(ev.Stage)),
				slog.String("error", err.Error()),
			)
		}
		if err := j.bus.StreamAppend(ctx, domain.StreamLifecycle, payload); err != nil {
			j.logger.Warn("append lifecycle stream failed",
				slog.String("stage", string(ev.Stage)),
				slog.String("error", err.Error()),
			)
		}
	}

	if j.audit != nil {
		detail := make(map[string]any, len(ev.Detail)+2)
		for k, v := range ev.Detail {
			detail[k] = v
		}
		if ev.Symbol != "" {
			detail["symbol"] = ev.Symbol
		}
		if ev.OrderID != "" {
			detail["order_id"] = ev.OrderID
		}
		if err := j.audit.Log(ctx, "scalper."+string(ev.Stage), detail); err != nil {
			j.logger.Warn("audit log failed",
				slog.String("stage", string(ev.Stage)),
				slog.String("error", err.Error()),
			)
		}
	}

	if j.alerts != nil && alertStages[ev.Stage] {
		title, message := alertText(ev)
		if err := j.alerts.Notify(ctx, string(ev.Stage), title, message); err != nil {
			j.logger.Warn("alert failed",
				slog.String("stage", string(ev.Stage)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (j *Journal) publish(ctx context.Context, channel string, payload any) {
	if j.bus == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		j.logger.Error("marshal bus payload", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := j.bus.Publish(ctx, channel, b); err != nil {
		j.logger.Warn("publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// alertText renders an event as a title and a key=value body with keys in
// sorted order.
func alertText(ev domain.LifecycleEvent) (string, string) {
	title := "scalper " + strings.ReplaceAll(string(ev.Stage), "_", " ")
	if ev.Symbol != "" {
		title += ": " + ev.Symbol
	}
	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	if ev.OrderID != "" {
		fmt.Fprintf(&b, "order_id=%s\n", ev.OrderID)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v\n", k, ev.Detail[k])
	}
	fmt.Fprintf(&b, "at=%s", ev.At.Format("2006-01-02T15:04:05.000Z07:00"))
	return title, b.String()
}

var _ domain.EventSink = (*Journal)(nil)
