package domain

import "time"

// LifecycleStage names a transition in a symbol's trade cycle.
type LifecycleStage string

const (
	StageSignal           LifecycleStage = "signal"
	StageEntryPlaced      LifecycleStage = "entry_placed"
	StageEntryFinal       LifecycleStage = "entry_final"
	StageTakeProfitPlaced LifecycleStage = "tp_placed"
	StageTakeProfitFailed LifecycleStage = "tp_placement_failed"
	StageTakeProfitFinal  LifecycleStage = "tp_final"
	StageDensityBroken    LifecycleStage = "density_broken"
	StageEmergencyExit    LifecycleStage = "emergency_exit"
	StageCycleAborted     LifecycleStage = "cycle_aborted"
	StagePanic            LifecycleStage = "panic"
	StageStarted          LifecycleStage = "started"
	StageStopped          LifecycleStage = "stopped"
	StageError            LifecycleStage = "error"
)

// LifecycleEvent is one journal record emitted by the engine.
type LifecycleEvent struct {
	Stage   LifecycleStage `json:"stage"`
	Symbol  string         `json:"symbol,omitempty"`
	OrderID string         `json:"order_id,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
}

// Channels and streams used on the signal bus.
const (
	ChannelLifecycle  = "ch:lifecycle"
	ChannelOrder      = "ch:order"
	ChannelTrade      = "ch:trade"
	ChannelSignal     = "ch:signal"
	ChannelBookPrefix = "ch:book:"
	StreamLifecycle   = "stream:lifecycle"
)
