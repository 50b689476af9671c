// Package sim implements the harbor world simulation kernel: the entity
// model, the deterministic event system, per-tick market pricing, the rules
// engine for agent actions, and tick orchestration with state hashing.
package sim

import (
	"errors"
	"fmt"
	"time"
)

// Region is one of the fixed world locations an agent can occupy.
type Region string

const (
	RegionDock   Region = "dock"
	RegionMarket Region = "market"
	RegionMine   Region = "mine"
	RegionForest Region = "forest"
)

// Regions lists all regions in canonical order.
var Regions = []Region{RegionDock, RegionMarket, RegionMine, RegionForest}

// ErrUnknownRegion is returned when decoding a region string that is not
// part of the wire contract.
var ErrUnknownRegion = errors.New("unknown region")

// ParseRegion decodes the canonical string form of a region.
func ParseRegion(s string) (Region, error) {
	switch Region(s) {
	case RegionDock, RegionMarket, RegionMine, RegionForest:
		return Region(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRegion, s)
}

// Resource is a tradable good.
type Resource string

const (
	ResourceIron Resource = "iron"
	ResourceWood Resource = "wood"
	ResourceFish Resource = "fish"
)

// Resources lists all resources in canonical order. Market pricing iterates
// this slice rather than a map so per-tick updates are reproducible.
var Resources = []Resource{ResourceIron, ResourceWood, ResourceFish}

// ErrUnknownResource is returned when decoding an unrecognized resource name.
var ErrUnknownResource = errors.New("unknown resource")

// ParseResource decodes the canonical string form of a resource.
func ParseResource(s string) (Resource, error) {
	switch Resource(s) {
	case ResourceIron, ResourceWood, ResourceFish:
		return Resource(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
}

// HarvestYields maps each harvestable region to the resource it produces.
var HarvestYields = map[Region]Resource{
	RegionMine:   ResourceIron,
	RegionForest: ResourceWood,
	RegionDock:   ResourceFish,
}

// Agent is a participant in the world, keyed by wallet address.
type Agent struct {
	Wallet     string           `json:"wallet"`
	Name       string           `json:"name"`
	Region     Region           `json:"region"`
	Energy     int              `json:"energy"`
	MaxEnergy  int              `json:"max_energy"`
	Reputation int              `json:"reputation"`
	Credits    int64            `json:"credits"`
	Inventory  map[Resource]int `json:"inventory"`
	EnteredAt  uint64           `json:"entered_at"`
}

// TotalInventory returns the sum of all resource quantities the agent holds.
func (a *Agent) TotalInventory() int {
	total := 0
	for _, qty := range a.Inventory {
		total += qty
	}
	return total
}

// Clone returns a deep copy of the agent, safe to hand outside the engine.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Inventory = make(map[Resource]int, len(a.Inventory))
	for res, qty := range a.Inventory {
		cp.Inventory[res] = qty
	}
	return &cp
}

// WorldState is the singleton mutable world record owned by the Engine.
type WorldState struct {
	Tick         uint64           `json:"tick"`
	TaxRate      float64          `json:"tax_rate"`
	Prices       map[Resource]int `json:"market_prices"`
	ActiveEvents []WorldEvent     `json:"active_events"`
	StateHash    string           `json:"state_hash"`
}

// EventType is one of the fixed world event kinds.
type EventType string

const (
	EventStorm        EventType = "storm"
	EventPirates      EventType = "pirates"
	EventTradeBoom    EventType = "trade_boom"
	EventMineCollapse EventType = "mine_collapse"
	EventFestival     EventType = "festival"
	EventPlague       EventType = "plague"
)

// EventKinds lists all event kinds in canonical order. Trigger checks iterate
// this slice so the seeded generator is consumed in a fixed sequence.
var EventKinds = []EventType{
	EventStorm, EventPirates, EventTradeBoom,
	EventMineCollapse, EventFestival, EventPlague,
}

// WorldEvent is an active world event. Created at tick boundaries, dropped
// once StartedTick+Duration <= current tick, never otherwise mutated.
type WorldEvent struct {
	ID          string    `json:"event_id"`
	Type        EventType `json:"event_type"`
	StartedTick uint64    `json:"started_tick"`
	Duration    uint64    `json:"duration"`
	Description string    `json:"description"`
}

// Expired reports whether the event has run out at the given tick.
func (e WorldEvent) Expired(tick uint64) bool {
	return e.StartedTick+e.Duration <= tick
}

// Remaining returns how many ticks the event has left.
func (e WorldEvent) Remaining(tick uint64) uint64 {
	end := e.StartedTick + e.Duration
	if end <= tick {
		return 0
	}
	return end - tick
}

// Effects is the aggregate numeric impact of all active events.
type Effects struct {
	HarvestModifier    float64 `json:"harvest_modifier"`
	PriceModifier      float64 `json:"price_modifier"`
	APRecoveryModifier float64 `json:"ap_recovery_modifier"`
	DangerLevel        int     `json:"danger_level"`
}

// LedgerEntry records one action resolution, success or failure.
type LedgerEntry struct {
	ID        string         `json:"id"`
	Tick      uint64         `json:"tick"`
	Timestamp time.Time      `json:"timestamp"`
	Wallet    string         `json:"wallet"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	StateHash string         `json:"state_hash"`
}

// Snapshot is the persisted form of the world state handed to storage.
type Snapshot struct {
	Tick      uint64           `json:"tick"`
	StateHash string           `json:"state_hash"`
	Prices    map[Resource]int `json:"prices"`
	Events    []WorldEvent     `json:"events"`
}

// Storage is the persistence collaborator. Implementations must tolerate
// being called rarely or not at all; the engine tolerates every method
// failing and continues in-memory-only.
type Storage interface {
	SaveAgent(a *Agent) error
	SaveSnapshot(snap Snapshot) error
	LoadAgents() ([]*Agent, error)
	LoadLatestSnapshot() (*Snapshot, error)
	AppendLedger(e LedgerEntry) error
}

// PriceFeed is the optional external price-modifier collaborator. A nil feed
// or a missing resource means a neutral 1.0 multiplier.
type PriceFeed interface {
	PriceModifiers() map[Resource]float64
}
