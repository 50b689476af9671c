// The Engine owns the canonical world state and the agent registry.
// Action resolution and tick advancement are serialized behind one mutex:
// handlers touch multiple keyed fields in a single transaction, and partial
// interleaving would break the state-hash invariant.
package sim

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// ErrAgentNotFound is returned when a wallet has no registered agent.
var ErrAgentNotFound = errors.New("agent not found")

// ledgerTail bounds the in-memory ledger; the full history lives in storage.
const ledgerTail = 1024

// Options configures a new Engine. Storage and Feed are optional
// collaborators; the kernel degrades to in-memory-only without them.
type Options struct {
	Seed    int64
	Tuning  *Tuning // nil = DefaultTuning
	Storage Storage
	Feed    PriceFeed
}

// Engine is the single-writer world simulation kernel.
type Engine struct {
	mu sync.Mutex

	tuning Tuning
	state  *WorldState
	agents map[string]*Agent
	ledger []LedgerEntry

	store Storage
	feed  PriceFeed

	// Market noise field, seeded once from the world seed. Sampling it at
	// (tick, resource) gives bounded fluctuation that replays exactly.
	noise opensimplex.Noise
}

// New creates an Engine with a fresh world at tick zero.
func New(opts Options) *Engine {
	tuning := DefaultTuning()
	if opts.Tuning != nil {
		tuning = *opts.Tuning
	}

	prices := make(map[Resource]int, len(tuning.BasePrices))
	for res, p := range tuning.BasePrices {
		prices[res] = p
	}

	e := &Engine{
		tuning: tuning,
		state: &WorldState{
			TaxRate: tuning.TaxRate,
			Prices:  prices,
		},
		agents: make(map[string]*Agent),
		store:  opts.Storage,
		feed:   opts.Feed,
		noise:  opensimplex.NewNormalized(opts.Seed),
	}
	e.recomputeStateHash()
	return e
}

// Restore loads the latest snapshot and all agents from storage. Safe to
// call with no storage configured or an empty database.
func (e *Engine) Restore() error {
	if e.store == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.LoadLatestSnapshot()
	if err != nil {
		return err
	}
	if snap != nil {
		e.state.Tick = snap.Tick
		e.state.ActiveEvents = snap.Events
		if len(snap.Prices) > 0 {
			e.state.Prices = snap.Prices
		}
	}

	loaded, err := e.store.LoadAgents()
	if err != nil {
		return err
	}
	for _, a := range loaded {
		e.agents[a.Wallet] = a
	}

	e.recomputeStateHash()
	slog.Info("world state restored", "agents", len(loaded), "tick", e.state.Tick)
	return nil
}

// Register creates an agent with default state, keyed by wallet. Registering
// an existing wallet returns the existing record unchanged.
func (e *Engine) Register(wallet, name string) *Agent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.agents[wallet]; ok {
		return existing.Clone()
	}

	agent := &Agent{
		Wallet:     wallet,
		Name:       name,
		Region:     RegionDock,
		Energy:     e.tuning.StartingEnergy,
		MaxEnergy:  e.tuning.StartingEnergy,
		Reputation: 100,
		Credits:    e.tuning.StartingCredits,
		Inventory:  make(map[Resource]int),
		EnteredAt:  e.state.Tick,
	}
	e.agents[wallet] = agent
	e.persistAgent(agent)
	e.logAction(wallet, "register", map[string]any{"name": name}, true, "Agent registered")
	return agent.Clone()
}

// Agent returns a copy of the agent for the given wallet.
func (e *Engine) Agent(wallet string) (*Agent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.agents[wallet]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent.Clone(), nil
}

// Agents returns copies of all registered agents, ordered by wallet.
func (e *Engine) Agents() []*Agent {
	e.mu.Lock()
	defer e.mu.Unlock()

	wallets := make([]string, 0, len(e.agents))
	for w := range e.agents {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	out := make([]*Agent, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, e.agents[w].Clone())
	}
	return out
}

// PublicState is the externally visible world summary.
type PublicState struct {
	Tick         uint64           `json:"tick"`
	TaxRate      float64          `json:"tax_rate"`
	Prices       map[Resource]int `json:"market_prices"`
	ActiveEvents []EventView      `json:"active_events"`
	AgentCount   int              `json:"agent_count"`
	StateHash    string           `json:"state_hash"`
}

// EventView is an active event with its remaining duration.
type EventView struct {
	Type        EventType `json:"type"`
	Description string    `json:"description"`
	Remaining   uint64    `json:"remaining"`
}

// State returns the public world state.
func (e *Engine) State() PublicState {
	e.mu.Lock()
	defer e.mu.Unlock()

	events := make([]EventView, 0, len(e.state.ActiveEvents))
	for _, ev := range e.state.ActiveEvents {
		events = append(events, EventView{
			Type:        ev.Type,
			Description: ev.Description,
			Remaining:   ev.Remaining(e.state.Tick),
		})
	}

	prices := make(map[Resource]int, len(e.state.Prices))
	for res, p := range e.state.Prices {
		prices[res] = p
	}

	return PublicState{
		Tick:         e.state.Tick,
		TaxRate:      e.state.TaxRate,
		Prices:       prices,
		ActiveEvents: events,
		AgentCount:   len(e.agents),
		StateHash:    e.state.StateHash,
	}
}

// RecentLedger returns up to n most recent in-memory ledger entries.
func (e *Engine) RecentLedger(n int) []LedgerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n <= 0 || n > len(e.ledger) {
		n = len(e.ledger)
	}
	out := make([]LedgerEntry, n)
	copy(out, e.ledger[len(e.ledger)-n:])
	return out
}

// TickSummary reports what one tick advancement did.
type TickSummary struct {
	Tick       uint64           `json:"tick"`
	StateHash  string           `json:"state_hash"`
	AgentCount int              `json:"agent_count"`
	Prices     map[Resource]int `json:"market_prices"`
	NewEvents  []WorldEvent     `json:"new_events"`
	APRecovery int              `json:"ap_recovery"`
}

// AdvanceTick advances world time by one tick: expire events, trigger new
// ones, update prices, recover stamina, then rehash and persist. Driven by
// an external scheduler, never by the kernel itself.
func (e *Engine) AdvanceTick() TickSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. Drop expired events.
	kept := e.state.ActiveEvents[:0]
	for _, ev := range e.state.ActiveEvents {
		if !ev.Expired(e.state.Tick) {
			kept = append(kept, ev)
		}
	}
	e.state.ActiveEvents = kept

	// 2. Trigger new events from the pre-tick (tick, hash) pair.
	newEvents := TriggerEvents(e.state.Tick, e.state.StateHash, e.tuning)
	e.state.ActiveEvents = append(e.state.ActiveEvents, newEvents...)

	// 3-4. Aggregate effects and reprice the market.
	effects := AggregateEffects(e.state.ActiveEvents)
	e.updatePrices(effects)

	// 5. Natural stamina recovery, scaled by active events.
	recovery := int(float64(e.tuning.BaseRecovery) * effects.APRecoveryModifier)
	for _, agent := range e.agents {
		agent.Energy = min(agent.MaxEnergy, agent.Energy+recovery)
	}

	// 6-7. Advance time and rehash.
	e.state.Tick++
	e.recomputeStateHash()

	// 8. Persist. Failure degrades to in-memory-only; the committed state
	// is already final for callers.
	e.persistWorld()

	prices := make(map[Resource]int, len(e.state.Prices))
	for res, p := range e.state.Prices {
		prices[res] = p
	}

	return TickSummary{
		Tick:       e.state.Tick,
		StateHash:  e.state.StateHash,
		AgentCount: len(e.agents),
		Prices:     prices,
		NewEvents:  newEvents,
		APRecovery: recovery,
	}
}

// recomputeStateHash digests tick, prices, active event IDs, and each
// agent's region plus total inventory. Any caller observing the same hash
// twice must observe identical derived data.
func (e *Engine) recomputeStateHash() string {
	type agentDigest struct {
		Region Region `json:"region"`
		Inv    int    `json:"inv"`
	}

	eventIDs := make([]string, 0, len(e.state.ActiveEvents))
	for _, ev := range e.state.ActiveEvents {
		eventIDs = append(eventIDs, ev.ID)
	}

	agents := make(map[string]agentDigest, len(e.agents))
	for wallet, a := range e.agents {
		agents[wallet] = agentDigest{Region: a.Region, Inv: a.TotalInventory()}
	}

	// json.Marshal writes map keys in sorted order, so this is canonical.
	payload, err := json.Marshal(struct {
		Tick   uint64                 `json:"tick"`
		Prices map[Resource]int       `json:"prices"`
		Events []string               `json:"events"`
		Agents map[string]agentDigest `json:"agents"`
	}{e.state.Tick, e.state.Prices, eventIDs, agents})
	if err != nil {
		// Marshal of plain maps and slices cannot fail; keep the old hash.
		slog.Error("state hash marshal failed", "error", err)
		return e.state.StateHash
	}

	sum := sha256.Sum256(payload)
	e.state.StateHash = hex.EncodeToString(sum[:])[:16]
	return e.state.StateHash
}

// logAction appends a ledger entry in memory and to storage.
func (e *Engine) logAction(wallet, action string, params map[string]any, success bool, message string) {
	entry := LedgerEntry{
		ID:        uuid.NewString(),
		Tick:      e.state.Tick,
		Timestamp: time.Now().UTC(),
		Wallet:    wallet,
		Action:    action,
		Params:    params,
		Success:   success,
		Message:   message,
		StateHash: e.state.StateHash,
	}

	e.ledger = append(e.ledger, entry)
	if len(e.ledger) > ledgerTail {
		e.ledger = e.ledger[len(e.ledger)-ledgerTail:]
	}

	if e.store != nil {
		if err := e.store.AppendLedger(entry); err != nil {
			slog.Warn("ledger persist failed", "action", action, "error", err)
		}
	}
}

func (e *Engine) persistAgent(a *Agent) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveAgent(a); err != nil {
		slog.Warn("agent persist failed", "wallet", a.Wallet, "error", err)
	}
}

func (e *Engine) persistWorld() {
	if e.store == nil {
		return
	}

	snap := Snapshot{
		Tick:      e.state.Tick,
		StateHash: e.state.StateHash,
		Prices:    e.state.Prices,
		Events:    e.state.ActiveEvents,
	}
	if err := e.store.SaveSnapshot(snap); err != nil {
		slog.Warn("snapshot persist failed", "tick", snap.Tick, "error", err)
	}
	for _, a := range e.agents {
		e.persistAgent(a)
	}
}
