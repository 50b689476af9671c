// Deterministic world events: storms, pirates, booms, collapses.
package sim

import (
	"fmt"
	"strconv"
)

// eventSalt is mixed into the trigger seed so event draws are decoupled from
// other consumers of the (tick, hash) pair.
const eventSalt = "harborsim-v1"

var eventDescriptions = map[EventType]string{
	EventStorm:        "A violent storm is raging! Fishing is dangerous.",
	EventPirates:      "Pirates spotted near the harbor!",
	EventTradeBoom:    "Trade is booming! Prices are up.",
	EventMineCollapse: "Part of the mine has collapsed. Mining efficiency reduced.",
	EventFestival:     "The city is celebrating! Everyone is happy.",
	EventPlague:       "A plague has struck the city. AP recovery is reduced.",
}

// TriggerEvents decides which new events begin at the given tick. The only
// inputs are the tick and the pre-tick state hash, so the same pair always
// yields the same events; the tick sequence forms a hash chain.
func TriggerEvents(tick uint64, stateHash string, tuning Tuning) []WorldEvent {
	rng := rngFrom(strconv.FormatUint(tick, 10), stateHash, eventSalt)

	var triggered []WorldEvent
	for _, kind := range EventKinds {
		if rng.Float64() >= tuning.EventChances[kind] {
			continue
		}
		// The random suffix keeps IDs unique when the same kind re-triggers
		// later; it comes from the same seeded generator so it replays.
		triggered = append(triggered, WorldEvent{
			ID:          fmt.Sprintf("%s_%d_%d", kind, tick, 1000+rng.Intn(9000)),
			Type:        kind,
			StartedTick: tick,
			Duration:    tuning.EventDurations[kind],
			Description: eventDescriptions[kind],
		})
	}
	return triggered
}

// AggregateEffects folds all active events into a single effects record.
// Simultaneous events compound multiplicatively.
func AggregateEffects(events []WorldEvent) Effects {
	eff := Effects{
		HarvestModifier:    1.0,
		PriceModifier:      1.0,
		APRecoveryModifier: 1.0,
	}

	for _, ev := range events {
		switch ev.Type {
		case EventStorm:
			eff.DangerLevel++
			eff.HarvestModifier *= 0.5
		case EventPirates:
			eff.DangerLevel += 2
		case EventTradeBoom:
			eff.PriceModifier *= 1.2
		case EventMineCollapse:
			eff.HarvestModifier *= 0.7
		case EventPlague:
			eff.APRecoveryModifier *= 0.5
		case EventFestival:
			// Flavor only, no numeric effect.
		}
	}
	return eff
}
