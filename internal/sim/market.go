// Per-tick market repricing: supply pressure, noise, mean reversion, and
// external multipliers.
package sim

import "math"

// updatePrices recomputes every resource price from the pre-tick state.
// Each new price depends only on pre-tick data, so the update is
// order-independent across resources. Caller holds the engine lock.
func (e *Engine) updatePrices(effects Effects) {
	// Total outstanding supply per resource across all inventories.
	supply := make(map[Resource]int)
	for _, agent := range e.agents {
		for res, qty := range agent.Inventory {
			supply[res] += qty
		}
	}

	var feedMods map[Resource]float64
	if e.feed != nil {
		feedMods = e.feed.PriceModifiers()
	}

	next := make(map[Resource]int, len(e.state.Prices))
	for idx, res := range Resources {
		current, ok := e.state.Prices[res]
		if !ok {
			continue
		}
		base := e.tuning.BasePrices[res]

		// More outstanding supply pushes the price down, floored so supply
		// alone cannot collapse it below 70% in one tick.
		supplyFactor := math.Max(0.7, 1.0-float64(supply[res])*0.01)

		// Bounded fluctuation in [0.92, 1.08], sampled from the seeded
		// noise field at (tick, resource) so every run replays exactly.
		sample := e.noise.Eval2(float64(e.state.Tick)*0.35, float64(idx)*7.13)
		noiseFactor := 0.92 + sample*0.16

		// Weak mean reversion toward the base price.
		reversion := 1.0 + float64(base-current)*0.02

		feedMod := 1.0
		if m, ok := feedMods[res]; ok && m > 0 {
			feedMod = m
		}

		price := float64(current) * supplyFactor * noiseFactor * reversion * effects.PriceModifier * feedMod
		next[res] = clampPrice(int(math.Round(price)), e.tuning)
	}

	for res, p := range next {
		e.state.Prices[res] = p
	}
}

func clampPrice(p int, tuning Tuning) int {
	if p < tuning.PriceMin {
		return tuning.PriceMin
	}
	if p > tuning.PriceMax {
		return tuning.PriceMax
	}
	return p
}
