// Rules engine: validation and settlement for every agent-submitted action.
// Each call mutates exactly one agent, or an agent pair for raid/negotiate.
package sim

import (
	"fmt"
	"math"
	"strconv"
)

// maxOrderQuantity caps a single order. price*quantity for any in-band price
// must stay far inside int64; unbounded client quantities must not reach the
// settlement arithmetic.
const maxOrderQuantity = 1_000_000

// Params is the loosely-typed key/value bag actions are submitted with.
// Required keys are action-specific.
type Params map[string]any

func (p Params) str(key string) string {
	s, _ := p[key].(string)
	return s
}

// num reads an integer parameter. JSON decoding yields float64, so both
// forms are accepted.
func (p Params) num(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Result is the structured outcome of one action resolution.
type Result struct {
	Success bool           `json:"success"`
	Action  string         `json:"action"`
	Message string         `json:"message"`
	Agent   *Agent         `json:"agent"`
	Tick    uint64         `json:"tick"`
	Data    map[string]any `json:"data,omitempty"`
}

// Resolve validates and settles one action for the given wallet. Unknown
// wallets return ErrAgentNotFound; every other failure is reported as an
// unsuccessful Result, never an error.
func (e *Engine) Resolve(wallet, action string, params Params) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.agents[wallet]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrAgentNotFound, wallet)
	}

	cost := e.tuning.APCosts[action]
	if action != "rest" && agent.Energy < cost {
		return e.failAction(agent, action, params,
			fmt.Sprintf("Insufficient AP: need %d, have %d", cost, agent.Energy)), nil
	}

	switch action {
	case "move":
		return e.resolveMove(agent, params), nil
	case "harvest":
		return e.resolveHarvest(agent, params), nil
	case "rest":
		return e.resolveRest(agent, params), nil
	case "place_order":
		return e.resolvePlaceOrder(agent, params), nil
	case "raid":
		return e.resolveRaid(agent, params), nil
	case "negotiate":
		return e.resolveNegotiate(agent, params), nil
	default:
		return e.failAction(agent, action, params, fmt.Sprintf("Unknown action: %s", action)), nil
	}
}

// succeed records a successful resolution and rehashes the world.
func (e *Engine) succeed(agent *Agent, action string, params Params, message string, data map[string]any) Result {
	e.logAction(agent.Wallet, action, params, true, message)
	e.recomputeStateHash()
	e.persistAgent(agent)
	return Result{
		Success: true,
		Action:  action,
		Message: message,
		Agent:   agent.Clone(),
		Tick:    e.state.Tick,
		Data:    data,
	}
}

// failAction records a failed resolution. No rehash: failures never change
// hashed state (region, inventory, prices, events).
func (e *Engine) failAction(agent *Agent, action string, params Params, message string) Result {
	e.logAction(agent.Wallet, action, params, false, message)
	return Result{
		Success: false,
		Action:  action,
		Message: message,
		Agent:   agent.Clone(),
		Tick:    e.state.Tick,
	}
}

func (e *Engine) resolveMove(agent *Agent, params Params) Result {
	target := params.str("target")
	if target == "" {
		return e.failAction(agent, "move", params, "Missing target region")
	}

	region, err := ParseRegion(target)
	if err != nil {
		return e.failAction(agent, "move", params, fmt.Sprintf("Invalid region: %s", target))
	}
	if agent.Region == region {
		return e.failAction(agent, "move", params, fmt.Sprintf("Already in %s", target))
	}

	agent.Energy -= e.tuning.APCosts["move"]
	from := agent.Region
	agent.Region = region

	return e.succeed(agent, "move", params,
		fmt.Sprintf("Moved from %s to %s", from, region),
		map[string]any{"from": from, "to": region})
}

func (e *Engine) resolveHarvest(agent *Agent, params Params) Result {
	resource, ok := HarvestYields[agent.Region]
	if !ok {
		return e.failAction(agent, "harvest", params, fmt.Sprintf("Cannot harvest in %s", agent.Region))
	}

	agent.Energy -= e.tuning.APCosts["harvest"]

	// Yield is seeded by (hash, tick, wallet): repeating the same state,
	// tick, and agent reproduces the exact same draw.
	rng := rngFrom(e.state.StateHash, strconv.FormatUint(e.state.Tick, 10), agent.Wallet)
	quantity := 1 + rng.Intn(5)
	agent.Inventory[resource] += quantity

	return e.succeed(agent, "harvest", params,
		fmt.Sprintf("Harvested %d %s", quantity, resource),
		map[string]any{"resource": resource, "quantity": quantity})
}

func (e *Engine) resolveRest(agent *Agent, params Params) Result {
	// The dock tavern rests better than sleeping rough elsewhere.
	recovery := e.tuning.RestRecoveryField
	if agent.Region == RegionDock {
		recovery = e.tuning.RestRecoveryDock
	}

	before := agent.Energy
	agent.Energy = min(agent.MaxEnergy, agent.Energy+recovery)
	recovered := agent.Energy - before

	return e.succeed(agent, "rest", params,
		fmt.Sprintf("Rested and recovered %d AP", recovered),
		map[string]any{"recovery": recovered})
}

func (e *Engine) resolvePlaceOrder(agent *Agent, params Params) Result {
	resource := params.str("resource")
	side := params.str("side")
	quantity := params.num("quantity", 1)

	if resource == "" || side == "" {
		return e.failAction(agent, "place_order", params, "Missing resource or side parameter")
	}
	if agent.Region != RegionMarket {
		return e.failAction(agent, "place_order", params, "Must be in market to trade")
	}
	if quantity <= 0 || quantity > maxOrderQuantity {
		return e.failAction(agent, "place_order", params, fmt.Sprintf("Invalid quantity: %d", quantity))
	}

	price, ok := e.state.Prices[Resource(resource)]
	if !ok {
		return e.failAction(agent, "place_order", params, fmt.Sprintf("Unknown resource: %s", resource))
	}

	// AP is spent once the order reaches the market floor, before the
	// inventory check on the sell side.
	agent.Energy -= e.tuning.APCosts["place_order"]

	switch side {
	case "sell":
		held := agent.Inventory[Resource(resource)]
		if held < quantity {
			return e.failAction(agent, "place_order", params,
				fmt.Sprintf("Insufficient inventory: %d/%d", held, quantity))
		}

		agent.Inventory[Resource(resource)] = held - quantity
		gross := int64(price) * int64(quantity)
		revenue := int64(float64(gross) * (1 - e.state.TaxRate))
		agent.Credits += revenue

		return e.succeed(agent, "place_order", params,
			fmt.Sprintf("Sold %d %s for %d credits", quantity, resource, revenue),
			map[string]any{"resource": resource, "quantity": quantity, "revenue": revenue})

	case "buy":
		cost := int64(price) * int64(quantity)
		if agent.Credits < cost {
			return e.failAction(agent, "place_order", params,
				fmt.Sprintf("Insufficient funds: %d/%d", agent.Credits, cost))
		}

		agent.Credits -= cost
		agent.Inventory[Resource(resource)] += quantity

		return e.succeed(agent, "place_order", params,
			fmt.Sprintf("Bought %d %s for %d credits", quantity, resource, cost),
			map[string]any{"resource": resource, "quantity": quantity, "cost": cost})
	}

	return e.failAction(agent, "place_order", params, fmt.Sprintf("Invalid side: %s", side))
}

func (e *Engine) resolveRaid(agent *Agent, params Params) Result {
	targetWallet := params.str("target")
	if targetWallet == "" {
		return e.failAction(agent, "raid", params, "Missing target wallet")
	}
	if targetWallet == agent.Wallet {
		return e.failAction(agent, "raid", params, "Cannot raid yourself")
	}

	target, ok := e.agents[targetWallet]
	if !ok {
		return e.failAction(agent, "raid", params, fmt.Sprintf("Target agent not found: %s", targetWallet))
	}
	if agent.Region != target.Region {
		return e.failAction(agent, "raid", params,
			fmt.Sprintf("Target is in %s, you are in %s", target.Region, agent.Region))
	}
	if agent.Region == RegionMarket {
		return e.failAction(agent, "raid", params, "Cannot raid in the market (protected zone)")
	}

	agent.Energy -= e.tuning.APCosts["raid"]

	// Base 60% success, shifted by the reputation gap, clamped to 20-90%.
	successRate := 0.6 + float64(agent.Reputation-target.Reputation)/200
	successRate = math.Max(0.2, math.Min(0.9, successRate))

	rng := rngFrom(e.state.StateHash, strconv.FormatUint(e.state.Tick, 10), agent.Wallet, targetWallet)

	if rng.Float64() < successRate {
		// A 10-25% slice of the victim's credits changes hands.
		stolen := int64(float64(target.Credits) * (0.10 + rng.Float64()*0.15))
		if stolen > target.Credits {
			stolen = target.Credits
		}
		target.Credits -= stolen
		agent.Credits += stolen

		agent.Reputation = max(0, agent.Reputation-10)
		target.Reputation = min(200, target.Reputation+5)

		e.persistAgent(target)
		return e.succeed(agent, "raid", params,
			fmt.Sprintf("Raid successful! Stole %d credits from %s", stolen, target.Name),
			map[string]any{"stolen": stolen, "target": target.Name, "target_remaining": target.Credits})
	}

	// The defenders held. The raider pays for the attempt either way.
	penalty := int64(float64(agent.Credits) * 0.05)
	agent.Credits -= penalty
	agent.Reputation = max(0, agent.Reputation-5)

	return e.succeed(agent, "raid", params,
		fmt.Sprintf("Raid failed! %s defended successfully. Lost %d credits as penalty", target.Name, penalty),
		map[string]any{"penalty": penalty, "target": target.Name})
}

func (e *Engine) resolveNegotiate(agent *Agent, params Params) Result {
	targetWallet := params.str("target")
	if targetWallet == "" {
		return e.failAction(agent, "negotiate", params, "Missing target wallet")
	}
	if targetWallet == agent.Wallet {
		return e.failAction(agent, "negotiate", params, "Cannot negotiate with yourself")
	}

	target, ok := e.agents[targetWallet]
	if !ok {
		return e.failAction(agent, "negotiate", params, "Target agent not found")
	}
	if agent.Region != target.Region {
		return e.failAction(agent, "negotiate", params,
			fmt.Sprintf("Target is in %s, you are in %s", target.Region, agent.Region))
	}

	offerType := params.str("offer_type")
	if offerType == "" {
		offerType = "credits"
	}
	offerAmount := params.num("offer_amount", 0)
	offerResource := Resource(params.str("offer_resource"))
	wantType := params.str("want_type")
	if wantType == "" {
		wantType = "credits"
	}
	wantAmount := params.num("want_amount", 0)
	wantResource := Resource(params.str("want_resource"))

	if offerType != "credits" && offerType != "resource" {
		return e.failAction(agent, "negotiate", params, fmt.Sprintf("Invalid offer_type: %s", offerType))
	}
	if wantType != "credits" && wantType != "resource" {
		return e.failAction(agent, "negotiate", params, fmt.Sprintf("Invalid want_type: %s", wantType))
	}
	if offerAmount < 0 || wantAmount < 0 {
		return e.failAction(agent, "negotiate", params, "Amounts must be non-negative")
	}

	// Both sides must be able to cover their leg before any AP is spent.
	switch offerType {
	case "credits":
		if agent.Credits < int64(offerAmount) {
			return e.failAction(agent, "negotiate", params,
				fmt.Sprintf("Insufficient credits to offer: have %d, offering %d", agent.Credits, offerAmount))
		}
	case "resource":
		if offerResource == "" {
			return e.failAction(agent, "negotiate", params, "Must specify offer_resource")
		}
		if agent.Inventory[offerResource] < offerAmount {
			return e.failAction(agent, "negotiate", params,
				fmt.Sprintf("Insufficient %s: have %d", offerResource, agent.Inventory[offerResource]))
		}
	}
	switch wantType {
	case "credits":
		if target.Credits < int64(wantAmount) {
			return e.failAction(agent, "negotiate", params,
				fmt.Sprintf("Target has insufficient credits: %d", target.Credits))
		}
	case "resource":
		if wantResource == "" {
			return e.failAction(agent, "negotiate", params, "Must specify want_resource")
		}
		if target.Inventory[wantResource] < wantAmount {
			return e.failAction(agent, "negotiate", params,
				fmt.Sprintf("Target has insufficient %s", wantResource))
		}
	}

	agent.Energy -= e.tuning.APCosts["negotiate"]

	// Fairness values both legs at current market prices. A zero-cost ask
	// is a gift and always reads as fair.
	offerValue := e.tradeValue(offerType, offerAmount, offerResource)
	wantValue := e.tradeValue(wantType, wantAmount, wantResource)
	fairness := 2.0
	if wantValue > 0 {
		fairness = offerValue / wantValue
	}

	// Good reputation lowers the bar; bad reputation raises it.
	threshold := 0.7 - float64(agent.Reputation-100)/200

	rng := rngFrom(e.state.StateHash, agent.Wallet, targetWallet)
	roll := 0.8 + rng.Float64()*0.4

	if fairness*roll < threshold {
		return e.succeed(agent, "negotiate", params,
			fmt.Sprintf("Trade rejected by %s. Try a fairer offer or improve reputation.", target.Name),
			map[string]any{"accepted": false, "partner": target.Name, "fairness": math.Round(fairness*100) / 100})
	}

	// Accepted: both legs settle together.
	transferLeg(agent, target, offerType, offerAmount, offerResource)
	transferLeg(target, agent, wantType, wantAmount, wantResource)

	agent.Reputation = min(200, agent.Reputation+3)
	target.Reputation = min(200, target.Reputation+3)

	offerStr := legString(offerType, offerAmount, offerResource)
	wantStr := legString(wantType, wantAmount, wantResource)

	e.persistAgent(target)
	return e.succeed(agent, "negotiate", params,
		fmt.Sprintf("Trade accepted! Exchanged %s for %s with %s", offerStr, wantStr, target.Name),
		map[string]any{"accepted": true, "offer": offerStr, "received": wantStr, "partner": target.Name})
}

// tradeValue prices one trade leg using current market prices. Unknown
// resources fall back to a nominal value of 10.
func (e *Engine) tradeValue(kind string, amount int, res Resource) float64 {
	if kind == "credits" {
		return float64(amount)
	}
	price, ok := e.state.Prices[res]
	if !ok {
		price = 10
	}
	return float64(amount) * float64(price)
}

// transferLeg moves one leg of an accepted trade from giver to taker.
// Affordability was validated before settlement began.
func transferLeg(giver, taker *Agent, kind string, amount int, res Resource) {
	if kind == "credits" {
		giver.Credits -= int64(amount)
		taker.Credits += int64(amount)
		return
	}
	giver.Inventory[res] -= amount
	taker.Inventory[res] += amount
}

func legString(kind string, amount int, res Resource) string {
	if kind == "credits" {
		return fmt.Sprintf("%d credits", amount)
	}
	return fmt.Sprintf("%d %s", amount, res)
}
