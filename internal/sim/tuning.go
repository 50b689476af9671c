package sim

// Tuning holds the gameplay constants. Defaults reproduce the balanced
// values the world shipped with; operators may override them from a YAML
// file loaded by the config package.
type Tuning struct {
	TaxRate float64 `yaml:"tax_rate"`

	StartingCredits int64 `yaml:"starting_credits"`
	StartingEnergy  int   `yaml:"starting_energy"`

	// Per-tick natural stamina recovery, before event modifiers.
	BaseRecovery int `yaml:"base_recovery"`

	// Rest recovery by location: the dock tavern beats sleeping rough.
	RestRecoveryDock  int `yaml:"rest_recovery_dock"`
	RestRecoveryField int `yaml:"rest_recovery_field"`

	APCosts    map[string]int   `yaml:"ap_costs"`
	BasePrices map[Resource]int `yaml:"base_prices"`

	// Price clamp band.
	PriceMin int `yaml:"price_min"`
	PriceMax int `yaml:"price_max"`

	EventChances   map[EventType]float64 `yaml:"event_chances"`
	EventDurations map[EventType]uint64  `yaml:"event_durations"`
}

// DefaultTuning returns the stock gameplay constants.
func DefaultTuning() Tuning {
	return Tuning{
		TaxRate:           0.05,
		StartingCredits:   1000,
		StartingEnergy:    100,
		BaseRecovery:      5,
		RestRecoveryDock:  30,
		RestRecoveryField: 20,
		APCosts: map[string]int{
			"move":        5,
			"harvest":     10,
			"place_order": 3,
			"rest":        0,
			"raid":        25,
			"negotiate":   15,
		},
		BasePrices: map[Resource]int{
			ResourceIron: 15,
			ResourceWood: 12,
			ResourceFish: 8,
		},
		PriceMin: 3,
		PriceMax: 50,
		// Tuned so roughly 1-2 events trigger per 10 ticks.
		EventChances: map[EventType]float64{
			EventStorm:        0.04,
			EventPirates:      0.03,
			EventTradeBoom:    0.06,
			EventMineCollapse: 0.02,
			EventFestival:     0.04,
			EventPlague:       0.01,
		},
		EventDurations: map[EventType]uint64{
			EventStorm:        5,
			EventPirates:      3,
			EventTradeBoom:    10,
			EventMineCollapse: 8,
			EventFestival:     5,
			EventPlague:       15,
		},
	}
}
