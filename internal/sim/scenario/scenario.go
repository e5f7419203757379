package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/market"
)

// Scenario declares the initial frame of a run.
type Scenario struct {
	Steps     int                `yaml:"steps"`
	Prices    map[string]float64 `yaml:"prices"`
	Buildings []BuildingSpec     `yaml:"buildings"`
}

type BuildingSpec struct {
	Type       string  `yaml:"type"`
	Level      int     `yaml:"level"`
	Fixed      bool    `yaml:"fixed,omitempty"`
	Activation float64 `yaml:"activation,omitempty"`
}

// Default is the lumber chain: one logging camp, one sawmill and the population
// centers that always demand planks, all prices at zero.
func Default() Scenario {
	return Scenario{
		Steps:  50,
		Prices: map[string]float64{"Logs": 0, "Planks": 0},
		Buildings: []BuildingSpec{
			{Type: "Logging Camp", Level: 1},
			{Type: "Sawmill", Level: 1},
			{Type: "Population Centers", Level: 1, Fixed: true},
		},
	}
}

func Load(path string) (Scenario, error) {
	var s Scenario
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("scenario.yaml: %w", err)
	}
	if s.Steps < 0 {
		return s, fmt.Errorf("scenario.yaml: negative steps %d", s.Steps)
	}
	return s, nil
}

// Frame builds the initial frame. Goods without a declared price start at zero.
func (s Scenario) Frame(cats *catalogs.Catalogs, params market.Params) (*market.Frame, error) {
	prices := make(map[string]float64, cats.NumGoods())
	for _, g := range cats.Goods() {
		prices[g.ID] = 0
	}
	for name, p := range s.Prices {
		if _, ok := cats.GoodByName(name); !ok {
			return nil, fmt.Errorf("scenario: price for unknown good %q", name)
		}
		prices[name] = p
	}

	buildings := make([]market.Building, 0, len(s.Buildings))
	for i, spec := range s.Buildings {
		t, ok := cats.BuildingByName(spec.Type)
		if !ok {
			return nil, fmt.Errorf("scenario: building %d: unknown type %q", i, spec.Type)
		}
		if spec.Fixed {
			if spec.Activation != 0 && spec.Activation != 1 {
				return nil, fmt.Errorf("scenario: building %d (%q): fixed buildings run at activation 1", i, spec.Type)
			}
			buildings = append(buildings, market.NewFixed(t, spec.Level))
			continue
		}
		b := market.NewBuilding(t, spec.Level)
		b.Activation = spec.Activation
		buildings = append(buildings, b)
	}
	return market.NewFrame(cats, params, buildings, prices)
}
