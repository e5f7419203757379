package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"marketsim.ai/internal/sim/market"
)

// Tuning holds the price-update and decision constants. Values absent from the
// file keep their defaults.
type Tuning struct {
	Step            float64 `yaml:"step" json:"step"`
	MaintenanceCost float64 `yaml:"maintenance_cost" json:"maintenance_cost"`
	PriceFloor      float64 `yaml:"price_floor" json:"price_floor"`
	HikeMultiplier  float64 `yaml:"hike_multiplier" json:"hike_multiplier"`
	Damping         float64 `yaml:"damping" json:"damping"`
	ProbeOffset     float64 `yaml:"probe_offset" json:"probe_offset"`
	WageFactor      float64 `yaml:"wage_factor" json:"wage_factor"`
}

func Defaults() Tuning {
	return FromParams(market.DefaultParams())
}

func FromParams(p market.Params) Tuning {
	return Tuning{
		Step:            p.Step,
		MaintenanceCost: p.MaintenanceCost,
		PriceFloor:      p.PriceFloor,
		HikeMultiplier:  p.HikeMultiplier,
		Damping:         p.Damping,
		ProbeOffset:     p.ProbeOffset,
		WageFactor:      p.WageFactor,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.Step <= 0 || t.Step > 1:
		return fmt.Errorf("step must be in (0,1], got %v", t.Step)
	case t.Damping <= 0:
		return fmt.Errorf("damping must be positive, got %v", t.Damping)
	case t.HikeMultiplier <= 0:
		return fmt.Errorf("hike_multiplier must be positive, got %v", t.HikeMultiplier)
	case t.PriceFloor < 0:
		return fmt.Errorf("price_floor must not be negative, got %v", t.PriceFloor)
	case t.MaintenanceCost < 0:
		return fmt.Errorf("maintenance_cost must not be negative, got %v", t.MaintenanceCost)
	}
	return nil
}

func (t Tuning) Params() market.Params {
	return market.Params{
		Step:            t.Step,
		MaintenanceCost: t.MaintenanceCost,
		PriceFloor:      t.PriceFloor,
		HikeMultiplier:  t.HikeMultiplier,
		Damping:         t.Damping,
		ProbeOffset:     t.ProbeOffset,
		WageFactor:      t.WageFactor,
	}
}
