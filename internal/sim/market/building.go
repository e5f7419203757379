package market

import (
	"fmt"

	"marketsim.ai/internal/sim/catalogs"
)

// Kind tags whether the decision routine may move a building's activation.
type Kind uint8

const (
	Normal Kind = iota
	// Fixed buildings always run at full activation, e.g. population centers.
	Fixed
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "NORMAL"
	case Fixed:
		return "FIXED"
	default:
		return fmt.Sprintf("KIND_%d", uint8(k))
	}
}

// Building is one unit of capacity of a building type. It is a plain value: copying
// it copies all of its state, which is what makes a frame generation independent of
// the one it was derived from.
type Building struct {
	Type       catalogs.BuildingTypeID
	Level      int
	Activation float64
	Kind       Kind
}

func NewBuilding(t catalogs.BuildingTypeID, level int) Building {
	return Building{Type: t, Level: level}
}

func NewFixed(t catalogs.BuildingTypeID, level int) Building {
	return Building{Type: t, Level: level, Activation: 1, Kind: Fixed}
}

func (b Building) validate(cats *catalogs.Catalogs) error {
	if int(b.Type) < 0 || int(b.Type) >= cats.NumBuildings() {
		return fmt.Errorf("unknown building type %d", b.Type)
	}
	name := cats.Building(b.Type).ID
	if b.Level <= 0 {
		return fmt.Errorf("%q: level must be positive, got %d", name, b.Level)
	}
	if b.Activation < 0 || b.Activation > 1 {
		return fmt.Errorf("%q: activation %v outside [0,1]", name, b.Activation)
	}
	switch b.Kind {
	case Normal:
	case Fixed:
		if b.Activation != 1 {
			return fmt.Errorf("%q: fixed building must run at activation 1, got %v", name, b.Activation)
		}
	default:
		return fmt.Errorf("%q: unknown kind %v", name, b.Kind)
	}
	return nil
}

// Ledger is a building's scoring for one frame. Profit is a relative signal, not money.
type Ledger struct {
	Revenue float64 `json:"revenue"`
	Expense float64 `json:"expense"`
	Profit  float64 `json:"profit"`
}
