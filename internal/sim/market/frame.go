package market

import (
	"fmt"
	"math"
	"sort"

	"marketsim.ai/internal/sim/catalogs"
)

// Frame is one time step of the market: a generation of buildings, addressed by
// position, and one price per registered good. A Frame is never modified after
// NewFrame or Advance returns it.
type Frame struct {
	cats   *catalogs.Catalogs
	params Params

	buildings []Building
	prices    []float64 // indexed by catalogs.GoodID
}

// NewFrame validates buildings and prices against cats. prices must name every
// registered good exactly once.
func NewFrame(cats *catalogs.Catalogs, params Params, buildings []Building, prices map[string]float64) (*Frame, error) {
	if cats == nil {
		return nil, fmt.Errorf("frame: nil catalogs")
	}
	vec := make([]float64, cats.NumGoods())
	for _, g := range cats.Goods() {
		p, ok := prices[g.ID]
		if !ok {
			return nil, fmt.Errorf("frame: no price for good %q", g.ID)
		}
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("frame: invalid price %v for good %q", p, g.ID)
		}
		id, _ := cats.GoodByName(g.ID)
		vec[id] = p
	}
	if len(prices) != cats.NumGoods() {
		var unknown []string
		for name := range prices {
			if _, ok := cats.GoodByName(name); !ok {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("frame: price for unregistered good %q", unknown[0])
	}
	for i, b := range buildings {
		if err := b.validate(cats); err != nil {
			return nil, fmt.Errorf("frame: building %d: %w", i, err)
		}
	}
	return &Frame{
		cats:      cats,
		params:    params,
		buildings: append([]Building(nil), buildings...),
		prices:    vec,
	}, nil
}

func (f *Frame) Catalogs() *catalogs.Catalogs { return f.cats }
func (f *Frame) Params() Params               { return f.params }
func (f *Frame) NumBuildings() int            { return len(f.buildings) }

func (f *Frame) Building(i int) Building { return f.buildings[i] }

// Buildings returns a copy of the building generation.
func (f *Frame) Buildings() []Building {
	return append([]Building(nil), f.buildings...)
}

func (f *Frame) Price(g catalogs.GoodID) float64 { return f.prices[g] }

func (f *Frame) PriceOf(name string) (float64, bool) {
	g, ok := f.cats.GoodByName(name)
	if !ok {
		return 0, false
	}
	return f.prices[g], true
}

// Prices returns the price vector in good registration order.
func (f *Frame) Prices() []float64 {
	return append([]float64(nil), f.prices...)
}

func (f *Frame) PriceMap() map[string]float64 {
	out := make(map[string]float64, len(f.prices))
	for g, p := range f.prices {
		out[f.cats.Good(catalogs.GoodID(g)).ID] = p
	}
	return out
}

// Describe renders building i as "Type(a=activation)".
func (f *Frame) Describe(i int) string {
	b := f.buildings[i]
	return fmt.Sprintf("%s(a=%v)", f.cats.Building(b.Type).ID, b.Activation)
}

// Ledger scores building i against this frame's prices as if its activation were
// activation+offset.
func (f *Frame) Ledger(i int, offset float64) Ledger {
	return f.ledger(f.buildings[i], f.prices, offset)
}

func (f *Frame) Revenue(i int, offset float64) float64 { return f.Ledger(i, offset).Revenue }
func (f *Frame) Expense(i int, offset float64) float64 { return f.Ledger(i, offset).Expense }
func (f *Frame) Profit(i int, offset float64) float64  { return f.Ledger(i, offset).Profit }

func (f *Frame) ledger(b Building, prices []float64, offset float64) Ledger {
	bt := f.cats.Building(b.Type)
	run := b.Activation + offset

	var outBase float64
	for _, fl := range bt.Outputs {
		outBase += fl.Qty * prices[fl.Good]
	}
	var goodsBase float64
	for _, fl := range bt.Inputs {
		goodsBase += fl.Qty * prices[fl.Good]
	}
	wagesBase := float64(bt.WorkerDemand) * bt.WorkerWage * f.params.WageFactor

	revenue := outBase * float64(b.Level) * run
	expense := f.params.MaintenanceCost + (goodsBase+wagesBase)*float64(b.Level)*run
	return Ledger{Revenue: revenue, Expense: expense, Profit: revenue - expense}
}
