package market

import "math"

// Orders is the aggregate flow of one good before any matching.
type Orders struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
}

// override replaces the activation of one building slot; idx < 0 means none.
// Hypothetical frames are the real generation plus one override, never a copy.
type override struct {
	idx        int
	activation float64
}

var noOverride = override{idx: -1}

// Orders aggregates buy and sell orders per good, in good registration order.
func (f *Frame) Orders() []Orders {
	return f.orders(noOverride)
}

func (f *Frame) orders(o override) []Orders {
	out := make([]Orders, len(f.prices))
	for i, b := range f.buildings {
		act := b.Activation
		if i == o.idx {
			act = o.activation
		}
		bt := f.cats.Building(b.Type)
		for _, fl := range bt.Inputs {
			out[fl.Good].Buy += Round3(fl.Qty * act)
		}
		for _, fl := range bt.Outputs {
			out[fl.Good].Sell += Round3(fl.Qty * act)
		}
	}
	return out
}

// UpdatePrices derives the next price of every good from its orders and its
// previous price. It does not modify its arguments.
func UpdatePrices(p Params, orders []Orders, prices []float64) []float64 {
	out := make([]float64, len(prices))
	for g, price := range prices {
		o := orders[g]
		var next float64
		switch {
		case o.Sell == 0 && o.Buy == 0:
			next = price
		case o.Sell == 0:
			// Demand with no supply: bootstrap a price.
			next = math.Max(price, p.PriceFloor) * p.HikeMultiplier
		default:
			ratio := o.Buy / o.Sell
			if ratio > 1 {
				price = math.Max(price, p.PriceFloor)
			}
			next = price * ((ratio-1)/p.Damping + 1)
		}
		out[g] = Round3(next)
	}
	return out
}
