package market

import "math"

type Action int8

const (
	Lower Action = iota - 1
	Hold
	Raise
)

func (a Action) String() string {
	switch a {
	case Lower:
		return "LOWER"
	case Hold:
		return "HOLD"
	case Raise:
		return "RAISE"
	default:
		return "UNKNOWN"
	}
}

// ChooseAction returns the action with the largest profit. Ties resolve in the
// order Lower, Hold, Raise.
func ChooseAction(less, same, more float64) Action {
	if less >= same {
		if less >= more {
			return Lower
		}
		return Raise
	}
	if same >= more {
		return Hold
	}
	return Raise
}

// Decision records how one building chose its activation for the next frame.
type Decision struct {
	Index      int     `json:"index"`
	Action     Action  `json:"action"`
	From       float64 `json:"from"`
	To         float64 `json:"to"`
	LessProfit float64 `json:"less_profit"`
	SameProfit float64 `json:"same_profit"`
	MoreProfit float64 `json:"more_profit"`
}

// decide evaluates building i against f. repriced must be f's prices updated from
// f's own orders. decide only reads f, so every building of a generation sees the
// same market.
func (f *Frame) decide(i int, repriced []float64) Decision {
	b := f.buildings[i]
	p := f.params

	same := f.ledger(b, repriced, p.ProbeOffset).Profit
	d := Decision{
		Index:      i,
		Action:     Hold,
		From:       b.Activation,
		To:         b.Activation,
		LessProfit: same,
		SameProfit: same,
		MoreProfit: same,
	}
	if b.Kind == Fixed {
		return d
	}

	if b.Activation != 1 {
		d.MoreProfit = f.probe(i, b.Activation+p.Step)
	}
	if b.Activation != 0 {
		d.LessProfit = f.probe(i, b.Activation-p.Step)
	}

	action := ChooseAction(d.LessProfit, d.SameProfit, d.MoreProfit)
	switch {
	case action == Raise && b.Activation >= 1:
		action = Hold
	case action == Lower && b.Activation <= 0:
		action = Hold
	}

	d.Action = action
	switch action {
	case Lower:
		d.To = Round3(math.Max(b.Activation-p.Step, 0))
	case Raise:
		d.To = Round3(math.Min(b.Activation+p.Step, 1))
	}
	return d
}

// probe scores building i in a hypothetical market where only its activation
// differs, after re-running the price update on that market.
func (f *Frame) probe(i int, activation float64) float64 {
	b := f.buildings[i]
	b.Activation = activation
	prices := UpdatePrices(f.params, f.orders(override{idx: i, activation: activation}), f.prices)
	return f.ledger(b, prices, f.params.ProbeOffset).Profit
}
