package market

// Advance derives the next frame. Prices come from this frame's orders; every
// building decides against this frame, not against its partially built successor.
func (f *Frame) Advance() (*Frame, []Decision) {
	prices := UpdatePrices(f.params, f.Orders(), f.prices)

	next := make([]Building, len(f.buildings))
	copy(next, f.buildings)
	decisions := make([]Decision, len(next))
	for i := range next {
		d := f.decide(i, prices)
		next[i].Activation = d.To
		decisions[i] = d
	}

	return &Frame{
		cats:      f.cats,
		params:    f.params,
		buildings: next,
		prices:    prices,
	}, decisions
}

func (f *Frame) Next() *Frame {
	next, _ := f.Advance()
	return next
}
