package market

// Params are the constants of the price-update rule and the activation decision.
type Params struct {
	// Step is the activation change a building may make per frame.
	Step float64
	// MaintenanceCost is charged every frame regardless of activation.
	MaintenanceCost float64
	// PriceFloor is the minimum price used when demand outruns supply.
	PriceFloor float64
	// HikeMultiplier applies to a good with demand and no supply at all.
	HikeMultiplier float64
	// Damping divides the raw buy/sell imbalance before it moves the price.
	Damping float64
	// ProbeOffset is added to activation when scoring profit.
	ProbeOffset float64
	// WageFactor scales the labor term of the expense. Zero until wages are modeled.
	WageFactor float64
}

func DefaultParams() Params {
	return Params{
		Step:            0.1,
		MaintenanceCost: 0.1,
		PriceFloor:      0.1,
		HikeMultiplier:  1.2,
		Damping:         3,
		ProbeOffset:     0,
		WageFactor:      0,
	}
}
