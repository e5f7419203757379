package catalogs

// Default returns the lumber chain catalog: logs feed sawmills, planks feed the
// population centers.
func Default() *Catalogs {
	c := New()
	for _, g := range []GoodDef{
		{ID: "Logs", Color: "green"},
		{ID: "Planks", Color: "yellow"},
	} {
		if _, err := c.RegisterGood(g); err != nil {
			panic(err)
		}
	}
	for _, b := range []BuildingDef{
		{
			ID: "Logging Camp", Color: "green",
			Outputs:      []GoodCount{{Good: "Logs", Count: 3}},
			WorkerDemand: 100,
		},
		{
			ID: "Sawmill", Color: "yellow",
			Inputs:       []GoodCount{{Good: "Logs", Count: 4}},
			Outputs:      []GoodCount{{Good: "Planks", Count: 5}},
			WorkerDemand: 100,
		},
		{
			ID: "Population Centers", Color: "cyan",
			Inputs: []GoodCount{{Good: "Planks", Count: 3}},
		},
	} {
		if _, err := c.RegisterBuilding(b); err != nil {
			panic(err)
		}
	}
	return c
}
