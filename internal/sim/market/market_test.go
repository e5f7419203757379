package market

import (
	"math"
	"strings"
	"testing"

	"marketsim.ai/internal/sim/catalogs"
)

func lumberFrame(t *testing.T) *Frame {
	t.Helper()
	cats := catalogs.Default()
	camp, _ := cats.BuildingByName("Logging Camp")
	saw, _ := cats.BuildingByName("Sawmill")
	pop, _ := cats.BuildingByName("Population Centers")
	f, err := NewFrame(cats, DefaultParams(), []Building{
		NewBuilding(camp, 1),
		NewBuilding(saw, 1),
		NewFixed(pop, 1),
	}, map[string]float64{"Logs": 0, "Planks": 0})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func TestAdvance_SingleGoodBootstrap(t *testing.T) {
	cats := catalogs.New()
	if _, err := cats.RegisterGood(catalogs.GoodDef{ID: "Logs"}); err != nil {
		t.Fatalf("register good: %v", err)
	}
	prod, err := cats.RegisterBuilding(catalogs.BuildingDef{ID: "Producer", Outputs: []catalogs.GoodCount{{Good: "Logs", Count: 3}}})
	if err != nil {
		t.Fatalf("register producer: %v", err)
	}
	cons, err := cats.RegisterBuilding(catalogs.BuildingDef{ID: "Consumer", Inputs: []catalogs.GoodCount{{Good: "Logs", Count: 3}}})
	if err != nil {
		t.Fatalf("register consumer: %v", err)
	}
	f, err := NewFrame(cats, DefaultParams(), []Building{NewBuilding(prod, 1), NewFixed(cons, 1)}, map[string]float64{"Logs": 0})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	orders := f.Orders()
	if orders[0].Buy != 3 || orders[0].Sell != 0 {
		t.Fatalf("orders=%+v want buy=3 sell=0", orders[0])
	}

	next, decisions := f.Advance()
	if got := next.Price(0); got != 0.12 {
		t.Fatalf("price=%v want 0.12", got)
	}
	if got := next.Building(0).Activation; got != 0.1 {
		t.Fatalf("producer activation=%v want 0.1", got)
	}
	if decisions[0].Action != Raise {
		t.Fatalf("producer action=%v want RAISE (%+v)", decisions[0].Action, decisions[0])
	}
	if decisions[0].MoreProfit <= decisions[0].SameProfit {
		t.Fatalf("expected raising to look more profitable: %+v", decisions[0])
	}
	if next.Building(1).Activation != 1 || decisions[1].Action != Hold {
		t.Fatalf("fixed consumer moved: %+v", decisions[1])
	}
	if f.Building(0).Activation != 0 || f.Price(0) != 0 {
		t.Fatalf("Advance mutated its receiver")
	}
}

func TestUpdatePrices_Rules(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		name   string
		orders Orders
		price  float64
		want   float64
	}{
		{"idle", Orders{}, 0.37, 0.37},
		{"balanced", Orders{Buy: 2.5, Sell: 2.5}, 0.731, 0.731},
		{"hike from zero", Orders{Buy: 3}, 0, 0.12},
		{"hike above floor", Orders{Buy: 1}, 0.5, 0.6},
		{"excess demand floors price", Orders{Buy: 4, Sell: 1}, 0, 0.2},
		{"excess supply damps", Orders{Buy: 1, Sell: 2}, 1, 0.833},
		{"excess supply keeps zero", Orders{Buy: 1, Sell: 2}, 0, 0},
		{"rounds the stored value", Orders{Buy: 3, Sell: 4}, 0.69, 0.632},
	}
	for _, tc := range cases {
		prices := []float64{tc.price}
		got := UpdatePrices(p, []Orders{tc.orders}, prices)
		if got[0] != tc.want {
			t.Fatalf("%s: price=%v want %v", tc.name, got[0], tc.want)
		}
		if prices[0] != tc.price {
			t.Fatalf("%s: UpdatePrices modified its input", tc.name)
		}
	}
}

func TestChooseAction_TiePreference(t *testing.T) {
	cases := []struct {
		less, same, more float64
		want             Action
	}{
		{1, 1, 1, Lower},
		{0, 1, 1, Hold},
		{1, 0, 1, Lower},
		{0, 0, 1, Raise},
		{2, 1, 0, Lower},
		{0, 2, 1, Hold},
		{0, 1, 2, Raise},
		{1, 2, 2, Hold},
	}
	for _, tc := range cases {
		if got := ChooseAction(tc.less, tc.same, tc.more); got != tc.want {
			t.Fatalf("ChooseAction(%v,%v,%v)=%v want %v", tc.less, tc.same, tc.more, got, tc.want)
		}
	}
}

func TestAdvance_Invariants(t *testing.T) {
	f := lumberFrame(t)
	step := f.Params().Step
	for n := 0; n < 200; n++ {
		next, decisions := f.Advance()

		prices := next.Prices()
		if len(prices) != f.Catalogs().NumGoods() || len(next.PriceMap()) != f.Catalogs().NumGoods() {
			t.Fatalf("frame %d: %d prices for %d goods", n, len(prices), f.Catalogs().NumGoods())
		}
		for g, p := range prices {
			if p < 0 || Round3(p) != p {
				t.Fatalf("frame %d: price[%d]=%v not a rounded non-negative value", n, g, p)
			}
		}

		for i := 0; i < next.NumBuildings(); i++ {
			prev, cur := f.Building(i), next.Building(i)
			if cur.Activation < 0 || cur.Activation > 1 {
				t.Fatalf("frame %d: building %d activation=%v", n, i, cur.Activation)
			}
			if cur.Kind == Fixed && cur.Activation != 1 {
				t.Fatalf("frame %d: fixed building %d activation=%v", n, i, cur.Activation)
			}
			if math.Abs(cur.Activation-prev.Activation) > step+1e-9 {
				t.Fatalf("frame %d: building %d jumped %v -> %v", n, i, prev.Activation, cur.Activation)
			}
			if decisions[i].Action == Hold && cur.Activation != prev.Activation {
				t.Fatalf("frame %d: building %d held but moved %v -> %v", n, i, prev.Activation, cur.Activation)
			}
		}
		f = next
	}
}

func TestAdvance_DecisionsAreSimultaneous(t *testing.T) {
	cats := catalogs.Default()
	camp, _ := cats.BuildingByName("Logging Camp")
	saw, _ := cats.BuildingByName("Sawmill")
	pop, _ := cats.BuildingByName("Population Centers")
	prices := map[string]float64{"Logs": 0.4, "Planks": 0.7}

	a := Building{Type: camp, Level: 1, Activation: 0.3}
	b := Building{Type: saw, Level: 2, Activation: 0.5}
	c := NewFixed(pop, 1)

	f1, err := NewFrame(cats, DefaultParams(), []Building{a, b, c}, prices)
	if err != nil {
		t.Fatalf("frame1: %v", err)
	}
	f2, err := NewFrame(cats, DefaultParams(), []Building{b, a, c}, prices)
	if err != nil {
		t.Fatalf("frame2: %v", err)
	}

	for n := 0; n < 20; n++ {
		f1, f2 = f1.Next(), f2.Next()
		if f1.Building(0) != f2.Building(1) || f1.Building(1) != f2.Building(0) {
			t.Fatalf("frame %d: order changed outcome: %s,%s vs %s,%s",
				n, f1.Describe(0), f1.Describe(1), f2.Describe(1), f2.Describe(0))
		}
		p1, p2 := f1.Prices(), f2.Prices()
		for g := range p1 {
			if p1[g] != p2[g] {
				t.Fatalf("frame %d: price[%d] %v vs %v", n, g, p1[g], p2[g])
			}
		}
	}
}

func TestLedger_Formula(t *testing.T) {
	cats := catalogs.Default()
	saw, _ := cats.BuildingByName("Sawmill")
	f, err := NewFrame(cats, DefaultParams(), []Building{{Type: saw, Level: 2, Activation: 0.5}},
		map[string]float64{"Logs": 0.4, "Planks": 0.7})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	l := f.Ledger(0, 0)
	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
	if !near(l.Revenue, 3.5) || !near(l.Expense, 1.7) || !near(l.Profit, 1.8) {
		t.Fatalf("ledger=%+v want revenue=3.5 expense=1.7 profit=1.8", l)
	}
	if !near(f.Revenue(0, 0.1), 5*0.7*2*0.6) {
		t.Fatalf("offset not applied: revenue=%v", f.Revenue(0, 0.1))
	}
	// Idle buildings still pay maintenance.
	if got := f.Profit(0, -0.5); !near(got, -0.1) {
		t.Fatalf("idle profit=%v want -0.1", got)
	}
}

func TestLedger_WageTermScaledByFactor(t *testing.T) {
	cats := catalogs.New()
	if _, err := cats.RegisterGood(catalogs.GoodDef{ID: "Logs"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	camp, err := cats.RegisterBuilding(catalogs.BuildingDef{
		ID: "Camp", Outputs: []catalogs.GoodCount{{Good: "Logs", Count: 3}},
		WorkerDemand: 100, WorkerWage: 0.002,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b := []Building{{Type: camp, Level: 1, Activation: 1}}

	f, _ := NewFrame(cats, DefaultParams(), b, map[string]float64{"Logs": 1})
	if got := f.Expense(0, 0); got != 0.1 {
		t.Fatalf("wage should be inert by default: expense=%v", got)
	}

	p := DefaultParams()
	p.WageFactor = 1
	f, _ = NewFrame(cats, p, b, map[string]float64{"Logs": 1})
	if got := f.Expense(0, 0); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("expense=%v want 0.3", got)
	}
}

func TestNewFrame_ConfigurationErrors(t *testing.T) {
	cats := catalogs.Default()
	camp, _ := cats.BuildingByName("Logging Camp")
	pop, _ := cats.BuildingByName("Population Centers")
	ok := map[string]float64{"Logs": 0, "Planks": 0}

	cases := []struct {
		want      string
		buildings []Building
		prices    map[string]float64
	}{
		{`"Planks"`, nil, map[string]float64{"Logs": 0}},
		{`"Stone"`, nil, map[string]float64{"Logs": 0, "Planks": 0, "Stone": 1}},
		{"invalid price", nil, map[string]float64{"Logs": -1, "Planks": 0}},
		{"level", []Building{NewBuilding(camp, 0)}, ok},
		{"outside", []Building{{Type: camp, Level: 1, Activation: 1.5}}, ok},
		{"fixed", []Building{{Type: pop, Level: 1, Activation: 0.5, Kind: Fixed}}, ok},
		{"unknown building type", []Building{{Type: 99, Level: 1}}, ok},
	}
	for _, tc := range cases {
		_, err := NewFrame(cats, DefaultParams(), tc.buildings, tc.prices)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("err=%v want mention of %s", err, tc.want)
		}
	}
}

func TestRound3(t *testing.T) {
	tenth, third := 0.1, 1.0/3
	below, ratio, twoSix := 0.69, 0.75, 2.675
	cases := []struct{ in, want float64 }{
		{below * ((ratio-1)/3 + 1), 0.632},
		{twoSix, 2.67},
		{tenth * 1.2, 0.12},
		{tenth + 0.2, 0.3},
		{2.5 * third, 0.833},
		{0.0005, 0.001},
		{2, 2},
		{-tenth * 1.2, -0.12},
	}
	for _, tc := range cases {
		if got := Round3(tc.in); got != tc.want {
			t.Fatalf("Round3(%v)=%v want %v", tc.in, got, tc.want)
		}
	}
}

// lumberTrajectory is the reference run of the lumber frame: Logs and Planks
// prices, then the activations of the camp, sawmill and population centers.
var lumberTrajectory = [][5]float64{
	{0, 0, 0, 0, 1},
	{0, 0.12, 0, 0.1, 1},
	{0.12, 0.32, 0.1, 0.1, 1},
	{0.133, 0.853, 0.2, 0.2, 1},
	{0.148, 1.422, 0.3, 0.3, 1},
	{0.164, 1.896, 0.4, 0.4, 1},
	{0.182, 2.212, 0.5, 0.5, 1},
	{0.202, 2.359, 0.6, 0.6, 1},
	{0.224, 2.359, 0.7, 0.7, 1},
	{0.249, 2.247, 0.8, 0.8, 1},
	{0.277, 2.06, 0.9, 0.9, 1},
	{0.308, 1.831, 1, 1, 1},
	{0.342, 1.587, 1, 1, 1},
	{0.38, 1.375, 1, 1, 1},
	{0.422, 1.192, 1, 1, 1},
	{0.469, 1.033, 1, 1, 1},
	{0.521, 0.895, 1, 1, 1},
	{0.579, 0.776, 1, 0.9, 1},
	{0.618, 0.69, 1, 0.8, 1},
	{0.632, 0.632, 1, 0.7, 1},
	{0.618, 0.602, 1, 0.6, 1},
	{0.577, 0.602, 1, 0.5, 1},
	{0.513, 0.642, 1, 0.4, 1},
	{0.433, 0.749, 1, 0.4, 1},
	{0.366, 0.874, 1, 0.5, 1},
	{0.325, 0.932, 1, 0.6, 1},
	{0.303, 0.932, 1, 0.7, 1},
	{0.296, 0.888, 1, 0.8, 1},
	{0.303, 0.814, 1, 0.9, 1},
	{0.323, 0.724, 1, 1, 1},
	{0.359, 0.627, 1, 1, 1},
	{0.399, 0.543, 1, 0.9, 1},
	{0.426, 0.483, 1, 0.8, 1},
	{0.435, 0.443, 1, 0.7, 1},
	{0.425, 0.422, 1, 0.6, 1},
	{0.397, 0.422, 1, 0.5, 1},
	{0.353, 0.45, 1, 0.4, 1},
	{0.298, 0.525, 1, 0.4, 1},
	{0.252, 0.613, 1, 0.5, 1},
	{0.224, 0.654, 1, 0.6, 1},
	{0.209, 0.654, 1, 0.7, 1},
}

func TestAdvance_LumberTrajectory(t *testing.T) {
	f := lumberFrame(t)
	for n, want := range lumberTrajectory {
		if n > 0 {
			f, _ = f.Advance()
		}
		prices := f.PriceMap()
		got := [5]float64{prices["Logs"], prices["Planks"], f.Building(0).Activation, f.Building(1).Activation, f.Building(2).Activation}
		if got != want {
			t.Fatalf("frame %d: got %v want %v", n, got, want)
		}
	}
}
