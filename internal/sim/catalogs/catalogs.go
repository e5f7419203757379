package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GoodID addresses a registered good. IDs are dense and follow registration order.
type GoodID int

// BuildingTypeID addresses a registered building type.
type BuildingTypeID int

// Catalogs is the good and building-type registry of one simulation. It is
// append-only; nothing is ever removed.
type Catalogs struct {
	goods     []GoodDef
	goodIndex map[string]GoodID

	buildings     []BuildingType
	buildingIndex map[string]BuildingTypeID

	GoodsDigest     string
	BuildingsDigest string
}

type GoodDef struct {
	ID    string `json:"id"`
	Color string `json:"color,omitempty"` // display only
}

type GoodCount struct {
	Good  string  `json:"good"`
	Count float64 `json:"count"`
}

// BuildingDef is the declared form of a building type, as found in buildings.json.
type BuildingDef struct {
	ID           string      `json:"id"`
	Color        string      `json:"color,omitempty"`
	Inputs       []GoodCount `json:"inputs"`
	Outputs      []GoodCount `json:"outputs"`
	WorkerDemand int         `json:"worker_demand"`
	WorkerWage   float64     `json:"worker_wage"`
}

// Flow is one resolved recipe line: quantity per unit of capacity at full activation.
type Flow struct {
	Good GoodID
	Qty  float64
}

// BuildingType is a registered recipe. Inputs and Outputs keep declaration order so
// that sums over them are reproducible bit for bit.
type BuildingType struct {
	ID           string
	Color        string
	Inputs       []Flow
	Outputs      []Flow
	WorkerDemand int
	WorkerWage   float64 // not applied to cost yet
}

func New() *Catalogs {
	return &Catalogs{
		goodIndex:     map[string]GoodID{},
		buildingIndex: map[string]BuildingTypeID{},
	}
}

func (c *Catalogs) RegisterGood(d GoodDef) (GoodID, error) {
	name := strings.TrimSpace(d.ID)
	if name == "" {
		return 0, fmt.Errorf("good: empty id")
	}
	if _, ok := c.goodIndex[name]; ok {
		return 0, fmt.Errorf("good %q: already registered", name)
	}
	d.ID = name
	id := GoodID(len(c.goods))
	c.goods = append(c.goods, d)
	c.goodIndex[name] = id
	return id, nil
}

func (c *Catalogs) RegisterBuilding(d BuildingDef) (BuildingTypeID, error) {
	name := strings.TrimSpace(d.ID)
	if name == "" {
		return 0, fmt.Errorf("building: empty id")
	}
	if _, ok := c.buildingIndex[name]; ok {
		return 0, fmt.Errorf("building %q: already registered", name)
	}
	if d.WorkerDemand < 0 {
		return 0, fmt.Errorf("building %q: negative worker_demand", name)
	}
	inputs, err := c.resolveFlows(name, "inputs", d.Inputs)
	if err != nil {
		return 0, err
	}
	outputs, err := c.resolveFlows(name, "outputs", d.Outputs)
	if err != nil {
		return 0, err
	}
	id := BuildingTypeID(len(c.buildings))
	c.buildings = append(c.buildings, BuildingType{
		ID:           name,
		Color:        d.Color,
		Inputs:       inputs,
		Outputs:      outputs,
		WorkerDemand: d.WorkerDemand,
		WorkerWage:   d.WorkerWage,
	})
	c.buildingIndex[name] = id
	return id, nil
}

func (c *Catalogs) resolveFlows(building, field string, in []GoodCount) ([]Flow, error) {
	out := make([]Flow, 0, len(in))
	seen := map[GoodID]bool{}
	for _, gc := range in {
		g, ok := c.goodIndex[gc.Good]
		if !ok {
			return nil, fmt.Errorf("building %q: %s: unknown good %q", building, field, gc.Good)
		}
		if seen[g] {
			return nil, fmt.Errorf("building %q: %s: duplicate good %q", building, field, gc.Good)
		}
		if gc.Count < 0 {
			return nil, fmt.Errorf("building %q: %s: negative count for %q", building, field, gc.Good)
		}
		seen[g] = true
		out = append(out, Flow{Good: g, Qty: gc.Count})
	}
	return out, nil
}

func (c *Catalogs) NumGoods() int     { return len(c.goods) }
func (c *Catalogs) NumBuildings() int { return len(c.buildings) }

func (c *Catalogs) Good(id GoodID) GoodDef { return c.goods[id] }

func (c *Catalogs) Building(id BuildingTypeID) *BuildingType { return &c.buildings[id] }

func (c *Catalogs) GoodByName(name string) (GoodID, bool) {
	id, ok := c.goodIndex[name]
	return id, ok
}

func (c *Catalogs) BuildingByName(name string) (BuildingTypeID, bool) {
	id, ok := c.buildingIndex[name]
	return id, ok
}

// Goods returns the registered goods in registration order.
func (c *Catalogs) Goods() []GoodDef {
	return append([]GoodDef(nil), c.goods...)
}

// Buildings returns the declared form of every registered building type, in order.
func (c *Catalogs) Buildings() []BuildingDef {
	out := make([]BuildingDef, 0, len(c.buildings))
	for _, bt := range c.buildings {
		out = append(out, BuildingDef{
			ID:           bt.ID,
			Color:        bt.Color,
			Inputs:       c.counts(bt.Inputs),
			Outputs:      c.counts(bt.Outputs),
			WorkerDemand: bt.WorkerDemand,
			WorkerWage:   bt.WorkerWage,
		})
	}
	return out
}

func (c *Catalogs) counts(flows []Flow) []GoodCount {
	out := make([]GoodCount, 0, len(flows))
	for _, f := range flows {
		out = append(out, GoodCount{Good: c.goods[f.Good].ID, Count: f.Qty})
	}
	return out
}

// Digest identifies the registry contents independent of where they were loaded from.
func (c *Catalogs) Digest() string {
	b, _ := json.Marshal(struct {
		Goods     []GoodDef     `json:"goods"`
		Buildings []BuildingDef `json:"buildings"`
	}{c.Goods(), c.Buildings()})
	return sha256Hex(b)
}

// Load reads goods.json and buildings.json from configDir.
func Load(configDir string) (*Catalogs, error) {
	c := New()
	if err := loadGoods(filepath.Join(configDir, "goods.json"), c); err != nil {
		return nil, err
	}
	if err := loadBuildings(filepath.Join(configDir, "buildings.json"), c); err != nil {
		return nil, err
	}
	return c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadGoods(path string, c *Catalogs) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validate(goodsSchema, raw); err != nil {
		return fmt.Errorf("goods.json: %w", err)
	}
	c.GoodsDigest = sha256Hex(raw)

	var defs []GoodDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("goods.json: %w", err)
	}
	for _, d := range defs {
		if _, err := c.RegisterGood(d); err != nil {
			return fmt.Errorf("goods.json: %w", err)
		}
	}
	return nil
}

func loadBuildings(path string, c *Catalogs) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validate(buildingsSchema, raw); err != nil {
		return fmt.Errorf("buildings.json: %w", err)
	}
	c.BuildingsDigest = sha256Hex(raw)

	var defs []BuildingDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("buildings.json: %w", err)
	}
	for _, d := range defs {
		if _, err := c.RegisterBuilding(d); err != nil {
			return fmt.Errorf("buildings.json: %w", err)
		}
	}
	return nil
}
