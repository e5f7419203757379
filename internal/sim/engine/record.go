package engine

import (
	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/market"
)

// FrameRecord is the read-only view of one frame handed to sinks.
type FrameRecord struct {
	RunID     string            `json:"run_id"`
	Tick      uint64            `json:"tick"`
	Digest    string            `json:"digest"`
	Goods     []GoodState       `json:"goods"`
	Buildings []BuildingState   `json:"buildings"`
	Decisions []market.Decision `json:"decisions,omitempty"` // the choices that produced this frame
}

type GoodState struct {
	Good  string  `json:"good"`
	Price float64 `json:"price"`
	Buy   float64 `json:"buy"`
	Sell  float64 `json:"sell"`
}

type BuildingState struct {
	Index      int     `json:"index"`
	Type       string  `json:"type"`
	Kind       string  `json:"kind"`
	Level      int     `json:"level"`
	Activation float64 `json:"activation"`
	market.Ledger
}

// FrameSink consumes frame records. Sinks must not retain the frame itself.
type FrameSink interface {
	WriteFrame(rec FrameRecord) error
}

func newRecord(runID string, tick uint64, f *market.Frame, decisions []market.Decision) FrameRecord {
	cats := f.Catalogs()
	orders := f.Orders()
	rec := FrameRecord{
		RunID:     runID,
		Tick:      tick,
		Digest:    StateDigest(f),
		Goods:     make([]GoodState, 0, cats.NumGoods()),
		Buildings: make([]BuildingState, 0, f.NumBuildings()),
		Decisions: decisions,
	}
	for g, p := range f.Prices() {
		rec.Goods = append(rec.Goods, GoodState{
			Good:  cats.Good(catalogs.GoodID(g)).ID,
			Price: p,
			Buy:   orders[g].Buy,
			Sell:  orders[g].Sell,
		})
	}
	for i := 0; i < f.NumBuildings(); i++ {
		b := f.Building(i)
		rec.Buildings = append(rec.Buildings, BuildingState{
			Index:      i,
			Type:       cats.Building(b.Type).ID,
			Kind:       b.Kind.String(),
			Level:      b.Level,
			Activation: b.Activation,
			Ledger:     f.Ledger(i, 0),
		})
	}
	return rec
}
