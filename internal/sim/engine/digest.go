package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"marketsim.ai/internal/sim/market"
)

// StateDigest hashes the catalog digest, the pricing params and the exact bits of
// a frame's prices and building arena. Two frames with the same digest advance
// to the same successor.
func StateDigest(f *market.Frame) string {
	h := sha256.New()
	var tmp [8]byte

	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		_, _ = h.Write(tmp[:])
	}
	writeF64 := func(v float64) { writeU64(math.Float64bits(v)) }

	_, _ = h.Write([]byte(f.Catalogs().Digest()))
	p := f.Params()
	for _, v := range []float64{p.Step, p.MaintenanceCost, p.PriceFloor, p.HikeMultiplier, p.Damping, p.ProbeOffset, p.WageFactor} {
		writeF64(v)
	}

	prices := f.Prices()
	writeU64(uint64(len(prices)))
	for _, p := range prices {
		writeF64(p)
	}
	writeU64(uint64(f.NumBuildings()))
	for i := 0; i < f.NumBuildings(); i++ {
		b := f.Building(i)
		writeU64(uint64(b.Type))
		writeU64(uint64(b.Level))
		writeU64(uint64(b.Kind))
		writeF64(b.Activation)
	}
	return hex.EncodeToString(h.Sum(nil))
}
