package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/market"
)

const Version = 1

// Suffix is the file extension of snapshot files; the base name is the tick.
const Suffix = ".snap.zst"

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Tick    uint64 `json:"tick"`
}

// FrameSnapshotV1 is a self-contained copy of one frame: the registry it was
// built against, the parameters, and the exact bits of every price and activation.
type FrameSnapshotV1 struct {
	Header Header `json:"header"`

	CatalogDigest string                 `json:"catalog_digest"`
	Params        market.Params          `json:"params"`
	Goods         []catalogs.GoodDef     `json:"goods"`
	BuildingTypes []catalogs.BuildingDef `json:"building_types"`

	Buildings []BuildingV1 `json:"buildings"`
	Prices    []PriceV1    `json:"prices"`
}

type BuildingV1 struct {
	Type       string  `json:"type"`
	Level      int     `json:"level"`
	Activation float64 `json:"activation"`
	Fixed      bool    `json:"fixed,omitempty"`
}

type PriceV1 struct {
	Good  string  `json:"good"`
	Price float64 `json:"price"`
}

// FromFrame captures f as the frame at tick of run runID.
func FromFrame(runID string, tick uint64, f *market.Frame) FrameSnapshotV1 {
	cats := f.Catalogs()
	snap := FrameSnapshotV1{
		Header:        Header{Version: Version, RunID: runID, Tick: tick},
		CatalogDigest: cats.Digest(),
		Params:        f.Params(),
		Goods:         cats.Goods(),
		BuildingTypes: cats.Buildings(),
	}
	for _, b := range f.Buildings() {
		snap.Buildings = append(snap.Buildings, BuildingV1{
			Type:       cats.Building(b.Type).ID,
			Level:      b.Level,
			Activation: b.Activation,
			Fixed:      b.Kind == market.Fixed,
		})
	}
	for g, p := range f.Prices() {
		snap.Prices = append(snap.Prices, PriceV1{Good: cats.Good(catalogs.GoodID(g)).ID, Price: p})
	}
	return snap
}

// Catalogs rebuilds the registry stored in the snapshot and checks it against
// the recorded digest.
func (s FrameSnapshotV1) Catalogs() (*catalogs.Catalogs, error) {
	cats := catalogs.New()
	for _, g := range s.Goods {
		if _, err := cats.RegisterGood(g); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}
	for _, b := range s.BuildingTypes {
		if _, err := cats.RegisterBuilding(b); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}
	if s.CatalogDigest != "" && cats.Digest() != s.CatalogDigest {
		return nil, fmt.Errorf("snapshot: catalog digest mismatch")
	}
	return cats, nil
}

// Frame rebuilds the captured frame. When cats is nil the snapshot's own
// registry is used; otherwise cats must carry the same digest.
func (s FrameSnapshotV1) Frame(cats *catalogs.Catalogs) (*market.Frame, error) {
	if cats == nil {
		var err error
		if cats, err = s.Catalogs(); err != nil {
			return nil, err
		}
	} else if s.CatalogDigest != "" && cats.Digest() != s.CatalogDigest {
		return nil, fmt.Errorf("snapshot: catalogs differ from the ones the run used")
	}

	buildings := make([]market.Building, 0, len(s.Buildings))
	for i, b := range s.Buildings {
		t, ok := cats.BuildingByName(b.Type)
		if !ok {
			return nil, fmt.Errorf("snapshot: building %d: unknown type %q", i, b.Type)
		}
		kind := market.Normal
		if b.Fixed {
			kind = market.Fixed
		}
		buildings = append(buildings, market.Building{Type: t, Level: b.Level, Activation: b.Activation, Kind: kind})
	}
	prices := make(map[string]float64, len(s.Prices))
	for _, p := range s.Prices {
		prices[p.Good] = p.Price
	}
	return market.NewFrame(cats, s.Params, buildings, prices)
}

// Path is where the snapshot of tick lives under dir.
func Path(dir string, tick uint64) string {
	return filepath.Join(dir, strconv.FormatUint(tick, 10)+Suffix)
}

// Latest returns the snapshot in dir with the highest tick, or "" if there is none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Suffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), Suffix), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, e.Name())
		}
	}
	return best
}

func WriteSnapshot(path string, snap FrameSnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (FrameSnapshotV1, error) {
	var snap FrameSnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
