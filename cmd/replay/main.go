package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "marketsim.ai/internal/persistence/log"
	"marketsim.ai/internal/persistence/snapshot"
	"marketsim.ai/internal/sim/engine"
	"marketsim.ai/internal/sim/market"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		traceDir = flag.String("trace", "", "trace dir containing trace-*.jsonl.zst (default: <run dir>/trace)")
		toTick   = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	f, err := snap.Frame(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rebuild frame:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d run=%s tick=%d goods=%d building_types=%d buildings=%d digest=%s\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Tick,
		len(snap.Goods), len(snap.BuildingTypes), len(snap.Buildings), engine.StateDigest(f))

	dir := *traceDir
	if dir == "" {
		// <run dir>/snapshots/<tick>.snap.zst -> <run dir>/trace
		dir = filepath.Join(filepath.Dir(filepath.Dir(*snapPath)), "trace")
	}
	if _, err := os.Stat(dir); err != nil {
		if *traceDir != "" {
			fmt.Fprintln(os.Stderr, "trace:", err)
			os.Exit(1)
		}
		return
	}

	recs, err := persistlog.ReadTrace(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read trace:", err)
		os.Exit(1)
	}
	checked, err := verify(f, snap.Header, recs, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d frames (from snapshot tick=%d)\n", checked, snap.Header.Tick)
}

// verify re-advances f from the snapshot tick and compares every successor
// against the recorded digest of the same run.
func verify(f *market.Frame, h snapshot.Header, recs []engine.FrameRecord, toTick uint64) (uint64, error) {
	var checked uint64
	tick := h.Tick
	for _, rec := range recs {
		if rec.RunID != h.RunID || rec.Tick < h.Tick {
			continue
		}
		if toTick != 0 && rec.Tick > toTick {
			break
		}
		if rec.Tick == h.Tick {
			if got := engine.StateDigest(f); got != rec.Digest {
				return checked, fmt.Errorf("snapshot does not match recorded tick %d: got=%s want=%s", rec.Tick, got, rec.Digest)
			}
			continue
		}
		if rec.Tick != tick+1 {
			return checked, fmt.Errorf("tick gap: want=%d got=%d", tick+1, rec.Tick)
		}
		f = f.Next()
		tick++
		checked++
		if got := engine.StateDigest(f); got != rec.Digest {
			return checked, fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, got, rec.Digest)
		}
	}
	return checked, nil
}
