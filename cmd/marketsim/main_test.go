package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"marketsim.ai/internal/logging"
	persistlog "marketsim.ai/internal/persistence/log"
	"marketsim.ai/internal/persistence/snapshot"
	"marketsim.ai/internal/sim/engine"
)

func TestRun_WritesTraceIndexAndSnapshots(t *testing.T) {
	data := t.TempDir()
	res, err := run(context.Background(), runConfig{
		ConfigDir:     filepath.Join("..", "..", "configs"),
		DataDir:       data,
		RunID:         "test-run",
		Steps:         5,
		SnapshotEvery: 2,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Tick != 5 || res.RunDir != filepath.Join(data, "runs", "test-run") {
		t.Fatalf("result=%+v", res)
	}

	snaps := filepath.Join(res.RunDir, "snapshots")
	for _, tick := range []uint64{2, 4, 5} {
		if _, err := snapshot.ReadSnapshot(snapshot.Path(snaps, tick)); err != nil {
			t.Fatalf("snapshot %d: %v", tick, err)
		}
	}
	if got := snapshot.Latest(snaps); got != res.Snapshot {
		t.Fatalf("latest=%s result=%s", got, res.Snapshot)
	}

	recs, err := persistlog.ReadTrace(filepath.Join(res.RunDir, "trace"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if len(recs) != 6 || recs[5].Digest != engine.StateDigest(res.Final) {
		t.Fatalf("trace has %d records or a stale final digest", len(recs))
	}

	db, err := sql.Open("sqlite", filepath.Join(res.RunDir, "index.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer db.Close()
	var frames, snapshots int
	if err := db.QueryRow(`SELECT COUNT(*) FROM frames WHERE run_id = ?`, "test-run").Scan(&frames); err != nil {
		t.Fatalf("count frames: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&snapshots); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if frames != 6 || snapshots != 3 {
		t.Fatalf("frames=%d snapshots=%d want 6,3", frames, snapshots)
	}
}

func TestRun_ResumesFromSnapshot(t *testing.T) {
	data := t.TempDir()
	cfg := runConfig{
		ConfigDir:    filepath.Join("..", "..", "configs"),
		DataDir:      data,
		Steps:        8,
		DisableDB:    true,
		DisableTrace: true,
	}

	cfg.RunID = "straight"
	straight, err := run(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("straight run: %v", err)
	}

	cfg.RunID, cfg.Steps = "first", 3
	first, err := run(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("first leg: %v", err)
	}
	cfg.RunID, cfg.Steps, cfg.SnapshotPath = "second", 5, first.Snapshot
	second, err := run(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("second leg: %v", err)
	}

	if engine.StateDigest(second.Final) != engine.StateDigest(straight.Final) {
		t.Fatalf("resumed run diverged: %v vs %v", second.Final.PriceMap(), straight.Final.PriceMap())
	}
}

func TestRun_BadConfigDir(t *testing.T) {
	_, err := run(context.Background(), runConfig{ConfigDir: t.TempDir(), DataDir: t.TempDir(), Steps: 1}, logging.Discard())
	if err == nil {
		t.Fatalf("expected error for a config dir without catalogs")
	}
}
