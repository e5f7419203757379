package engine

import (
	"context"
	"errors"
	"testing"

	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/market"
	"marketsim.ai/internal/sim/scenario"
)

type memSink struct {
	recs []FrameRecord
	err  error
}

func (m *memSink) WriteFrame(rec FrameRecord) error {
	m.recs = append(m.recs, rec)
	return m.err
}

func newLumberSim(t *testing.T, opts ...Option) *Simulation {
	t.Helper()
	f, err := scenario.Default().Frame(catalogs.Default(), market.DefaultParams())
	if err != nil {
		t.Fatalf("initial frame: %v", err)
	}
	return New(f, opts...)
}

func TestRun_AppendsFramesAndPublishes(t *testing.T) {
	sink := &memSink{}
	sim := newLumberSim(t, WithRunID("run-1"), WithSinks(sink))

	if err := sim.Run(context.Background(), 10); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sim.Len() != 11 || sim.Tick() != 10 {
		t.Fatalf("len=%d tick=%d want 11,10", sim.Len(), sim.Tick())
	}
	if len(sink.recs) != 11 {
		t.Fatalf("records=%d want 11", len(sink.recs))
	}
	for i, rec := range sink.recs {
		if rec.Tick != uint64(i) || rec.RunID != "run-1" {
			t.Fatalf("record %d: tick=%d run=%s", i, rec.Tick, rec.RunID)
		}
		if rec.Digest != StateDigest(sim.Frame(i)) {
			t.Fatalf("record %d digest mismatch", i)
		}
	}
	if sink.recs[0].Decisions != nil {
		t.Fatalf("initial frame has no decisions")
	}
	if len(sink.recs[1].Decisions) != 3 {
		t.Fatalf("tick 1 decisions=%d want 3", len(sink.recs[1].Decisions))
	}

	// Every frame is derived from the previous one by exactly one advance.
	frames := sim.Frames()
	for i := 1; i < len(frames); i++ {
		if StateDigest(frames[i-1].Next()) != StateDigest(frames[i]) {
			t.Fatalf("frame %d is not the successor of frame %d", i, i-1)
		}
	}
}

func TestAccessors(t *testing.T) {
	sim := newLumberSim(t)
	if err := sim.Run(context.Background(), 3); err != nil {
		t.Fatalf("run: %v", err)
	}

	p, err := sim.PriceAt(1, "Planks")
	if err != nil {
		t.Fatalf("PriceAt: %v", err)
	}
	// Population centers demand planks nobody sells yet.
	if p != 0.12 {
		t.Fatalf("Planks at tick 1=%v want 0.12", p)
	}
	// Nobody buys logs yet, so the camp has no reason to start.
	a, err := sim.ActivationAt(1, 0)
	if err != nil || a != 0 {
		t.Fatalf("logging camp activation at tick 1=%v err=%v want 0", a, err)
	}
	if a, _ := sim.ActivationAt(3, 2); a != 1 {
		t.Fatalf("population centers activation=%v want 1", a)
	}
	l, err := sim.LedgerAt(2, 2)
	if err != nil {
		t.Fatalf("LedgerAt: %v", err)
	}
	if l != sim.Frame(2).Ledger(2, 0) {
		t.Fatalf("ledger mismatch")
	}

	if _, err := sim.PriceAt(9, "Logs"); err == nil {
		t.Fatalf("expected tick range error")
	}
	if _, err := sim.PriceAt(0, "Stone"); err == nil {
		t.Fatalf("expected unknown good error")
	}
	if _, err := sim.ActivationAt(0, 3); err == nil {
		t.Fatalf("expected building range error")
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	a := newLumberSim(t)
	b := newLumberSim(t)
	if err := a.Run(context.Background(), 40); err != nil {
		t.Fatalf("run a: %v", err)
	}
	if err := b.Run(context.Background(), 40); err != nil {
		t.Fatalf("run b: %v", err)
	}
	for i := 0; i < a.Len(); i++ {
		if StateDigest(a.Frame(i)) != StateDigest(b.Frame(i)) {
			t.Fatalf("digest mismatch at tick %d", i)
		}
	}
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	sim := newLumberSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sim.Run(ctx, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if sim.Len() != 1 {
		t.Fatalf("len=%d want 1", sim.Len())
	}
}

func TestSinkErrorsDoNotStopTheRun(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	sim := newLumberSim(t, WithSinks(sink))
	if err := sim.Run(context.Background(), 2); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.recs) != 3 {
		t.Fatalf("records=%d want 3", len(sink.recs))
	}
}

func TestStateDigest_CoversParams(t *testing.T) {
	cats := catalogs.Default()
	base, err := scenario.Default().Frame(cats, market.DefaultParams())
	if err != nil {
		t.Fatalf("initial frame: %v", err)
	}
	params := market.DefaultParams()
	params.Damping = 4
	damped, err := scenario.Default().Frame(cats, params)
	if err != nil {
		t.Fatalf("damped frame: %v", err)
	}
	if StateDigest(base) == StateDigest(damped) {
		t.Fatalf("frames with different params share a digest")
	}

	again, err := scenario.Default().Frame(catalogs.Default(), market.DefaultParams())
	if err != nil {
		t.Fatalf("rebuilt frame: %v", err)
	}
	if StateDigest(base) != StateDigest(again) {
		t.Fatalf("identical frames digest differently")
	}
}
