// Package engine drives a market forward frame by frame and keeps every frame.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketsim.ai/internal/logging"
	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/market"
)

// Simulation owns the append-only frame sequence. Frame i is the result of i
// advances from the initial frame.
type Simulation struct {
	runID string
	log   *logrus.Entry
	sinks []FrameSink

	frames    []*market.Frame
	decisions [][]market.Decision
}

type Option func(*Simulation)

func WithRunID(id string) Option { return func(s *Simulation) { s.runID = id } }

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Simulation) { s.log = logging.WithComponent(l, "engine") }
}

func WithSinks(sinks ...FrameSink) Option {
	return func(s *Simulation) { s.sinks = append(s.sinks, sinks...) }
}

// New starts a simulation at initial. The initial frame is published to the
// sinks as tick 0.
func New(initial *market.Frame, opts ...Option) *Simulation {
	s := &Simulation{
		runID:     uuid.NewString(),
		frames:    []*market.Frame{initial},
		decisions: [][]market.Decision{nil},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.WithComponent(logging.Discard(), "engine")
	}
	s.log = s.log.WithField("run_id", s.runID)
	s.publish(0)
	return s
}

func (s *Simulation) RunID() string                { return s.runID }
func (s *Simulation) Len() int                     { return len(s.frames) }
func (s *Simulation) Tick() uint64                 { return uint64(len(s.frames) - 1) }
func (s *Simulation) Current() *market.Frame       { return s.frames[len(s.frames)-1] }
func (s *Simulation) Frame(tick int) *market.Frame { return s.frames[tick] }

// Frames returns the frame sequence. The slice is a copy; the frames are shared
// and immutable.
func (s *Simulation) Frames() []*market.Frame {
	return append([]*market.Frame(nil), s.frames...)
}

// Decisions returns the choices that produced frame tick (nil for tick 0).
func (s *Simulation) Decisions(tick int) []market.Decision {
	return s.decisions[tick]
}

// Step advances the current frame once and appends the result.
func (s *Simulation) Step() (next *market.Frame, err error) {
	cur := s.Current()
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("advance tick %d: %v", s.Tick(), r)
		}
	}()

	next, decisions := cur.Advance()
	s.frames = append(s.frames, next)
	s.decisions = append(s.decisions, decisions)

	s.narrate(cur, next, decisions)
	s.publish(s.Tick())
	return next, nil
}

// Run performs n steps. The context is only checked between steps.
func (s *Simulation) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Record builds the sink view of frame tick.
func (s *Simulation) Record(tick int) FrameRecord {
	return newRecord(s.runID, uint64(tick), s.frames[tick], s.decisions[tick])
}

func (s *Simulation) PriceAt(tick int, good string) (float64, error) {
	if err := s.checkTick(tick); err != nil {
		return 0, err
	}
	p, ok := s.frames[tick].PriceOf(good)
	if !ok {
		return 0, fmt.Errorf("unknown good %q", good)
	}
	return p, nil
}

func (s *Simulation) ActivationAt(tick, index int) (float64, error) {
	if err := s.checkBuilding(tick, index); err != nil {
		return 0, err
	}
	return s.frames[tick].Building(index).Activation, nil
}

// LedgerAt scores building index against its own frame.
func (s *Simulation) LedgerAt(tick, index int) (market.Ledger, error) {
	if err := s.checkBuilding(tick, index); err != nil {
		return market.Ledger{}, err
	}
	return s.frames[tick].Ledger(index, 0), nil
}

func (s *Simulation) checkTick(tick int) error {
	if tick < 0 || tick >= len(s.frames) {
		return fmt.Errorf("tick %d out of range [0,%d]", tick, len(s.frames)-1)
	}
	return nil
}

func (s *Simulation) checkBuilding(tick, index int) error {
	if err := s.checkTick(tick); err != nil {
		return err
	}
	if n := s.frames[tick].NumBuildings(); index < 0 || index >= n {
		return fmt.Errorf("building %d out of range [0,%d)", index, n)
	}
	return nil
}

func (s *Simulation) publish(tick uint64) {
	if len(s.sinks) == 0 {
		return
	}
	rec := s.Record(int(tick))
	for _, sink := range s.sinks {
		if err := sink.WriteFrame(rec); err != nil {
			s.log.WithError(err).WithField("tick", tick).Warn("frame sink failed")
		}
	}
}

func (s *Simulation) narrate(prev, next *market.Frame, decisions []market.Decision) {
	tick := s.Tick()
	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		cats := next.Catalogs()
		orders := prev.Orders()
		for g, p := range next.Prices() {
			s.log.WithFields(logrus.Fields{
				"tick": tick,
				"good": cats.Good(catalogs.GoodID(g)).ID,
				"from": prev.Price(catalogs.GoodID(g)),
				"to":   p,
				"buy":  orders[g].Buy,
				"sell": orders[g].Sell,
			}).Debug("price")
		}
		for _, d := range decisions {
			s.log.WithFields(logrus.Fields{
				"tick":     tick,
				"building": prev.Describe(d.Index),
				"action":   d.Action.String(),
				"to":       d.To,
				"less":     market.Round3(d.LessProfit),
				"same":     market.Round3(d.SameProfit),
				"more":     market.Round3(d.MoreProfit),
			}).Debug("decision")
		}
	}
	s.log.WithFields(logrus.Fields{
		"tick":   tick,
		"prices": next.PriceMap(),
	}).Info("frame advanced")
}
