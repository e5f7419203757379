package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"marketsim.ai/internal/logging"
	"marketsim.ai/internal/persistence/indexdb"
	persistlog "marketsim.ai/internal/persistence/log"
	"marketsim.ai/internal/persistence/snapshot"
	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/engine"
	"marketsim.ai/internal/sim/market"
	"marketsim.ai/internal/sim/scenario"
	"marketsim.ai/internal/sim/tuning"
	"marketsim.ai/internal/transport/observer"
)

type runConfig struct {
	ConfigDir    string
	TuningPath   string
	ScenarioPath string
	SnapshotPath string
	DataDir      string
	RunID        string

	Steps         int // < 0 means the scenario's steps
	SnapshotEvery int
	StepInterval  time.Duration

	DisableTrace bool
	DisableDB    bool
	ObserveAddr  string
	Hold         bool
}

type runResult struct {
	RunID    string
	RunDir   string
	Tick     uint64
	Final    *market.Frame
	Snapshot string
}

func main() {
	boot := logrus.New()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		boot.WithError(err).Warn("load .env")
	}

	env := logging.ConfigFromEnv()
	var (
		configDir     = flag.String("configs", "./configs", "config directory (goods.json, buildings.json)")
		tuningPath    = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		scenarioPath  = flag.String("scenario", "", "path to scenario.yaml (default: <configs>/scenario.yaml)")
		snapPath      = flag.String("snapshot", "", "resume from this snapshot instead of the scenario")
		dataDir       = flag.String("data", "./data", "runtime data directory")
		runID         = flag.String("run", "", "run id (default: random)")
		steps         = flag.Int("steps", -1, "frames to advance (default: scenario steps)")
		snapEvery     = flag.Int("snapshot_every", 0, "write a snapshot every N frames (0: final snapshot only)")
		stepInterval  = flag.Duration("step_interval", 0, "wait between frames, for live observers")
		disableTrace  = flag.Bool("disable_trace", false, "do not write the frame trace")
		disableDB     = flag.Bool("disable_db", false, "do not write the sqlite read model")
		observeAddr   = flag.String("observe", "", "serve the observer stream on this address (empty to disable)")
		hold          = flag.Bool("hold", false, "keep serving observers after the run until interrupted")
		logLevel      = flag.String("log_level", env.Level, "log level (or MARKETSIM_LOG_LEVEL)")
		logFormat     = flag.String("log_format", env.Format, "text or json (or MARKETSIM_LOG_FORMAT)")
		logOutput     = flag.String("log_output", env.Output, "stdout, stderr or a file (or MARKETSIM_LOG_OUTPUT)")
		logMaxAgeDays = flag.Int("log_max_age_days", 0, "rotate the log file, keeping this many days")
	)
	flag.Parse()

	logger, err := logging.New(logging.Config{
		Level:      *logLevel,
		Format:     *logFormat,
		Output:     *logOutput,
		MaxAgeDays: *logMaxAgeDays,
	})
	if err != nil {
		boot.WithError(err).Fatal("configure logging")
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := run(ctx, runConfig{
		ConfigDir:     *configDir,
		TuningPath:    *tuningPath,
		ScenarioPath:  *scenarioPath,
		SnapshotPath:  *snapPath,
		DataDir:       *dataDir,
		RunID:         *runID,
		Steps:         *steps,
		SnapshotEvery: *snapEvery,
		StepInterval:  *stepInterval,
		DisableTrace:  *disableTrace,
		DisableDB:     *disableDB,
		ObserveAddr:   *observeAddr,
		Hold:          *hold,
	}, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("run failed")
	}
	if res.Final != nil {
		logger.WithFields(logrus.Fields{
			"run_id":   res.RunID,
			"tick":     res.Tick,
			"prices":   res.Final.PriceMap(),
			"snapshot": res.Snapshot,
		}).Info("run complete")
	}
}

func run(ctx context.Context, cfg runConfig, logger logrus.FieldLogger) (runResult, error) {
	var res runResult
	log := logging.WithComponent(logger, "marketsim")

	initial, tune, err := initialFrame(cfg, log)
	if err != nil {
		return res, err
	}
	cats := initial.Catalogs()

	steps := cfg.Steps
	if steps < 0 {
		sc, err := loadScenario(cfg)
		if err != nil {
			return res, err
		}
		steps = sc.Steps
	}

	res.RunID = strings.TrimSpace(cfg.RunID)
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}
	res.RunDir = filepath.Join(cfg.DataDir, "runs", res.RunID)
	log = log.WithField("run_id", res.RunID)

	var sinks []engine.FrameSink
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.WithError(err).Warn("close")
			}
		}
	}()

	if !cfg.DisableTrace {
		trace := persistlog.NewTraceLogger(res.RunDir)
		sinks = append(sinks, trace)
		closers = append(closers, trace.Close)
	}
	var idx *indexdb.SQLiteIndex
	if !cfg.DisableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(res.RunDir, "index.sqlite"))
		if err != nil {
			return res, err
		}
		closers = append(closers, idx.Close)
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			log.WithError(err).Warn("index: upsert catalogs")
		}
		sinks = append(sinks, idx)
	}
	if addr := strings.TrimSpace(cfg.ObserveAddr); addr != "" {
		obs := observer.NewServer(cats, initial.Params(), logger)
		srv := &http.Server{Addr: addr, Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("addr", addr).Info("observer listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("observer server")
			}
		}()
		sinks = append(sinks, obs)
		closers = append(closers, func() error {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = obs.Close()
			return srv.Shutdown(ctx2)
		})
	}

	sim := engine.New(initial,
		engine.WithRunID(res.RunID),
		engine.WithLogger(logger),
		engine.WithSinks(sinks...),
	)

	snapped := false
	writeSnap := func() {
		path := snapshot.Path(filepath.Join(res.RunDir, "snapshots"), sim.Tick())
		snap := snapshot.FromFrame(sim.RunID(), sim.Tick(), sim.Current())
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			log.WithError(err).Error("snapshot write")
			return
		}
		idx.RecordSnapshot(path, snap)
		res.Snapshot = path
		snapped = true
	}

	log.WithFields(logrus.Fields{
		"steps":     steps,
		"goods":     cats.NumGoods(),
		"buildings": initial.NumBuildings(),
	}).Info("run starting")

	var pace <-chan time.Time
	if cfg.StepInterval > 0 {
		t := time.NewTicker(cfg.StepInterval)
		defer t.Stop()
		pace = t.C
	}

	var runErr error
	for i := 0; i < steps; i++ {
		if pace != nil {
			select {
			case <-ctx.Done():
			case <-pace:
			}
		}
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		if _, runErr = sim.Step(); runErr != nil {
			break
		}
		snapped = false
		if cfg.SnapshotEvery > 0 && sim.Tick()%uint64(cfg.SnapshotEvery) == 0 {
			writeSnap()
		}
	}
	if !snapped {
		writeSnap()
	}

	res.Tick = sim.Tick()
	res.Final = sim.Current()

	if cfg.Hold && runErr == nil && strings.TrimSpace(cfg.ObserveAddr) != "" {
		log.Info("run finished; serving observers until interrupted")
		<-ctx.Done()
	}
	return res, runErr
}

// initialFrame resolves the starting frame from a snapshot when one is given,
// otherwise from the configured catalogs, tuning and scenario.
func initialFrame(cfg runConfig, log *logrus.Entry) (*market.Frame, tuning.Tuning, error) {
	if p := strings.TrimSpace(cfg.SnapshotPath); p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			return nil, tuning.Tuning{}, err
		}
		f, err := snap.Frame(nil)
		if err != nil {
			return nil, tuning.Tuning{}, err
		}
		log.WithFields(logrus.Fields{"path": p, "tick": snap.Header.Tick, "from_run": snap.Header.RunID}).Info("resuming from snapshot")
		return f, tuning.FromParams(snap.Params), nil
	}

	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		return nil, tuning.Tuning{}, err
	}
	tp := strings.TrimSpace(cfg.TuningPath)
	if tp == "" {
		tp = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, tune, err
		}
		log.WithField("path", tp).Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	sc, err := loadScenario(cfg)
	if err != nil {
		return nil, tune, err
	}
	f, err := sc.Frame(cats, tune.Params())
	if err != nil {
		return nil, tune, err
	}
	return f, tune, nil
}

// loadScenario falls back to the built-in scenario only when no path was given
// and the config directory has none.
func loadScenario(cfg runConfig) (scenario.Scenario, error) {
	sp := strings.TrimSpace(cfg.ScenarioPath)
	if sp == "" {
		sp = filepath.Join(cfg.ConfigDir, "scenario.yaml")
		if _, err := os.Stat(sp); err != nil {
			return scenario.Default(), nil
		}
	}
	return scenario.Load(sp)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
