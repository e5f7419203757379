package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"marketsim.ai/internal/persistence/snapshot"
	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/engine"
	"marketsim.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of a run. Writes are queued and applied
// by one goroutine; a full queue drops the write instead of stalling the
// simulation. The trace log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFrame    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropFrameTotal    uint64 `json:"drop_frame_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	frame    engine.FrameRecord
	snapshot snapshotRow
}

type snapshotRow struct {
	RunID     string
	Tick      uint64
	Path      string
	Goods     int
	Buildings int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS prices (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			good TEXT NOT NULL,
			price REAL NOT NULL,
			buy REAL NOT NULL,
			sell REAL NOT NULL,
			PRIMARY KEY (run_id, tick, good)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_prices_good_tick ON prices(good, tick);`,
		`CREATE TABLE IF NOT EXISTS buildings (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			type TEXT NOT NULL,
			kind TEXT NOT NULL,
			level INTEGER NOT NULL,
			activation REAL NOT NULL,
			revenue REAL NOT NULL,
			expense REAL NOT NULL,
			profit REAL NOT NULL,
			PRIMARY KEY (run_id, tick, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			action TEXT NOT NULL,
			from_activation REAL NOT NULL,
			to_activation REAL NOT NULL,
			less_profit REAL NOT NULL,
			same_profit REAL NOT NULL,
			more_profit REAL NOT NULL,
			PRIMARY KEY (run_id, tick, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			goods INTEGER NOT NULL,
			buildings INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropFrameTotal:    s.dropFrame.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteFrame(rec engine.FrameRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: rec}:
	default:
		s.dropFrame.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.FrameSnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		RunID:     snap.Header.RunID,
		Tick:      snap.Header.Tick,
		Path:      path,
		Goods:     len(snap.Goods),
		Buildings: len(snap.Buildings),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertCatalogs stores the registry and the tuning the run applies. It writes
// synchronously; call it before the first frame.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Goods()); len(b) > 0 {
		rows = append(rows, kv{name: "goods", digest: digestOr(cats.GoodsDigest, b), json: b})
	}
	if b, _ := json.Marshal(cats.Buildings()); len(b) > 0 {
		rows = append(rows, kv{name: "buildings", digest: digestOr(cats.BuildingsDigest, b), json: b})
	}
	if b, _ := json.Marshal(tune); len(b) > 0 {
		rows = append(rows, kv{name: "tuning", digest: sha256Hex(b), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('catalog_digest',?)`, cats.Digest()); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// digestOr prefers the digest of the file the registry was loaded from.
func digestOr(fileDigest string, canonical []byte) string {
	if fileDigest != "" {
		return fileDigest
	}
	return sha256Hex(canonical)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(run_id,tick,digest,raw_json) VALUES(?,?,?,?)`)
	insertPrice, _ := s.db.Prepare(`INSERT OR REPLACE INTO prices(run_id,tick,good,price,buy,sell) VALUES(?,?,?,?,?,?)`)
	insertBuilding, _ := s.db.Prepare(`INSERT OR REPLACE INTO buildings(run_id,tick,idx,type,kind,level,activation,revenue,expense,profit) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertDecision, _ := s.db.Prepare(`INSERT OR REPLACE INTO decisions(run_id,tick,idx,action,from_activation,to_activation,less_profit,same_profit,more_profit) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,tick,path,goods,buildings) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFrame, insertPrice, insertBuilding, insertDecision, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFrame:
			s.applyFrame(r.frame, exec, insertFrame, insertPrice, insertBuilding, insertDecision)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, int64(sn.Tick), sn.Path, sn.Goods, sn.Buildings)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func (s *SQLiteIndex) applyFrame(f engine.FrameRecord, exec func(*sql.Stmt, ...any) bool, frame, price, building, decision *sql.Stmt) {
	tick := int64(f.Tick)
	raw, _ := json.Marshal(f)
	if !exec(frame, f.RunID, tick, f.Digest, string(raw)) {
		return
	}
	for _, g := range f.Goods {
		if !exec(price, f.RunID, tick, g.Good, g.Price, g.Buy, g.Sell) {
			return
		}
	}
	for _, b := range f.Buildings {
		if !exec(building, f.RunID, tick, b.Index, b.Type, b.Kind, b.Level, b.Activation, b.Revenue, b.Expense, b.Profit) {
			return
		}
	}
	for _, d := range f.Decisions {
		if !exec(decision, f.RunID, tick, d.Index, d.Action.String(), d.From, d.To, d.LessProfit, d.SameProfit, d.MoreProfit) {
			return
		}
	}
}
