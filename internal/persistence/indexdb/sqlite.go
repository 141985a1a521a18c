package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelhull.dev/internal/hull/index"
	"voxelhull.dev/internal/volume"
)

// SQLiteIndex is a queryable secondary index of a volume's edits and flushes.
// Writes are queued and applied by one goroutine; the edit journal stays the
// source of truth, so the queue drops rather than stalls the volume loop.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEdit     atomic.Uint64
	dropFlush    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropEditTotal     uint64
	DropFlushTotal    uint64
	DropSnapshotTotal uint64
}

type reqKind int

const (
	reqEdit reqKind = iota + 1
	reqFlush
	reqSnapshot
)

type req struct {
	kind reqKind

	edit     editRow
	flush    volume.FlushSummary
	snapshot snapshotRow
}

type snapshotRow struct {
	Flush  uint64
	Path   string
	Voxels int
}

type editRow struct {
	Entry  volume.EditLogEntry
	Result volume.Result
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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
		ch: make(chan req, queue),
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
		`CREATE TABLE IF NOT EXISTS edits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flush INTEGER NOT NULL,
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ops INTEGER NOT NULL,
			sets INTEGER NOT NULL,
			substitutions INTEGER NOT NULL,
			clears INTEGER NOT NULL,
			noop_clears INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_flush ON edits(flush);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_session_seq ON edits(session, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			flush INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			voxels INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flushes (
			flush INTEGER PRIMARY KEY,
			added INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			occupied INTEGER NOT NULL,
			per_direction TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// UpsertMeta stores the volume parameters the index was written with. It is
// synchronous and meant to be called once at startup.
func (s *SQLiteIndex) UpsertMeta(cfg volume.Config) error {
	if s == nil {
		return nil
	}
	rows := map[string]string{
		"schema_version": "1",
		"volume_id":      cfg.ID,
		"radius":         strconv.Itoa(int(cfg.Radius)),
		"flush_rate_hz":  strconv.Itoa(cfg.FlushRateHz),
		"max_batch":      strconv.Itoa(cfg.MaxBatch),
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range rows {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

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

func (s *SQLiteIndex) RecordEdit(entry volume.EditLogEntry, res volume.Result) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEdit, edit: editRow{Entry: entry, Result: res}}:
	default:
		s.dropEdit.Add(1)
	}
}

func (s *SQLiteIndex) RecordFlush(sum volume.FlushSummary) {
	if s == nil || s.closed.Load() {
		return
	}
	// Flushes with nothing to report only bloat the table.
	if sumCounts(sum.Added) == 0 && sumCounts(sum.Removed) == 0 {
		return
	}
	select {
	case s.ch <- req{kind: reqFlush, flush: sum}:
	default:
		s.dropFlush.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, flush uint64, voxels int) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: snapshotRow{Flush: flush, Path: path, Voxels: voxels}}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEditTotal:     s.dropEdit.Load(),
		DropFlushTotal:    s.dropFlush.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func sumCounts(c [index.DirectionCount]int) int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

type directionCounts struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

func perDirectionJSON(sum volume.FlushSummary) string {
	m := make(map[string]directionCounts, index.DirectionCount)
	for _, d := range index.Directions {
		if sum.Added[d] == 0 && sum.Removed[d] == 0 {
			continue
		}
		m[d.String()] = directionCounts{Added: sum.Added[d], Removed: sum.Removed[d]}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEdit, _ := s.db.Prepare(`INSERT INTO edits(flush,session,seq,ops,sets,substitutions,clears,noop_clears,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertFlush, _ := s.db.Prepare(`INSERT OR REPLACE INTO flushes(flush,added,removed,occupied,per_direction,recorded_at) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(flush,path,voxels,recorded_at) VALUES(?,?,?,?)`)
	defer func() {
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
		if insertEdit != nil {
			_ = insertEdit.Close()
		}
		if insertFlush != nil {
			_ = insertFlush.Close()
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
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
		case <-ticker.C:
			// Idle: do not hold the single connection open forever.
			flushIfNeeded()
			continue
		}
		if !ok {
			break
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEdit:
			e, res := r.edit.Entry, r.edit.Result
			raw, _ := json.Marshal(e)
			if insertEdit != nil {
				if _, err := tx.Stmt(insertEdit).Exec(
					int64(e.Flush),
					e.Session,
					int64(e.Seq),
					len(e.Ops),
					res.Sets,
					res.Substitutions,
					res.Clears,
					res.NoopClears,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqFlush:
			f := r.flush
			if insertFlush != nil {
				if _, err := tx.Stmt(insertFlush).Exec(
					int64(f.Flush),
					sumCounts(f.Added),
					sumCounts(f.Removed),
					f.Occupied,
					perDirectionJSON(f),
					time.Now().UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Flush),
					sn.Path,
					sn.Voxels,
					time.Now().UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
