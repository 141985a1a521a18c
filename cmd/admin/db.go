package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	volumeID := fs.String("volume", "", "volume id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	session := fs.String("session", "", "session filter (edits)")
	_ = fs.Parse(args)

	q := "flushes"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*volumeID) == "" {
			fmt.Fprintln(os.Stderr, "missing -volume or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "volumes", *volumeID, "index", "volume.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, *limit, *session, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type metaRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type flushRow struct {
	Flush        int64  `json:"flush"`
	Added        int    `json:"added"`
	Removed      int    `json:"removed"`
	Occupied     int    `json:"occupied"`
	PerDirection string `json:"per_direction"`
	RecordedAt   string `json:"recorded_at"`
}

type editRow struct {
	Flush         int64  `json:"flush"`
	Session       string `json:"session"`
	Seq           int64  `json:"seq"`
	Ops           int    `json:"ops"`
	Sets          int    `json:"sets"`
	Substitutions int    `json:"substitutions"`
	Clears        int    `json:"clears"`
	NoopClears    int    `json:"noop_clears"`
}

type snapshotRow struct {
	Flush      int64  `json:"flush"`
	Path       string `json:"path"`
	Voxels     int    `json:"voxels"`
	RecordedAt string `json:"recorded_at"`
}

func runQuery(db *sql.DB, q string, limit int, session string, emit func(any)) error {
	switch q {
	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r metaRow
			if err := rows.Scan(&r.Key, &r.Value); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "flushes":
		rows, err := db.Query(`SELECT flush,added,removed,occupied,per_direction,recorded_at FROM flushes ORDER BY flush DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r flushRow
			if err := rows.Scan(&r.Flush, &r.Added, &r.Removed, &r.Occupied, &r.PerDirection, &r.RecordedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "edits":
		var rows *sql.Rows
		var err error
		if session != "" {
			rows, err = db.Query(`SELECT flush,session,seq,ops,sets,substitutions,clears,noop_clears FROM edits WHERE session=? ORDER BY id DESC LIMIT ?`, session, limit)
		} else {
			rows, err = db.Query(`SELECT flush,session,seq,ops,sets,substitutions,clears,noop_clears FROM edits ORDER BY id DESC LIMIT ?`, limit)
		}
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r editRow
			if err := rows.Scan(&r.Flush, &r.Session, &r.Seq, &r.Ops, &r.Sets, &r.Substitutions, &r.Clears, &r.NoopClears); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "snapshots":
		rows, err := db.Query(`SELECT flush,path,voxels,recorded_at FROM snapshots ORDER BY flush DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r snapshotRow
			if err := rows.Scan(&r.Flush, &r.Path, &r.Voxels, &r.RecordedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (meta, flushes, edits, snapshots)", q)
	}
}
