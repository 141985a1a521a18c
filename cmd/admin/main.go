package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "voxelhull.dev/internal/persistence/log"
	"voxelhull.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "params":
			paramsCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type volumeInfo struct {
	ID             string `json:"id"`
	LatestSnapshot string `json:"latest_snapshot,omitempty"`
	SnapshotFlush  uint64 `json:"snapshot_flush,omitempty"`
	SnapshotVoxels int    `json:"snapshot_voxels,omitempty"`
	JournalFiles   int    `json:"journal_files"`
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	volumeID := fs.String("volume", "", "volume id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "volumes")
	var ids []string
	if *volumeID != "" {
		ids = []string{*volumeID}
	} else {
		entries, err := os.ReadDir(base)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			if e.IsDir() {
				ids = append(ids, e.Name())
			}
		}
	}

	for _, id := range ids {
		info, err := inspectVolume(filepath.Join(base, id))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
			continue
		}
		info.ID = id
		printJSON(info)
	}
}

func inspectVolume(dir string) (volumeInfo, error) {
	var info volumeInfo
	files, err := persistlog.JournalFiles(persistlog.JournalDir(dir))
	if err != nil {
		return info, err
	}
	info.JournalFiles = len(files)

	path := snapshot.Latest(filepath.Join(dir, "snapshots"))
	if path == "" {
		return info, nil
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return info, fmt.Errorf("read snapshot: %w", err)
	}
	info.LatestSnapshot = path
	info.SnapshotFlush = snap.Header.Flush
	info.SnapshotVoxels = snap.Count
	return info, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
