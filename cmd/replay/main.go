package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelhull.dev/internal/hull"
	"voxelhull.dev/internal/hull/index"
	persistlog "voxelhull.dev/internal/persistence/log"
	"voxelhull.dev/internal/persistence/snapshot"
	"voxelhull.dev/internal/tuning"
	"voxelhull.dev/internal/volume"
)

func main() {
	var (
		journalDir = flag.String("journal", "", "journal dir containing edits-*.jsonl.zst")
		snapPath   = flag.String("snapshot", "", "start from this .snap.zst and replay only later flushes (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		toFlush    = flag.Uint64("to_flush", 0, "stop after this flush (inclusive, optional)")
		ray        = flag.String("ray", "", "optional raycast after replay: ox,oy,oz,dx,dy,dz")
	)
	flag.Parse()

	if *journalDir == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	v, err := volume.New(volume.Config{
		ID:          "replay",
		Radius:      tune.Radius,
		FlushRateHz: tune.FlushRateHz,
		MaxBatch:    tune.MaxBatch,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "volume:", err)
		os.Exit(1)
	}

	var after uint64
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		state, err := snap.State()
		if err != nil {
			fmt.Fprintln(os.Stderr, "decode snapshot:", err)
			os.Exit(1)
		}
		if err := v.Restore(state); err != nil {
			fmt.Fprintln(os.Stderr, "restore snapshot:", err)
			os.Exit(1)
		}
		after = state.Flush
		fmt.Printf("snapshot v%d volume=%s flush=%d voxels=%d\n", snap.Header.Version, snap.Header.VolumeID, snap.Header.Flush, snap.Count)
	}

	batches, err := persistlog.Replay(*journalDir, v, after, *toFlush)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	final := v.Drain()
	added, removed := final.Counts()

	fmt.Printf("replayed batches=%d flush=%d voxels=%d last_flush_delta=+%d/-%d\n", batches, final.Flush, v.Hull().Len(), added, removed)
	sizes := v.HullSizes()
	for _, d := range index.Directions {
		fmt.Printf("hull %s: %d\n", d, sizes[d])
	}
	fmt.Printf("visible: %d\n", len(v.Hull().VisibleIDs()))

	if *ray != "" {
		origin, dir, err := parseRay(*ray)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ray:", err)
			os.Exit(2)
		}
		hit, ok := v.Hull().Raycast(origin, dir, hull.DefaultRaySteps)
		if !ok {
			fmt.Println("ray: miss")
			return
		}
		vx, _ := v.Hull().Get(hit.Pos)
		fmt.Printf("ray: hit %s face=%s color=#%06x steps=%d\n", hit.Pos, hit.Face, vx.Color, hit.Steps)
	}
}

func parseRay(s string) (origin, dir [3]float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return origin, dir, fmt.Errorf("want 6 comma separated numbers, got %d", len(parts))
	}
	var vals [6]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return origin, dir, err
		}
		vals[i] = f
	}
	return [3]float64{vals[0], vals[1], vals[2]}, [3]float64{vals[3], vals[4], vals[5]}, nil
}
