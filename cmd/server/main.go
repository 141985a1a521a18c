package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxelhull.dev/internal/persistence/indexdb"
	persistlog "voxelhull.dev/internal/persistence/log"
	"voxelhull.dev/internal/persistence/snapshot"
	"voxelhull.dev/internal/transport/ws"
	"voxelhull.dev/internal/tuning"
	"voxelhull.dev/internal/volume"
	"voxelhull.dev/internal/volume/gen"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		volumeID    = flag.String("volume", "volume_1", "volume id")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite edit/flush index")
		noResume    = flag.Bool("no_resume", false, "start from an empty volume without reading snapshots or the journal")
		enableAdmin = flag.Bool("admin", true, "serve loopback-only /admin/v1 endpoints")
		enablePprof = flag.Bool("pprof", false, "serve /debug/pprof")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[hulld] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	volumeDir := filepath.Join(*dataDir, "volumes", *volumeID)
	if err := os.MkdirAll(volumeDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	cfg := volume.Config{
		ID:          *volumeID,
		Radius:      tune.Radius,
		FlushRateHz: tune.FlushRateHz,
		MaxBatch:    tune.MaxBatch,

		SnapshotEvery: tune.SnapshotEveryFlushes,
	}
	v, err := volume.New(cfg)
	if err != nil {
		logger.Fatalf("volume: %v", err)
	}
	v.SetLogger(logger)

	// Resume before any hook is attached, so replayed edits are not
	// journaled twice.
	snapDir := filepath.Join(volumeDir, "snapshots")
	resumed := false
	if !*noResume {
		resumed = resume(v, snapDir, persistlog.JournalDir(volumeDir), !tune.Journal.Disabled, logger)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(volumeDir, "index", "volume.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertMeta(cfg); err != nil {
			logger.Printf("index: upsert meta: %v", err)
		}
		v.SetIndex(idx)
	}
	if !tune.Journal.Disabled {
		journal := persistlog.NewEditJournal(volumeDir)
		defer journal.Close()
		v.SetJournal(journal)
	}

	if tune.Seed.Enabled && !resumed {
		n, err := gen.Seed(v, gen.Params{
			Seed:       tune.Seed.Seed,
			HalfExtent: tune.Seed.HalfExtent,
			BaseHeight: tune.Seed.BaseHeight,
			Amplitude:  tune.Seed.Amplitude,
			RegionSize: tune.Seed.RegionSize,
		})
		if err != nil {
			logger.Fatalf("seed terrain: %v", err)
		}
		v.Drain()
		logger.Printf("seeded terrain: voxels=%d hull=%v", n, v.HullSizes())
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan volume.SnapshotState, 2)
	v.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case state := <-snapCh:
				path, err := writeSnapshot(snapDir, state)
				if err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				logger.Printf("snapshot flush=%d voxels=%d", state.Flush, len(state.Voxels))
				idx.RecordSnapshot(path, state.Flush, len(state.Voxels))
			}
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := v.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("volume stopped: %v", err)
		}
	}()

	wsSrv := ws.NewServer(v, tune.MaxQueue, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/volume", wsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	if *enableAdmin {
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			flush, err := v.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "flush": flush, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "flush": flush})
		})
	}
	if *enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s radius=%d flush_rate_hz=%d", *addr, cfg.Radius, cfg.FlushRateHz)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-loopDone
}

// resume restores the latest snapshot, if any, then replays the journal
// written after it. It reports whether the volume holds restored content.
func resume(v *volume.Volume, snapDir, journalDir string, useJournal bool, logger *log.Logger) bool {
	var after uint64
	restored := false
	if path := snapshot.Latest(snapDir); path != "" {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			logger.Fatalf("read snapshot %s: %v", path, err)
		}
		if snap.Header.VolumeID != "" && snap.Header.VolumeID != v.ID() {
			logger.Fatalf("snapshot volume id mismatch: flag=%s snap=%s", v.ID(), snap.Header.VolumeID)
		}
		state, err := snap.State()
		if err != nil {
			logger.Fatalf("decode snapshot %s: %v", path, err)
		}
		if err := v.Restore(state); err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		after = state.Flush
		restored = true
		logger.Printf("resumed from snapshot=%s flush=%d voxels=%d", filepath.Base(path), state.Flush, snap.Count)
	}
	if !useJournal {
		return restored
	}

	files, err := persistlog.JournalFiles(journalDir)
	if err != nil {
		logger.Fatalf("list journal: %v", err)
	}
	if len(files) == 0 {
		return restored
	}
	n, err := persistlog.Replay(journalDir, v, after, 0)
	if err != nil {
		logger.Fatalf("replay journal: %v", err)
	}
	v.Drain()
	logger.Printf("replayed journal: batches=%d flush=%d voxels=%d", n, v.CurrentFlush(), v.Hull().Len())
	return restored || n > 0
}

func writeSnapshot(dir string, state volume.SnapshotState) (string, error) {
	snap, err := snapshot.FromState(state)
	if err != nil {
		return "", err
	}
	path := snapshot.PathFor(dir, state.Flush)
	return path, snapshot.WriteSnapshot(path, snap)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
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
