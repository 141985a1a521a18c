package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelhull.dev/internal/hull/index"
	"voxelhull.dev/internal/protocol"
	"voxelhull.dev/internal/volume"
)

func entry(flush, seq uint64, x int32) volume.EditLogEntry {
	return volume.EditLogEntry{
		Flush:   flush,
		Session: "s1",
		Seq:     seq,
		Ops:     []protocol.EditOp{{Op: protocol.OpSet, Pos: [3]int32{x, 0, 0}, Color: 7}},
	}
}

func TestEditJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := NewEditJournal(dir)
	for i := uint64(1); i <= 3; i++ {
		if err := j.WriteEdit(entry(i, i, int32(i))); err != nil {
			t.Fatalf("WriteEdit: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []volume.EditLogEntry
	if err := ReadJournal(JournalDir(dir), func(e volume.EditLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.Seq != uint64(i+1) || e.Ops[0].Pos[0] != int32(i+1) || e.Session != "s1" {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
}

func TestJSONLZstdWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, journalPrefix)
	base := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	cur := base
	w.now = func() time.Time { return cur }

	if err := w.Write(entry(1, 1, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cur = base.Add(2 * time.Minute)
	if err := w.Write(entry(2, 2, 2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := JournalFiles(dir)
	if err != nil {
		t.Fatalf("JournalFiles: %v", err)
	}
	want := []string{
		filepath.Join(dir, fmt.Sprintf("edits-2024-05-01-10-%019d.jsonl.zst", base.UnixNano())),
		filepath.Join(dir, fmt.Sprintf("edits-2024-05-01-11-%019d.jsonl.zst", cur.UnixNano())),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files: got %v want %v", files, want)
	}

	var seqs []uint64
	if err := ReadJournal(dir, func(e volume.EditLogEntry) error {
		seqs = append(seqs, e.Seq)
		return nil
	}); err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("seqs: %v", seqs)
	}
}

func TestReadJournalStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	j := NewEditJournal(dir)
	for i := uint64(1); i <= 3; i++ {
		if err := j.WriteEdit(entry(i, i, 0)); err != nil {
			t.Fatalf("WriteEdit: %v", err)
		}
	}
	_ = j.Close()

	stop := errors.New("stop")
	n := 0
	err := ReadJournal(JournalDir(dir), func(volume.EditLogEntry) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("expected stop after one entry, got n=%d err=%v", n, err)
	}
}

func TestReadJournalRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "edits-2024-01-01-00.jsonl.zst"), []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ReadJournal(dir, func(volume.EditLogEntry) error { return nil }); err == nil {
		t.Fatalf("expected error for corrupt file")
	}
}

func TestReadJournalEmptyDir(t *testing.T) {
	called := false
	err := ReadJournal(filepath.Join(t.TempDir(), "missing"), func(volume.EditLogEntry) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Fatalf("missing dir: err=%v called=%v", err, called)
	}
}

func TestReplayRebuildsVolume(t *testing.T) {
	cfg := volume.Config{ID: "replay", Radius: 8, FlushRateHz: 10, MaxBatch: 16}
	live, err := volume.New(cfg)
	if err != nil {
		t.Fatalf("volume.New: %v", err)
	}
	dir := t.TempDir()
	j := NewEditJournal(dir)
	live.SetJournal(j)

	batches := []protocol.EditMsg{
		{Seq: 1, Ops: []protocol.EditOp{{Op: protocol.OpSet, Pos: [3]int32{0, 0, 0}, Color: 1}, {Op: protocol.OpSet, Pos: [3]int32{0, 1, 0}, Color: 2}}},
		{Seq: 2, Ops: []protocol.EditOp{{Op: protocol.OpClear, Pos: [3]int32{0, 1, 0}}, {Op: protocol.OpSet, Pos: [3]int32{3, 3, 3}, Color: 4}}},
		{Seq: 3, Ops: []protocol.EditOp{{Op: protocol.OpSet, Pos: [3]int32{0, 9, 0}}}}, // rejected, not journaled
	}
	for _, b := range batches {
		_, _ = live.Apply("s1", b)
		live.Drain()
	}
	_ = j.Close()

	rebuilt, err := volume.New(cfg)
	if err != nil {
		t.Fatalf("volume.New: %v", err)
	}
	n, err := Replay(JournalDir(dir), rebuilt, 0, 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 2 {
		t.Fatalf("replayed %d batches, want 2", n)
	}
	if rebuilt.HullSizes() != live.HullSizes() {
		t.Fatalf("hull sizes differ: live=%v rebuilt=%v", live.HullSizes(), rebuilt.HullSizes())
	}
	if got, want := rebuilt.Hull().IDs(), live.Hull().IDs(); len(got) != len(want) || len(got) != 2 {
		t.Fatalf("ids: got %v want %v", got, want)
	}
}

func TestReplayRange(t *testing.T) {
	dir := t.TempDir()
	j := NewEditJournal(dir)
	for f := uint64(1); f <= 5; f++ {
		if err := j.WriteEdit(entry(f*2, f, int32(f))); err != nil {
			t.Fatalf("WriteEdit: %v", err)
		}
	}
	_ = j.Close()

	v, err := volume.New(volume.Config{ID: "r", Radius: 8, FlushRateHz: 1, MaxBatch: 4})
	if err != nil {
		t.Fatalf("volume.New: %v", err)
	}
	// Entries sit on flushes 2, 4, 6, 8, 10; replay (4, 8].
	n, err := Replay(JournalDir(dir), v, 4, 8)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 2 || v.Hull().Len() != 2 {
		t.Fatalf("replayed n=%d len=%d", n, v.Hull().Len())
	}
	if !v.Hull().Contains(index.Pos{X: 3}) || !v.Hull().Contains(index.Pos{X: 4}) {
		t.Fatalf("wrong entries replayed: %v", v.Hull().IDs())
	}
	// The last replayed edit belongs to flush 8, which is still open.
	if v.CurrentFlush() != 7 {
		t.Fatalf("flush: got %d want 7", v.CurrentFlush())
	}
}

func readSeqs(t *testing.T, dir string) []uint64 {
	t.Helper()
	var seqs []uint64
	if err := ReadJournal(dir, func(e volume.EditLogEntry) error {
		seqs = append(seqs, e.Seq)
		return nil
	}); err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	return seqs
}

func TestReadJournalKeepsLinesOfUnclosedFile(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, journalPrefix)
	for i := uint64(1); i <= 3; i++ {
		if err := w.Write(entry(i, i, int32(i))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	// w is not closed before reading, as after a kill.
	t.Cleanup(func() { _ = w.Close() })

	seqs := readSeqs(t, dir)
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("seqs: %v", seqs)
	}
}

func TestRestartInSameHourAfterCrash(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)

	crashed := NewJSONLZstdWriter(dir, journalPrefix)
	crashed.now = func() time.Time { return base }
	t.Cleanup(func() { _ = crashed.Close() })
	for i := uint64(1); i <= 3; i++ {
		if err := crashed.Write(entry(i, i, int32(i))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	restarted := NewJSONLZstdWriter(dir, journalPrefix)
	restarted.now = func() time.Time { return base.Add(time.Minute) }
	if err := restarted.Write(entry(4, 4, 4)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := restarted.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := JournalFiles(dir)
	if err != nil || len(files) != 2 {
		t.Fatalf("files: %v err=%v", files, err)
	}
	seqs := readSeqs(t, dir)
	if len(seqs) != 4 {
		t.Fatalf("seqs: %v", seqs)
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("seqs out of order: %v", seqs)
		}
	}

	v, err := volume.New(volume.Config{ID: "crash", Radius: 8, FlushRateHz: 10, MaxBatch: 16})
	if err != nil {
		t.Fatalf("volume.New: %v", err)
	}
	n, err := Replay(dir, v, 0, 0)
	if err != nil || n != 4 {
		t.Fatalf("Replay: n=%d err=%v", n, err)
	}
	if v.Hull().Len() != 4 {
		t.Fatalf("replayed voxels: %d", v.Hull().Len())
	}
}

func TestReadJournalRejectsBadLineBeforeMore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edits-2024-01-01-00-0000000000000000001.jsonl.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	_, _ = enc.Write([]byte("{broken\n{\"flush\":1,\"seq\":1,\"ops\":[]}\n"))
	_ = enc.Close()
	_ = f.Close()

	if err := ReadJournal(dir, func(volume.EditLogEntry) error { return nil }); err == nil {
		t.Fatalf("expected error for a bad line followed by more input")
	}
}
