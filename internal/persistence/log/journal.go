package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"voxelhull.dev/internal/protocol"
	"voxelhull.dev/internal/volume"
)

const journalPrefix = "edits"

// EditJournal records every applied EDIT batch of a volume so the volume can
// be rebuilt by replaying the files in order.
type EditJournal struct{ w *JSONLZstdWriter }

func NewEditJournal(volumeDir string) *EditJournal {
	return &EditJournal{w: NewJSONLZstdWriter(JournalDir(volumeDir), journalPrefix)}
}

// JournalDir is where NewEditJournal puts its files.
func JournalDir(volumeDir string) string { return filepath.Join(volumeDir, "edits") }

func (j *EditJournal) WriteEdit(e volume.EditLogEntry) error { return j.w.Write(e) }
func (j *EditJournal) Close() error                          { return j.w.Close() }

// JournalFiles lists the journal files under dir, oldest first. The hour and
// the open time are part of the name, so lexical order is chronological.
func JournalFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, journalPrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJournal streams every entry under dir to fn in write order. fn returning
// an error stops the walk and that error is returned.
func ReadJournal(dir string, fn func(volume.EditLogEntry) error) error {
	files, err := JournalFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readJournalFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// readJournalFile decodes one file. A file whose writer died before Close
// ends in an unfinished frame; everything before the cut is kept, and a
// partial last line there is dropped.
func readJournalFile(path string, fn func(volume.EditLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	// A line that fails to parse is only fatal if more input follows it.
	var badLine error
	for sc.Scan() {
		line++
		if badLine != nil {
			return badLine
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e volume.EditLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			badLine = fmt.Errorf("%s:%d: %w", path, line, err)
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return badLine
}

// Replay applies the journaled edits with after < Flush <= to (to == 0 means
// no upper bound) to v in order and returns the number of batches applied.
// Flush windows are closed as the live volume closed them; the window of the
// last replayed edit is left open. A batch the volume rejects is an error,
// since the journal only holds batches that were accepted once.
func Replay(dir string, v *volume.Volume, after, to uint64) (int, error) {
	n := 0
	err := ReadJournal(dir, func(e volume.EditLogEntry) error {
		if e.Flush <= after {
			return nil
		}
		if to != 0 && e.Flush > to {
			return errStop
		}
		for v.CurrentFlush()+1 < e.Flush {
			v.Drain()
		}
		msg := protocol.EditMsg{
			Type:            protocol.TypeEdit,
			ProtocolVersion: protocol.Version,
			Seq:             e.Seq,
			Ops:             e.Ops,
		}
		if _, err := v.Apply(e.Session, msg); err != nil {
			return fmt.Errorf("replay flush=%d seq=%d: %w", e.Flush, e.Seq, err)
		}
		n++
		return nil
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	return n, err
}

var errStop = errors.New("stop replay")
