package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelhull.dev/internal/encoding"
	"voxelhull.dev/internal/hull/index"
	"voxelhull.dev/internal/volume"
)

const Version = 1

type Header struct {
	Version  int    `json:"version"`
	VolumeID string `json:"volume_id"`
	Flush    uint64 `json:"flush"`
}

// SnapshotV1 stores occupied position ids as runs and colours run-length
// encoded in the same order.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Radius int32  `json:"radius"`
	Count  int    `json:"count"`
	IDs    string `json:"ids"`
	Colors string `json:"colors"`
}

func FromState(s volume.SnapshotState) (SnapshotV1, error) {
	ix, err := index.New(s.Radius)
	if err != nil {
		return SnapshotV1{}, err
	}
	ids := make([]int64, len(s.Voxels))
	colors := make([]uint32, len(s.Voxels))
	for i, vx := range s.Voxels {
		if err := ix.Check(vx.Pos); err != nil {
			return SnapshotV1{}, err
		}
		ids[i] = int64(ix.Encode(vx.Pos))
		colors[i] = vx.Color
	}
	packed, err := encoding.EncodeIDRuns(ids)
	if err != nil {
		return SnapshotV1{}, err
	}
	return SnapshotV1{
		Header: Header{Version: Version, VolumeID: s.VolumeID, Flush: s.Flush},
		Radius: s.Radius,
		Count:  len(s.Voxels),
		IDs:    packed,
		Colors: encoding.EncodeRLE(colors),
	}, nil
}

func (snap SnapshotV1) State() (volume.SnapshotState, error) {
	out := volume.SnapshotState{
		VolumeID: snap.Header.VolumeID,
		Radius:   snap.Radius,
		Flush:    snap.Header.Flush,
	}
	ix, err := index.New(snap.Radius)
	if err != nil {
		return out, err
	}
	ids, err := encoding.DecodeIDRuns(snap.IDs)
	if err != nil {
		return out, fmt.Errorf("ids: %w", err)
	}
	colors, err := encoding.DecodeRLE(snap.Colors)
	if err != nil {
		return out, fmt.Errorf("colors: %w", err)
	}
	if len(ids) != snap.Count || len(colors) != snap.Count {
		return out, fmt.Errorf("count mismatch: header=%d ids=%d colors=%d", snap.Count, len(ids), len(colors))
	}
	out.Voxels = make([]volume.Voxel, len(ids))
	for i, id := range ids {
		if !ix.ValidID(index.ID(id)) {
			return out, fmt.Errorf("id %d outside radius %d", id, snap.Radius)
		}
		out.Voxels[i] = volume.Voxel{Pos: ix.Decode(index.ID(id)), Color: colors[i]}
	}
	return out, nil
}

// PathFor names the snapshot of a flush inside dir.
func PathFor(dir string, flush uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", flush))
}

// Latest returns the snapshot with the highest flush in dir, or "" if none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestFlush uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		flush, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || flush > bestFlush {
			bestFlush = flush
			best = filepath.Join(dir, name)
		}
	}
	return best
}

// WriteSnapshot writes to a temporary file and renames it into place, so a
// crash never leaves a truncated snapshot under the final name.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for tools that only want to peek; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
