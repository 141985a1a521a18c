// Package encoding packs voxel content into compact base64 strings.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes a sequence of values into base64(varint pairs).
// The pairs are (value, run_len) repeated.
func EncodeRLE(vals []uint32) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(vals) {
		v := vals[i]
		run := 1
		for j := i + 1; j < len(vals) && vals[j] == v; j++ {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string) ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > 0xFFFFFFFF {
			return nil, fmt.Errorf("value too large: %d", v)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint32(v))
		}
	}
	return out, nil
}

// EncodeIDRuns encodes strictly ascending non-negative ids as base64(varint
// pairs) of (gap, run_len): gap is the distance from the end of the previous
// run, run_len the number of consecutive ids. Solid regions of a volume are
// long runs along x, so they pack into a few bytes per row.
func EncodeIDRuns(ids []int64) (string, error) {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	next := int64(0)
	for i := 0; i < len(ids); {
		start := ids[i]
		if start < next {
			return "", fmt.Errorf("ids not strictly ascending at %d", i)
		}
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == start+int64(run); j++ {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(start-next))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		next = start + int64(run)
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func DecodeIDRuns(b64 string) ([]int64, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []int64
	next := int64(0)
	for i := 0; i < len(raw); {
		gap, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 || run == 0 {
			return nil, fmt.Errorf("bad run at %d", i)
		}
		i += n
		start := next + int64(gap)
		if start < next {
			return nil, fmt.Errorf("id overflow at %d", i)
		}
		for k := int64(0); k < int64(run); k++ {
			out = append(out, start+k)
		}
		next = start + int64(run)
	}
	return out, nil
}
