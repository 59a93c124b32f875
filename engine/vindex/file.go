package vindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// On-disk layout: fixed header, then a zstd stream of little-endian float32
// rows. Checksum covers the uncompressed body.
const (
	fileVersion = 1
	metricL2    = 0
)

var fileMagic = [4]byte{'S', 'R', 'X', '1'}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	ErrBadMagic    = errors.New("vindex: not an index file")
	ErrBadVersion  = errors.New("vindex: unsupported index version")
	ErrBadChecksum = errors.New("vindex: index body checksum mismatch")
)

type fileHeader struct {
	Magic   [4]byte
	Version uint16
	Metric  uint16
	Dim     uint32
	Rows    uint32
	BuildID [16]byte
	CRC     uint32
}

// WriteIndex serializes f to w.
func WriteIndex(w io.Writer, f *Flat) error {
	raw := make([]byte, 4*len(f.data))
	for i, v := range f.data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	hdr := fileHeader{
		Magic:   fileMagic,
		Version: fileVersion,
		Metric:  metricL2,
		Dim:     uint32(f.dim),
		Rows:    uint32(f.rows),
		BuildID: f.buildID,
		CRC:     crc32.Checksum(raw, castagnoli),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("vindex: write header: %w", err)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
	if err != nil {
		return fmt.Errorf("vindex: zstd writer: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return fmt.Errorf("vindex: write body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("vindex: flush body: %w", err)
	}
	return nil
}

// ReadIndex parses an index written by WriteIndex.
func ReadIndex(r io.Reader) (*Flat, error) {
	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("vindex: read header: %w", err)
	}
	if hdr.Magic != fileMagic {
		return nil, ErrBadMagic
	}
	if hdr.Version != fileVersion || hdr.Metric != metricL2 {
		return nil, fmt.Errorf("%w: version %d metric %d", ErrBadVersion, hdr.Version, hdr.Metric)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("vindex: zstd reader: %w", err)
	}
	defer dec.Close()
	// Read at most one byte past the size the header declares.
	want := 4 * int64(hdr.Dim) * int64(hdr.Rows)
	var body bytes.Buffer
	if _, err := io.Copy(&body, io.LimitReader(dec, want+1)); err != nil {
		return nil, fmt.Errorf("vindex: read body: %w", err)
	}
	raw := body.Bytes()
	if int64(len(raw)) != want {
		return nil, fmt.Errorf("vindex: body has %d bytes, want %d", len(raw), want)
	}
	if crc32.Checksum(raw, castagnoli) != hdr.CRC {
		return nil, ErrBadChecksum
	}

	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return &Flat{dim: int(hdr.Dim), rows: int(hdr.Rows), data: data, buildID: uuid.UUID(hdr.BuildID)}, nil
}

// ReadIndexFile opens and parses the index at path.
func ReadIndexFile(path string) (*Flat, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vindex: open index: %w", err)
	}
	defer fh.Close()
	return ReadIndex(bufio.NewReader(fh))
}
