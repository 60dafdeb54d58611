package cache

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FormatVersion is the version written to the header of trace files.
const FormatVersion = 1

// MaxDecompressedSize is the maximum allowed size of one decompressed payload (512MB).
const MaxDecompressedSize = 512 * 1024 * 1024

// Payload names.
const (
	PayloadShape = "df"
	PayloadAP    = "apn"
)

var (
	// ErrPayloadNotFound is returned when a trace file has no payload of the requested name.
	ErrPayloadNotFound = errors.New("payload not found")

	// ErrChecksumMismatch is returned when a payload does not match its recorded checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Header is the plain-text first line of a trace file.
type Header struct {
	Version   int           `json:"version"`
	Key       string        `json:"key"`
	CreatedAt time.Time     `json:"created_at"`
	Trial     TrialInfo     `json:"trial"`
	Payloads  []PayloadInfo `json:"payloads"`
}

// TrialInfo records the parameters a trace file was computed from.
type TrialInfo struct {
	Cell      string  `json:"cell"`
	Amplitude float64 `json:"amplitude"`
	Duration  float64 `json:"duration"`
	Frequency float64 `json:"frequency,omitempty"`
	Shape     bool    `json:"shape"`
}

// PayloadInfo locates one compressed payload. Payloads follow the header
// line back to back in directory order.
type PayloadInfo struct {
	Name     string `json:"name"`
	Length   int64  `json:"length"`
	Checksum string `json:"checksum"`
	Rows     int    `json:"rows"`
}

// Payload returns the directory entry for name.
func (h *Header) Payload(name string) (PayloadInfo, bool) {
	for _, p := range h.Payloads {
		if p.Name == name {
			return p, true
		}
	}
	return PayloadInfo{}, false
}

// Has reports whether the file holds a payload called name.
func (h *Header) Has(name string) bool {
	_, ok := h.Payload(name)
	return ok
}

// offset returns the position of the payload called name relative to the
// end of the header line.
func (h *Header) offset(name string) (int64, PayloadInfo, bool) {
	var off int64
	for _, p := range h.Payloads {
		if p.Name == name {
			return off, p, true
		}
		off += p.Length
	}
	return 0, PayloadInfo{}, false
}

// payload is an uncompressed named payload to be written.
type payload struct {
	name string
	data []byte
	rows int
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

func compress(data []byte) ([]byte, error) {
	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return compressed.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	return decompressed, nil
}

// writeFile writes header and payloads to path. The header's payload
// directory is filled in here. The file is written next to path and renamed
// into place so readers never see a partial file.
func writeFile(path string, header Header, payloads []payload) error {
	header.Version = FormatVersion
	header.Payloads = make([]PayloadInfo, 0, len(payloads))

	blobs := make([][]byte, len(payloads))
	for i, p := range payloads {
		compressed, err := compress(p.data)
		if err != nil {
			return fmt.Errorf("payload %s: %w", p.name, err)
		}
		blobs[i] = compressed
		header.Payloads = append(header.Payloads, PayloadInfo{
			Name:     p.name,
			Length:   int64(len(compressed)),
			Checksum: checksum(compressed),
			Rows:     p.rows,
		})
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pending-*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	w.Write(headerBytes)
	w.WriteByte('\n')
	for _, b := range blobs {
		w.Write(b)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// readHeader reads the header line of an open trace file and returns it
// along with the header line length in bytes.
func readHeader(f *os.File) (*Header, int64, error) {
	reader := bufio.NewReader(f)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, 0, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, 0, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, 0, fmt.Errorf("unsupported trace file version %d", header.Version)
	}
	return &header, int64(len(headerLine)), nil
}

// ReadHeader reads only the header line of a trace file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header, _, err := readHeader(f)
	return header, err
}

// ReadPayload reads, verifies and decompresses the payload called name.
// Returns ErrPayloadNotFound if the file has no such payload.
func ReadPayload(path, name string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header, start, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	return readPayload(f, header, start, name)
}

func readPayload(f *os.File, header *Header, start int64, name string) ([]byte, error) {
	off, info, ok := header.offset(name)
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", name, filepath.Base(f.Name()), ErrPayloadNotFound)
	}

	compressed := make([]byte, info.Length)
	if _, err := f.ReadAt(compressed, start+off); err != nil {
		return nil, fmt.Errorf("reading payload %s: %w", name, err)
	}
	if got := checksum(compressed); got != info.Checksum {
		return nil, fmt.Errorf("payload %s: %w: expected %s, got %s", name, ErrChecksumMismatch, info.Checksum, got)
	}
	return decompress(compressed)
}

// Verify checks the integrity of a trace file: every payload must match its
// checksum, the file must end after the last payload and the AP payload
// must be present.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header, start, err := readHeader(f)
	if err != nil {
		return err
	}
	if !header.Has(PayloadAP) {
		return fmt.Errorf("%s: %w", PayloadAP, ErrPayloadNotFound)
	}

	end := start
	for _, p := range header.Payloads {
		compressed := make([]byte, p.Length)
		if _, err := f.ReadAt(compressed, end); err != nil {
			return fmt.Errorf("reading payload %s: %w", p.Name, err)
		}
		if got := checksum(compressed); got != p.Checksum {
			return fmt.Errorf("payload %s: %w: expected %s, got %s", p.Name, ErrChecksumMismatch, p.Checksum, got)
		}
		end += p.Length
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if info.Size() != end {
		return fmt.Errorf("file is %d bytes, payload directory covers %d", info.Size(), end)
	}
	return nil
}
