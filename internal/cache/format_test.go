package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, path string) Header {
	t.Helper()
	header := Header{
		Key:       "k",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Trial:     TrialInfo{Cell: "default", Amplitude: 0.5, Duration: 100},
	}
	payloads := []payload{
		{name: "first", data: []byte("hello, first payload"), rows: 1},
		{name: PayloadAP, data: bytes.Repeat([]byte("ap"), 100), rows: 2},
	}
	if err := writeFile(path, header, payloads); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	return header
}

func TestWriteFile_ReadPayload_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.trace")
	want := writeTestFile(t, path)

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if h.Version != FormatVersion || h.Key != want.Key || !h.CreatedAt.Equal(want.CreatedAt) || h.Trial != want.Trial {
		t.Errorf("ReadHeader() = %+v, want %+v", h, want)
	}
	if len(h.Payloads) != 2 || h.Payloads[0].Name != "first" || h.Payloads[1].Rows != 2 {
		t.Errorf("payload directory = %+v", h.Payloads)
	}

	got, err := ReadPayload(path, PayloadAP)
	if err != nil {
		t.Fatalf("ReadPayload(apn) error = %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte("ap"), 100)) {
		t.Errorf("ReadPayload(apn) = %q", got)
	}
	got, err = ReadPayload(path, "first")
	if err != nil || string(got) != "hello, first payload" {
		t.Errorf("ReadPayload(first) = %q, %v", got, err)
	}

	if err := Verify(path); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestReadPayload_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.trace")
	writeTestFile(t, path)

	if _, err := ReadPayload(path, PayloadShape); !errors.Is(err, ErrPayloadNotFound) {
		t.Errorf("ReadPayload(df) error = %v, want ErrPayloadNotFound", err)
	}
}

func TestVerify_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.trace")
	writeTestFile(t, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-5] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Verify() error = %v, want ErrChecksumMismatch", err)
	}
	if _, err := ReadPayload(path, PayloadAP); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("ReadPayload() error = %v, want ErrChecksumMismatch", err)
	}
	// The first payload is untouched and still readable.
	if _, err := ReadPayload(path, "first"); err != nil {
		t.Errorf("ReadPayload(first) error = %v", err)
	}
}

func TestVerify_TrailingBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.trace")
	writeTestFile(t, path)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("junk"))
	f.Close()

	if err := Verify(path); err == nil {
		t.Error("Verify() should fail on trailing bytes")
	}
}

func TestVerify_MissingAP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.trace")
	if err := writeFile(path, Header{Key: "k"}, []payload{{name: PayloadShape, data: []byte("x")}}); err != nil {
		t.Fatal(err)
	}
	if err := Verify(path); !errors.Is(err, ErrPayloadNotFound) {
		t.Errorf("Verify() error = %v, want ErrPayloadNotFound", err)
	}
}

func TestReadHeader_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"not json", "hello\n"},
		{"wrong version", `{"version":99,"key":"k"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".trace")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadHeader(path); err == nil {
				t.Error("ReadHeader() should fail")
			}
		})
	}
}

func TestWriteFile_NoPendingFilesLeft(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "x.trace"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "x.trace" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want [x.trace]", names)
	}
}
