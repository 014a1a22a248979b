// Package diag dumps (hidden state, key point) pairs from teacher-forced
// passes as JSON lines, for training key-point decoders offline.
package diag

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("diagnostics writer closed")

// Record is one key point of one batch row.
type Record struct {
	Batch    int       `json:"batch"`
	Row      int       `json:"row"`
	KeyPoint int       `json:"key_point"`
	Slot     int       `json:"slot"`
	Hidden   []float32 `json:"hidden_state"`
	Target   []float32 `json:"key_point_value"`
}

// Writer appends records to its own file. It is safe for concurrent use.
type Writer struct {
	Path string

	mu      sync.Mutex
	f       *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
	records int
	batches int
}

// Create opens a fresh "key_points_<uuid>.jsonl" file in dir.
func Create(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diagnostics dir: %w", err)
	}
	path := filepath.Join(dir, "key_points_"+uuid.NewString()+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create diagnostics file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &Writer{Path: path, f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// WriteBatch stores every record of one pass under the next batch number.
func (w *Writer) WriteBatch(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ErrClosed
	}
	for _, r := range records {
		r.Batch = w.batches
		if err := w.enc.Encode(r); err != nil {
			return fmt.Errorf("write diagnostics: %w", err)
		}
		w.records++
	}
	w.batches++
	return nil
}

// Records is the number of records written so far.
func (w *Writer) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

// Read decodes every record of a diagnostics file.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := json.NewDecoder(bufio.NewReader(f))
	var out []Record
	for {
		var r Record
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("read diagnostics %s: %w", path, err)
		}
		out = append(out, r)
	}
}
