package diag

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
)

func TestWriteRead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := Create(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(w.Path) != dir || !strings.HasPrefix(filepath.Base(w.Path), "key_points_") {
		t.Fatalf("unexpected path %s", w.Path)
	}
	first := []Record{
		{Row: 0, KeyPoint: 0, Slot: 16, Hidden: []float32{1, 2}, Target: []float32{3, 4}},
		{Row: 0, KeyPoint: 1, Slot: 17, Hidden: []float32{5, 6}, Target: []float32{7, 8}},
	}
	if err := w.WriteBatch(first); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch([]Record{{Row: 1, Hidden: []float32{0}, Target: []float32{0}}}); err != nil {
		t.Fatal(err)
	}
	if w.Records() != 3 {
		t.Fatalf("records %d", w.Records())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch(first); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	got, err := Read(w.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d records", len(got))
	}
	if got[1].Slot != 17 || !slices.Equal(got[1].Target, []float32{7, 8}) || got[1].Batch != 0 {
		t.Fatalf("record 1 %+v", got[1])
	}
	if got[2].Batch != 1 || got[2].Row != 1 {
		t.Fatalf("record 2 %+v", got[2])
	}
}

func TestWritersUseDistinctFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := Create(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Create(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if a.Path == b.Path {
		t.Fatal("writers share a file")
	}
}

func TestConcurrentBatches(t *testing.T) {
	t.Parallel()
	w, err := Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.WriteBatch([]Record{{Row: i, Hidden: []float32{float32(i)}}})
		}(i)
	}
	wg.Wait()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := Read(w.Path)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for _, r := range got {
		seen[r.Batch] = true
	}
	if len(got) != 8 || len(seen) != 8 {
		t.Fatalf("%d records over %d batches", len(got), len(seen))
	}
}
