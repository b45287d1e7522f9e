package store_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"kanline/internal/store"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data.json")
}

func TestReadMissingFileReturnsDefault(t *testing.T) {
	ctx := context.Background()
	got, err := store.Read(ctx, tempPath(t), doc{Name: "fallback"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Name != "fallback" {
		t.Fatalf("expected default, got %+v", got)
	}
}

func TestReadCorruptFileReturnsDefault(t *testing.T) {
	ctx := context.Background()
	path := tempPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := store.Read(ctx, path, doc{Count: 7})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Count != 7 {
		t.Fatalf("expected default on corrupt file, got %+v", got)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := tempPath(t)
	want := doc{Name: "任务看板", Count: 3}
	if err := store.Write(ctx, path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := store.Read(ctx, path, doc{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if !strings.Contains(string(raw), "任务看板") {
		t.Fatalf("non-ASCII content escaped on disk: %s", raw)
	}
}

func TestUpdateCreatesFileFromDefault(t *testing.T) {
	ctx := context.Background()
	path := tempPath(t)
	got, err := store.Update(ctx, path, doc{Count: 10}, func(d doc) (doc, error) {
		d.Count++
		return d, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Count != 11 {
		t.Fatalf("expected 11, got %d", got.Count)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestUpdateErrorLeavesFileUntouched(t *testing.T) {
	ctx := context.Background()
	path := tempPath(t)
	if err := store.Write(ctx, path, doc{Count: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := store.Update(ctx, path, doc{}, func(d doc) (doc, error) {
		return doc{}, os.ErrInvalid
	})
	if err == nil {
		t.Fatal("expected update error")
	}
	got, err := store.Read(ctx, path, doc{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Count != 1 {
		t.Fatalf("failed update mutated file: %+v", got)
	}
}

func TestUpdateNoTempFileLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := store.Write(ctx, path, doc{Count: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestConcurrentUpdatesAllApply(t *testing.T) {
	ctx := context.Background()
	path := tempPath(t)
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, path, doc{}, func(d doc) (doc, error) {
				d.Count++
				return d, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}
	got, err := store.Read(ctx, path, doc{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Count != n {
		t.Fatalf("lost updates: got %d want %d", got.Count, n)
	}
}
