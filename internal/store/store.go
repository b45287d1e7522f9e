// Package store provides race-free read/modify/write access to a single
// JSON document shared by independent OS processes. Coordination uses a
// sidecar lock file next to the data file so readers never block behind a
// half-written document, and writes go through a temp file plus atomic
// rename so no reader ever observes a torn write.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// lockPath returns the sidecar lock file for a data path. The lock file is
// coordination-only and is never parsed as data.
func lockPath(path string) string {
	return path + ".lock"
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Read acquires a shared lock and decodes the document at path. A missing
// file or undecodable content yields def without error; only lock or I/O
// failures are reported.
func Read[T any](ctx context.Context, path string, def T) (T, error) {
	if err := ensureDir(path); err != nil {
		return def, fmt.Errorf("ensure data dir: %w", err)
	}
	fl := flock.New(lockPath(path))
	ok, err := fl.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return def, fmt.Errorf("acquire shared lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return def, fmt.Errorf("acquire shared lock %s: not acquired", fl.Path())
	}
	defer fl.Unlock()
	return decodeOrDefault(path, def), nil
}

// Write acquires the exclusive lock and atomically replaces the document
// at path. Equivalent to Update with a modifier that ignores its input.
func Write[T any](ctx context.Context, path string, doc T) error {
	_, err := Update(ctx, path, doc, func(T) (T, error) { return doc, nil })
	return err
}

// Update is the only safe way to perform read-then-write: it holds the
// exclusive lock across the read, the modifier, and the atomic replace.
// Calling Read followed by a separate Write is a lost-update race and must
// not be used for mutation. The modified document is returned on success;
// a modifier error aborts with the file untouched.
func Update[T any](ctx context.Context, path string, def T, modify func(T) (T, error)) (T, error) {
	var zero T
	if err := ensureDir(path); err != nil {
		return zero, fmt.Errorf("ensure data dir: %w", err)
	}
	fl := flock.New(lockPath(path))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return zero, fmt.Errorf("acquire exclusive lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return zero, fmt.Errorf("acquire exclusive lock %s: not acquired", fl.Path())
	}
	defer fl.Unlock()

	doc := decodeOrDefault(path, def)
	next, err := modify(doc)
	if err != nil {
		return zero, err
	}
	if err := replaceFile(path, next); err != nil {
		return zero, err
	}
	return next, nil
}

func decodeOrDefault[T any](path string, def T) T {
	data, err := os.ReadFile(path)
	if err != nil {
		return def
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return def
	}
	return doc
}

// replaceFile serializes doc to a temp file in the same directory and
// renames it over path. The original file stays intact until the rename.
func replaceFile[T any](path string, doc T) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
