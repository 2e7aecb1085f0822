package fsutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelfs/blockstored/internal/blockerr"
)

func TestLocal_CreateWriterAndRead(t *testing.T) {
	l := New()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "block")

	w, err := l.CreateWriter(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	size, err := l.Size(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if size != 5 {
		t.Fatalf("expected size 5, got %d", size)
	}

	exists, err := l.Exists(ctx, path)
	if err != nil || !exists {
		t.Fatalf("expected file to exist, err=%v", err)
	}
}

func TestLocal_ExistsFalseForMissing(t *testing.T) {
	l := New()
	exists, err := l.Exists(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected exists to be false for a missing file")
	}
}

func TestLocal_SizeMissingIsNotFound(t *testing.T) {
	l := New()
	_, err := l.Size(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, blockerr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestLocal_RenameCreatesDestDir(t *testing.T) {
	l := New()
	ctx := context.Background()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "nested", "dst")

	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Rename(ctx, src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected dest file to exist: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("expected source file to be gone")
	}
}

func TestLocal_DeleteToleratesMissing(t *testing.T) {
	l := New()
	err := l.Delete(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("expected Delete on missing file to succeed, got %v", err)
	}
}

func TestLocal_ListSkipsDirsAndIgnoresMissing(t *testing.T) {
	l := New()
	ctx := context.Background()
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "1"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "2"), []byte("bb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := l.List(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (dirs skipped), got %d", len(entries))
	}

	entries, err = l.List(ctx, filepath.Join(root, "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for a missing dir, got %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries for a missing dir, got %v", entries)
	}
}
