package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"feedfusion/internal/infra/storage"
)

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := filepath.Join(base, "a", "b", "cache.bbolt")

	if err := storage.EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir() error: %v", err)
	}
	info, err := os.Stat(filepath.Join(base, "a", "b"))
	if err != nil || !info.IsDir() {
		t.Fatalf("parent dir missing: %v", err)
	}

	// Путь без каталога — no-op.
	if err := storage.EnsureDir("file.txt"); err != nil {
		t.Fatalf("EnsureDir(no dir) error: %v", err)
	}
}

func TestAtomicWriteFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "metrics.json")

	if err := storage.AtomicWriteFile(path, []byte(`{"accuracy":0.9}`)); err != nil {
		t.Fatalf("AtomicWriteFile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"accuracy":0.9}` {
		t.Fatalf("content = %s", data)
	}

	// Повторная запись заменяет содержимое целиком.
	if err := storage.AtomicWriteFile(path, []byte(`{}`)); err != nil {
		t.Fatalf("AtomicWriteFile() rewrite error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != `{}` {
		t.Fatalf("content after rewrite = %s", data)
	}

	// Временные файлы не остаются рядом.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir entries = %d, want only target file", len(entries))
	}
}
