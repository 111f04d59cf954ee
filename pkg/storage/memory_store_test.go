package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, "backups/2024/a.mia", strings.NewReader("blob"), 4, "application/octet-stream"); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "backups/2024/a.mia")
	if err != nil || string(got) != "blob" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "backups/2024/a.mia" {
		t.Fatalf("keys = %v", keys)
	}
	if err := s.Delete(ctx, "backups/2024/a.mia"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "backups/2024/a.mia"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStoreRejectsShortRead(t *testing.T) {
	if err := NewMemoryStore().Put(context.Background(), "k", strings.NewReader("ab"), 5, ""); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}
