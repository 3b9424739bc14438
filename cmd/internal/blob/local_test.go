package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore_PutGetDelete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewLocalStore(dir, "/uploads")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	data := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x01}

	url, err := s.Put(ctx, "voice-note-01.webm", "audio/webm", data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "/uploads/voice-note-01.webm" {
		t.Fatalf("url=%q", url)
	}

	if _, err := os.Stat(filepath.Join(dir, "voice-note-01.webm")); err != nil {
		t.Fatalf("object not on disk: %v", err)
	}

	rc, err := s.Get(ctx, "voice-note-01.webm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("roundtrip mismatch: %v vs %v", got, data)
	}

	if err := s.Delete(ctx, "voice-note-01.webm"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "voice-note-01.webm"); err == nil {
		t.Fatalf("get after delete must fail")
	}
}

func TestLocalStore_RejectsTraversalNames(t *testing.T) {
	t.Parallel()

	s, err := NewLocalStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	for _, name := range []string{"../escape", "a/b.webm", "a\\b.webm", "", "."} {
		if _, err := s.Put(ctx, name, "audio/webm", []byte{1}); err == nil {
			t.Fatalf("Put(%q) accepted a traversal-capable name", name)
		}
	}
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	t.Parallel()

	s, err := NewLocalStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Put(ctx, "n.webm", "audio/webm", []byte("old")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := s.Put(ctx, "n.webm", "audio/webm", []byte("new")); err != nil {
		t.Fatalf("second put: %v", err)
	}

	rc, err := s.Get(ctx, "n.webm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(got) != "new" {
		t.Fatalf("content=%q want new", got)
	}
}
