package memory

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"memoctx/internal/blob/core"
)

func TestMemoryBlobLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "backups/a.json", strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"rows": "0"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 2 || info.ContentType != "application/json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "backups/a.json", strings.NewReader("{}"), core.PutOptions{}); err == nil {
		t.Fatalf("expected create-only put to fail for existing key")
	}
	got, rc, err := s.Get(ctx, "backups/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "{}" || got.Metadata["rows"] != "0" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	got.Metadata["rows"] = "mutated"
	head, err := s.Head(ctx, "backups/a.json")
	if err != nil || head.Metadata["rows"] != "0" {
		t.Fatalf("metadata must be copied, got %+v err=%v", head, err)
	}
	_, _ = s.Put(ctx, "other/b.json", strings.NewReader("x"), core.PutOptions{})
	list, _ := s.List(ctx, "backups/")
	if len(list) != 1 || list[0].Key != "backups/a.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	if all, _ := s.List(ctx, ""); len(all) != 2 {
		t.Fatalf("expected 2 blobs, got %d", len(all))
	}
	if ok, _ := s.Delete(ctx, "backups/a.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "backups/a.json"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
	if _, _, err := s.Get(ctx, "backups/a.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist from get, got %v", err)
	}
	if _, err := s.Head(ctx, "backups/a.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist from head, got %v", err)
	}
}

func TestMemoryBlobETagAndClock(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("cet", 3600))
	s := New(WithClock(func() time.Time { return stamp }), WithClock(nil))
	ctx := context.Background()

	// md5("hello")
	const want = `"5d41402abc4b2a76b9719d911017c592"`
	info, err := s.Put(ctx, "a", strings.NewReader("hello"), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ETag != want {
		t.Fatalf("expected etag %s, got %s", want, info.ETag)
	}
	if !info.LastModified.Equal(stamp) || info.LastModified.Location() != time.UTC {
		t.Fatalf("expected UTC clock stamp, got %v", info.LastModified)
	}
	if _, err := s.Put(ctx, "a", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
	if _, err := s.Put(ctx, "", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if info.Metadata != nil {
		t.Fatalf("expected nil metadata when none given")
	}
}
