// Package storetest holds the behavioural contract every memo store backend must satisfy.
package storetest

import (
	"context"
	"errors"
	"testing"

	"memoctx/pkg/domain"
)

// RunContract exercises a fresh store returned by open. The store is closed afterwards.
func RunContract(t *testing.T, open func(t *testing.T) domain.PersistentStore) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s domain.PersistentStore)
	}{
		{"GetMissing", testGetMissing},
		{"PutThenGet", testPutThenGet},
		{"PutOverwrites", testPutOverwrites},
		{"PutAllRejectsMissingID", testPutAllRejectsMissingID},
		{"DeleteAndList", testDeleteAndList},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s domain.PersistentStore) {
	if _, ok, err := s.Get(context.Background(), 404); err != nil || ok {
		t.Fatalf("expected missing row, ok=%v err=%v", ok, err)
	}
}

func testPutThenGet(t *testing.T, s domain.PersistentStore) {
	ctx := context.Background()
	if err := s.Put(ctx, 2, domain.Memo{Username: "Robbie", Contents: "persistence context"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, 2)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	want := domain.Memo{ID: 2, Username: "Robbie", Contents: "persistence context"}
	if !got.SameFields(want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func testPutOverwrites(t *testing.T, s domain.PersistentStore) {
	ctx := context.Background()
	_ = s.Put(ctx, 1, domain.Memo{Username: "first"})
	if err := s.Put(ctx, 1, domain.Memo{ID: 1, Username: "second", Contents: "x"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ := s.Get(ctx, 1)
	if got.Username != "second" || got.Contents != "x" {
		t.Fatalf("expected overwritten row, got %+v", got)
	}
}

func testPutAllRejectsMissingID(t *testing.T, s domain.PersistentStore) {
	ctx := context.Background()
	err := s.PutAll(ctx, []domain.Memo{{ID: 7, Username: "ok"}, {Username: "missing"}})
	if !errors.Is(err, domain.ErrIdentifierMissing) {
		t.Fatalf("expected identifier missing, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, 7); ok {
		t.Fatalf("expected no partial write")
	}
}

func testDeleteAndList(t *testing.T, s domain.PersistentStore) {
	ctx := context.Background()
	if err := s.PutAll(ctx, []domain.Memo{{ID: 3, Username: "c"}, {ID: 1, Username: "a"}, {ID: 2, Username: "b"}}); err != nil {
		t.Fatalf("put all: %v", err)
	}
	if err := s.Delete(ctx, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, 99); err != nil {
		t.Fatalf("delete missing row: %v", err)
	}
	rows, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != 1 || rows[1].ID != 3 {
		t.Fatalf("expected rows 1 and 3 in order, got %v", rows)
	}
}
