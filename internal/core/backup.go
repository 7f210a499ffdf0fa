package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"memoctx/internal/blob"
	"memoctx/pkg/domain"
)

// BackupVersion identifies the backup document layout.
const BackupVersion = 1

const backupContentType = "application/json"

// Backup is the document written by BackupStore.
type Backup struct {
	Version int           `json:"version"`
	TakenAt time.Time     `json:"taken_at"`
	Memos   []domain.Memo `json:"memos"`
}

// BackupStore writes every row of src as a JSON document under key. Blob
// stores are create-only, so an existing key is an error.
func BackupStore(ctx context.Context, src domain.Lister, dst blob.Store, key string) (blob.Info, error) {
	if key == "" {
		return blob.Info{}, errors.New("backup: key required")
	}
	memos, err := src.List(ctx)
	if err != nil {
		return blob.Info{}, fmt.Errorf("backup: list %s rows: %w", domain.EntityMemo, err)
	}
	if memos == nil {
		memos = []domain.Memo{}
	}
	doc := Backup{Version: BackupVersion, TakenAt: time.Now().UTC(), Memos: memos}
	payload, err := json.Marshal(doc)
	if err != nil {
		return blob.Info{}, fmt.Errorf("backup: encode: %w", err)
	}
	info, err := dst.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: backupContentType,
		Metadata:    map[string]string{"rows": fmt.Sprint(len(memos))},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("backup: put %s: %w", key, err)
	}
	return info, nil
}

// RestoreStore reads the backup under key and writes its rows into dst in a
// single batch. It returns the number of rows restored.
func RestoreStore(ctx context.Context, src blob.Store, key string, dst domain.BatchStore) (int, error) {
	_, body, err := src.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("restore: get %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	var doc Backup
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return 0, fmt.Errorf("restore: decode %s: %w", key, err)
	}
	if doc.Version != BackupVersion {
		return 0, fmt.Errorf("restore: unsupported backup version %d", doc.Version)
	}
	if len(doc.Memos) == 0 {
		return 0, nil
	}
	if err := dst.PutAll(ctx, doc.Memos); err != nil {
		return 0, fmt.Errorf("restore: write %d %s rows: %w", len(doc.Memos), domain.EntityMemo, err)
	}
	return len(doc.Memos), nil
}
