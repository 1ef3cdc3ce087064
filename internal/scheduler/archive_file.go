package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"daymark/internal/types"
)

// archivedRecord is the export row format: one JSON object per line inside
// a zstd-compressed file. Readable with `zstd -dc file | jq`.
type archivedRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	ScheduledAtUTC time.Time `json:"scheduled_at_utc"`
	Status         string    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FileArchiver writes record batches as zstd-compressed JSON Lines files
// under a local directory. Each batch becomes one file named by export
// time, so repeated exports never overwrite each other.
type FileArchiver struct {
	dir string
	now func() time.Time
}

// NewFileArchiver creates a FileArchiver rooted at dir. The directory is
// created on first use.
func NewFileArchiver(dir string) *FileArchiver {
	return &FileArchiver{dir: dir, now: time.Now}
}

// Archive implements Archiver. The file is fully written, synced, and
// closed before Archive returns; a partial file from a crashed export is
// left behind under a .tmp suffix and never counted as durable.
func (a *FileArchiver) Archive(ctx context.Context, records []*types.MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("messages-%s.jsonl.zst", a.now().UTC().Format("20060102T150405.000000000Z"))
	finalPath := filepath.Join(a.dir, name)
	tmpPath := finalPath + ".tmp"

	if err := a.writeFile(ctx, tmpPath, records); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize archive file: %w", err)
	}
	return nil
}

func (a *FileArchiver) writeFile(ctx context.Context, path string, records []*types.MessageRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	jsonEnc := json.NewEncoder(enc)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			enc.Close()
			return err
		}
		row := archivedRecord{
			ID:             rec.ID,
			UserID:         rec.UserID,
			EventType:      string(rec.EventType),
			IdempotencyKey: rec.IdempotencyKey,
			ScheduledAtUTC: rec.ScheduledAtUTC,
			Status:         string(rec.Status),
			RetryCount:     rec.RetryCount,
			LastError:      rec.LastError,
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
		}
		if err := jsonEnc.Encode(row); err != nil {
			enc.Close()
			return fmt.Errorf("failed to encode archive row: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive file: %w", err)
	}
	return nil
}

var _ Archiver = (*FileArchiver)(nil)
