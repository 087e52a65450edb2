package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Archiver exports old ledger history to object storage as JSONL for the
// external accounting pipeline. Deletion of exported rows from the primary
// store is intentionally not performed here; that is a separate explicit
// step after the archive has been verified.
type Archiver struct {
	writer BlobWriter
	store  domain.LedgerStore
}

// NewArchiver creates an Archiver over the given writer and ledger store.
func NewArchiver(writer BlobWriter, store domain.LedgerStore) *Archiver {
	return &Archiver{writer: writer, store: store}
}

// ArchiveEntries uploads all ledger entries older than the cutoff to
// archive/ledger_entries/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveEntries(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.store.EntriesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive entries query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive entries marshal: %w", err)
	}

	path := archivePath("ledger_entries", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive entries upload: %w", err)
	}
	return int64(len(entries)), nil
}

// ArchiveAttempts uploads terminal attempt snapshots started before the
// cutoff to archive/attempts/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveAttempts(ctx context.Context, before time.Time) (int64, error) {
	attempts, err := a.store.RecentAttempts(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts query: %w", err)
	}

	var old []domain.ExecutionAttempt
	for _, att := range attempts {
		if att.State.Terminal() && att.StartedAt.Before(before) {
			old = append(old, att)
		}
	}
	if len(old) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(old)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts marshal: %w", err)
	}

	path := archivePath("attempts", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts upload: %w", err)
	}
	return int64(len(old)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
