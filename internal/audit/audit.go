// Package audit implements C10: an append-only, partitioned audit log over
// the shared object store. Every grant, revoke, sync, and manual-detection
// event gets its own object; nothing is ever updated or deleted (§4.10).
//
// Grounded on the teacher's agents/manager/internal/state/store.go
// marshal-and-persist idiom, generalized from a single mutable file to one
// object per event, keyed so collisions are impossible.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fivexl/sso-elevator/internal/model"
	"github.com/fivexl/sso-elevator/internal/objectstore"
)

// Writer appends AuditRecords to an object store bucket, partitioned by
// date (§4.10: "{prefix}/{YYYY}/{MM}/{DD}/{request_id}-{nonce}.json").
type Writer struct {
	store  objectstore.Store
	bucket string
	prefix string
}

// New constructs a Writer. prefix is the configured AuditPrefix
// (Configuration.Runtime.AuditPrefix).
func New(store objectstore.Store, bucket, prefix string) *Writer {
	return &Writer{store: store, bucket: bucket, prefix: prefix}
}

// Append writes a single audit record. The timestamp and version fields
// are stamped here so callers never have to remember to set them.
func (w *Writer) Append(ctx context.Context, record model.AuditRecord) error {
	record.Version = model.CurrentAuditVersion
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	key := w.key(record)
	if err := w.store.Put(ctx, w.bucket, key, body); err != nil {
		return fmt.Errorf("write audit record %s: %w", key, err)
	}
	return nil
}

// key computes the partitioned object key for a record. request_id may be
// empty for a sync or manual-detection event; the nonce still guarantees
// uniqueness.
func (w *Writer) key(record model.AuditRecord) string {
	nonce := uuid.NewString()
	subject := record.RequestID
	if subject == "" {
		subject = string(record.AuditEntryType)
	}
	t := record.Timestamp
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s-%s.json", w.prefix, t.Year(), t.Month(), t.Day(), subject, nonce)
}

// List returns the keys of every audit object written on the given UTC
// date, for reconciliation/backstop reads (§8).
func (w *Writer) List(ctx context.Context, day time.Time) ([]string, error) {
	prefix := fmt.Sprintf("%s/%04d/%02d/%02d/", w.prefix, day.Year(), day.Month(), day.Day())
	keys, err := w.store.ListKeys(ctx, w.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list audit objects under %s: %w", prefix, err)
	}
	return keys, nil
}

// Read fetches and decodes a single audit record by key.
func (w *Writer) Read(ctx context.Context, key string) (model.AuditRecord, error) {
	var record model.AuditRecord
	data, err := w.store.Get(ctx, w.bucket, key)
	if err != nil {
		return record, fmt.Errorf("read audit object %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("unmarshal audit object %s: %w", key, err)
	}
	return record, nil
}
