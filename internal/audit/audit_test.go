package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fivexl/sso-elevator/internal/model"
	"github.com/fivexl/sso-elevator/internal/objectstore"
)

type fakeStore struct {
	data map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][]byte{}} }

func (f *fakeStore) Get(_ context.Context, _, key string) ([]byte, error) {
	v, ok := f.data[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) Put(_ context.Context, _, key string, body []byte) error {
	f.data[key] = body
	return nil
}

func (f *fakeStore) ListKeys(_ context.Context, _, prefix string) ([]string, error) {
	var keys []string
	for k := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestAppend_PartitionsByDate(t *testing.T) {
	store := newFakeStore()
	w := New(store, "bucket", "audit")

	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	err := w.Append(context.Background(), model.AuditRecord{
		Timestamp:      ts,
		AuditEntryType: model.AuditEntryAccount,
		OperationType:  model.OperationGrant,
		RequestID:      "req-1",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	keys, err := w.List(context.Background(), ts)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("keys = %v, want 1", keys)
	}
	if want := "audit/2026/03/05/"; len(keys[0]) < len(want) || keys[0][:len(want)] != want {
		t.Fatalf("key %s does not have partition prefix %s", keys[0], want)
	}
}

func TestAppend_StampsVersionAndTimestamp(t *testing.T) {
	store := newFakeStore()
	w := New(store, "bucket", "audit")

	err := w.Append(context.Background(), model.AuditRecord{
		AuditEntryType: model.AuditEntrySyncAdd,
		OperationType:  model.OperationDetect,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(store.data) != 1 {
		t.Fatalf("expected exactly one object written")
	}
	var got model.AuditRecord
	for _, v := range store.data {
		if err := json.Unmarshal(v, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	}
	if got.Version != model.CurrentAuditVersion {
		t.Fatalf("version = %d, want %d", got.Version, model.CurrentAuditVersion)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("timestamp was not stamped")
	}
}

func TestAppend_TwoEventsSameRequest_NeverCollide(t *testing.T) {
	store := newFakeStore()
	w := New(store, "bucket", "audit")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		err := w.Append(context.Background(), model.AuditRecord{
			Timestamp:      ts,
			AuditEntryType: model.AuditEntryAccount,
			OperationType:  model.OperationGrant,
			RequestID:      "req-shared",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if len(store.data) != 2 {
		t.Fatalf("expected 2 distinct objects (nonce must prevent collision), got %d", len(store.data))
	}
}

func TestRead_RoundTrips(t *testing.T) {
	store := newFakeStore()
	w := New(store, "bucket", "audit")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := w.Append(context.Background(), model.AuditRecord{
		Timestamp:      ts,
		AuditEntryType: model.AuditEntryGroup,
		OperationType:  model.OperationRevoke,
		RequestID:      "req-2",
		RequesterEmail: "a@example.com",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	keys, err := w.List(context.Background(), ts)
	if err != nil || len(keys) != 1 {
		t.Fatalf("List: keys=%v err=%v", keys, err)
	}
	record, err := w.Read(context.Background(), keys[0])
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.RequesterEmail != "a@example.com" {
		t.Fatalf("record = %+v", record)
	}
}
