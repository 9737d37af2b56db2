package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleRecord(key, value string) Record {
	return Record{
		DeviceID:  "leaf_1n4az0cp7f_123456",
		VIN:       "1N4AZ0CP7F-123456",
		Platform:  "sensor",
		Key:       key,
		Value:     value,
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "entities.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if recs, _ := s.Load(ctx); len(recs) != 0 {
		t.Fatalf("expected empty store, got %d records", len(recs))
	}

	if err := s.Save(ctx, sampleRecord("state_of_charge", "87.35")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, sampleRecord("gids", "230")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Overwrite existing entity.
	if err := s.Save(ctx, sampleRecord("state_of_charge", "80")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	recs, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Key != "gids" || recs[1].Key != "state_of_charge" {
		t.Errorf("expected records sorted by id, got %s, %s", recs[0].Key, recs[1].Key)
	}
	if recs[1].Value != "80" {
		t.Errorf("expected overwritten value 80, got %q", recs[1].Value)
	}
	if !recs[1].UpdatedAt.Equal(sampleRecord("", "").UpdatedAt) {
		t.Errorf("expected timestamp to round-trip, got %v", recs[1].UpdatedAt)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Error("expected error for corrupt state file")
	}
}

func TestFileStore_EmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Save(ctx, sampleRecord("gids", "230"))
	_ = s.Save(ctx, sampleRecord("gids", "231"))
	recs, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 1 || recs[0].Value != "231" {
		t.Errorf("expected single updated record, got %+v", recs)
	}
}

func TestOpen(t *testing.T) {
	if s, err := Open(Options{Backend: BackendNone}); err != nil {
		t.Errorf("none backend: %v", err)
	} else if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	path := filepath.Join(t.TempDir(), "s.json")
	if s, err := Open(Options{Backend: BackendFile, Path: path}); err != nil {
		t.Errorf("file backend: %v", err)
	} else if _, ok := s.(*FileStore); !ok {
		t.Errorf("expected *FileStore, got %T", s)
	}

	if _, err := Open(Options{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("LEAFSPY_HASS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEAFSPY_HASS_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(url)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	rec := sampleRecord("test_"+time.Now().Format("150405.000000"), "1")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	defer s.client.Del(ctx, s.key(rec.ID()))

	recs, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	found := false
	for _, r := range recs {
		if r.ID() == rec.ID() && r.Value == "1" {
			found = true
		}
	}
	if !found {
		t.Errorf("saved record %s not loaded", rec.ID())
	}
}

func TestRecordID(t *testing.T) {
	r := sampleRecord("gids", "1")
	if got := r.ID(); got != "sensor/leaf_1n4az0cp7f_123456/gids" {
		t.Errorf("unexpected id %q", got)
	}
}
