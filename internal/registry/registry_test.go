package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/logger"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(t.TempDir(), logger.Default())
}

func testSource(id, name string) *domain.Source {
	return &domain.Source{
		ID:      id,
		Name:    name,
		Enabled: true,
		Cadence: domain.CadenceWeekly,
	}
}

func TestAddAndGet(t *testing.T) {
	r := setupTestRegistry(t)

	src := testSource("PLabcdefghij01", "Drum covers")
	if err := r.Add(src); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := r.Get("PLabcdefghij01")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Drum covers" {
		t.Errorf("Expected name 'Drum covers', got %q", got.Name)
	}
	if got.Priority != 3 {
		t.Errorf("Expected default priority 3, got %d", got.Priority)
	}
	if got.AddedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	r := setupTestRegistry(t)

	if err := r.Add(testSource("PLabcdefghij01", "First")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	err := r.Add(testSource("PLabcdefghij01", "Second"))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func TestAddRejectsInvalidSource(t *testing.T) {
	r := setupTestRegistry(t)

	tests := []struct {
		name   string
		mutate func(*domain.Source)
		want   string
	}{
		{"bad id format", func(s *domain.Source) { s.ID = "not-a-playlist" }, "not a playlist id"},
		{"empty name", func(s *domain.Source) { s.Name = "" }, "name is required"},
		{"priority too high", func(s *domain.Source) { s.Priority = 6 }, "priority"},
		{"negative max items", func(s *domain.Source) { s.MaxItems = -1 }, "max_items"},
		{"bad cadence", func(s *domain.Source) { s.Cadence = "hourly" }, "cadence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testSource("PLabcdefghij01", "Covers")
			tt.mutate(src)
			err := r.Add(src)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestListPriorityOrder(t *testing.T) {
	r := setupTestRegistry(t)

	low := testSource("PLabcdefghij01", "Low")
	low.Priority = 5
	high := testSource("UUabcdefghij02", "High")
	high.Priority = 1
	mid := testSource("FLabcdefghij03", "Mid")
	mid.Priority = 3

	for _, src := range []*domain.Source{low, high, mid} {
		if err := r.Add(src); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	list, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 sources, got %d", len(list))
	}
	if list[0].Name != "High" || list[1].Name != "Mid" || list[2].Name != "Low" {
		t.Errorf("Wrong order: %s, %s, %s", list[0].Name, list[1].Name, list[2].Name)
	}
}

func TestEnabledFiltersDisabled(t *testing.T) {
	r := setupTestRegistry(t)

	on := testSource("PLabcdefghij01", "On")
	off := testSource("UUabcdefghij02", "Off")
	off.Enabled = false
	if err := r.Add(on); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(off); err != nil {
		t.Fatal(err)
	}

	enabled, err := r.Enabled()
	if err != nil {
		t.Fatalf("Enabled failed: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "On" {
		t.Errorf("Expected only the enabled source, got %d", len(enabled))
	}
}

func TestUpdate(t *testing.T) {
	r := setupTestRegistry(t)

	src := testSource("PLabcdefghij01", "Before")
	if err := r.Add(src); err != nil {
		t.Fatal(err)
	}
	added, _ := r.Get(src.ID)

	updated := testSource("PLabcdefghij01", "After")
	updated.Priority = 1
	updated.MaxItems = 100
	if err := r.Update(updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := r.Get(src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "After" || got.Priority != 1 || got.MaxItems != 100 {
		t.Errorf("Update not applied: %+v", got)
	}
	if !got.AddedAt.Equal(added.AddedAt) {
		t.Error("AddedAt must survive updates")
	}

	missing := testSource("UUabcdefghij99", "Ghost")
	if err := r.Update(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := setupTestRegistry(t)

	if err := r.Add(testSource("PLabcdefghij01", "Covers")); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("PLabcdefghij01"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := r.Get("PLabcdefghij01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after remove, got %v", err)
	}
	if err := r.Remove("PLabcdefghij01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for second remove, got %v", err)
	}
}

func TestSetEnabled(t *testing.T) {
	r := setupTestRegistry(t)

	if err := r.Add(testSource("PLabcdefghij01", "Covers")); err != nil {
		t.Fatal(err)
	}
	if err := r.SetEnabled("PLabcdefghij01", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	got, _ := r.Get("PLabcdefghij01")
	if got.Enabled {
		t.Error("Expected source to be disabled")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, logger.Default())

	if err := r.Add(testSource("PLabcdefghij01", "Covers")); err != nil {
		t.Fatal(err)
	}

	// A fresh registry over the same directory sees the same sources.
	r2 := New(dir, logger.Default())
	got, err := r2.Get("PLabcdefghij01")
	if err != nil {
		t.Fatalf("Get on reloaded registry failed: %v", err)
	}
	if got.Name != "Covers" {
		t.Errorf("Expected reloaded name 'Covers', got %q", got.Name)
	}
}

func TestWritesCreateBackups(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, logger.Default())

	if err := r.Add(testSource("PLabcdefghij01", "First")); err != nil {
		t.Fatal(err)
	}
	// Second write snapshots the first file.
	if err := r.Add(testSource("UUabcdefghij02", "Second")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, constants.BackupsDir))
	if err != nil {
		t.Fatalf("Expected backups dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "sources-") {
			found = true
		}
	}
	if !found {
		t.Error("Expected a sources backup after the second write")
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, constants.SourcesFile)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir, logger.Default())
	if _, err := r.List(); err == nil {
		t.Error("Expected error for corrupt sources file")
	}
}

func TestLoadRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	doc := document{SchemaVersion: constants.SourcesSchemaVersion + 1}
	b, _ := json.Marshal(doc)
	if err := os.WriteFile(filepath.Join(dir, constants.SourcesFile), b, 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir, logger.Default())
	if _, err := r.List(); err == nil || !strings.Contains(err.Error(), "newer") {
		t.Errorf("Expected newer-schema error, got %v", err)
	}
}
