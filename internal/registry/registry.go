// Package registry manages the configured sources: CRUD over sources.json
// with the same atomic write and backup discipline as the library store.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/logger"
	"github.com/cesargomez89/tubecrate/internal/storage"
)

var (
	ErrNotFound  = errors.New("source not found")
	ErrDuplicate = errors.New("source already exists")
)

const backupPrefix = "sources-"

// document is the on-disk shape of sources.json.
type document struct {
	SchemaVersion int              `json:"schema_version"`
	Sources       []*domain.Source `json:"sources"`
}

// Registry is the persistent set of source configurations. All access is
// serialized; every write lands atomically and snapshots the previous file.
type Registry struct {
	DataDir string
	Logger  *logger.Logger

	mu      sync.Mutex
	sources map[string]*domain.Source
	loaded  bool
}

func New(dataDir string, log *logger.Logger) *Registry {
	return &Registry{
		DataDir: dataDir,
		Logger:  log.WithComponent("registry"),
	}
}

func (r *Registry) path() string {
	return filepath.Join(r.DataDir, constants.SourcesFile)
}

func (r *Registry) loadLocked() error {
	if r.loaded {
		return nil
	}

	b, err := os.ReadFile(r.path())
	if errors.Is(err, fs.ErrNotExist) {
		r.sources = make(map[string]*domain.Source)
		r.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sources: %w", err)
	}

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse sources: %w", err)
	}
	if doc.SchemaVersion > constants.SourcesSchemaVersion {
		return fmt.Errorf("sources schema %d is newer than supported %d",
			doc.SchemaVersion, constants.SourcesSchemaVersion)
	}

	sources := make(map[string]*domain.Source, len(doc.Sources))
	for _, src := range doc.Sources {
		// Raw strings from disk are checked here, at the trust boundary.
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}
		if _, ok := sources[src.ID]; ok {
			return fmt.Errorf("source %s: %w", src.ID, ErrDuplicate)
		}
		sources[src.ID] = src
	}

	r.sources = sources
	r.loaded = true
	return nil
}

func (r *Registry) saveLocked() error {
	doc := document{
		SchemaVersion: constants.SourcesSchemaVersion,
		Sources:       sortedLocked(r.sources),
	}

	if storage.FileExists(r.path()) {
		dir := filepath.Join(r.DataDir, constants.BackupsDir)
		if _, err := storage.TimestampedCopy(r.path(), dir, backupPrefix); err != nil {
			return fmt.Errorf("backup sources: %w", err)
		}
	}

	if err := storage.WriteJSONAtomic(r.path(), doc, constants.FilePermissions); err != nil {
		return fmt.Errorf("save sources: %w", err)
	}
	r.Logger.Debug("sources saved", "count", len(r.sources))
	return nil
}

// sortedLocked orders sources by priority (1 first), then by name for a
// stable file layout.
func sortedLocked(sources map[string]*domain.Source) []*domain.Source {
	out := make([]*domain.Source, 0, len(sources))
	for _, src := range sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Add registers a new source. Duplicate ids are rejected.
func (r *Registry) Add(src *domain.Source) error {
	if src.Cadence == "" {
		src.Cadence = domain.CadenceManual
	}
	if src.Priority == 0 {
		src.Priority = 3
	}
	if err := src.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}

	if _, ok := r.sources[src.ID]; ok {
		return fmt.Errorf("source %s: %w", src.ID, ErrDuplicate)
	}

	now := time.Now().UTC()
	src.AddedAt = now
	src.UpdatedAt = now
	r.sources[src.ID] = src

	if err := r.saveLocked(); err != nil {
		delete(r.sources, src.ID)
		return err
	}
	r.Logger.Info("source added", "source_id", src.ID, "name", src.Name)
	return nil
}

// Get returns one source by id.
func (r *Registry) Get(id string) (*domain.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}

	src, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	cp := *src
	return &cp, nil
}

// List returns all sources in priority order.
func (r *Registry) List() ([]*domain.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}

	out := sortedLocked(r.sources)
	for i, src := range out {
		cp := *src
		out[i] = &cp
	}
	return out, nil
}

// Enabled returns the enabled sources in priority order.
func (r *Registry) Enabled() ([]*domain.Source, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, src := range all {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out, nil
}

// Update replaces the stored fields of an existing source. The id and the
// AddedAt timestamp are immutable.
func (r *Registry) Update(src *domain.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}

	existing, ok := r.sources[src.ID]
	if !ok {
		return fmt.Errorf("source %s: %w", src.ID, ErrNotFound)
	}

	updated := *src
	updated.AddedAt = existing.AddedAt
	updated.UpdatedAt = time.Now().UTC()
	r.sources[src.ID] = &updated

	if err := r.saveLocked(); err != nil {
		r.sources[src.ID] = existing
		return err
	}
	return nil
}

// Remove deletes a source configuration. The collected videos stay in the
// library.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}

	existing, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	delete(r.sources, id)

	if err := r.saveLocked(); err != nil {
		r.sources[id] = existing
		return err
	}
	r.Logger.Info("source removed", "source_id", id)
	return nil
}

// SetEnabled flips the enabled flag on one source.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}

	src, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if src.Enabled == enabled {
		return nil
	}

	prev := *src
	src.Enabled = enabled
	src.UpdatedAt = time.Now().UTC()

	if err := r.saveLocked(); err != nil {
		*src = prev
		return err
	}
	return nil
}
