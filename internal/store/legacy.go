package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/storage"
)

// legacySchema is the first-generation SQLite layout this migration reads.
// Kept verbatim so tests can build fixture databases.
const legacySchema = `
CREATE TABLE IF NOT EXISTS videos (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	channel_id TEXT,
	channel_title TEXT,
	published_at DATETIME,
	duration INTEGER,
	view_count INTEGER,
	tags TEXT,  -- JSON array
	annotation_status TEXT,
	insight_json TEXT,  -- JSON object
	collected_at DATETIME
);

CREATE TABLE IF NOT EXISTS playlists (
	id TEXT PRIMARY KEY,
	title TEXT,
	channel_title TEXT,
	video_ids TEXT  -- JSON array, playlist order
);
`

// jsonStrings scans a JSON-array column into a string slice.
type jsonStrings []string

func (s jsonStrings) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *jsonStrings) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil
	}

	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}

	return json.Unmarshal(data, s)
}

type legacyVideo struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	Description      sql.NullString `db:"description"`
	ChannelID        sql.NullString `db:"channel_id"`
	ChannelTitle     sql.NullString `db:"channel_title"`
	PublishedAt      sql.NullTime   `db:"published_at"`
	Duration         sql.NullInt64  `db:"duration"`
	ViewCount        sql.NullInt64  `db:"view_count"`
	Tags             jsonStrings    `db:"tags"`
	AnnotationStatus sql.NullString `db:"annotation_status"`
	InsightJSON      sql.NullString `db:"insight_json"`
	CollectedAt      sql.NullTime   `db:"collected_at"`
}

type legacyPlaylist struct {
	ID           string         `db:"id"`
	Title        sql.NullString `db:"title"`
	ChannelTitle sql.NullString `db:"channel_title"`
	VideoIDs     jsonStrings    `db:"video_ids"`
}

// MigrationResult summarizes a completed legacy import.
type MigrationResult struct {
	Videos    int    `json:"videos"`
	Playlists int    `json:"playlists"`
	Insights  int    `json:"insights"`
	MovedTo   string `json:"moved_to"`
}

// MigrateLegacy imports the first-generation SQLite database into a fresh
// library and moves the database file aside so the import runs exactly once.
// It refuses to run when a canonical library already exists.
func (s *Store) MigrateLegacy() (*MigrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if storage.FileExists(s.path()) {
		return nil, fmt.Errorf("library already initialized at %s", s.path())
	}
	res, err := s.migrateLegacyLocked()
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("no legacy database at %s", filepath.Join(s.DataDir, constants.LegacyDBFile))
	}
	return res, nil
}

// migrateLegacyLocked returns (nil, nil) when there is nothing to migrate.
func (s *Store) migrateLegacyLocked() (*MigrationResult, error) {
	dbPath := filepath.Join(s.DataDir, constants.LegacyDBFile)
	if !storage.FileExists(dbPath) {
		return nil, nil
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open legacy db: %w", err)
	}
	defer db.Close()

	lib, insights, err := importLegacy(db)
	if err != nil {
		return nil, err
	}

	s.library = lib
	s.loaded = true
	if err := s.writeLocked(); err != nil {
		return nil, err
	}

	movedTo := filepath.Join(s.DataDir, constants.LegacyDir, constants.LegacyDBFile)
	if err := storage.MoveFile(dbPath, movedTo); err != nil {
		return nil, fmt.Errorf("move legacy db aside: %w", err)
	}

	return &MigrationResult{
		Videos:    lib.TotalVideos,
		Playlists: lib.TotalPlaylists,
		Insights:  insights,
		MovedTo:   movedTo,
	}, nil
}

func importLegacy(db *sqlx.DB) (*domain.Library, int, error) {
	var videos []legacyVideo
	if err := sqlx.Select(db, &videos, `SELECT * FROM videos`); err != nil {
		return nil, 0, fmt.Errorf("read legacy videos: %w", err)
	}

	var playlists []legacyPlaylist
	if err := sqlx.Select(db, &playlists, `SELECT * FROM playlists`); err != nil {
		return nil, 0, fmt.Errorf("read legacy playlists: %w", err)
	}

	lib := domain.NewLibrary()
	insights := 0
	for _, lv := range videos {
		v, hasInsight, err := videoFromLegacy(lv)
		if err != nil {
			return nil, 0, err
		}
		if hasInsight {
			insights++
		}
		lib.Videos[v.ID] = v
	}

	for _, lp := range playlists {
		pl := &domain.Playlist{
			ID:           lp.ID,
			Title:        lp.Title.String,
			ChannelTitle: lp.ChannelTitle.String,
		}
		for _, vid := range lp.VideoIDs {
			v, ok := lib.Videos[vid]
			if !ok {
				// Membership pointing at a video the old database never
				// stored; dropping it keeps referential integrity.
				continue
			}
			// Position reflects the compacted list, not the legacy index.
			v.SetMembership(pl.ID, len(pl.VideoIDs))
			pl.VideoIDs = append(pl.VideoIDs, vid)
		}
		pl.ItemCount = len(pl.VideoIDs)
		lib.Playlists[pl.ID] = pl
	}

	lib.RebuildIndexes()
	lib.RefreshTotals()
	return lib, insights, nil
}

// videoFromLegacy converts one row, validating enum strings at this trust
// boundary. Unknown annotation statuses downgrade to pending rather than
// poisoning the import.
func videoFromLegacy(lv legacyVideo) (*domain.Video, bool, error) {
	if lv.ID == "" || lv.Title == "" {
		return nil, false, fmt.Errorf("legacy video %q has no id or title", lv.ID)
	}

	v := &domain.Video{
		ID:           lv.ID,
		Title:        lv.Title,
		Description:  lv.Description.String,
		ChannelID:    lv.ChannelID.String,
		ChannelTitle: lv.ChannelTitle.String,
		Duration:     int(lv.Duration.Int64),
		ViewCount:    lv.ViewCount.Int64,
		Tags:         lv.Tags,
	}
	if lv.PublishedAt.Valid {
		v.PublishedAt = lv.PublishedAt.Time.UTC()
	}
	if lv.CollectedAt.Valid {
		v.CollectedAt = lv.CollectedAt.Time.UTC()
	} else {
		v.CollectedAt = time.Now().UTC()
	}

	if status, err := domain.ParseAnnotationStatus(lv.AnnotationStatus.String); err == nil {
		v.Annotation = status
	} else {
		v.Annotation = domain.AnnotationPending
	}

	hasInsight := false
	if lv.InsightJSON.Valid && lv.InsightJSON.String != "" {
		var ins domain.Insight
		if err := json.Unmarshal([]byte(lv.InsightJSON.String), &ins); err != nil {
			return nil, false, fmt.Errorf("legacy video %s: parse insight: %w", lv.ID, err)
		}
		v.Insight = &ins
		hasInsight = true
		if v.Annotation != domain.AnnotationDone {
			v.Annotation = domain.AnnotationDone
		}
	} else if v.Annotation == domain.AnnotationDone {
		// Done without a stored insight cannot round-trip the integrity
		// check; the video simply needs annotating again.
		v.Annotation = domain.AnnotationPending
	}

	v.Normalize()
	return v, hasInsight, nil
}
