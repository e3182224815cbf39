package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cesargomez89/tubecrate/internal/constants"
)

// Library is the unified database: all videos, all playlists, and the
// derived cross-reference indexes. It lives in memory for the process
// lifetime and is persisted as a single JSON document.
type Library struct {
	SchemaVersion  int                  `json:"schema_version"`
	Videos         map[string]*Video    `json:"videos"`
	Playlists      map[string]*Playlist `json:"playlists"`
	ByCreator      map[string][]string  `json:"by_creator"`
	ByTag          map[string][]string  `json:"by_tag"`
	ByTheme        map[string][]string  `json:"by_theme"`
	TotalVideos    int                  `json:"total_videos"`
	TotalPlaylists int                  `json:"total_playlists"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// NewLibrary returns an empty library at the current schema version.
func NewLibrary() *Library {
	return &Library{
		SchemaVersion: constants.LibrarySchemaVersion,
		Videos:        make(map[string]*Video),
		Playlists:     make(map[string]*Playlist),
		ByCreator:     make(map[string][]string),
		ByTag:         make(map[string][]string),
		ByTheme:       make(map[string][]string),
	}
}

// IndexKey normalizes a raw value into an index key.
func IndexKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RebuildIndexes recomputes the three derived indexes from Videos alone.
// The result is deterministic: ids under each key are sorted and unique.
func (l *Library) RebuildIndexes() {
	byCreator := make(map[string][]string)
	byTag := make(map[string][]string)
	byTheme := make(map[string][]string)

	for id, v := range l.Videos {
		for _, tag := range v.Tags {
			if key := IndexKey(tag); key != "" {
				byTag[key] = append(byTag[key], id)
			}
		}
		if v.Insight == nil {
			continue
		}
		for _, name := range v.Insight.Roles {
			if key := IndexKey(name); key != "" {
				byCreator[key] = append(byCreator[key], id)
			}
		}
		for _, theme := range v.Insight.Themes {
			if key := IndexKey(theme); key != "" {
				byTheme[key] = append(byTheme[key], id)
			}
		}
	}

	for _, idx := range []map[string][]string{byCreator, byTag, byTheme} {
		for key, ids := range idx {
			sort.Strings(ids)
			idx[key] = dedupeSorted(ids)
		}
	}

	l.ByCreator = byCreator
	l.ByTag = byTag
	l.ByTheme = byTheme
}

// RefreshTotals recomputes the cached counters.
func (l *Library) RefreshTotals() {
	l.TotalVideos = len(l.Videos)
	l.TotalPlaylists = len(l.Playlists)
}

// CheckIntegrity verifies that every id referenced by a playlist or an index
// exists in the video map, and that done videos carry an insight. All
// violations are reported at once.
func (l *Library) CheckIntegrity() error {
	var errs []string

	for pid, pl := range l.Playlists {
		for _, id := range pl.VideoIDs {
			if _, ok := l.Videos[id]; !ok {
				errs = append(errs, fmt.Sprintf("playlist %s references missing video %s", pid, id))
			}
		}
	}

	checkIndex := func(name string, idx map[string][]string) {
		for key, ids := range idx {
			for _, id := range ids {
				if _, ok := l.Videos[id]; !ok {
					errs = append(errs, fmt.Sprintf("%s index key %q references missing video %s", name, key, id))
				}
			}
		}
	}
	checkIndex("creator", l.ByCreator)
	checkIndex("tag", l.ByTag)
	checkIndex("theme", l.ByTheme)

	for id, v := range l.Videos {
		if v.Annotation == AnnotationDone && v.Insight == nil {
			errs = append(errs, fmt.Sprintf("video %s marked done without insight", id))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("library integrity:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MergeVideo inserts a collected video or refreshes the metadata of an
// existing one. Annotation state, insight, memberships and retry bookkeeping
// survive re-collection.
func (l *Library) MergeVideo(v *Video) *Video {
	v.Normalize()

	existing, ok := l.Videos[v.ID]
	if !ok {
		if v.CollectedAt.IsZero() {
			v.CollectedAt = time.Now().UTC()
		}
		l.Videos[v.ID] = v
		return v
	}

	existing.Title = v.Title
	existing.Description = v.Description
	existing.ChannelID = v.ChannelID
	existing.ChannelTitle = v.ChannelTitle
	existing.PublishedAt = v.PublishedAt
	existing.Duration = v.Duration
	existing.ViewCount = v.ViewCount
	existing.LikeCount = v.LikeCount
	existing.CommentCount = v.CommentCount
	existing.Tags = v.Tags
	return existing
}

// UpsertPlaylist creates or refreshes a playlist from its remote summary.
// Membership is left to the caller.
func (l *Library) UpsertPlaylist(info *PlaylistInfo) *Playlist {
	pl, ok := l.Playlists[info.ID]
	if !ok {
		pl = &Playlist{ID: info.ID}
		l.Playlists[info.ID] = pl
	}
	pl.Title = info.Title
	pl.ChannelID = info.ChannelID
	pl.ChannelTitle = info.ChannelTitle
	return pl
}

// RemoveVideo deletes a video and cascades the removal through every
// playlist membership and every index.
func (l *Library) RemoveVideo(id string) bool {
	if _, ok := l.Videos[id]; !ok {
		return false
	}
	delete(l.Videos, id)

	for _, pl := range l.Playlists {
		ids := pl.VideoIDs[:0]
		for _, vid := range pl.VideoIDs {
			if vid != id {
				ids = append(ids, vid)
			}
		}
		pl.VideoIDs = ids
		pl.ItemCount = len(ids)
	}

	l.RebuildIndexes()
	l.RefreshTotals()
	return true
}

// PendingAnnotation returns up to limit videos eligible for an annotation
// pass, oldest collected first. Videos at or above the retry ceiling are
// included only when force is set.
func (l *Library) PendingAnnotation(limit, ceiling int, force bool) []*Video {
	var out []*Video
	for _, v := range l.Videos {
		switch v.Annotation {
		case AnnotationPending:
		case AnnotationFailed:
			if v.RetryCount >= ceiling && !force {
				continue
			}
		default:
			continue
		}
		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].CollectedAt.Before(out[j].CollectedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dedupeSorted(ids []string) []string {
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || ids[i-1] != id {
			out = append(out, id)
		}
	}
	return out
}
