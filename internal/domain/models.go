package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cesargomez89/tubecrate/internal/constants"
)

// AnnotationStatus represents the insight-extraction state of a video
type AnnotationStatus string

const (
	AnnotationPending    AnnotationStatus = "pending"
	AnnotationInProgress AnnotationStatus = "in_progress"
	AnnotationDone       AnnotationStatus = "done"
	AnnotationFailed     AnnotationStatus = "failed"
	AnnotationSkipped    AnnotationStatus = "skipped"
)

// ParseAnnotationStatus validates a raw status string at a trust boundary
// (library load, legacy migration). Unknown values are rejected rather than
// carried deeper into the pipeline.
func ParseAnnotationStatus(s string) (AnnotationStatus, error) {
	switch AnnotationStatus(s) {
	case AnnotationPending, AnnotationInProgress, AnnotationDone, AnnotationFailed, AnnotationSkipped:
		return AnnotationStatus(s), nil
	}
	return "", fmt.Errorf("unknown annotation status %q", s)
}

// SourceStage represents where a source is in a collection run
type SourceStage string

const (
	StagePending         SourceStage = "pending"
	StageVerifying       SourceStage = "verifying"
	StageRejected        SourceStage = "rejected"
	StagePaging          SourceStage = "paging"
	StageFetching        SourceStage = "fetching"
	StageCompleted       SourceStage = "completed"
	StagePartiallyFailed SourceStage = "partially_failed"
	StageSkipped         SourceStage = "skipped"
)

// Terminal reports whether the stage is an end state for a run.
func (s SourceStage) Terminal() bool {
	switch s {
	case StageRejected, StageCompleted, StagePartiallyFailed, StageSkipped:
		return true
	}
	return false
}

// Cadence is how often a source should be re-collected
type Cadence string

const (
	CadenceManual Cadence = "manual"
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case CadenceManual, CadenceDaily, CadenceWeekly:
		return Cadence(s), nil
	}
	return "", fmt.Errorf("unknown cadence %q", s)
}

// Membership records a video's position within one playlist
type Membership struct {
	PlaylistID string `json:"playlist_id"`
	Position   int    `json:"position"`
}

// Insight is the structured annotation extracted for one video
type Insight struct {
	Roles      map[string]string `json:"roles,omitempty"`
	Lyrics     string            `json:"lyrics,omitempty"`
	Gear       []string          `json:"gear,omitempty"`
	Themes     []string          `json:"themes,omitempty"`
	Confidence float64           `json:"confidence"`
	AnalyzedAt time.Time         `json:"analyzed_at"`
	Model      string            `json:"model,omitempty"`
}

// Video represents one collected video with full metadata
type Video struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	ChannelID    string           `json:"channel_id,omitempty"`
	ChannelTitle string           `json:"channel_title,omitempty"`
	PublishedAt  time.Time        `json:"published_at"`
	Duration     int              `json:"duration,omitempty"`
	ViewCount    int64            `json:"view_count,omitempty"`
	LikeCount    int64            `json:"like_count,omitempty"`
	CommentCount int64            `json:"comment_count,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	CollectedAt  time.Time        `json:"collected_at"`
	Memberships  []Membership     `json:"memberships,omitempty"`
	Annotation   AnnotationStatus `json:"annotation_status"`
	Insight      *Insight         `json:"insight,omitempty"`
	RetryCount   int              `json:"retry_count,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
}

// Normalize ensures the video data is consistent.
func (v *Video) Normalize() {
	if v.Annotation == "" {
		v.Annotation = AnnotationPending
	}
	seen := make(map[string]bool, len(v.Tags))
	tags := v.Tags[:0]
	for _, tag := range v.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		tags = append(tags, tag)
	}
	v.Tags = tags
}

// SetMembership records or updates the video's position within a playlist.
func (v *Video) SetMembership(playlistID string, position int) {
	for i := range v.Memberships {
		if v.Memberships[i].PlaylistID == playlistID {
			v.Memberships[i].Position = position
			return
		}
	}
	v.Memberships = append(v.Memberships, Membership{PlaylistID: playlistID, Position: position})
}

// ClearMembership drops the video's membership in a playlist, if any.
func (v *Video) ClearMembership(playlistID string) {
	kept := v.Memberships[:0]
	for _, m := range v.Memberships {
		if m.PlaylistID != playlistID {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		v.Memberships = nil
		return
	}
	v.Memberships = kept
}

// Playlist represents one tracked playlist and its ordered membership
type Playlist struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	ChannelID       string     `json:"channel_id,omitempty"`
	ChannelTitle    string     `json:"channel_title,omitempty"`
	VideoIDs        []string   `json:"video_ids"`
	ItemCount       int        `json:"item_count"`
	LastFullSync    *time.Time `json:"last_full_sync,omitempty"`
	LastPartialSync *time.Time `json:"last_partial_sync,omitempty"`
}

// PlaylistInfo is the verification-call summary of a remote playlist
type PlaylistInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelTitle string `json:"channel_title,omitempty"`
	ItemCount    int    `json:"item_count"`
}

// VideoPage is one page of playlist membership ids
type VideoPage struct {
	VideoIDs  []string `json:"video_ids"`
	NextToken string   `json:"next_token,omitempty"`
}

// Source is a configured playlist tracked for collection
type Source struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Priority  int       `json:"priority"`
	Cadence   Cadence   `json:"cadence"`
	Category  string    `json:"category,omitempty"`
	MaxItems  int       `json:"max_items,omitempty"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var playlistIDPattern = regexp.MustCompile(`^(PL|UU|LL|FL|OL|RD)[A-Za-z0-9_-]{10,}$`)

// Validate checks all source fields and reports every problem at once.
func (s *Source) Validate() error {
	var errs []string

	if s.ID == "" {
		errs = append(errs, "id is required")
	} else if !playlistIDPattern.MatchString(s.ID) {
		errs = append(errs, fmt.Sprintf("id %q is not a playlist id", s.ID))
	}

	if s.Name == "" {
		errs = append(errs, "name is required")
	}

	if s.Priority < constants.MinPriority || s.Priority > constants.MaxPriority {
		errs = append(errs, fmt.Sprintf("priority %d out of range %d-%d", s.Priority, constants.MinPriority, constants.MaxPriority))
	}

	if _, err := ParseCadence(string(s.Cadence)); err != nil {
		errs = append(errs, err.Error())
	}

	if s.MaxItems < 0 {
		errs = append(errs, fmt.Sprintf("max_items %d must not be negative", s.MaxItems))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid source:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
