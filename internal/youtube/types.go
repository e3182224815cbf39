package youtube

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cesargomez89/tubecrate/internal/domain"
)

// FieldError reports a required field missing from an API payload.
type FieldError struct {
	Resource string
	ID       string
	Field    string
}

func (e *FieldError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s payload missing %s", e.Resource, e.Field)
	}
	return fmt.Sprintf("%s %s: payload missing %s", e.Resource, e.ID, e.Field)
}

type playlistListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
		ContentDetails struct {
			ItemCount int `json:"itemCount"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			Position   int `json:"position"`
			ResourceID struct {
				Kind    string `json:"kind"`
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []videoResource `json:"items"`
}

// videoResource is the wire shape of one videos.list item. Statistics counts
// arrive as decimal strings.
type videoResource struct {
	ID      string `json:"id"`
	Snippet struct {
		PublishedAt  string   `json:"publishedAt"`
		ChannelID    string   `json:"channelId"`
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		ChannelTitle string   `json:"channelTitle"`
		Tags         []string `json:"tags"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics"`
}

// videoFromAPI validates the required fields up front and converts the wire
// shape into a domain record. Optimistic field access deeper in the pipeline
// is what this guards against.
func videoFromAPI(r videoResource) (*domain.Video, error) {
	if r.ID == "" {
		return nil, &FieldError{Resource: "video", Field: "id"}
	}
	if r.Snippet.Title == "" {
		return nil, &FieldError{Resource: "video", ID: r.ID, Field: "snippet.title"}
	}
	if r.Snippet.PublishedAt == "" {
		return nil, &FieldError{Resource: "video", ID: r.ID, Field: "snippet.publishedAt"}
	}
	published, err := time.Parse(time.RFC3339, r.Snippet.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("video %s: parse publishedAt: %w", r.ID, err)
	}

	v := &domain.Video{
		ID:           r.ID,
		Title:        r.Snippet.Title,
		Description:  r.Snippet.Description,
		ChannelID:    r.Snippet.ChannelID,
		ChannelTitle: r.Snippet.ChannelTitle,
		PublishedAt:  published,
		Duration:     parseISODuration(r.ContentDetails.Duration),
		ViewCount:    parseCount(r.Statistics.ViewCount),
		LikeCount:    parseCount(r.Statistics.LikeCount),
		CommentCount: parseCount(r.Statistics.CommentCount),
		Tags:         r.Snippet.Tags,
	}
	v.Normalize()
	return v, nil
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseISODuration converts the API's ISO-8601 duration (PT1H2M3S, P1DT2H)
// into seconds. Live streams report P0D; anything malformed counts as zero.
func parseISODuration(s string) int {
	if len(s) < 3 || s[0] != 'P' {
		return 0
	}

	total := 0
	num := 0
	inTime := false
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
		case c == 'T':
			inTime = true
			num = 0
		case c == 'D':
			total += num * 86400
			num = 0
		case c == 'H' && inTime:
			total += num * 3600
			num = 0
		case c == 'M' && inTime:
			total += num * 60
			num = 0
		case c == 'S' && inTime:
			total += num
			num = 0
		default:
			return 0
		}
	}
	return total
}
