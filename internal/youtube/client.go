// Package youtube is a typed client for the subset of the Data API v3 the
// collector needs: playlist lookup, membership paging and batched video
// details. Every call consumes quota gate units before dispatch and retries
// transient failures through an injectable policy.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/quota"
	"github.com/cesargomez89/tubecrate/internal/retry"
)

var apiLogger = slog.Default().WithGroup("youtube")

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Gate    *quota.Gate
	Retry   retry.Policy
}

func NewClient(httpClient *http.Client, gate *quota.Gate) *Client {
	policy := retry.Default()
	policy.Retryable = retryable
	return &Client{
		BaseURL: constants.YouTubeAPIBase,
		HTTP:    httpClient,
		Gate:    gate,
		Retry:   policy,
	}
}

// GetPlaylist is the cheap verification call made before bulk paging.
func (c *Client) GetPlaylist(ctx context.Context, id string) (*domain.PlaylistInfo, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", id)

	var resp playlistListResponse
	if err := c.call(ctx, "playlists", params, constants.CostPlaylistsList, &resp); err != nil {
		return nil, err
	}

	// The API answers an unknown playlist id with 200 and an empty item list.
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("playlist %s: %w", id, ErrNotFound)
	}

	item := resp.Items[0]
	return &domain.PlaylistInfo{
		ID:           item.ID,
		Title:        item.Snippet.Title,
		ChannelID:    item.Snippet.ChannelID,
		ChannelTitle: item.Snippet.ChannelTitle,
		ItemCount:    item.ContentDetails.ItemCount,
	}, nil
}

// PlaylistItemsPage fetches one page of membership ids in playlist order.
// An empty pageToken means the first page; an empty NextToken in the result
// means the last.
func (c *Client) PlaylistItemsPage(ctx context.Context, playlistID, pageToken string) (*domain.VideoPage, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("playlistId", playlistID)
	params.Set("maxResults", strconv.Itoa(constants.MaxResultsPerPage))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var resp playlistItemsResponse
	if err := c.call(ctx, "playlistItems", params, constants.CostPlaylistItemsList, &resp); err != nil {
		return nil, err
	}

	page := &domain.VideoPage{NextToken: resp.NextPageToken}
	for _, item := range resp.Items {
		rid := item.Snippet.ResourceID
		if rid.Kind != "youtube#video" || rid.VideoID == "" {
			continue
		}
		page.VideoIDs = append(page.VideoIDs, rid.VideoID)
	}
	return page, nil
}

// VideoDetails fetches full metadata for the given ids, batched to the
// per-call id ceiling. Order follows the input; ids the API no longer knows
// (deleted or private videos) are absent from the result.
func (c *Client) VideoDetails(ctx context.Context, ids []string) ([]*domain.Video, error) {
	videos := make([]*domain.Video, 0, len(ids))

	for start := 0; start < len(ids); start += constants.MaxIDsPerCall {
		end := min(start+constants.MaxIDsPerCall, len(ids))
		batch := ids[start:end]

		params := url.Values{}
		params.Set("part", "snippet,contentDetails,statistics")
		params.Set("id", strings.Join(batch, ","))

		var resp videoListResponse
		if err := c.call(ctx, "videos", params, constants.CostVideosList, &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			v, err := videoFromAPI(item)
			if err != nil {
				return nil, err
			}
			videos = append(videos, v)
		}
	}
	return videos, nil
}

func (c *Client) call(ctx context.Context, resource string, params url.Values, cost int, target any) error {
	if err := c.Gate.Acquire(ctx, cost); err != nil {
		return err
	}

	u := fmt.Sprintf("%s/%s?%s", c.BaseURL, resource, params.Encode())
	_, err := retry.Do(ctx, c.Retry, func() (struct{}, error) {
		return struct{}{}, c.doOnce(ctx, u, target)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, u string, target any) error {
	apiLogger.Debug("API request", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := newAPIError(resp.StatusCode, body)
		if errors.Is(apiErr, ErrQuotaExceeded) {
			// Stop every worker from issuing calls for the rest of the
			// accounting period.
			c.Gate.MarkExhausted()
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s response: %w", u, err)
	}
	return nil
}
