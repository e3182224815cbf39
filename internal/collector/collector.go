// Package collector orchestrates collection runs: a bounded worker pool
// pages configured sources through the metadata fetcher, writes results
// through the store and optionally hands new videos to the annotator. Each
// source's pipeline is isolated; one source failing never aborts a sibling.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cesargomez89/tubecrate/internal/annotate"
	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/logger"
	"github.com/cesargomez89/tubecrate/internal/quota"
	"github.com/cesargomez89/tubecrate/internal/store"
	"github.com/cesargomez89/tubecrate/internal/youtube"
)

// Fetcher is the metadata source. *youtube.Client satisfies it.
type Fetcher interface {
	GetPlaylist(ctx context.Context, id string) (*domain.PlaylistInfo, error)
	PlaylistItemsPage(ctx context.Context, playlistID, pageToken string) (*domain.VideoPage, error)
	VideoDetails(ctx context.Context, ids []string) ([]*domain.Video, error)
}

// Annotator produces insights for collected videos. *annotate.Annotator
// satisfies it.
type Annotator interface {
	Annotate(ctx context.Context, v *domain.Video) (*annotate.Annotation, error)
}

type Collector struct {
	Fetcher   Fetcher
	Annotator Annotator // nil disables annotation
	Store     *store.Store
	Gate      *quota.Gate
	Logger    *logger.Logger

	Concurrency  int
	RetryCeiling int
}

func New(f Fetcher, s *store.Store, gate *quota.Gate, log *logger.Logger) *Collector {
	return &Collector{
		Fetcher:      f,
		Store:        s,
		Gate:         gate,
		Logger:       log.WithComponent("collector"),
		Concurrency:  constants.DefaultConcurrency,
		RetryCeiling: constants.DefaultRetryCeiling,
	}
}

// Options tunes one collection run.
type Options struct {
	// Annotate hands newly collected pending videos to the annotator at the
	// end of each source's pipeline.
	Annotate bool
}

// CollectMany processes the given sources with bounded concurrency. The
// returned BatchResult always has one result slot per source; the error
// return is reserved for process-fatal conditions (the store being
// unusable).
func (c *Collector) CollectMany(ctx context.Context, sources []*domain.Source, opts Options) (*BatchResult, error) {
	runID := uuid.NewString()
	log := c.Logger.WithRun(runID)
	started := time.Now().UTC()

	// Surface a broken store before burning quota on any source.
	if err := c.Store.View(func(*domain.Library) error { return nil }); err != nil {
		return nil, fmt.Errorf("collection run aborted: %w", err)
	}

	concurrency := c.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	log.Info("collection run started", "sources", len(sources), "concurrency", concurrency)

	results := make([]*SourceResult, len(sources))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(i int, src *domain.Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := &SourceResult{
				SourceID:   src.ID,
				SourceName: src.Name,
				Stage:      domain.StagePending,
			}
			results[i] = res

			// Not-yet-started sources are skipped, never attempted, once the
			// run is cancelled or the quota period is spent.
			if err := ctx.Err(); err != nil {
				res.Stage = domain.StageSkipped
				res.Error = "run cancelled"
				return
			}
			if c.Gate.Exhausted() {
				res.Stage = domain.StageSkipped
				res.Error = "quota budget exhausted"
				return
			}

			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					res.Error = fmt.Sprintf("panic: %v", r)
					res.Stage = domain.StagePartiallyFailed
					log.Error("source pipeline panicked", "source_id", src.ID, "panic", r)
				}
				res.Elapsed = time.Since(start)
			}()

			c.collectOne(ctx, src, res, opts, log)
		}(i, src)
	}
	wg.Wait()

	batch := &BatchResult{
		RunID:     runID,
		StartedAt: started,
		Elapsed:   time.Since(started),
		Results:   results,
	}
	_ = c.Store.View(func(lib *domain.Library) error {
		batch.TotalVideos = lib.TotalVideos
		return nil
	})

	log.Info("collection run finished",
		"succeeded", len(batch.Succeeded()),
		"partially_failed", len(batch.PartiallyFailed()),
		"failed", len(batch.Failed()),
		"skipped", len(batch.Skipped()),
		"total_videos", batch.TotalVideos,
		"elapsed", batch.Elapsed)
	return batch, nil
}

func (c *Collector) collectOne(ctx context.Context, src *domain.Source, res *SourceResult, opts Options, runLog *logger.Logger) {
	log := runLog.WithSource(src.ID, src.Name)

	res.Stage = domain.StageVerifying
	info, err := c.Fetcher.GetPlaylist(ctx, src.ID)
	if err != nil {
		c.fail(res, fmt.Errorf("verify: %w", err), log)
		return
	}

	var collected []*domain.Video
	pageToken := ""
	capped := false

	for {
		res.Stage = domain.StagePaging
		page, err := c.Fetcher.PlaylistItemsPage(ctx, src.ID, pageToken)
		if err != nil {
			c.storePartial(src, info, collected, res, log)
			c.fail(res, fmt.Errorf("page %d: %w", res.Pages+1, err), log)
			return
		}
		res.Pages++

		ids := page.VideoIDs
		if src.MaxItems > 0 && len(collected)+len(ids) >= src.MaxItems {
			ids = ids[:src.MaxItems-len(collected)]
			capped = true
		}

		if len(ids) > 0 {
			res.Stage = domain.StageFetching
			videos, err := c.Fetcher.VideoDetails(ctx, ids)
			if err != nil {
				c.storePartial(src, info, collected, res, log)
				c.fail(res, fmt.Errorf("details: %w", err), log)
				return
			}
			collected = append(collected, videos...)
		}

		if capped || page.NextToken == "" {
			break
		}
		pageToken = page.NextToken
	}

	if err := c.storeCollected(src, info, collected, res, false); err != nil {
		c.fail(res, fmt.Errorf("store: %w", err), log)
		return
	}
	res.Stage = domain.StageCompleted

	if opts.Annotate && c.Annotator != nil {
		c.annotateCollected(ctx, collected, res, log)
	}

	log.Info("source collected", "pages", res.Pages,
		"videos", res.Videos, "new_videos", res.NewVideos, "annotated", res.Annotated)
}

// fail captures a source-scoped failure into the result slot. A platform
// quota denial flips the shared gate so no sibling issues further calls.
func (c *Collector) fail(res *SourceResult, err error, log *logger.Logger) {
	if errors.Is(err, youtube.ErrQuotaExceeded) || errors.Is(err, quota.ErrExhausted) {
		c.Gate.MarkExhausted()
	}
	res.Error = err.Error()
	if res.Videos > 0 {
		res.Stage = domain.StagePartiallyFailed
	} else {
		res.Stage = domain.StageRejected
	}
	log.Warn("source failed", "stage", res.Stage, "error", err)
}

// storePartial persists whatever was fetched before a mid-pipeline failure.
// Fetched videos are kept, not discarded.
func (c *Collector) storePartial(src *domain.Source, info *domain.PlaylistInfo, collected []*domain.Video, res *SourceResult, log *logger.Logger) {
	if len(collected) == 0 {
		return
	}
	if err := c.storeCollected(src, info, collected, res, true); err != nil {
		log.Error("storing partial results failed", "error", err)
	}
}

// storeCollected merges one source's haul into the library under the store's
// single mutation boundary. On a full sync the playlist membership is
// replaced by the fetched order; on a partial sync previously known members
// beyond the fetched prefix are kept.
func (c *Collector) storeCollected(src *domain.Source, info *domain.PlaylistInfo, collected []*domain.Video, res *SourceResult, partial bool) error {
	return c.Store.Mutate(func(lib *domain.Library) error {
		pl := lib.UpsertPlaylist(info)

		ids := make([]string, 0, len(collected))
		seen := make(map[string]bool, len(collected))
		newCount := 0
		for _, v := range collected {
			if _, exists := lib.Videos[v.ID]; !exists {
				newCount++
			}
			merged := lib.MergeVideo(v)
			if !seen[merged.ID] {
				seen[merged.ID] = true
				ids = append(ids, merged.ID)
			}
		}

		if partial {
			for _, old := range pl.VideoIDs {
				if !seen[old] {
					seen[old] = true
					ids = append(ids, old)
				}
			}
		} else {
			// A full sync is authoritative: videos the playlist no longer
			// contains must stop claiming membership in it.
			for _, old := range pl.VideoIDs {
				if seen[old] {
					continue
				}
				if v, ok := lib.Videos[old]; ok {
					v.ClearMembership(pl.ID)
				}
			}
		}

		pl.VideoIDs = ids
		pl.ItemCount = len(ids)
		for pos, id := range ids {
			lib.Videos[id].SetMembership(pl.ID, pos)
		}

		now := time.Now().UTC()
		if partial {
			pl.LastPartialSync = &now
		} else {
			pl.LastFullSync = &now
		}

		res.Videos = len(collected)
		res.NewVideos = newCount
		return nil
	})
}

// annotateCollected runs the annotator over this source's pending videos.
// Annotation failures degrade individual videos; they never change the
// source's collection outcome.
func (c *Collector) annotateCollected(ctx context.Context, collected []*domain.Video, res *SourceResult, log *logger.Logger) {
	var pending []*domain.Video
	err := c.Store.View(func(lib *domain.Library) error {
		for _, v := range collected {
			cur, ok := lib.Videos[v.ID]
			if !ok || cur.Annotation != domain.AnnotationPending {
				continue
			}
			cp := *cur
			pending = append(pending, &cp)
		}
		return nil
	})
	if err != nil {
		log.Error("listing pending videos failed", "error", err)
		return
	}

	sum, err := c.annotateBatch(ctx, pending)
	if err != nil {
		log.Error("annotation pass failed", "error", err)
		return
	}
	res.Annotated = sum.Annotated
}
