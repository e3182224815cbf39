package collector

import (
	"context"
	"errors"
	"time"

	"github.com/cesargomez89/tubecrate/internal/domain"
)

// ErrNoAnnotator means the collector was built without an annotation
// backend (no API key configured).
var ErrNoAnnotator = errors.New("annotator not configured")

// annotationOutcome is one video's pending state change, applied to the
// library in a single mutation after the external calls are done.
type annotationOutcome struct {
	insight *domain.Insight
	failure string // parse-failure or call-error text; empty on success
	fatal   bool   // the call itself failed, no placeholder to attach
}

// AnnotatePending runs an annotation pass over up to limit videos whose
// status is pending or retryably failed, oldest collected first. force
// includes videos already at the retry ceiling.
func (c *Collector) AnnotatePending(ctx context.Context, limit int, force bool) (*AnnotateResult, error) {
	if c.Annotator == nil {
		return nil, ErrNoAnnotator
	}

	var pending []*domain.Video
	err := c.Store.View(func(lib *domain.Library) error {
		for _, v := range lib.PendingAnnotation(limit, c.RetryCeiling, force) {
			cp := *v
			pending = append(pending, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return c.annotateBatch(ctx, pending)
}

// annotateBatch annotates the given snapshot copies and applies every
// outcome in one store mutation. Cancellation between videos leaves the
// remainder skipped; the whole batch is never lost to one bad item.
func (c *Collector) annotateBatch(ctx context.Context, pending []*domain.Video) (*AnnotateResult, error) {
	started := time.Now()
	sum := &AnnotateResult{Requested: len(pending)}
	outcomes := make(map[string]annotationOutcome, len(pending))

	for _, v := range pending {
		if ctx.Err() != nil {
			sum.Skipped = len(pending) - len(outcomes)
			break
		}

		ann, err := c.Annotator.Annotate(ctx, v)
		switch {
		case err != nil:
			outcomes[v.ID] = annotationOutcome{failure: err.Error(), fatal: true}
			sum.Failed++
		case ann.Failure != "":
			outcomes[v.ID] = annotationOutcome{insight: ann.Insight, failure: ann.Failure}
			sum.Placeholders++
		default:
			outcomes[v.ID] = annotationOutcome{insight: ann.Insight}
			sum.Annotated++
			if ann.Repaired {
				sum.Repaired++
			}
		}
	}

	if len(outcomes) > 0 {
		err := c.Store.Mutate(func(lib *domain.Library) error {
			for id, out := range outcomes {
				v, ok := lib.Videos[id]
				if !ok {
					continue // deleted while annotating
				}
				c.applyOutcome(v, out)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sum.Elapsed = time.Since(started)
	return sum, nil
}

// applyOutcome moves one video's annotation state machine. A failed attempt
// increments the retry counter exactly once; at the ceiling the video is
// excluded from default reprocessing.
func (c *Collector) applyOutcome(v *domain.Video, out annotationOutcome) {
	if out.failure == "" {
		v.Insight = out.insight
		v.Annotation = domain.AnnotationDone
		v.LastError = ""
		return
	}

	v.RetryCount++
	v.LastError = out.failure
	v.Annotation = domain.AnnotationFailed
	if !out.fatal {
		// Keep the degraded placeholder so downstream consumers see
		// something, at its honest low confidence.
		v.Insight = out.insight
	}
}
