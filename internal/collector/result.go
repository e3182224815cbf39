package collector

import (
	"time"

	"github.com/cesargomez89/tubecrate/internal/domain"
)

// SourceResult is the outcome slot for one source in a collection run.
// Failures land here, never in the batch caller.
type SourceResult struct {
	SourceID   string             `json:"source_id"`
	SourceName string             `json:"source_name"`
	Stage      domain.SourceStage `json:"stage"`
	Pages      int                `json:"pages,omitempty"`
	Videos     int                `json:"videos"`
	NewVideos  int                `json:"new_videos"`
	Annotated  int                `json:"annotated,omitempty"`
	Error      string             `json:"error,omitempty"`
	Elapsed    time.Duration      `json:"elapsed"`
}

// BatchResult summarizes one collection run across all requested sources.
type BatchResult struct {
	RunID       string          `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	Elapsed     time.Duration   `json:"elapsed"`
	TotalVideos int             `json:"total_videos"`
	Results     []*SourceResult `json:"results"`
}

func (b *BatchResult) byStage(stages ...domain.SourceStage) []*SourceResult {
	var out []*SourceResult
	for _, r := range b.Results {
		for _, s := range stages {
			if r.Stage == s {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Succeeded returns sources that completed fully.
func (b *BatchResult) Succeeded() []*SourceResult {
	return b.byStage(domain.StageCompleted)
}

// PartiallyFailed returns sources that kept some videos but lost at least
// one page or detail batch.
func (b *BatchResult) PartiallyFailed() []*SourceResult {
	return b.byStage(domain.StagePartiallyFailed)
}

// Failed returns sources that produced nothing.
func (b *BatchResult) Failed() []*SourceResult {
	return b.byStage(domain.StageRejected)
}

// Skipped returns sources never started (cancelled run or exhausted quota).
func (b *BatchResult) Skipped() []*SourceResult {
	return b.byStage(domain.StageSkipped)
}

// AnnotateResult summarizes one annotation pass.
type AnnotateResult struct {
	Requested    int           `json:"requested"`
	Annotated    int           `json:"annotated"`
	Repaired     int           `json:"repaired"`
	Placeholders int           `json:"placeholders"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Elapsed      time.Duration `json:"elapsed"`
}
