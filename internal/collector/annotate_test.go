package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/tubecrate/internal/annotate"
	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
)

func seedPending(t *testing.T, c *Collector, ids ...string) {
	t.Helper()
	err := c.Store.Mutate(func(lib *domain.Library) error {
		for i, id := range ids {
			v := testVideo(id)
			v.CollectedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
			v.Normalize()
			lib.Videos[id] = v
		}
		return nil
	})
	require.NoError(t, err)
}

func goodInsight() *domain.Insight {
	return &domain.Insight{
		Roles:      map[string]string{"drummer": "Tester"},
		Themes:     []string{"rock"},
		Confidence: 0.9,
		AnalyzedAt: time.Now().UTC(),
	}
}

func TestAnnotatePendingSuccess(t *testing.T) {
	c := newTestCollector(t, twoPageFetcher())
	seedPending(t, c, "a", "b")
	c.Annotator = &fakeAnnotator{fn: func(_ context.Context, v *domain.Video) (*annotate.Annotation, error) {
		return &annotate.Annotation{Insight: goodInsight()}, nil
	}}

	sum, err := c.AnnotatePending(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Requested)
	assert.Equal(t, 2, sum.Annotated)
	assert.Equal(t, 0, sum.Failed)

	err = c.Store.View(func(lib *domain.Library) error {
		for _, id := range []string{"a", "b"} {
			v := lib.Videos[id]
			assert.Equal(t, domain.AnnotationDone, v.Annotation)
			require.NotNil(t, v.Insight)
			assert.Equal(t, 0, v.RetryCount)
			assert.Empty(t, v.LastError)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAnnotatePendingLimit(t *testing.T) {
	c := newTestCollector(t, twoPageFetcher())
	seedPending(t, c, "a", "b", "c")
	var calls int
	c.Annotator = &fakeAnnotator{fn: func(_ context.Context, v *domain.Video) (*annotate.Annotation, error) {
		calls++
		return &annotate.Annotation{Insight: goodInsight()}, nil
	}}

	sum, err := c.AnnotatePending(context.Background(), 2, false)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Requested)
	assert.Equal(t, 2, calls)
}

func TestPlaceholderIncrementsRetryCounterOnce(t *testing.T) {
	c := newTestCollector(t, twoPageFetcher())
	seedPending(t, c, "a")
	c.Annotator = &fakeAnnotator{fn: func(_ context.Context, v *domain.Video) (*annotate.Annotation, error) {
		return &annotate.Annotation{
			Insight: &domain.Insight{Confidence: constants.PlaceholderConfidence, AnalyzedAt: time.Now().UTC()},
			Failure: "annotator output unparsable: unexpected end of JSON input",
		}, nil
	}}

	sum, err := c.AnnotatePending(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Placeholders)

	err = c.Store.View(func(lib *domain.Library) error {
		v := lib.Videos["a"]
		assert.Equal(t, domain.AnnotationFailed, v.Annotation)
		assert.Equal(t, 1, v.RetryCount, "retry counter moves by exactly one per failed attempt")
		assert.Contains(t, v.LastError, "unparsable")
		require.NotNil(t, v.Insight)
		assert.Less(t, v.Insight.Confidence, 0.2)
		return nil
	})
	require.NoError(t, err)
}

func TestRetryCeilingExcludesUnlessForced(t *testing.T) {
	c := newTestCollector(t, twoPageFetcher())
	seedPending(t, c, "a")
	err := c.Store.Mutate(func(lib *domain.Library) error {
		lib.Videos["a"].Annotation = domain.AnnotationFailed
		lib.Videos["a"].RetryCount = c.RetryCeiling
		return nil
	})
	require.NoError(t, err)

	var calls int
	c.Annotator = &fakeAnnotator{fn: func(_ context.Context, v *domain.Video) (*annotate.Annotation, error) {
		calls++
		return &annotate.Annotation{Insight: goodInsight()}, nil
	}}

	sum, err := c.AnnotatePending(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Requested)
	assert.Equal(t, 0, calls)

	sum, err = c.AnnotatePending(context.Background(), 0, true)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Requested)
	assert.Equal(t, 1, sum.Annotated)
}

func TestTransportFailureLeavesNoInsight(t *testing.T) {
	c := newTestCollector(t, twoPageFetcher())
	seedPending(t, c, "a")
	c.Annotator = &fakeAnnotator{fn: func(_ context.Context, v *domain.Video) (*annotate.Annotation, error) {
		return nil, errors.New("annotate a: 429 rate limited")
	}}

	sum, err := c.AnnotatePending(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	err = c.Store.View(func(lib *domain.Library) error {
		v := lib.Videos["a"]
		assert.Equal(t, domain.AnnotationFailed, v.Annotation)
		assert.Equal(t, 1, v.RetryCount)
		assert.Nil(t, v.Insight)
		return nil
	})
	require.NoError(t, err)
}

func TestAnnotatePendingWithoutAnnotator(t *testing.T) {
	c := newTestCollector(t, twoPageFetcher())
	_, err := c.AnnotatePending(context.Background(), 0, false)
	assert.ErrorIs(t, err, ErrNoAnnotator)
}

func TestRepairedOutcomeCounted(t *testing.T) {
	c := newTestCollector(t, twoPageFetcher())
	seedPending(t, c, "a")
	c.Annotator = &fakeAnnotator{fn: func(_ context.Context, v *domain.Video) (*annotate.Annotation, error) {
		ins := goodInsight()
		ins.Confidence = constants.RepairedConfidenceCap
		return &annotate.Annotation{Insight: ins, Repaired: true}, nil
	}}

	sum, err := c.AnnotatePending(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Annotated)
	assert.Equal(t, 1, sum.Repaired)
}
