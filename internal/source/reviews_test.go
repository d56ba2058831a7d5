package source_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/source"
)

const reviewPageTemplate = `<html><body>
<div class="review" data-review-id="%s" data-rating="%s">
  <h3 class="review-title">%s</h3>
  <p class="review-body">%s</p>
  <span class="review-author">%s</span>
  <time datetime="%s">%s</time>
</div>
%s
</body></html>`

func reviewPage(id, rating, title, body, author, date, extra string) string {
	return fmt.Sprintf(reviewPageTemplate, id, rating, title, body, author, date, date, extra)
}

func reviewsOptions(productURL string, minRating float64) *source.Options {
	return &source.Options{
		ID:      "rv-widget",
		Kind:    string(domain.SourceKindReviews),
		Reviews: &source.ReviewsOptions{ProductURL: productURL, MinRating: minRating},
	}
}

func TestReviewFetcher_PageNumberCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Query().Get("page") {
		case "2":
			fmt.Fprint(w, reviewPage("r2", "3.0", "Okay", "It works.", "Bob", "2026-08-12", ""))
		default:
			fmt.Fprint(w, reviewPage("r1", "4.5", "Great", "Loved it.", "Alice", "2026-08-20",
				`<a rel="next" href="?page=2">Next</a>`))
		}
	}))
	defer server.Close()

	src := source.NewReviews(reviewsOptions(server.URL+"/product/widget", 0))
	run, err := src.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	first, err := run.Fetcher.FetchPage(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.RawCount)
	assert.Equal(t, "r1", first.Items[0].Fields["id"])
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, "2", *first.NextCursor)

	second, err := run.Fetcher.FetchPage(context.Background(), first.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "r2", second.Items[0].Fields["id"])
	assert.Nil(t, second.NextCursor, "no next link ends pagination")
}

func TestReviewFetcher_StatusClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	src := source.NewReviews(reviewsOptions(server.URL+"/product/widget", 0))
	run, err := src.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	_, err = run.Fetcher.FetchPage(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestReviewFetcher_ClosedCollectorRejectsFetch(t *testing.T) {
	src := source.NewReviews(reviewsOptions("https://shop.example.com/p/1", 0))
	run, err := src.NewRun(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, run.Close())
	_, err = run.Fetcher.FetchPage(context.Background(), nil)
	require.Error(t, err)
}

func TestReviewFilter_MinRating(t *testing.T) {
	t.Parallel()

	src := source.NewReviews(reviewsOptions("https://shop.example.com/p/1", 4.0))
	run, err := src.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	high := domain.RawItem{Fields: map[string]string{"id": "a", "rating": "4.5"}}
	low := domain.RawItem{Fields: map[string]string{"id": "b", "rating": "2.0"}}
	anonymous := domain.RawItem{Fields: map[string]string{"rating": "5.0"}}

	assert.True(t, run.Filter(high))
	assert.False(t, run.Filter(low))
	assert.False(t, run.Filter(anonymous), "cards without an id are dropped")
}

func TestReviewTransformer(t *testing.T) {
	t.Parallel()

	src := source.NewReviews(reviewsOptions("https://shop.example.com/p/1", 0))
	run, err := src.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	item, err := run.Transformer.Transform(domain.RawItem{Fields: map[string]string{
		"id":     "r9",
		"rating": "4.5",
		"title":  "Solid",
		"body":   "Does the job.",
		"author": "Carol",
		"date":   "2026-08-01",
		"url":    "https://shop.example.com/p/1?page=1#r9",
	}})
	require.NoError(t, err)

	assert.Equal(t, "rv-r9", item.ExternalID)
	assert.Equal(t, 4.5, item.Score)
	assert.Equal(t, "2026-08-01", item.PublishedAt.Format("2006-01-02"))
}

func TestReviewTransformer_BadDateIsParseError(t *testing.T) {
	t.Parallel()

	src := source.NewReviews(reviewsOptions("https://shop.example.com/p/1", 0))
	run, err := src.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	_, err = run.Transformer.Transform(domain.RawItem{Fields: map[string]string{
		"id": "r9", "rating": "4.0", "date": "last tuesday",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}
