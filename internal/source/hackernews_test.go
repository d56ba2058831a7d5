package source_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/source"
)

func hnOptions(t *testing.T, hn *source.HackerNewsOptions) *source.Options {
	t.Helper()
	return &source.Options{
		ID:         "hn-top",
		Kind:       string(domain.SourceKindHackerNews),
		HackerNews: hn,
	}
}

func hnStoryHit(id string, points int, createdAt time.Time) map[string]any {
	return map[string]any{
		"objectID":     id,
		"title":        "Story " + id,
		"url":          "https://example.com/" + id,
		"author":       "pg",
		"points":       points,
		"num_comments": 3,
		"created_at_i": createdAt.Unix(),
		"_tags":        []string{"story"},
	}
}

func TestHackerNewsFetcher_Pagination(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		assert.Equal(t, "story", r.URL.Query().Get("tags"))

		resp := map[string]any{
			"hits":    []any{hnStoryHit("100"+page, 50, now)},
			"page":    0,
			"nbPages": 2,
		}
		if page == "1" {
			resp["page"] = 1
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	hn := source.NewHackerNews(hnOptions(t, &source.HackerNewsOptions{}))
	hn.SetAPIBase(server.URL)

	run, err := hn.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, run.Close()) }()

	first, err := run.Fetcher.FetchPage(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RawCount)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, "1", *first.NextCursor)

	second, err := run.Fetcher.FetchPage(context.Background(), first.NextCursor)
	require.NoError(t, err)
	assert.Nil(t, second.NextCursor, "last page carries no cursor")
}

func TestHackerNewsTransformer_Story(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Second)
	data, err := json.Marshal(hnStoryHit("41000000", 120, now))
	require.NoError(t, err)

	hn := source.NewHackerNews(hnOptions(t, &source.HackerNewsOptions{}))
	run, err := hn.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	item, err := run.Transformer.Transform(domain.RawItem{JSON: data})
	require.NoError(t, err)

	assert.Equal(t, "hn-41000000", item.ExternalID)
	assert.Equal(t, "Story 41000000", item.Title)
	assert.Equal(t, "pg", item.Author)
	assert.Equal(t, float64(120), item.Score)
	assert.Equal(t, now, item.PublishedAt)
	assert.Empty(t, item.ParentExternalID)
	assert.Equal(t, 3, item.Metadata["reply_count"])
}

func TestHackerNewsTransformer_CommentLinksStory(t *testing.T) {
	t.Parallel()

	hit := map[string]any{
		"objectID":     "41000001",
		"author":       "dang",
		"comment_text": "Interesting point.",
		"story_id":     41000000,
		"created_at_i": time.Now().Unix(),
		"_tags":        []string{"comment"},
	}
	data, err := json.Marshal(hit)
	require.NoError(t, err)

	hn := source.NewHackerNews(hnOptions(t, &source.HackerNewsOptions{IncludeComments: true}))
	run, err := hn.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	item, err := run.Transformer.Transform(domain.RawItem{JSON: data})
	require.NoError(t, err)

	assert.Equal(t, "hn-41000001", item.ExternalID)
	assert.Equal(t, "Interesting point.", item.Content)
	assert.Equal(t, "hn-41000000", item.ParentExternalID)
	assert.Equal(t, "hn-41000000", run.DeriveParent(item))
}

func TestHackerNewsFilter_MinPoints(t *testing.T) {
	t.Parallel()

	hn := source.NewHackerNews(hnOptions(t, &source.HackerNewsOptions{MinPoints: 100}))
	run, err := hn.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	low, err := json.Marshal(hnStoryHit("1", 10, time.Now()))
	require.NoError(t, err)
	high, err := json.Marshal(hnStoryHit("2", 500, time.Now()))
	require.NoError(t, err)

	assert.False(t, run.Filter(domain.RawItem{JSON: low}))
	assert.True(t, run.Filter(domain.RawItem{JSON: high}))
}

func TestHackerNewsDescriptor(t *testing.T) {
	t.Parallel()

	hn := source.NewHackerNews(hnOptions(t, &source.HackerNewsOptions{}))
	descriptor := hn.Descriptor()

	assert.Equal(t, domain.SourceKindHackerNews, descriptor.Kind)
	assert.True(t, descriptor.OrderedDescending)
	assert.Equal(t, domain.ContinuationRestart, descriptor.ContinuationPolicy)
	assert.Positive(t, descriptor.MaxPages)
	assert.Positive(t, descriptor.RateLimitInterval)
}

func TestHackerNewsEnricher_AttachesArticleText(t *testing.T) {
	t.Parallel()

	article := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><article><p>First paragraph.</p><p>Second paragraph.</p></article></body></html>`)
	}))
	defer article.Close()

	hn := source.NewHackerNews(hnOptions(t, &source.HackerNewsOptions{}))
	run, err := hn.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	item := &domain.ContentItem{
		ExternalID: "hn-1",
		Title:      "A story",
		Content:    "A story",
		URL:        article.URL,
	}
	extra, err := run.Enricher.Enrich(context.Background(), item)
	require.NoError(t, err)
	assert.Empty(t, extra)
	assert.Contains(t, item.Content, "First paragraph.")
	assert.Contains(t, item.Content, "Second paragraph.")
	assert.Equal(t, true, item.Metadata["article_extracted"])
}

func TestHackerNewsEnricher_SkipsSelfPosts(t *testing.T) {
	t.Parallel()

	hn := source.NewHackerNews(hnOptions(t, &source.HackerNewsOptions{}))
	run, err := hn.NewRun(context.Background(), nil)
	require.NoError(t, err)
	defer run.Close()

	item := &domain.ContentItem{
		ExternalID: "hn-1",
		Content:    "Ask HN: something",
		URL:        "https://news.ycombinator.com/item?id=1",
	}
	extra, err := run.Enricher.Enrich(context.Background(), item)
	require.NoError(t, err)
	assert.Empty(t, extra)
	assert.Equal(t, "Ask HN: something", item.Content)
}
