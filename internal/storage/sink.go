package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/logger"
)

// ContentDocument is the indexed shape of one collected item. Parent links
// are stored as external IDs; the parent document may have been indexed by
// an earlier run.
type ContentDocument struct {
	ExternalID       string         `json:"external_id"`
	SourceID         string         `json:"source_id"`
	Kind             string         `json:"kind"`
	Title            string         `json:"title,omitempty"`
	Content          string         `json:"content"`
	Author           string         `json:"author,omitempty"`
	URL              string         `json:"url,omitempty"`
	PublishedAt      time.Time      `json:"published_at"`
	Score            float64        `json:"score"`
	ParentExternalID string         `json:"parent_external_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CollectedAt      time.Time      `json:"collected_at"`
}

// ContentSink indexes collected content into a per-kind Elasticsearch index.
type ContentSink struct {
	client      *es.Client
	indexPrefix string
	logger      logger.Interface
	now         func() time.Time
}

// NewContentSink creates an Elasticsearch delivery sink.
func NewContentSink(client *es.Client, indexPrefix string, log logger.Interface) *ContentSink {
	if indexPrefix == "" {
		indexPrefix = "collected"
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &ContentSink{
		client:      client,
		indexPrefix: indexPrefix,
		logger:      log,
		now:         time.Now,
	}
}

// Deliver indexes one run's items. Documents are keyed by external ID, so
// re-collecting an item updates it in place.
func (s *ContentSink) Deliver(ctx context.Context, result *domain.CollectionResult) error {
	sourceID := result.Checkpoint.SourceID
	index := s.indexName(result.Checkpoint.Kind)

	for _, item := range result.Contents {
		doc := s.toDocument(sourceID, string(result.Checkpoint.Kind), item, result.ParentMap)
		if err := s.indexDocument(ctx, index, doc); err != nil {
			return fmt.Errorf("index %s into %s: %w", doc.ExternalID, index, err)
		}
	}

	s.logger.Debug("indexed collected items",
		"source_id", sourceID,
		"index", index,
		"count", len(result.Contents),
	)
	return nil
}

// indexDocument writes one document.
func (s *ContentSink) indexDocument(ctx context.Context, index string, doc ContentDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	res, err := s.client.Index(
		index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(doc.ExternalID),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing document: %s", res.String())
	}
	return nil
}

// toDocument converts one item, resolving its parent link.
func (s *ContentSink) toDocument(
	sourceID, kind string,
	item *domain.ContentItem,
	parents domain.ParentMap,
) ContentDocument {
	parentID := item.ParentExternalID
	if mapped, ok := parents[item.ExternalID]; ok {
		parentID = mapped
	}

	return ContentDocument{
		ExternalID:       item.ExternalID,
		SourceID:         sourceID,
		Kind:             kind,
		Title:            item.Title,
		Content:          item.Content,
		Author:           item.Author,
		URL:              item.URL,
		PublishedAt:      item.PublishedAt,
		Score:            item.Score,
		ParentExternalID: parentID,
		Metadata:         item.Metadata,
		CollectedAt:      s.now().UTC(),
	}
}

// indexName builds the per-kind index name.
func (s *ContentSink) indexName(kind domain.SourceKind) string {
	return fmt.Sprintf("%s-%s", s.indexPrefix, kind)
}
