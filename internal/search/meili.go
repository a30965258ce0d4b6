package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxDocuments = "inkwell_documents"

// Meili serves searches from a Meilisearch instance.
type Meili struct {
	client  meili.ServiceManager
	log     *zap.SugaredLogger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to Meilisearch and configures the documents index. A
// failed initial connection is tolerated; the health loop keeps probing and
// reconfigures the index on recovery.
func NewMeili(url, apiKey string, log *zap.SugaredLogger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warnw("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debugw("create index", "index", idxDocuments, "error", err)
	}

	index := m.client.Index(idxDocuments)
	filterable := []interface{}{"ownerId", "editorIds"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warnw("update filterable attributes", "error", err)
	}
	searchable := []string{"title", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warnw("update searchable attributes", "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Infow("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the documents index, filtered to records the caller owns
// or edits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxDocuments).Search(q.Text, &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		Filter:                fmt.Sprintf("ownerId = %q OR editorIds = %q", q.UserID, q.UserID),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, Result{
			ID:      decodeString(hit, "id"),
			Title:   firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
			Snippet: firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
			OwnerID: decodeString(hit, "ownerId"),
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// IndexRecord adds or updates a document in the search index.
func (m *Meili) IndexRecord(record Record) error {
	_, err := m.client.Index(idxDocuments).AddDocuments([]Record{record}, nil)
	return err
}

// IndexRecords bulk-indexes documents.
func (m *Meili) IndexRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDocuments).AddDocuments(records, nil)
	return err
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
