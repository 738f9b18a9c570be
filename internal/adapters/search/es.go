// Package search — поисковый индекс новостей поверх Elasticsearch.
// Индекс вторичен по отношению к Postgres: ошибки индексации не должны
// останавливать инжест, поэтому BulkAdd возвращает ошибки поэлементно.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"feedfusion/internal/infra/logger"
	"feedfusion/internal/repos"
)

// indexSettings — настройки индекса: edge_ngram-анализатор для поиска по
// префиксам с первой буквы.
const indexSettings = `{
  "settings": {
    "index": {
      "number_of_shards": 3,
      "number_of_replicas": 2,
      "refresh_interval": "1s"
    },
    "analysis": {
      "analyzer": {
        "default": {"type": "custom", "tokenizer": "n_gram_tokenizer"}
      },
      "tokenizer": {
        "n_gram_tokenizer": {
          "type": "edge_ngram",
          "min_gram": 1,
          "max_gram": 30,
          "token_chars": ["letter", "digit"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "published":  {"type": "date"},
      "title":      {"type": "text"},
      "summary":    {"type": "text"},
      "source":     {"type": "text"},
      "category":   {"type": "keyword"},
      "channel_id": {"type": "keyword"},
      "id":         {"type": "keyword"}
    }
  }
}`

// SearchParams — параметры поиска с курсорной пагинацией.
type SearchParams struct {
	Query       string
	Categories  []string
	ChannelIDs  []int64
	Limit       int
	SearchAfter []any
	RecentFirst bool
}

// SearchResult — страница результата и ключ сортировки последнего документа
// для продолжения (search_after).
type SearchResult struct {
	Total       int64
	Docs        []repos.News
	LastSortKey []any
}

// Manager инкапсулирует клиент Elasticsearch и имя индекса.
type Manager struct {
	client *elasticsearch.Client
	index  string
}

// New создаёт менеджер и проверяет соединение ping-ом.
func New(url, index string) (*Manager, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	res, err := client.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("ping elasticsearch: %s", res.Status())
	}
	return &Manager{client: client, index: index}, nil
}

// EnsureIndex создаёт индекс, если его ещё нет.
func (m *Manager) EnsureIndex(ctx context.Context) error {
	exists, err := esapi.IndicesExistsRequest{Index: []string{m.index}}.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", m.index, err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	res, err := esapi.IndicesCreateRequest{
		Index: m.index,
		Body:  strings.NewReader(indexSettings),
	}.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", m.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", m.index, res.Status())
	}
	logger.Infof("Search: index %s created", m.index)
	return nil
}

// BulkAdd индексирует документы по одному; позиция ошибки в результате
// соответствует позиции документа на входе. Документ адресуется id новости,
// поэтому повторная индексация идемпотентна.
func (m *Manager) BulkAdd(ctx context.Context, docs []repos.News) []error {
	errs := make([]error, len(docs))
	for i, doc := range docs {
		errs[i] = m.add(ctx, doc)
	}
	return errs
}

func (m *Manager) add(ctx context.Context, doc repos.News) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal news %d: %w", doc.ID, err)
	}
	res, err := esapi.IndexRequest{
		Index:      m.index,
		DocumentID: strconv.FormatInt(doc.ID, 10),
		Body:       bytes.NewReader(body),
	}.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("index news %d: %w", doc.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index news %d: %s", doc.ID, res.Status())
	}
	return nil
}

// Search выполняет поиск: should-match по title/summary/source плюс
// terms-фильтры; сортировка по published с tie-break по id и search_after
// для курсорной пагинации.
func (m *Manager) Search(ctx context.Context, p SearchParams) (SearchResult, error) {
	body, err := json.Marshal(buildQuery(p))
	if err != nil {
		return SearchResult{}, fmt.Errorf("marshal search query: %w", err)
	}

	res, err := esapi.SearchRequest{
		Index: []string{m.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, m.client)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search %s: %w", m.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return SearchResult{}, fmt.Errorf("search %s: %s", m.index, res.Status())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return SearchResult{}, fmt.Errorf("read search response: %w", err)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source repos.News `json:"_source"`
				Sort   []any      `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}

	result := SearchResult{
		Total: parsed.Hits.Total.Value,
		Docs:  make([]repos.News, 0, len(parsed.Hits.Hits)),
	}
	for _, hit := range parsed.Hits.Hits {
		result.Docs = append(result.Docs, hit.Source)
		result.LastSortKey = hit.Sort
	}
	return result, nil
}

// buildQuery собирает тело запроса из параметров.
func buildQuery(p SearchParams) map[string]any {
	boolQuery := map[string]any{}

	if q := strings.TrimSpace(p.Query); q != "" {
		boolQuery["should"] = []any{
			map[string]any{"match": map[string]any{"title": q}},
			map[string]any{"match": map[string]any{"summary": q}},
			map[string]any{"match": map[string]any{"source": q}},
		}
		boolQuery["minimum_should_match"] = 1
	}

	var filters []any
	if len(p.Categories) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"category": p.Categories}})
	}
	if len(p.ChannelIDs) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"channel_id": p.ChannelIDs}})
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	order := "asc"
	if p.RecentFirst {
		order = "desc"
	}
	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"sort": []any{
			map[string]any{"published": map[string]any{"order": order}},
			map[string]any{"id": map[string]any{"order": order}},
		},
		"track_total_hits": true,
	}
	if p.Limit > 0 {
		body["size"] = p.Limit
	}
	if len(p.SearchAfter) > 0 {
		body["search_after"] = p.SearchAfter
	}
	return body
}
