// Package billing mirrors faturamento rows into Elasticsearch for the billing history screen.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/shopspring/decimal"
)

const DefaultIndex = "faturamento"

// document is the indexed shape; valor is written as an exact JSON number.
type document struct {
	ID              string      `json:"id"`
	OrganizationID  string      `json:"organization_id"`
	UserID          string      `json:"user_id"`
	Valor           json.Number `json:"valor"`
	Status          string      `json:"status"`
	Categoria       string      `json:"categoria"`
	Descricao       string      `json:"descricao"`
	MetodoPagamento string      `json:"metodo_pagamento"`
	CreatedAt       time.Time   `json:"created_at"`
}

func toDocument(e models.BillingEntry) document {
	return document{
		ID:              e.ID,
		OrganizationID:  e.OrganizationID,
		UserID:          e.UserID,
		Valor:           json.Number(e.Amount.String()),
		Status:          e.Status,
		Categoria:       e.Category,
		Descricao:       e.Description,
		MetodoPagamento: e.PaymentMethod,
		CreatedAt:       e.CreatedAt,
	}
}

func (d document) entry() (models.BillingEntry, error) {
	amount, err := decimal.NewFromString(d.Valor.String())
	if err != nil {
		return models.BillingEntry{}, fmt.Errorf("entry %s: valor %q: %w", d.ID, d.Valor, err)
	}
	return models.BillingEntry{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		UserID:         d.UserID,
		Amount:         amount,
		Status:         d.Status,
		Category:       d.Categoria,
		Description:    d.Descricao,
		PaymentMethod:  d.MetodoPagamento,
		CreatedAt:      d.CreatedAt,
	}, nil
}

type Index struct {
	client *elasticsearch.Client
	name   string
	logger logger.Logger
}

func NewIndex(client *elasticsearch.Client, name string, log logger.Logger) *Index {
	if name == "" {
		name = DefaultIndex
	}
	return &Index{
		client: client,
		name:   name,
		logger: log.WithFields(map[string]interface{}{"component": "billing", "index": name}),
	}
}

// indexMapping pins the fields the search filters on to keyword and date, so term
// filters match whole values instead of analyzed text.
var indexMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"dynamic": "strict",
		"properties": map[string]interface{}{
			"id":               map[string]interface{}{"type": "keyword"},
			"organization_id":  map[string]interface{}{"type": "keyword"},
			"user_id":          map[string]interface{}{"type": "keyword"},
			"valor":            map[string]interface{}{"type": "scaled_float", "scaling_factor": 100},
			"status":           map[string]interface{}{"type": "keyword"},
			"categoria":        map[string]interface{}{"type": "keyword"},
			"descricao":        map[string]interface{}{"type": "text"},
			"metodo_pagamento": map[string]interface{}{"type": "keyword"},
			"created_at":       map[string]interface{}{"type": "date"},
		},
	},
}

// EnsureIndex creates the index with its explicit mapping. An index that already
// exists is left untouched.
func (i *Index) EnsureIndex(ctx context.Context) error {
	body, err := json.Marshal(indexMapping)
	if err != nil {
		return err
	}

	req := esapi.IndicesCreateRequest{
		Index: i.name,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.name, err)
	}
	defer res.Body.Close()

	if !res.IsError() {
		i.logger.Info("billing index created", nil)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	if res.StatusCode == http.StatusBadRequest && bytes.Contains(msg, []byte("resource_already_exists_exception")) {
		return nil
	}
	return fmt.Errorf("create index %s: %s: %s", i.name, res.Status(), msg)
}

// IndexEntry upserts entry under its own id, so replays do not duplicate documents.
func (i *Index) IndexEntry(ctx context.Context, entry models.BillingEntry) error {
	body, err := json.Marshal(toDocument(entry))
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: entry.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index billing entry %s: %w", entry.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index billing entry %s: %s", entry.ID, res.Status())
	}
	return nil
}

type SearchResult struct {
	Entries []models.BillingEntry
	Total   int64
	Page    int
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns one page of the organization's entries, newest first.
func (i *Index) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if q.OrganizationID == "" {
		return nil, apperrors.NewContextUnresolvedError("organizationId is required")
	}
	q = q.normalized()

	body, err := json.Marshal(buildSearchBody(q))
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(i.name, err)
	}

	from, size := q.offset(), q.PageSize
	req := esapi.SearchRequest{
		Index: []string{i.name},
		Body:  bytes.NewReader(body),
		From:  &from,
		Size:  &size,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(i.name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, apperrors.NewSearchQueryFailedError(i.name, fmt.Errorf("%s: %s", res.Status(), msg))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(i.name, err)
	}

	out := &SearchResult{
		Entries: make([]models.BillingEntry, 0, len(parsed.Hits.Hits)),
		Total:   parsed.Hits.Total.Value,
		Page:    q.Page,
	}
	for _, hit := range parsed.Hits.Hits {
		entry, err := hit.Source.entry()
		if err != nil {
			i.logger.Warn("skipping malformed billing document", map[string]interface{}{
				"error": err,
			})
			continue
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}
