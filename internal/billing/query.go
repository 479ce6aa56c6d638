package billing

import (
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// SearchQuery filters one organization's billing history. Zero values mean "any".
type SearchQuery struct {
	OrganizationID string
	Category       string
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

func (q SearchQuery) normalized() SearchQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

func (q SearchQuery) offset() int {
	return (q.Page - 1) * q.PageSize
}

func buildSearchBody(q SearchQuery) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{
			"term": map[string]interface{}{"organization_id": q.OrganizationID},
		},
	}

	if q.Category != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"categoria": q.Category},
		})
	}

	if q.From != nil || q.To != nil {
		window := map[string]interface{}{}
		if q.From != nil {
			window["gte"] = q.From.UTC().Format(time.RFC3339)
		}
		if q.To != nil {
			window["lte"] = q.To.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"created_at": window},
		})
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"sort": []interface{}{
			map[string]interface{}{"created_at": map[string]interface{}{"order": "desc"}},
		},
	}
}
