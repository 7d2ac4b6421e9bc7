package store

import (
	"context"
	"fmt"
)

// PageParams selects one page of a listing.
type PageParams struct {
	Page    int
	PerPage int
}

// Normalize clamps page parameters to sane bounds.
func (p PageParams) Normalize() PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 25
	}
	if p.PerPage > 100 {
		p.PerPage = 100
	}
	return p
}

// Page is one page of a filtered listing.
type Page struct {
	Items   []map[string]any `json:"items"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

// PagedQuery carries a fully built listing query plus its count projection.
type PagedQuery struct {
	SelectSQL string
	CountSQL  string
	Args      []any
	CountArgs []any
}

// Paginator turns a built query into one page of results. Cursor encoding
// and envelope shaping live outside this core; this is the capability the
// repository consumes.
type Paginator interface {
	Paginate(ctx context.Context, sess Session, q PagedQuery, params PageParams) (*Page, error)
}

// OffsetPaginator is the default LIMIT/OFFSET implementation.
type OffsetPaginator struct {
	Dialect Dialect
}

func (p *OffsetPaginator) Paginate(ctx context.Context, sess Session, q PagedQuery, params PageParams) (*Page, error) {
	params = params.Normalize()

	countRows, err := sess.Query(ctx, q.CountSQL, q.CountArgs...)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	var total int64
	if len(countRows) > 0 {
		for _, v := range countRows[0] {
			if n, ok := v.(int64); ok {
				total = n
			}
		}
	}

	args := append(append([]any{}, q.Args...), params.PerPage, (params.Page-1)*params.PerPage)
	sqlStr := fmt.Sprintf("%s LIMIT %s OFFSET %s", q.SelectSQL,
		p.Dialect.Placeholder(len(q.Args)+1), p.Dialect.Placeholder(len(q.Args)+2))

	items, err := sess.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("page query: %w", err)
	}
	if items == nil {
		items = []map[string]any{}
	}

	return &Page{Items: items, Total: total, Page: params.Page, PerPage: params.PerPage}, nil
}
