package system

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Checker-Finance/oneself-console/internal/httpclient"
)

const (
	defaultPageNum  = 1
	defaultPageSize = 10
	maxPageSize     = 500
)

// ErrEmptyID is returned before any I/O when an id argument is blank.
var ErrEmptyID = errors.New("resource id is required")

// Sender is the transport resources talk to the gateway through.
type Sender interface {
	Send(ctx context.Context, d httpclient.Descriptor) (*httpclient.Envelope, error)
}

// Resource is CRUD access to one system collection, e.g. /dept.
type Resource[T any] struct {
	gateway Sender
	baseURL string
	name    string
}

// NewResource binds collection name under baseURL.
func NewResource[T any](gateway Sender, baseURL, name string) *Resource[T] {
	return &Resource[T]{gateway: gateway, baseURL: baseURL, name: name}
}

// Name returns the collection name.
func (r *Resource[T]) Name() string { return r.name }

// List fetches one page.
func (r *Resource[T]) List(ctx context.Context, q Query) (*Page[T], error) {
	q = q.normalized()
	params := url.Values{}
	params.Set("pageNum", strconv.Itoa(q.PageNum))
	params.Set("pageSize", strconv.Itoa(q.PageSize))
	if q.Keyword != "" {
		params.Set("keyword", q.Keyword)
	}

	env, err := r.send(ctx, httpclient.Get(r.path("page")+"?"+params.Encode()))
	if err != nil {
		return nil, err
	}
	page := &Page[T]{Records: []T{}, PageNum: q.PageNum, PageSize: q.PageSize}
	if !env.HasData() {
		return page, nil
	}
	if err := env.Decode(page); err != nil {
		return nil, fmt.Errorf("%s list: %w", r.name, err)
	}
	if page.Records == nil {
		page.Records = []T{}
	}
	return page, nil
}

// Get fetches one record.
func (r *Resource[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	env, err := r.send(ctx, httpclient.Get(r.path(url.PathEscape(id))))
	if err != nil {
		return nil, err
	}
	var out T
	if err := env.Decode(&out); err != nil {
		return nil, fmt.Errorf("%s get %s: %w", r.name, id, err)
	}
	return &out, nil
}

// Create posts a new record.
func (r *Resource[T]) Create(ctx context.Context, v T) (*httpclient.Envelope, error) {
	return r.send(ctx, httpclient.Post(r.path(""), v))
}

// Update replaces an existing record; the id travels in the body.
func (r *Resource[T]) Update(ctx context.Context, v T) (*httpclient.Envelope, error) {
	return r.send(ctx, httpclient.Put(r.path(""), v))
}

// Delete removes a record.
func (r *Resource[T]) Delete(ctx context.Context, id string) (*httpclient.Envelope, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	return r.send(ctx, httpclient.Delete(r.path(url.PathEscape(id)), nil))
}

func (r *Resource[T]) send(ctx context.Context, d httpclient.Descriptor) (*httpclient.Envelope, error) {
	d.BaseURL = r.baseURL
	return r.gateway.Send(ctx, d)
}

func (r *Resource[T]) path(suffix string) string {
	if suffix == "" {
		return "/" + r.name
	}
	return "/" + r.name + "/" + suffix
}

func (q Query) normalized() Query {
	if q.PageNum <= 0 {
		q.PageNum = defaultPageNum
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return q
}
