// Package supabase implements the feed store over the hosted PostgREST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is an authenticated PostgREST client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// From starts a query on table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, params: url.Values{}}
}

// Query accumulates PostgREST filters.
type Query struct {
	client *Client
	table  string
	params url.Values
}

func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

func (q *Query) Eq(column, value string) *Query {
	q.params.Add(column, "eq."+value)
	return q
}

func (q *Query) In(column string, values []string) *Query {
	q.params.Add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

// IsNull filters on column IS NULL.
func (q *Query) IsNull(column string) *Query {
	q.params.Add(column, "is.null")
	return q
}

func (q *Query) Order(column string) *Query {
	q.params.Add("order", column+".asc")
	return q
}

// Get runs a SELECT and decodes the rows into out.
func (q *Query) Get(ctx context.Context, out any) error {
	resp, err := q.do(ctx, http.MethodGet, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("select", q.table, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Update runs a PATCH with the accumulated filters and decodes the updated
// rows into out. An empty result means no row matched the filters.
func (q *Query) Update(ctx context.Context, values map[string]any, out any) error {
	resp, err := q.do(ctx, http.MethodPatch, values)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("update", q.table, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (q *Query) do(ctx context.Context, method string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	u := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(q.params) > 0 {
		u += "?" + q.params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", q.client.apiKey)
	req.Header.Set("Authorization", "Bearer "+q.client.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}
	return q.client.http.Do(req)
}

func statusError(op, table string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("supabase %s %s: status %d: %s", op, table, resp.StatusCode, strings.TrimSpace(string(msg)))
}
