// Package rest implements storage.Store against a PostgREST-compatible API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

// Caller sends requests through the connection guardian.
type Caller interface {
	GuardedCall(ctx context.Context, req *http.Request) (*http.Response, error)
	Endpoint(path string) string
}

// Client talks to one PostgREST schema.
type Client struct {
	caller Caller
}

func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

func (c *Client) Insert(ctx context.Context, table string, rec storage.Record) (storage.Record, error) {
	rows, err := c.do(ctx, http.MethodPost, table, nil, rec)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s: empty representation", table)
	}
	return rows[0], nil
}

func (c *Client) Select(ctx context.Context, table string, q storage.Query) ([]storage.Record, error) {
	params := url.Values{}
	params.Set("select", "*")
	for _, f := range q.Filters {
		params.Add(f.Column, "eq."+fmt.Sprint(f.Value))
	}
	if q.OrderBy != "" {
		dir := ".asc"
		if q.Desc {
			dir = ".desc"
		}
		params.Set("order", q.OrderBy+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	rows, err := c.do(ctx, http.MethodGet, table, params, nil)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return rows, nil
}

func (c *Client) Update(ctx context.Context, table, id string, patch storage.Record) (storage.Record, error) {
	rows, err := c.do(ctx, http.MethodPatch, table, byID(id), patch)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s %s: %w", table, id, fault.ErrNotFound)
	}
	return rows[0], nil
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	rows, err := c.do(ctx, http.MethodDelete, table, byID(id), nil)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("delete %s %s: %w", table, id, fault.ErrNotFound)
	}
	return nil
}

func byID(id string) url.Values {
	return url.Values{"id": {"eq." + id}}
}

func (c *Client) do(
	ctx context.Context,
	method, table string,
	params url.Values,
	body any,
) ([]storage.Record, error) {
	endpoint := c.caller.Endpoint(table)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.caller.GuardedCall(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []storage.Record{}, nil
	}

	rows := []storage.Record{}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return rows, nil
}

// parseError turns a PostgREST error body into an APIError. Bodies that are
// not JSON become the message.
func parseError(status int, body []byte) *fault.APIError {
	apiErr := &fault.APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Message == "" && apiErr.Code == "") {
		apiErr = &fault.APIError{Status: status, Message: string(bytes.TrimSpace(body))}
	}
	return apiErr
}
