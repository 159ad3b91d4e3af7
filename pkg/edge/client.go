// Package edge talks to the edge provider's DNS record API. The
// client lists zone records and upserts the records a manifest
// declares; records the manifest does not name are never touched.
package edge

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

// Record is one DNS record at the edge provider.
type Record struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl,omitempty"`
}

// APIError is a non-2xx reply from the edge provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("edge provider returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the edge provider's record API.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewClient targets the provider at endpoint, authenticating every
// request with the bearer token.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// ListRecords returns every record in the zone.
func (c *Client) ListRecords(ctx context.Context, zone string) ([]Record, error) {
	resp, err := c.do(ctx, http.MethodGet, c.zonePath(zone), nil)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list records: %w", apiError(resp))
	}

	var reply struct {
		Records []Record `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("list records: decode reply: %w", err)
	}
	return reply.Records, nil
}

// CreateRecord adds a record to the zone and returns it with the
// provider-assigned ID.
func (c *Client) CreateRecord(ctx context.Context, zone string, record Record) (Record, error) {
	resp, err := c.do(ctx, http.MethodPost, c.zonePath(zone), record)
	if err != nil {
		return Record{}, fmt.Errorf("create record %s: %w", record.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Record{}, fmt.Errorf("create record %s: %w", record.Name, apiError(resp))
	}
	return decodeRecord(resp.Body)
}

// UpdateRecord rewrites the record identified by record.ID.
func (c *Client) UpdateRecord(ctx context.Context, zone string, record Record) (Record, error) {
	if record.ID == "" {
		return Record{}, fmt.Errorf("update record %s: missing record ID", record.Name)
	}

	path := c.zonePath(zone) + "/" + url.PathEscape(record.ID)
	resp, err := c.do(ctx, http.MethodPut, path, record)
	if err != nil {
		return Record{}, fmt.Errorf("update record %s: %w", record.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("update record %s: %w", record.Name, apiError(resp))
	}
	return decodeRecord(resp.Body)
}

func (c *Client) zonePath(zone string) string {
	return "/zones/" + url.PathEscape(zone) + "/records"
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}

func decodeRecord(r io.Reader) (Record, error) {
	var reply struct {
		Record Record `json:"record"`
	}
	if err := json.NewDecoder(r).Decode(&reply); err != nil {
		return Record{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply.Record, nil
}

// apiError reads the error envelope from a failed reply, falling back
// to a bounded body snippet.
func apiError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	var reply struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &reply); err == nil && reply.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: reply.Error}
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
