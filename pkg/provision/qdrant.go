package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/engine"
)

const (
	defaultVectorSize     = 768
	defaultVectorDistance = "Cosine"
)

// QdrantProvisioner creates vector collections over Qdrant's HTTP API.
type QdrantProvisioner struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewQdrantProvisioner targets a Qdrant instance. The API key may be
// empty for unauthenticated instances.
func NewQdrantProvisioner(baseURL, apiKey string) *QdrantProvisioner {
	return &QdrantProvisioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Exists reports whether the collection behind the task key is present.
func (p *QdrantProvisioner) Exists(ctx context.Context, task engine.ProvisionTask) (bool, error) {
	_, name, err := ParseKey(task.Key)
	if err != nil {
		return false, err
	}

	resp, err := p.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check collection %s: %s: %s", name, resp.Status, snippet(resp.Body))
	}
}

// Create creates the collection with the vector shape from the task
// params and then indexes the requested payload fields.
func (p *QdrantProvisioner) Create(ctx context.Context, task engine.ProvisionTask) error {
	_, name, err := ParseKey(task.Key)
	if err != nil {
		return err
	}

	size := defaultVectorSize
	if s := task.Params["size"]; s != "" {
		size, err = strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("collection %s: invalid vector size %q", name, s)
		}
	}
	distance := task.Params["distance"]
	if distance == "" {
		distance = defaultVectorDistance
	}

	body := map[string]any{
		"vectors": map[string]any{"size": size, "distance": distance},
	}
	resp, err := p.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create collection %s: %s: %s", name, resp.Status, snippet(resp.Body))
	}

	indexes, err := parseIndexes(task.Params["indexes"])
	if err != nil {
		return fmt.Errorf("collection %s: %w", name, err)
	}
	for _, index := range indexes {
		if err := p.createIndex(ctx, name, index); err != nil {
			return err
		}
	}

	log.Info().
		Str("collection", name).
		Int("size", size).
		Str("distance", distance).
		Int("indexes", len(indexes)).
		Msg("collection created")
	return nil
}

// payloadIndex names one payload field and its Qdrant field schema.
type payloadIndex struct {
	Field  string
	Schema string
}

// parseIndexes reads the "indexes" param, a comma-separated list of
// field:schema pairs. A bare field name indexes as keyword.
func parseIndexes(spec string) ([]payloadIndex, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var indexes []payloadIndex
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, schema, found := strings.Cut(part, ":")
		if !found {
			schema = "keyword"
		}
		if field == "" || schema == "" {
			return nil, fmt.Errorf("invalid payload index %q, want field:schema", part)
		}
		indexes = append(indexes, payloadIndex{Field: field, Schema: schema})
	}
	return indexes, nil
}

func (p *QdrantProvisioner) createIndex(ctx context.Context, collection string, index payloadIndex) error {
	body := map[string]any{
		"field_name":   index.Field,
		"field_schema": index.Schema,
	}
	resp, err := p.do(ctx, http.MethodPut, "/collections/"+collection+"/index", body)
	if err != nil {
		return fmt.Errorf("index field %s on %s: %w", index.Field, collection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("index field %s on %s: %s: %s", index.Field, collection, resp.Status, snippet(resp.Body))
	}
	return nil
}

func (p *QdrantProvisioner) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("api-key", p.apiKey)
	}
	return p.client.Do(req)
}

// snippet reads a bounded slice of an error response body for messages.
func snippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
