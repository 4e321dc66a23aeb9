package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// SchemaRegistry resolves Confluent Schema Registry IDs for the progression
// event schemas. Resolved IDs are cached per subject for the life of the
// process; schema definitions only change with a deploy, so the cache never
// needs invalidation.
type SchemaRegistry struct {
	baseURL string
	client  *http.Client

	mu  sync.RWMutex
	ids map[string]int
}

// NewSchemaRegistry returns a registry client for the given base URL.
func NewSchemaRegistry(baseURL string) *SchemaRegistry {
	return &SchemaRegistry{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		ids:     make(map[string]int),
	}
}

// SchemaID returns the registry ID for the subject, registering the schema on
// first use. Subsequent calls for the same subject are served from the cache.
func (r *SchemaRegistry) SchemaID(ctx context.Context, subject, schema string) (int, error) {
	r.mu.RLock()
	id, ok := r.ids[subject]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := r.resolve(ctx, subject, schema)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.ids[subject] = id
	r.mu.Unlock()
	return id, nil
}

func (r *SchemaRegistry) resolve(ctx context.Context, subject, schema string) (int, error) {
	id, err := r.latestVersion(ctx, subject)
	if err == nil {
		return id, nil
	}
	return r.registerSchema(ctx, subject, schema)
}

func (r *SchemaRegistry) latestVersion(ctx context.Context, subject string) (int, error) {
	path := fmt.Sprintf("/subjects/%s/versions/latest", subject)
	return r.do(ctx, http.MethodGet, path, nil)
}

func (r *SchemaRegistry) registerSchema(ctx context.Context, subject, schema string) (int, error) {
	body, err := json.Marshal(map[string]string{
		"schemaType": "JSON",
		"schema":     schema,
	})
	if err != nil {
		return 0, err
	}
	path := fmt.Sprintf("/subjects/%s/versions", subject)
	return r.do(ctx, http.MethodPost, path, body)
}

// do issues the request and decodes the registry's {"id": N} response.
func (r *SchemaRegistry) do(ctx context.Context, method, path string, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("schema registry %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}

	var payload struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}
	return payload.ID, nil
}
