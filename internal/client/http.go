package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
)

// defaultHTTPTimeout bounds each setup request.
const defaultHTTPTimeout = 10 * time.Second

// maxResponseSize caps response bodies read from the server.
const maxResponseSize = 4 << 20

// Identity is the server's answer to a token check.
type Identity struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
}

// Registration is the result of registering a new client.
type Registration struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Token    string `json:"token"`
}

// HTTPClient calls the server's plain HTTP endpoints.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the server at baseURL (including its
// base path). token may be empty for Register.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Verify checks the token against GET /auth.
func (c *HTTPClient) Verify(ctx context.Context) (Identity, error) {
	var id Identity
	err := c.do(ctx, http.MethodGet, "/auth", nil, c.bearer(), &id)
	return id, err
}

// FetchEntities returns the readable entities via GET /entities.
func (c *HTTPClient) FetchEntities(ctx context.Context) ([]entity.Snapshot, error) {
	var resp struct {
		Entities []entity.Snapshot `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, "/entities", nil, c.bearer(), &resp); err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

// Register creates a new client identity using the shared secret.
func (c *HTTPClient) Register(ctx context.Context, sharedSecret, name string) (Registration, error) {
	var reg Registration
	headers := map[string]string{"X-Shared-Secret": sharedSecret}
	err := c.do(ctx, http.MethodPost, "/register_client", map[string]string{"name": name}, headers, &reg)
	return reg, err
}

func (c *HTTPClient) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrTransport, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(data, &apiErr) //nolint:errcheck // message is optional
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
