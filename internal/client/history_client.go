package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/model"
)

// HistoryStore persists clip runs and usage for a user.
type HistoryStore interface {
	Record(ctx context.Context, entry *model.HistoryEntry) error
	ChargeSeconds(ctx context.Context, userID string, seconds int) error
	List(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error)
	IsConfigured() bool
}

// HistoryClient implements HistoryStore against a PostgREST endpoint (Supabase).
type HistoryClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHistoryClient creates a new persistence client
func NewHistoryClient(cfg *config.HistoryConfig) *HistoryClient {
	return &HistoryClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.ServiceURL,
		apiKey:     cfg.APIKey,
	}
}

// Record inserts one history row.
func (c *HistoryClient) Record(ctx context.Context, entry *model.HistoryEntry) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/history", entry, nil)
}

// ChargeSeconds adds clipped seconds to the user's usage through the charge_seconds RPC.
func (c *HistoryClient) ChargeSeconds(ctx context.Context, userID string, seconds int) error {
	body := map[string]interface{}{"u": userID, "used": seconds}
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/charge_seconds", body, nil)
}

// List returns the user's most recent entries, newest first.
func (c *HistoryClient) List(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))

	var rows []model.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/rest/v1/history?"+q.Encode(), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// do sends a request with an optional JSON body and parses the optional result
func (c *HistoryClient) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if result == nil {
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("history service error (status %d): %s", resp.StatusCode, tail(string(respBody), 500))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *HistoryClient) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

var _ HistoryStore = (*HistoryClient)(nil)
