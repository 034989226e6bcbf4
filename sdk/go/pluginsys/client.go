// Package pluginsys is a Go client for the plugin daemon's admin API.
package pluginsys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the admin API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Dependency mirrors a declared plugin dependency.
type Dependency struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Optional bool   `json:"optional,omitempty"`
}

// Metrics mirrors the per-plugin counters.
type Metrics struct {
	LoadTime        time.Duration `json:"loadTime"`
	InitTime        time.Duration `json:"initTime"`
	ErrorCount      int           `json:"errorCount"`
	LastError       time.Time     `json:"lastError"`
	EnabledDuration time.Duration `json:"enabledDuration"`
	CallCount       int           `json:"callCount"`
	MemoryUsage     uint64        `json:"memoryUsage"`
}

// Plugin is one installed plugin.
type Plugin struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description,omitempty"`
	Author       string       `json:"author,omitempty"`
	Status       string       `json:"status"`
	InstalledAt  time.Time    `json:"installedAt"`
	EnabledAt    *time.Time   `json:"enabledAt,omitempty"`
	Error        string       `json:"error,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Metrics      *Metrics     `json:"metrics,omitempty"`
	Health       string       `json:"health,omitempty"`
}

// HealthResult is the last health check of one plugin.
type HealthResult struct {
	PluginID  string        `json:"pluginId"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Retries   int           `json:"retries"`
	CheckedAt time.Time     `json:"checkedAt"`
	Duration  time.Duration `json:"duration"`

	ErrorHistoryHealthy bool `json:"errorHistoryHealthy"`
}

// Health is the aggregate health report.
type Health struct {
	Status  string         `json:"status"`
	Plugins []HealthResult `json:"plugins"`
}

// Stats aggregates the metrics of every plugin.
type Stats struct {
	Total           int           `json:"total"`
	Enabled         int           `json:"enabled"`
	WithErrors      int           `json:"withErrors"`
	AverageLoadTime time.Duration `json:"averageLoadTime"`
	AverageInitTime time.Duration `json:"averageInitTime"`
}

// APIError represents an error response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("pluginsys api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("pluginsys api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the admin API at rawURL. When httpClient is
// nil a client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ListPlugins returns the installed plugins, optionally filtered by status.
func (c *Client) ListPlugins(ctx context.Context, status string) ([]Plugin, error) {
	endpoint := "/api/v1/plugins"
	var query url.Values
	if status != "" {
		query = url.Values{"status": {status}}
	}
	var plugins []Plugin
	if err := c.get(ctx, endpoint, query, &plugins); err != nil {
		return nil, err
	}
	return plugins, nil
}

// GetPlugin fetches one plugin by id.
func (c *Client) GetPlugin(ctx context.Context, id string) (Plugin, error) {
	var p Plugin
	if err := c.get(ctx, "/api/v1/plugins/"+url.PathEscape(id), nil, &p); err != nil {
		return Plugin{}, err
	}
	return p, nil
}

// Health fetches the health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.get(ctx, "/api/v1/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Stats fetches the aggregate metrics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := c.get(ctx, "/api/v1/stats", nil, &s); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// SetAccessToken sets a bearer token sent with every request, for daemons
// behind an authenticating proxy. An empty token disables the header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			envelope := struct {
				Error *APIError `json:"error"`
			}{Error: apiErr}
			if err := json.Unmarshal(data, &envelope); err != nil {
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
