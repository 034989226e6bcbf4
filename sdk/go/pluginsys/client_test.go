package pluginsys

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPluginsSendsStatusFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/plugins", r.URL.Path)
		assert.Equal(t, "enabled", r.URL.Query().Get("status"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]Plugin{{ID: "core", Status: "enabled"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	plugins, err := client.ListPlugins(context.Background(), "enabled")
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "core", plugins[0].ID)
}

func TestGetPluginDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"PLUGIN_NOT_INSTALLED","message":"plugin ghost is not installed"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.GetPlugin(context.Background(), "ghost")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "PLUGIN_NOT_INSTALLED", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "plugin ghost is not installed")
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Health(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "server shutting down", apiErr.Message)
}

func TestAccessTokenAndBasePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/v1/stats", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Stats{Total: 2, Enabled: 1})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/admin", srv.Client())
	require.NoError(t, err)
	client.SetAccessToken("secret")

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("://bad", nil)
	assert.Error(t, err)
}
