package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	xerrors "PluginSystem/internal/errors"
	obsmetrics "PluginSystem/internal/observability/metrics"
	"PluginSystem/pkg/health"
	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/metrics"
	"PluginSystem/pkg/plugin"
)

// PluginSource lists installed plugins. *plugin.Manager implements it.
type PluginSource interface {
	All() []plugin.State
	Get(id string) (plugin.State, bool)
}

// HealthSource exposes the last health results. *health.Manager implements it.
type HealthSource interface {
	Results() []health.Result
	Status(id string) health.Status
}

// StatsSource aggregates plugin metrics. *metrics.Collector implements it.
type StatsSource interface {
	Stats() metrics.Stats
}

// Server exposes the admin endpoints.
type Server struct {
	addr     string
	plugins  PluginSource
	health   HealthSource
	stats    StatsSource
	gatherer prometheus.Gatherer
	http     *obsmetrics.HTTPMetrics
	checks   healthcheck.Handler
	token    string
	log      *slog.Logger
	audit    *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithHealth adds the health endpoint and the per-plugin health field.
func WithHealth(h HealthSource) Option { return func(s *Server) { s.health = h } }

// WithStats adds the aggregate statistics endpoint.
func WithStats(st StatsSource) Option { return func(s *Server) { s.stats = st } }

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithHTTPMetrics instruments every route.
func WithHTTPMetrics(m *obsmetrics.HTTPMetrics) Option { return func(s *Server) { s.http = m } }

// WithReadinessCheck adds a named check to /ready.
func WithReadinessCheck(name string, check healthcheck.Check) Option {
	return func(s *Server) { s.checks.AddReadinessCheck(name, check) }
}

// WithLogger overrides the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAuditLogger overrides where authenticated requests are recorded.
func WithAuditLogger(l *slog.Logger) Option { return func(s *Server) { s.audit = l } }

// NewServer builds the admin server. plugins must not be nil.
func NewServer(addr string, plugins PluginSource, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		plugins: plugins,
		checks:  healthcheck.NewHandler(),
	}
	s.checks.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	s.checks.AddReadinessCheck("plugins", s.pluginsReady)
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "plugins", "GET /api/v1/plugins", s.handleListPlugins)
	s.route(mux, "plugin", "GET /api/v1/plugins/{id}", s.handlePluginDetail)
	s.route(mux, "health", "GET /api/v1/health", s.handleHealth)
	s.route(mux, "stats", "GET /api/v1/stats", s.handleStats)
	mux.Handle("GET /live", s.checks)
	mux.Handle("GET /ready", s.checks)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", obsmetrics.Handler(s.gatherer))
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, name, pattern string, fn http.HandlerFunc) {
	h := s.authenticate(fn)
	if s.http != nil {
		h = s.http.Middleware(name, h)
	}
	mux.Handle(pattern, h)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("admin api listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// PluginView is the JSON projection of a plugin state.
type PluginView struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Description  string               `json:"description,omitempty"`
	Author       string               `json:"author,omitempty"`
	Status       plugin.Status        `json:"status"`
	InstalledAt  time.Time            `json:"installedAt"`
	EnabledAt    *time.Time           `json:"enabledAt,omitempty"`
	Error        string               `json:"error,omitempty"`
	Dependencies []plugin.Dependency  `json:"dependencies,omitempty"`
	Capabilities *plugin.Capabilities `json:"capabilities,omitempty"`
	Metrics      *metrics.Metrics     `json:"metrics,omitempty"`
	Health       health.Status        `json:"health,omitempty"`
}

// HealthView is the response of the health endpoint.
type HealthView struct {
	Status  health.Status   `json:"status"`
	Plugins []health.Result `json:"plugins"`
}

func (s *Server) view(st plugin.State) PluginView {
	v := PluginView{
		ID:           st.ID(),
		Name:         st.Plugin.Metadata.Name,
		Version:      st.Plugin.Version(),
		Description:  st.Plugin.Metadata.Description,
		Author:       st.Plugin.Metadata.Author,
		Status:       st.Status,
		InstalledAt:  st.InstalledAt,
		Dependencies: st.Plugin.Dependencies,
		Capabilities: st.Plugin.Capabilities,
		Metrics:      st.Metrics,
	}
	if !st.EnabledAt.IsZero() {
		at := st.EnabledAt
		v.EnabledAt = &at
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	if s.health != nil {
		v.Health = s.health.Status(st.ID())
	}
	return v
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	status := plugin.Status(r.URL.Query().Get("status"))
	states := s.plugins.All()
	views := make([]PluginView, 0, len(states))
	for _, st := range states {
		if status != "" && st.Status != status {
			continue
		}
		views = append(views, s.view(st))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePluginDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.plugins.Get(id)
	if !ok {
		writeError(w, xerrors.New(plugin.CodeNotInstalled, fmt.Sprintf("plugin %s is not installed", id)))
		return
	}
	writeJSON(w, http.StatusOK, s.view(st))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "health manager not configured"))
		return
	}
	results := s.health.Results()
	writeJSON(w, http.StatusOK, HealthView{Status: overall(results), Plugins: results})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "metrics collector not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) pluginsReady() error {
	for _, st := range s.plugins.All() {
		if st.Status == plugin.StatusError {
			return fmt.Errorf("plugin %s is in error state", st.ID())
		}
	}
	return nil
}

// overall is the worst status among results, healthy when there are none.
func overall(results []health.Result) health.Status {
	rank := map[health.Status]int{
		health.StatusHealthy:   0,
		health.StatusUnknown:   1,
		health.StatusDegraded:  2,
		health.StatusUnhealthy: 3,
	}
	worst := health.StatusHealthy
	for _, r := range results {
		if rank[r.Status] > rank[worst] {
			worst = r.Status
		}
	}
	return worst
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeJSON(w, statusFor(code), errorBody{Error: errorDetail{Code: string(code), Message: msg}})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case plugin.CodeNotInstalled, xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument, plugin.CodeInvalid:
		return http.StatusBadRequest
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext rejects requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
