// Package relay serves the server execution path over HTTP: inbound requests
// under /api are dispatched upstream with the caller's token cookie and
// answered with the normalized envelope.
package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/fivetwenty-io/callapi/pkg/dispatcher"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Static errors for err113 compliance.
var (
	ErrDispatcherRequired = errors.New("dispatcher is required")
)

const maxBodyBytes = 10 << 20

// Config configures the relay server.
type Config struct {
	// Dispatcher sends relayed requests. It should be bound to the server context.
	Dispatcher callapi.Dispatcher
	// Cache is revalidated by POST /revalidate. Nil disables the route.
	Cache *callapi.DataCache
	// Directives apply to every relayed GET.
	Directives *callapi.CacheDirectives
	// Metrics records revalidations.
	Metrics *callapi.MetricsCollector
	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	// Logger is optional.
	Logger callapi.Logger
}

// Server is the HTTP surface of the relay.
type Server struct {
	cfg    Config
	router chi.Router
}

// NewServer creates a relay server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, ErrDispatcherRequired
	}

	s := &Server{cfg: cfg, router: chi.NewRouter()}
	s.routes()

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(dispatcher.BindRequest)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.cfg.Cache != nil {
		r.Post("/revalidate", s.handleRevalidate)
	}

	r.HandleFunc("/api/*", s.handleRelay)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	method, err := callapi.ParseMethod(r.Method)
	if err != nil {
		writeEnvelope(w, failed(http.StatusMethodNotAllowed, err.Error()))

		return
	}

	endpoint := "/" + chi.URLParam(r, "*")

	req := &callapi.RequestDescriptor{
		Method: method,
		Params: paramsFromQuery(r),
	}

	if id := r.Header.Get(callapi.RequestIDHeader); id != "" {
		req.Headers = map[string]string{callapi.RequestIDHeader: id}
	}

	if method.HasBody() {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeEnvelope(w, failed(http.StatusBadRequest, err.Error()))

			return
		}

		if len(body) > 0 {
			if !json.Valid(body) {
				writeEnvelope(w, failed(http.StatusBadRequest, constants.ErrInvalidBody.Error()))

				return
			}

			req.Body = json.RawMessage(body)
		}
	}

	var directives *callapi.CacheDirectives
	if method == callapi.MethodGet {
		directives = s.cfg.Directives
	}

	env := s.cfg.Dispatcher.Do(r.Context(), endpoint, req, directives)

	writeEnvelope(w, env)
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	tags := r.URL.Query()["tag"]
	if len(tags) == 0 {
		writeEnvelope(w, failed(http.StatusBadRequest, constants.ErrTagRequired.Error()))

		return
	}

	revalidated := make(map[string]int, len(tags))

	for _, tag := range tags {
		n, err := s.cfg.Cache.RevalidateTag(r.Context(), tag)
		if err != nil {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Error("Revalidation failed", map[string]interface{}{
					"tag":   tag,
					"error": err.Error(),
				})
			}

			writeEnvelope(w, failed(http.StatusInternalServerError, err.Error()))

			return
		}

		s.cfg.Metrics.RecordRevalidation(tag, n)
		revalidated[tag] = n
	}

	data, _ := json.Marshal(revalidated)

	writeEnvelope(w, &callapi.Envelope[json.RawMessage]{
		Success:    true,
		Data:       data,
		StatusCode: http.StatusOK,
	})
}

// paramsFromQuery keeps single values as strings and repeated keys as lists.
func paramsFromQuery(r *http.Request) callapi.Params {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}

	params := make(callapi.Params, len(query))

	for key, values := range query {
		if len(values) == 1 {
			params[key] = values[0]
		} else {
			params[key] = values
		}
	}

	return params
}

func failed(status int, message string) *callapi.Envelope[json.RawMessage] {
	return &callapi.Envelope[json.RawMessage]{
		Success:    false,
		Error:      strings.TrimSpace(message),
		StatusCode: status,
		Kind:       callapi.KindForStatus(status),
	}
}

func writeEnvelope(w http.ResponseWriter, env *callapi.Envelope[json.RawMessage]) {
	status := env.StatusCode
	if status < http.StatusOK {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
