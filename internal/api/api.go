// Package api maps the coverage operations onto JSON HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/techs"
)

const maxSearchLimit = 100

type Service interface {
	Technologies() []techs.Technology
	SearchProviderByName(ctx context.Context, query string, limit int) ([]model.ProviderIdentity, error)
	ResolveProviderTechnologies(ctx context.Context, providerID, providerName string) (model.TechnologyResolution, error)
	GetCoverage(ctx context.Context, providerID, techCode string) (model.CoverageResult, error)
	ProxyTile(ctx context.Context, providerID, tech string, z, x, y int) (*geojson.FeatureCollection, error)
}

type Handlers struct {
	svc Service
	log *slog.Logger
}

func New(svc Service, log *slog.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

// Mount registers the API routes under /api.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/technologies", h.technologies)
		r.Get("/providers", h.searchProviders)
		r.Get("/providers/{providerID}/technologies", h.providerTechnologies)
		r.Get("/coverage/{providerID}/{techCode}", h.coverage)
		r.Get("/tiles/{providerID}/{techCode}/{z}/{x}/{y}", h.tile)
	})
}

func (h *Handlers) technologies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"technologies": h.svc.Technologies()})
}

func (h *Handlers) searchProviders(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchLimit {
			h.fail(w, r, model.Invalid("limit must be an integer in 1..%d", maxSearchLimit))
			return
		}
		limit = n
	}
	rows, err := h.svc.SearchProviderByName(r.Context(), q, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "providers": rows})
}

func (h *Handlers) providerTechnologies(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ResolveProviderTechnologies(r.Context(),
		chi.URLParam(r, "providerID"), r.URL.Query().Get("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) coverage(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetCoverage(r.Context(), chi.URLParam(r, "providerID"), chi.URLParam(r, "techCode"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) tile(w http.ResponseWriter, r *http.Request) {
	var zxy [3]int
	for i, name := range []string{"z", "x", "y"} {
		n, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			h.fail(w, r, model.Invalid("tile %s must be an integer", name))
			return
		}
		zxy[i] = n
	}
	fc, err := h.svc.ProxyTile(r.Context(), chi.URLParam(r, "providerID"), chi.URLParam(r, "techCode"), zxy[0], zxy[1], zxy[2])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	b, err := fc.MarshalJSON()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, _ = w.Write(b)
}

// StatusFor maps an operation error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	lvl := slog.LevelWarn
	if status == http.StatusInternalServerError {
		lvl = slog.LevelError
	}
	h.log.Log(r.Context(), lvl, "request failed", "path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
