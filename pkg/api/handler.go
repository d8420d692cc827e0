package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/hifi-resolver/pkg/kit"
	"github.com/hazyhaar/hifi-resolver/pkg/service"
	"github.com/hazyhaar/hifi-resolver/pkg/store"
)

const maxBody = 64 * 1024

// errBadRequest marks request errors detected by the transport itself.
var errBadRequest = errors.New("bad request")

// NewRouter returns an http.Handler with all resolver API routes, the
// Prometheus endpoint and the MCP endpoint.
func NewRouter(svc *service.Service, logger *slog.Logger, version string) http.Handler {
	h := &handler{ep: newEndpoints(svc, logger), svc: svc}

	mcpSrv := NewMCPServer(svc, logger, version)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestContext)
	r.Use(accessLog(logger))
	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/normalize", h.handleNormalize)
		r.Get("/brands/compare", h.handleCompareBrands)
		r.Post("/match", h.handleMatch)
		r.Post("/match/batch", h.handleMatchBatch)
		r.Post("/classify", h.handleClassify)
		r.Post("/candidates", h.handleCandidates)
		r.Post("/catalog", h.handleAddEntry)
		r.Get("/catalog/stats", h.handleStats)
		r.Get("/rules", h.handleRules)
		r.Get("/reviews", h.handleReviews)
		r.Post("/reviews/{id}", h.handleResolveReview)
		r.Get("/health", h.handleHealth)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/mcp", server.NewStreamableHTTPServer(mcpSrv))

	return cors(r)
}

type handler struct {
	ep  *endpoints
	svc *service.Service
}

// decode reads a JSON body bounded to maxBody into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// serve runs an endpoint and writes its response or mapped error.
func (h *handler) serve(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	resp, err := ep(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeReq
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, h.ep.normalize, &req)
}

func (h *handler) handleCompareBrands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.serve(w, r, h.ep.compareBrands, &compareBrandsReq{A: q.Get("a"), B: q.Get("b")})
}

func (h *handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchReq
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, h.ep.match, &req)
}

func (h *handler) handleMatchBatch(w http.ResponseWriter, r *http.Request) {
	var req matchBatchReq
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, h.ep.matchBatch, &req)
}

func (h *handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyReq
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, h.ep.classify, &req)
}

func (h *handler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	var req candidatesReq
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, h.ep.candidates, &req)
}

func (h *handler) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req addEntryReq
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.ep.addEntry(r.Context(), &req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.ep.stats, nil)
}

func (h *handler) handleRules(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.ep.rules, nil)
}

func (h *handler) handleReviews(w http.ResponseWriter, r *http.Request) {
	req := &reviewsReq{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}
	h.serve(w, r, h.ep.reviews, req)
}

func (h *handler) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	var req resolveReviewReq
	if !decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	h.serve(w, r, h.ep.resolveReview, &req)
}

// --- health ---

type healthResponse struct {
	Status       string `json:"status"`
	RulesVersion string `json:"rules_version"`
	Entries      int    `json:"entries"`
	Store        bool   `json:"store"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		RulesVersion: h.svc.Rules().Version,
		Entries:      h.svc.Stats().Entries,
		Store:        h.svc.HasStore(),
	})
}

// --- helpers ---

func isClientError(err error) bool {
	return errors.Is(err, service.ErrInvalidListing) ||
		errors.Is(err, service.ErrNoCategory) ||
		errors.Is(err, errBadRequest)
}

func errorStatus(err error) int {
	switch {
	case isClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoStore):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// cors is a simple CORS middleware for browser-based clients.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
