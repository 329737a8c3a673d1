// Package chi exposes the search engine over HTTP.
package chi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/imaging"
	"github.com/lapidary-search/lapidary/internal/metrics"
	"github.com/lapidary-search/lapidary/internal/repository/artifacts"
	"github.com/lapidary-search/lapidary/internal/repository/results"
	healthuc "github.com/lapidary-search/lapidary/internal/usecase/health"
	searchuc "github.com/lapidary-search/lapidary/internal/usecase/search"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API server.
type Server struct {
	search        *searchuc.Service
	results       results.Store
	health        *healthuc.Service
	apiKeys       []string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	search *searchuc.Service,
	resultsStore results.Store,
	health *healthuc.Service,
	apiKeys []string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:  search,
		results: resultsStore,
		health:  health,
		apiKeys: apiKeys,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		indexUnavailableHandler,
		sentinelHandler(domain.ErrEmptySignalSet, http.StatusBadRequest, "empty_signal_set"),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, "vector_dim_mismatch"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, "embedding_provider_error"),
	}
	return s
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(BearerAuthMiddleware(s.apiKeys))

	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.Search)
		r.Get("/results/{label}", s.GetResults)
	})
	return r
}

// searchRequest is the POST /v1/search body. Exactly one query shape must
// be derivable: text, image, image+text, or audio.
type searchRequest struct {
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"` // base64
	ImageName string `json:"image_name,omitempty"`
	Audio     string `json:"audio,omitempty"` // base64
	AudioMIME string `json:"audio_mime,omitempty"`
}

type resultItem struct {
	Rank        int     `json:"rank"`
	Score       float64 `json:"score"`
	ProductID   string  `json:"product_id"`
	Path        string  `json:"path"`
	Description string  `json:"description,omitempty"`
}

type searchResponse struct {
	Label         string       `json:"label"`
	Query         string       `json:"query,omitempty"`
	Conflicted    bool         `json:"conflicted"`
	EmbeddingOnly []resultItem `json:"embedding_only"`
	Reranked      []resultItem `json:"reranked"`
	ArtifactDir   string       `json:"artifact_dir,omitempty"`
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	query, err := queryFromRequest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	res, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Label:         artifacts.SafeLabel(res.Label),
		Query:         res.Query,
		Conflicted:    res.Conflicted,
		EmbeddingOnly: itemsToResponse(res.EmbeddingOnly),
		Reranked:      itemsToResponse(res.Reranked),
		ArtifactDir:   res.ArtifactDir,
	})
}

// GetResults handles GET /v1/results/{label}.
func (s *Server) GetResults(w http.ResponseWriter, r *http.Request) {
	label := artifacts.SafeLabel(chi.URLParam(r, "label"))

	entry, err := s.results.Get(label)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// queryFromRequest maps the request body onto one query shape.
func queryFromRequest(req *searchRequest) (domain.Query, error) {
	if req.Audio != "" {
		if req.Text != "" || req.Image != "" {
			return nil, errors.New("audio cannot be combined with text or image")
		}
		audio, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			return nil, errors.New("audio must be base64-encoded")
		}
		if req.AudioMIME == "" {
			return nil, errors.New("audio_mime is required with audio")
		}
		return domain.AudioQuery{Audio: audio, MIME: req.AudioMIME}, nil
	}

	if req.Image != "" {
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return nil, errors.New("image must be base64-encoded")
		}
		img, err := imaging.Decode(data)
		if err != nil {
			return nil, errors.New("image is not a decodable image")
		}
		if req.Text != "" {
			return domain.ImageTextQuery{Image: img, Name: req.ImageName, Text: req.Text}, nil
		}
		return domain.ImageQuery{Image: img, Name: req.ImageName}, nil
	}

	if req.Text != "" {
		return domain.TextQuery{Text: req.Text}, nil
	}
	return nil, errors.New("one of text, image, or audio is required")
}

func itemsToResponse(ranked []domain.RankedResult) []resultItem {
	items := make([]resultItem, 0, len(ranked))
	for _, r := range ranked {
		items = append(items, resultItem{
			Rank:        r.Rank,
			Score:       r.RerankScore,
			ProductID:   r.ProductID,
			Path:        r.Path,
			Description: r.SemanticDescription,
		})
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrEmptySignalSet,
		domain.ErrIndexUnavailable,
		domain.ErrNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler matching a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// indexUnavailableHandler reports a missing catalog index with the full
// actionable message including the collection name.
func indexUnavailableHandler(w http.ResponseWriter, err error, _ string) bool {
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		return false
	}
	var iu *domain.IndexUnavailableError
	if errors.As(err, &iu) {
		writeError(w, http.StatusConflict, "index_unavailable", iu.Error())
		return true
	}
	writeError(w, http.StatusConflict, "index_unavailable", domain.ErrIndexUnavailable.Error())
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
