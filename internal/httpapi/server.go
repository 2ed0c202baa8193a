// Package httpapi provides the HTTP API for semidx.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/embeddings"
	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/reindex"
	"github.com/fyrsmithlabs/semidx/internal/reliability"
	"github.com/fyrsmithlabs/semidx/internal/search"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// Server exposes search and reindex operations over HTTP.
type Server struct {
	echo      *echo.Echo
	engine    *search.Engine
	provider  embeddings.Provider
	staleness *reliability.StalenessDetector
	drift     *reliability.DriftDetector
	manager   *reindex.Manager
	store     vectorstore.Store
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server. staleness, drift and manager may be
// nil, in which case the matching reliability endpoints return 404.
func NewServer(engine *search.Engine, store vectorstore.Store, provider embeddings.Provider, staleness *reliability.StalenessDetector, drift *reliability.DriftDetector, manager *reindex.Manager, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9180,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		engine:    engine,
		provider:  provider,
		staleness: staleness,
		drift:     drift,
		manager:   manager,
		store:     store,
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/search/multi", s.handleMultiSearch)
	v1.GET("/records/:id/similar", s.handleSimilar)
	v1.GET("/records/:id/recommendations", s.handleRecommendations)

	if s.staleness != nil {
		v1.POST("/records/:id/stale", s.handleMarkStale)
		v1.DELETE("/records/:id/stale", s.handleClearStale)
	}
	if s.drift != nil && s.provider != nil {
		v1.POST("/records/:id/drift", s.handleDrift)
	}
	if s.manager != nil {
		v1.GET("/reindex/status", s.handleReindexStatus)
		v1.POST("/records/:id/reindex", s.handleQueueReindex)
	}
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query    string            `json:"query"`
	Types    []string          `json:"types,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TopK     int               `json:"top_k,omitempty"`
	MinScore float32           `json:"min_score,omitempty"`
	Explain  bool              `json:"explain,omitempty"`
}

// MultiSearchRequest is the request body for POST /api/v1/search/multi.
type MultiSearchRequest struct {
	Queries  []string          `json:"queries"`
	Types    []string          `json:"types,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TopK     int               `json:"top_k,omitempty"`
}

// SearchHit is one result entry.
type SearchHit struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Score       float32           `json:"score"`
	Rank        int               `json:"rank"`
	Explanation string            `json:"explanation,omitempty"`
}

// SearchResponse is the response body for the search endpoints.
type SearchResponse struct {
	Hits []SearchHit `json:"hits"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
}

// ReindexStatusResponse is the response body for GET /api/v1/reindex/status.
type ReindexStatusResponse struct {
	Pending int `json:"pending"`
}

// DriftRequest is the request body for POST /api/v1/records/:id/drift.
type DriftRequest struct {
	Text string `json:"text"`
}

// DriftResponse reports a drift check and whether a reindex job was
// queued as a result.
type DriftResponse struct {
	Drifted    bool    `json:"drifted"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Queued     bool    `json:"queued"`
}

func (s *Server) handleHealth(c echo.Context) error {
	count, err := s.store.Count(c.Request().Context(), nil)
	if err != nil {
		s.logger.Warn("health count failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Records: count})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results, err := s.engine.Search(c.Request().Context(), req.Query, filterFrom(req.Types, req.Metadata), req.TopK, req.MinScore)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	resp := SearchResponse{Hits: make([]SearchHit, 0, len(results))}
	for _, r := range results {
		hit := hitFrom(r)
		if req.Explain {
			hit.Explanation = search.Explain(req.Query, r)
		}
		resp.Hits = append(resp.Hits, hit)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMultiSearch(c echo.Context) error {
	var req MultiSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Queries) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "queries field is required")
	}

	results, err := s.engine.MultiQuerySearch(c.Request().Context(), req.Queries, filterFrom(req.Types, req.Metadata), req.TopK)
	if err != nil {
		s.logger.Error("multi-query search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	return c.JSON(http.StatusOK, responseFrom(results))
}

func (s *Server) handleSimilar(c echo.Context) error {
	id := c.Param("id")
	topK := intQuery(c, "top_k", 0)

	results, err := s.engine.FindSimilar(c.Request().Context(), id, nil, topK)
	if err != nil {
		s.logger.Error("find similar failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "find similar failed")
	}
	return c.JSON(http.StatusOK, responseFrom(results))
}

func (s *Server) handleRecommendations(c echo.Context) error {
	id := c.Param("id")
	kind := c.QueryParam("kind")
	if kind == "" {
		kind = search.KindSimilar
	}
	topK := intQuery(c, "top_k", 0)

	results, err := s.engine.Recommendations(c.Request().Context(), id, kind, topK)
	if err != nil {
		s.logger.Error("recommendations failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "recommendations failed")
	}
	return c.JSON(http.StatusOK, responseFrom(results))
}

func (s *Server) handleMarkStale(c echo.Context) error {
	id := c.Param("id")
	if err := s.staleness.MarkStale(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearStale(c echo.Context) error {
	id := c.Param("id")
	if err := s.staleness.ClearStale(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDrift(c echo.Context) error {
	id := c.Param("id")

	var req DriftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	ctx := c.Request().Context()
	vec, err := s.provider.EmbedQuery(ctx, req.Text)
	if err != nil {
		s.logger.Error("drift embedding failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "embedding failed")
	}

	result, err := s.drift.CheckDrift(ctx, id, vec)
	if err != nil {
		s.logger.Error("drift check failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "drift check failed")
	}

	resp := DriftResponse{
		Drifted:    result.HasDrifted,
		Similarity: result.Similarity,
		Threshold:  result.Threshold,
	}
	if result.HasDrifted && s.manager != nil {
		resp.Queued = s.manager.QueueForDrift(id, result.Similarity)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReindexStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, ReindexStatusResponse{Pending: s.manager.Queue().Len()})
}

func (s *Server) handleQueueReindex(c echo.Context) error {
	id := c.Param("id")
	if !s.manager.QueueReindex(id, memory.ReasonManualRequest) {
		return echo.NewHTTPError(http.StatusConflict, "record already queued")
	}
	return c.NoContent(http.StatusAccepted)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

func filterFrom(types []string, metadata map[string]string) *vectorstore.Filter {
	if len(types) == 0 && len(metadata) == 0 {
		return nil
	}
	f := &vectorstore.Filter{Metadata: metadata}
	for _, t := range types {
		f.Types = append(f.Types, memory.RecordType(t))
	}
	return f
}

func hitFrom(r memory.SearchResult) SearchHit {
	return SearchHit{
		ID:       r.Record.ID,
		Type:     string(r.Record.Type),
		Text:     r.Record.Text,
		Metadata: r.Record.Metadata,
		Score:    r.Score,
		Rank:     r.Rank,
	}
}

func responseFrom(results []memory.SearchResult) SearchResponse {
	resp := SearchResponse{Hits: make([]SearchHit, 0, len(results))}
	for _, r := range results {
		resp.Hits = append(resp.Hits, hitFrom(r))
	}
	return resp
}

func intQuery(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 0 {
		return def
	}
	return n
}
