// Package server provides the HTTP API over the aggregation service.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"threatfeed/internal/config"
	"threatfeed/internal/database"
	"threatfeed/internal/feed"
	"threatfeed/internal/model"
	"threatfeed/internal/opml"
)

// Server is the main HTTP server. Every endpoint answers with a JSON
// envelope: {"status":"ok",...} or {"status":"error","error":...}. Errors
// never carry partial data; an empty match set is an ok response.
type Server struct {
	store   database.Store
	service *feed.Service
	config  *config.Config
	router  chi.Router
	log     *logrus.Entry
}

// New creates a new server.
func New(store database.Store, service *feed.Service, cfg *config.Config, log *logrus.Entry) *Server {
	s := &Server{
		store:   store,
		service: service,
		config:  cfg,
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", s.handleSync)
		r.Get("/articles", s.handleArticles)
		r.Get("/stats", s.handleStats)
		r.Get("/sources", s.handleListSources)
		r.Post("/sources", s.handleCreateSource)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})
	r.Get("/rss.xml", s.handleRSS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.router = r
}

// Router returns the chi router for mounting into an http.Server.
func (s *Server) Router() chi.Router {
	return s.router
}

// --- Handlers ---

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.SyncAllSources(r.Context())
	if err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	s.ok(w, map[string]any{"results": results})
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseArticleFilter(r.URL.Query())
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	page, err := s.service.GetArticles(r.Context(), filter)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, map[string]any{"articles": page.Articles, "pagination": page.Pagination})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetStats(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, map[string]any{"stats": stats})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if sources == nil {
		sources = []model.Source{}
	}
	s.ok(w, map[string]any{"sources": sources})
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		FeedURL string `json:"feed_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.FeedURL = strings.TrimSpace(req.FeedURL)
	if req.Name == "" || req.FeedURL == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("name and feed_url are required"))
		return
	}
	if _, err := url.ParseRequestURI(req.FeedURL); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid feed_url"))
		return
	}

	id, err := s.store.CreateSource(r.Context(), req.Name, req.FeedURL)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, map[string]any{"id": id})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("no file provided"))
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	imported := 0
	for _, entry := range entries {
		_, isNew, err := s.store.GetOrCreateSource(r.Context(), entry.Name, entry.URL)
		if err != nil {
			s.log.WithError(err).WithField("url", entry.URL).Warn("import: skipping source")
			continue
		}
		if isNew {
			imported++
		}
	}
	s.ok(w, map[string]any{"imported": imported, "total": len(entries)})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	data, err := opml.Export(s.config.FeedTitle+" sources", sources)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=threatfeed-sources.opml")
	w.Write(data)
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.GetArticles(r.Context(), model.ArticleFilter{Limit: 50})
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	out, err := GenerateRSSFeed(page.Articles, s.config)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(out))
}

// --- Envelope helpers ---

func (s *Server) ok(w http.ResponseWriter, fields map[string]any) {
	payload := map[string]any{"status": "ok"}
	for k, v := range fields {
		payload[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("encode response")
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "error",
		"error":  err.Error(),
	})
}

// --- Query parsing ---

func parseArticleFilter(q url.Values) (model.ArticleFilter, error) {
	filter := model.ArticleFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		SortBy: q.Get("sort"),
	}
	filter.SortAscending = strings.EqualFold(q.Get("order"), "asc")

	var err error
	if filter.CategoryIDs, err = parseIDList(q.Get("category_ids")); err != nil {
		return filter, fmt.Errorf("invalid category_ids: %w", err)
	}
	if filter.SourceIDs, err = parseIDList(q.Get("source_ids")); err != nil {
		return filter, fmt.Errorf("invalid source_ids: %w", err)
	}
	if filter.PublishedAfter, err = parseTimePtr(q.Get("from")); err != nil {
		return filter, fmt.Errorf("invalid from: %w", err)
	}
	if filter.PublishedBefore, err = parseTimePtr(q.Get("to")); err != nil {
		return filter, fmt.Errorf("invalid to: %w", err)
	}
	if filter.Featured, err = parseBoolPtr(q.Get("featured")); err != nil {
		return filter, fmt.Errorf("invalid featured: %w", err)
	}
	if filter.Trending, err = parseBoolPtr(q.Get("trending")); err != nil {
		return filter, fmt.Errorf("invalid trending: %w", err)
	}
	if filter.Breaking, err = parseBoolPtr(q.Get("breaking")); err != nil {
		return filter, fmt.Errorf("invalid breaking: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			return filter, fmt.Errorf("invalid limit: %w", err)
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			return filter, fmt.Errorf("invalid offset: %w", err)
		}
	}
	return filter, nil
}

func parseIDList(value string) ([]int64, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseBoolPtr(value string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func parseTimePtr(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := dateparse.ParseAny(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
