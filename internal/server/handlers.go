package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/app"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
)

const defaultListLimit = 100

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := &models.SearchQuery{Query: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	s.search(w, r, q)
}

func (s *Server) handleSearchBody(w http.ResponseWriter, r *http.Request) {
	var q models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.search(w, r, &q)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, q *models.SearchQuery) {
	s.logger.Debug("search request", zap.String("query", q.Query), zap.Int("limit", q.Limit))
	resp, err := s.app.Search(r.Context(), q)
	if errors.Is(err, app.ErrInvalidQuery) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	img, err := s.app.Storage().GetImage(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, img)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	images, err := s.app.Storage().ListImages(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list images failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if images == nil {
		images = []*models.Image{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"images": images, "offset": offset, "limit": limit})
}

type addImageRequest struct {
	Path  string `json:"path"`
	Index *bool  `json:"index,omitempty"`
}

// handleAddImage registers an image file and, unless index is false, embeds it right away.
func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	var req addImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	ctx := r.Context()
	img, err := s.app.Registrar().Register(ctx, req.Path)
	status := http.StatusCreated
	switch {
	case errors.Is(err, indexer.ErrAlreadyRegistered):
		status = http.StatusOK
	case err != nil:
		s.logger.Debug("register image failed", zap.String("path", req.Path), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Index == nil || *req.Index {
		mgr, err := s.app.Manager()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// A repeated add of an image that is already embedded must not append a second vector.
		if status == http.StatusOK && mgr.Contains(img.ID) {
			s.respondJSON(w, status, img)
			return
		}
		idx, err := s.app.Indexer()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := idx.IndexOne(ctx, img.ID, img.Path); err != nil {
			s.logger.Error("indexing failed", zap.String("image_id", img.ID), zap.Error(err))
			code := http.StatusInternalServerError
			if errors.Is(err, embedding.ErrModelUnavailable) {
				code = http.StatusServiceUnavailable
			}
			s.respondError(w, code, err.Error())
			return
		}
	}
	s.respondJSON(w, status, img)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	mgr, err := s.app.Manager()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reloaded, err := mgr.Refresh()
	if err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"reloaded": reloaded, "size": mgr.Size()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
