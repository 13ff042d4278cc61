package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleFlushCache handles POST /api/cache/flush
func (s *Server) handleFlushCache(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.Flush(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, map[string]interface{}{"flushed": true})
}

// handleDeleteCacheKey handles DELETE /api/cache/keys/{key}
func (s *Server) handleDeleteCacheKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.admin.DeleteKey(r.Context(), key); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, map[string]interface{}{"key": key, "deleted": true})
}

// handleDeleteCachePattern handles DELETE /api/cache?pattern=
func (s *Server) handleDeleteCachePattern(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	deleted, err := s.admin.DeletePattern(r.Context(), pattern)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, map[string]interface{}{"pattern": pattern, "deleted": deleted})
}
