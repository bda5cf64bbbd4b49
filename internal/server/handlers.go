package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/conneroisu/coffeefilter/internal/cache"
	"github.com/conneroisu/coffeefilter/internal/compiler"
	"github.com/conneroisu/coffeefilter/internal/version"
)

// entryInfo describes one cached artifact.
type entryInfo struct {
	Key                string    `json:"key"`
	RequestPath        string    `json:"request_path,omitempty"`
	Bytes              int       `json:"bytes"`
	SourceLastModified time.Time `json:"source_last_modified"`
	CompiledAt         time.Time `json:"compiled_at"`
}

type cacheResponse struct {
	Stats    cache.Stats           `json:"stats"`
	Compiler compiler.GatewayStats `json:"compiler"`
	Entries  []entryInfo           `json:"entries"`
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := version.Get()
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"version":   info.Short(),
		"checks": map[string]interface{}{
			"cache":    map[string]interface{}{"status": "healthy", "entries": s.cache.Len(), "capacity": s.cache.Capacity()},
			"compiler": map[string]interface{}{"status": "healthy", "waiting": s.gateway.Stats().Waiting},
			"reload":   map[string]interface{}{"status": "healthy", "clients": s.hub.count()},
		},
	}

	s.writeJSON(w, r, http.StatusOK, health)
}

// handleCache reports cache contents, or clears the cache on DELETE.
func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, r, http.StatusOK, cacheResponse{
			Stats:    s.cache.Stats(),
			Compiler: s.gateway.Stats(),
			Entries:  s.entries(),
		})

	case http.MethodDelete:
		n := s.cache.Len()
		s.cache.Clear()
		s.logger.Info(r.Context(), "Cache cleared", "entries", n)
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"message": "Cache cleared successfully",
			"cleared": n,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// entries lists cached artifacts by key.
func (s *Server) entries() []entryInfo {
	keys := s.cache.Keys()
	sort.Strings(keys)

	entries := make([]entryInfo, 0, len(keys))
	for _, key := range keys {
		artifact, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		requestPath, _ := s.resolver.RequestPath(key)
		entries = append(entries, entryInfo{
			Key:                key,
			RequestPath:        requestPath,
			Bytes:              artifact.Size(),
			SourceLastModified: artifact.SourceLastModified,
			CompiledAt:         artifact.CompiledAt,
		})
	}
	return entries
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}
