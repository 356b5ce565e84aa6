package gazette

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/kozlony/gazette/internal/store"
	"github.com/hazyhaar/kozlony/kit"
	"github.com/hazyhaar/kozlony/shield"
)

// Handler returns the read-only HTTP API:
//
//	GET /health
//	GET /api/documents/new
//	GET /api/documents/search?q=&limit=
//	GET /api/documents/{hash}
//	GET /api/documents/{hash}/matches?keyword=
//	GET /api/stats
func (s *Service) Handler() http.Handler {
	e := s.Endpoints()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack() {
		r.Use(mw)
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := kit.WithTransport(r.Context(), "http")
			ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/documents", func(r chi.Router) {
		r.Get("/new", serve(e.ListNew, func(*http.Request) any { return nil }))
		r.Get("/search", serve(e.Search, func(r *http.Request) any {
			return SearchRequest{Query: r.URL.Query().Get("q"), Limit: queryInt(r, "limit", 20)}
		}))
		r.Get("/{hash}", serve(e.Get, func(r *http.Request) any {
			return HashRequest{Hash: chi.URLParam(r, "hash")}
		}))
		r.Get("/{hash}/matches", serve(e.Matches, func(r *http.Request) any {
			return MatchesRequest{Hash: chi.URLParam(r, "hash"), Keyword: r.URL.Query().Get("keyword")}
		}))
	})
	r.Get("/api/stats", serve(e.Stats, func(*http.Request) any { return nil }))
	return r
}

func serve(e kit.Endpoint, decode func(*http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := e(r.Context(), decode(r))
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, store.ErrInvalidQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
