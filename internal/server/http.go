package server

import (
	"io"
	"net/http"
)

// HTTPConfig configures the health and static file server.
type HTTPConfig struct {
	Addr      string
	StaticDir string
}

// NewHTTPServer serves GET /health and, when StaticDir is set, the files
// under it at /static/ with caching disabled.
func NewHTTPServer(cfg HTTPConfig) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "OK")
	})
	if cfg.StaticDir != "" {
		files := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir)))
		mux.Handle("GET /static/", noCache(files))
	}
	return newServer("http", cfg.Addr, mux)
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store")
		next.ServeHTTP(w, r)
	})
}
