package server

import (
	"net/http"
	"strings"
)

// corsPolicy allows any origin with a fixed set of methods and headers.
type corsPolicy struct {
	methods string
	headers string
}

func newCORS(methods, headers []string) corsPolicy {
	return corsPolicy{
		methods: strings.Join(methods, ", "),
		headers: strings.Join(headers, ", "),
	}
}

// wrap answers preflight requests and decorates every other response.
func (c corsPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", c.methods)
			h.Set("Access-Control-Allow-Headers", c.headers)
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
