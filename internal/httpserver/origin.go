package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/origin"
)

// withOriginPolicy rejects cross-origin browser requests that the configured
// allow list (or the same-host default) does not permit. Requests without an
// Origin header are not from a browser page and pass through.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Origin"))
		if header == "" {
			next(w, r)
			return
		}

		normalized, host, ok := origin.Normalize(header)
		if !ok || !origin.Allowed(normalized, host, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")
		next(w, r)
	}
}
