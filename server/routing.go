package server

import (
	"net/http"
)

// Handler returns the HTTP handler with all routes registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs_to_run", s.corsMiddleware(s.HandleJobsToRun))  // Due list (GET)
	mux.HandleFunc("/v1/claim_job", s.corsMiddleware(s.HandleClaimJob))     // Claim (PATCH)
	mux.HandleFunc("/v1/unclaim_job", s.corsMiddleware(s.HandleUnclaimJob)) // Unclaim (PATCH)
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	mux.HandleFunc("/ws/jobs", s.HandleJobEvents) // Coordinator event feed
	return mux
}

// corsMiddleware adds CORS headers for allowed origins and answers preflight requests
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
