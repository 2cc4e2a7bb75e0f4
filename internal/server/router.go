package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/decode", s.handleDecode)
	mux.HandleFunc("/summary", s.handleSummary)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/flights", s.handleFlights)
	mux.HandleFunc("/artifacts", s.handleArtifactList)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	return mux
}
