package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/uavlog/internal/common"
	"example.com/uavlog/internal/flight"
	"example.com/uavlog/internal/report"
	"example.com/uavlog/internal/store"
)

// Server coordinates HTTP handlers and manages temporary artifacts produced
// by decode requests.
type Server struct {
	artifacts  *ArtifactStore
	workDir    string
	uploadsDir string
	cache      *store.Store
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.StorageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(opts.StorageDir, "uavlogd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	var cache *store.Store
	if opts.CachePath != "" {
		cache = store.New(opts.CachePath)
	}
	s := &Server{
		artifacts:  &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:    workDir,
		uploadsDir: uploadsDir,
		cache:      cache,
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			common.Logf("close cache: %v", err)
		}
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

// resolvePath accepts either an artifact id returned from /upload or a path
// on the daemon's filesystem.
func (s *Server) resolvePath(token string) (string, string, error) {
	if token == "" {
		return "", "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, art.Name, nil
	}
	abs := token
	if !filepath.IsAbs(token) {
		abs = filepath.Clean(token)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", "", err
	}
	return abs, filepath.Base(abs), nil
}

// decodedFlight is a decode result materialized into row maps, cached-friendly.
type decodedFlight struct {
	summary flight.Summary
	rows    []map[string]any
	sha     string
}

// decodeCached decodes the given log, going through the SQLite cache when one
// is configured. The decoded file keeps its original display name so the
// summary reads naturally even when the bytes came from an upload temp file.
func (s *Server) decodeCached(ctx context.Context, path, name string) (decodedFlight, error) {
	var sha string
	var size int64
	if s.cache != nil {
		var err error
		sha, size, err = common.Sha256OfFile(path)
		if err != nil {
			return decodedFlight{}, fmt.Errorf("hash %s: %w", path, err)
		}
		cached, ok, err := s.cache.Get(ctx, sha)
		if err != nil {
			common.Logf("cache get %s: %v", sha, err)
		} else if ok {
			return decodedFlight{summary: cached.Summary, rows: cached.Rows, sha: sha}, nil
		}
	}
	res, err := flight.Decode(path)
	if err != nil {
		return decodedFlight{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if name != "" {
		res.Path = name
	}
	sum := flight.Summarize(res)
	rows := make([]map[string]any, 0, res.Table.Len())
	for i := 0; i < res.Table.Len(); i++ {
		rows = append(rows, res.Table.Row(i))
	}
	if s.cache != nil && !res.Empty() {
		if err := s.cache.Put(ctx, sha, size, res, sum); err != nil {
			common.Logf("cache put %s: %v", sha, err)
		}
	}
	return decodedFlight{summary: sum, rows: rows, sha: sha}, nil
}

type decodeRequest struct {
	File   string `json:"file"`
	Stride int    `json:"stride"`
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.File) == "" {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	path, name, err := s.resolvePath(req.File)
	if err != nil {
		http.Error(w, fmt.Sprintf("file resolve: %v", err), http.StatusBadRequest)
		return
	}
	dec, err := s.decodeCached(r.Context(), path, name)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode: %v", err), http.StatusInternalServerError)
		return
	}
	stride := req.Stride
	if stride <= 0 {
		stride = 1
	}
	writer := NewNDJSONWriter(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	written := 0
	for i := 0; i < len(dec.rows); i += stride {
		if err := writer.WriteRow(dec.rows[i]); err != nil {
			return
		}
		written++
	}
	tail := struct {
		Type    string         `json:"type"`
		Summary flight.Summary `json:"summary"`
		Rows    int            `json:"rows"`
	}{
		Type:    "summary",
		Summary: dec.summary,
		Rows:    written,
	}
	_ = writer.WriteObject(tail)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.File) == "" {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	path, name, err := s.resolvePath(req.File)
	if err != nil {
		http.Error(w, fmt.Sprintf("file resolve: %v", err), http.StatusBadRequest)
		return
	}
	dec, err := s.decodeCached(r.Context(), path, name)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dec.summary)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.File) == "" {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	path, name, err := s.resolvePath(req.File)
	if err != nil {
		http.Error(w, fmt.Sprintf("file resolve: %v", err), http.StatusBadRequest)
		return
	}
	dec, err := s.decodeCached(r.Context(), path, name)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode: %v", err), http.StatusInternalServerError)
		return
	}
	sha := dec.sha
	if sha == "" {
		if sha, _, err = common.Sha256OfFile(path); err != nil {
			http.Error(w, fmt.Sprintf("hash: %v", err), http.StatusInternalServerError)
			return
		}
	}
	jsonPath, err := s.tempPath("flight-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("summary temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveSummaryJSON(dec.summary, jsonPath); err != nil {
		http.Error(w, fmt.Sprintf("write summary: %v", err), http.StatusInternalServerError)
		return
	}
	pdfPath, err := s.tempPath("flight-*.pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("pdf temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveFlightPDF(dec.summary, sha, pdfPath); err != nil {
		http.Error(w, fmt.Sprintf("write pdf: %v", err), http.StatusInternalServerError)
		return
	}
	jsonArt, err := s.addArtifact(jsonPath, "flight_report.json", "application/json", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register summary: %v", err), http.StatusInternalServerError)
		return
	}
	pdfArt, err := s.addArtifact(pdfPath, "flight_report.pdf", "application/pdf", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register pdf: %v", err), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Summary   flight.Summary `json:"summary"`
		Sha256    string         `json:"sha256"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}{
		Summary: dec.summary,
		Sha256:  sha,
		Artifacts: []ArtifactRef{
			toRef(jsonArt),
			toRef(pdfArt),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cache == nil {
		writeJSON(w, http.StatusOK, []flight.Summary{})
		return
	}
	flights, err := s.cache.List(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("list flights: %v", err), http.StatusInternalServerError)
		return
	}
	if flights == nil {
		flights = []flight.Summary{}
	}
	writeJSON(w, http.StatusOK, flights)
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".bin", ".ulg":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}
