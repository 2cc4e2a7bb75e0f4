package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/uavlog/internal/flight"
	"example.com/uavlog/internal/samples"
)

func newTestServer(t *testing.T, withCache bool) (*Server, *httptest.Server) {
	t.Helper()
	opts := Options{StorageDir: t.TempDir()}
	if withCache {
		opts.CachePath = filepath.Join(t.TempDir(), "flights.db")
	}
	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(NewRouter(s))
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func uploadLog(t *testing.T, ts *httptest.Server, name string, data []byte) string {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()
	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var out struct {
		Files []ArtifactRef `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if len(out.Files) != 1 {
		t.Fatalf("uploaded files = %d, want 1", len(out.Files))
	}
	if out.Files[0].Name != name {
		t.Fatalf("uploaded name = %q, want %q", out.Files[0].Name, name)
	}
	return out.Files[0].ID
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestDecodeStreamsRows(t *testing.T) {
	_, ts := newTestServer(t, false)
	id := uploadLog(t, ts, "flight.bin", samples.BuildArduFlight())

	resp := postJSON(t, ts.URL+"/decode", map[string]any{"file": id})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decode status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}

	var rows int
	var tail struct {
		Type    string         `json:"type"`
		Summary flight.Summary `json:"summary"`
		Rows    int            `json:"rows"`
	}
	sc := bufio.NewScanner(resp.Body)
	var last string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		rows++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rows < 2 {
		t.Fatalf("stream lines = %d, want at least data rows plus summary", rows)
	}
	if err := json.Unmarshal([]byte(last), &tail); err != nil {
		t.Fatalf("unmarshal tail: %v", err)
	}
	if tail.Type != "summary" {
		t.Fatalf("tail type = %q, want summary", tail.Type)
	}
	if tail.Rows != rows-1 {
		t.Fatalf("tail rows = %d, stream rows = %d", tail.Rows, rows-1)
	}
	if tail.Summary.Firmware != "Ardu" {
		t.Fatalf("firmware = %q, want Ardu", tail.Summary.Firmware)
	}

	var first map[string]any
	// Decode again to inspect the first row; the stream above was consumed.
	resp2 := postJSON(t, ts.URL+"/decode", map[string]any{"file": id})
	defer resp2.Body.Close()
	sc2 := bufio.NewScanner(resp2.Body)
	if !sc2.Scan() {
		t.Fatalf("no rows in second decode")
	}
	if err := json.Unmarshal(sc2.Bytes(), &first); err != nil {
		t.Fatalf("unmarshal first row: %v", err)
	}
	if _, ok := first["timestamp"]; !ok {
		t.Fatalf("first row missing timestamp: %v", first)
	}
}

func TestDecodeStrideSkipsRows(t *testing.T) {
	_, ts := newTestServer(t, false)
	id := uploadLog(t, ts, "flight.bin", samples.BuildArduFlight())

	countRows := func(stride int) int {
		payload := map[string]any{"file": id}
		if stride > 0 {
			payload["stride"] = stride
		}
		resp := postJSON(t, ts.URL+"/decode", payload)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		n := 0
		for sc.Scan() {
			n++
		}
		return n - 1 // trailing summary object
	}

	full := countRows(0)
	halved := countRows(2)
	if full <= 0 {
		t.Fatalf("full decode produced no rows")
	}
	want := (full + 1) / 2
	if halved != want {
		t.Fatalf("stride 2 rows = %d, want %d of %d", halved, want, full)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	_, ts := newTestServer(t, false)
	id := uploadLog(t, ts, "flight.ulg", samples.BuildPX4Flight())

	resp := postJSON(t, ts.URL+"/summary", map[string]any{"file": id})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	var sum flight.Summary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Firmware != "PX4" {
		t.Fatalf("firmware = %q, want PX4", sum.Firmware)
	}
	if sum.Rows == 0 {
		t.Fatalf("summary rows = 0")
	}
	if sum.Path != "flight.ulg" {
		t.Fatalf("summary path = %q, want upload display name", sum.Path)
	}
}

func TestSummaryRejectsMissingFile(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/summary", map[string]any{"file": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty file status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/summary", map[string]any{"file": "no-such-artifact"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown file status = %d, want 400", resp.StatusCode)
	}
}

func TestReportProducesArtifacts(t *testing.T) {
	_, ts := newTestServer(t, false)
	id := uploadLog(t, ts, "flight.bin", samples.BuildArduFlight())

	resp := postJSON(t, ts.URL+"/report", map[string]any{"file": id})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d", resp.StatusCode)
	}
	var out struct {
		Summary   flight.Summary `json:"summary"`
		Sha256    string         `json:"sha256"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode report response: %v", err)
	}
	if len(out.Sha256) != 64 {
		t.Fatalf("sha256 = %q", out.Sha256)
	}
	if len(out.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(out.Artifacts))
	}

	var pdfRef ArtifactRef
	for _, ref := range out.Artifacts {
		if ref.ContentType == "application/pdf" {
			pdfRef = ref
		}
	}
	if pdfRef.ID == "" {
		t.Fatalf("no pdf artifact in %v", out.Artifacts)
	}
	dl, err := http.Get(ts.URL + "/artifacts/" + pdfRef.ID)
	if err != nil {
		t.Fatalf("download artifact: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("artifact status = %d", dl.StatusCode)
	}
	head := make([]byte, 5)
	if _, err := dl.Body.Read(head); err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.HasPrefix(head, []byte("%PDF-")) {
		t.Fatalf("artifact does not look like a PDF: %q", head)
	}
}

func TestFlightsListsCachedDecodes(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/flights")
	if err != nil {
		t.Fatalf("flights: %v", err)
	}
	var flights []flight.Summary
	if err := json.NewDecoder(resp.Body).Decode(&flights); err != nil {
		t.Fatalf("decode flights: %v", err)
	}
	resp.Body.Close()
	if len(flights) != 0 {
		t.Fatalf("flights before decode = %d, want 0", len(flights))
	}

	id := uploadLog(t, ts, "flight.bin", samples.BuildArduFlight())
	sr := postJSON(t, ts.URL+"/summary", map[string]any{"file": id})
	sr.Body.Close()

	resp, err = http.Get(ts.URL + "/flights")
	if err != nil {
		t.Fatalf("flights: %v", err)
	}
	defer resp.Body.Close()
	flights = nil
	if err := json.NewDecoder(resp.Body).Decode(&flights); err != nil {
		t.Fatalf("decode flights: %v", err)
	}
	if len(flights) != 1 {
		t.Fatalf("flights after decode = %d, want 1", len(flights))
	}
	if flights[0].Firmware != "Ardu" {
		t.Fatalf("cached firmware = %q", flights[0].Firmware)
	}
}

func TestDecodeServesFromCache(t *testing.T) {
	s, ts := newTestServer(t, true)
	dir := t.TempDir()
	path := filepath.Join(dir, "flight.bin")
	if err := os.WriteFile(path, samples.BuildArduFlight(), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	first := postJSON(t, ts.URL+"/summary", map[string]any{"file": path})
	var sum1 flight.Summary
	if err := json.NewDecoder(first.Body).Decode(&sum1); err != nil {
		t.Fatalf("decode first summary: %v", err)
	}
	first.Body.Close()

	second := postJSON(t, ts.URL+"/summary", map[string]any{"file": path})
	var sum2 flight.Summary
	if err := json.NewDecoder(second.Body).Decode(&sum2); err != nil {
		t.Fatalf("decode second summary: %v", err)
	}
	second.Body.Close()

	if sum1.Rows != sum2.Rows || sum1.Duration != sum2.Duration {
		t.Fatalf("cached summary diverged: %+v vs %+v", sum1, sum2)
	}
	_ = s
}

func TestArtifactListAndMethodGuards(t *testing.T) {
	_, ts := newTestServer(t, false)
	uploadLog(t, ts, "flight.bin", samples.BuildArduFlight())

	resp, err := http.Get(ts.URL + "/artifacts")
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	defer resp.Body.Close()
	var refs []ArtifactRef
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(refs))
	}

	get, err := http.Get(ts.URL + "/decode")
	if err != nil {
		t.Fatalf("GET decode: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET decode status = %d, want 405", get.StatusCode)
	}
}
