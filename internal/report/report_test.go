package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/uavlog/internal/flight"
	"example.com/uavlog/internal/flightmode"
	"example.com/uavlog/internal/report"
	"example.com/uavlog/internal/samples"
)

func sampleSummary(t *testing.T) (flight.Summary, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flight.bin")
	if err := os.WriteFile(path, samples.BuildArduFlight(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	res, err := flight.Decode(path)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return flight.Summarize(res), strings.Repeat("ab12", 16)
}

func TestSummaryJSONRoundTrip(t *testing.T) {
	sum, _ := sampleSummary(t)
	out := filepath.Join(t.TempDir(), "summary.json")
	if err := report.SaveSummaryJSON(sum, out); err != nil {
		t.Fatalf("SaveSummaryJSON: %v", err)
	}
	got, err := report.LoadSummaryJSON(out)
	if err != nil {
		t.Fatalf("LoadSummaryJSON: %v", err)
	}
	if got.Firmware != sum.Firmware || got.Rows != sum.Rows || got.Duration != sum.Duration {
		t.Fatalf("loaded summary = %+v, want %+v", got, sum)
	}
	if len(got.Modes) != len(sum.Modes) {
		t.Fatalf("loaded modes = %+v, want %+v", got.Modes, sum.Modes)
	}
}

func TestLoadSummaryMissingFile(t *testing.T) {
	if _, err := report.LoadSummaryJSON(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("want error for missing summary file")
	}
}

func TestLogHashToQR(t *testing.T) {
	png, err := report.LogHashToQR("  ab12cd34  ", 64)
	if err != nil {
		t.Fatalf("LogHashToQR: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("output is not a PNG, starts with % x", png[:4])
	}
	// Sanitizing uppercases and strips non-hex, so mixed-case and spaced
	// inputs encode to the same image.
	same, err := report.LogHashToQR("AB12CD34", 64)
	if err != nil {
		t.Fatalf("LogHashToQR: %v", err)
	}
	if !bytes.Equal(png, same) {
		t.Fatalf("equivalent hashes produced different codes")
	}
}

func TestLogHashToQRRejectsEmptyHash(t *testing.T) {
	for _, hash := range []string{"", "   ", "zzzz"} {
		if _, err := report.LogHashToQR(hash, 64); err == nil {
			t.Fatalf("hash %q: want error", hash)
		}
	}
}

func TestSaveFlightPDF(t *testing.T) {
	sum, sha := sampleSummary(t)
	out := filepath.Join(t.TempDir(), "flight.pdf")
	if err := report.SaveFlightPDF(sum, sha, out); err != nil {
		t.Fatalf("SaveFlightPDF: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF, starts with %q", data[:5])
	}
}

func TestSaveFlightPDFWithoutModes(t *testing.T) {
	sum := flight.Summary{Path: "empty.bin"}
	sum.Modes = []flightmode.Segment{}
	out := filepath.Join(t.TempDir(), "empty.pdf")
	if err := report.SaveFlightPDF(sum, "", out); err != nil {
		t.Fatalf("SaveFlightPDF: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("Stat: %v", err)
	}
}