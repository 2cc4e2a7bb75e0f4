package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Start()
	m.SetTotalBytes(1000)
	m.AddMessage(89)
	m.AddMessage(31)
	m.AddBytes(380)
	m.AddRows(20)
	m.IncResync()
	m.Stop()

	s := m.Snapshot()
	if s.Bytes != 500 {
		t.Fatalf("bytes = %d, want 500", s.Bytes)
	}
	if s.Messages != 2 {
		t.Fatalf("messages = %d, want 2", s.Messages)
	}
	if s.Rows != 20 {
		t.Fatalf("rows = %d, want 20", s.Rows)
	}
	if s.Resyncs != 1 {
		t.Fatalf("resyncs = %d, want 1", s.Resyncs)
	}
	if s.Duration <= 0 {
		t.Fatalf("duration = %v, want > 0", s.Duration)
	}
	if got := s.Completion(); got != 0.5 {
		t.Fatalf("completion = %v, want 0.5", got)
	}
	if s.ThroughputBytesPerSecond() <= 0 {
		t.Fatalf("throughput = %v, want > 0", s.ThroughputBytesPerSecond())
	}
}

func TestMetricsIgnoresNonPositiveCounts(t *testing.T) {
	m := NewMetrics()
	m.AddMessage(0)
	m.AddMessage(-1)
	m.AddBytes(-10)
	m.AddRows(0)
	s := m.Snapshot()
	if s.Bytes != 0 || s.Messages != 0 || s.Rows != 0 {
		t.Fatalf("snapshot = %+v, want all zero", s)
	}
}

func TestCompletionClamps(t *testing.T) {
	s := MetricsSnapshot{Bytes: 200, TotalBytes: 100}
	if got := s.Completion(); got != 1 {
		t.Fatalf("completion = %v, want clamped to 1", got)
	}
	s = MetricsSnapshot{Bytes: 100}
	if got := s.Completion(); got != 0 {
		t.Fatalf("completion without total = %v, want 0", got)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{1 << 20, "1.00 MiB"},
		{5 * (1 << 30), "5.00 GiB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSha256OfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sha, size, err := Sha256OfFile(path)
	if err != nil {
		t.Fatalf("Sha256OfFile: %v", err)
	}
	// sha256("abc") is a fixed vector.
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sha != want {
		t.Fatalf("sha = %s, want %s", sha, want)
	}
	if size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}
}

func TestSha256OfMissingFile(t *testing.T) {
	if _, _, err := Sha256OfFile(filepath.Join(t.TempDir(), "absent.bin")); err == nil {
		t.Fatalf("want error for missing file")
	}
}

func TestStartProgressPrinterStops(t *testing.T) {
	m := NewMetrics()
	m.Start()
	stop := StartProgressPrinter(discard{}, m, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	stop()
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
