package flight_test

import (
	"math"
	"testing"

	"example.com/uavlog/internal/flight"
	"example.com/uavlog/internal/samples"
)

func decodeSample(t *testing.T, name string, data []byte) *flight.Result {
	t.Helper()
	res, err := flight.Decode(writeFile(t, name, data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return res
}

func TestSummarizeArduSample(t *testing.T) {
	res := decodeSample(t, "flight.bin", samples.BuildArduFlight())
	sum := flight.Summarize(res)

	if sum.Firmware != "Ardu" {
		t.Fatalf("firmware = %q", sum.Firmware)
	}
	if sum.Rows != res.Table.Len() {
		t.Fatalf("rows = %d, want %d", sum.Rows, res.Table.Len())
	}
	if math.Abs(sum.Duration-1.9) > 1e-9 {
		t.Fatalf("duration = %f, want 1.9", sum.Duration)
	}
	if !sum.HasGPS || !sum.HasVibration || !sum.HasRates || sum.HasFlow {
		t.Fatalf("capability flags = %+v", sum)
	}
	if sum.MaxVibration != 7 {
		t.Fatalf("max vibration = %f, want 7", sum.MaxVibration)
	}
	if sum.VibeVerdict != flight.VibeVerdictNormal {
		t.Fatalf("verdict = %q, want normal", sum.VibeVerdict)
	}
	if sum.ClipCount != 1 {
		t.Fatalf("clip count = %f, want 1", sum.ClipCount)
	}
	if len(sum.Modes) != 2 {
		t.Fatalf("modes = %+v, want 2 segments", sum.Modes)
	}
}

func TestSummarizeEmptyResult(t *testing.T) {
	res := decodeSample(t, "flight.bin", nil)
	sum := flight.Summarize(res)

	if sum.Rows != 0 || sum.Duration != 0 {
		t.Fatalf("summary = %+v, want zero", sum)
	}
	if sum.VibeVerdict != flight.VibeVerdictNone {
		t.Fatalf("verdict = %q, want no-data", sum.VibeVerdict)
	}
	if sum.HasGPS || sum.HasVibration || sum.HasRates || sum.HasFlow {
		t.Fatalf("capability flags set on empty result: %+v", sum)
	}
}

func TestVibrationVerdictThresholds(t *testing.T) {
	build := func(level float32) []byte {
		var data []byte
		data = append(data, samples.DataFlashFMT(12, "VIBE", "Qfff", "TimeUS,VibeX,VibeY,VibeZ")...)
		payload := (&samples.DFPayload{}).Q(0).F(level).F(0).F(0).Bytes()
		data = append(data, samples.DataFlashRecord(12, payload)...)
		return data
	}

	cases := []struct {
		level   float32
		verdict string
	}{
		{10, flight.VibeVerdictNormal},
		{15, flight.VibeVerdictNormal},
		{20, flight.VibeVerdictWarning},
		{30, flight.VibeVerdictWarning},
		{45, flight.VibeVerdictDanger},
	}
	for _, c := range cases {
		res := decodeSample(t, "vibe.bin", build(c.level))
		sum := flight.Summarize(res)
		if sum.VibeVerdict != c.verdict {
			t.Errorf("level %.0f: verdict = %q, want %q", c.level, sum.VibeVerdict, c.verdict)
		}
	}
}
