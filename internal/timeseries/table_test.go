package timeseries

import (
	"testing"
)

func TestAppendRowPadsNewColumns(t *testing.T) {
	tb := New()
	tb.AppendRow(0, map[string]Value{"a": Float(1)})
	tb.AppendRow(1, map[string]Value{"a": Float(2), "b": Float(10)})

	if tb.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tb.Len())
	}
	if v := tb.At("b", 0); v.Valid() {
		t.Fatalf("b[0] = %+v, want absent padding before first observation", v)
	}
	if v := tb.At("b", 1); !v.Valid() || v.Float() != 10 {
		t.Fatalf("b[1] = %+v, want 10", v)
	}
}

func TestSortByTimeIsStable(t *testing.T) {
	tb := New()
	tb.AppendRow(2, map[string]Value{"src": String("late")})
	tb.AppendRow(0, map[string]Value{"src": String("first")})
	tb.AppendRow(1, map[string]Value{"src": String("dup-a")})
	tb.AppendRow(1, map[string]Value{"src": String("dup-b")})
	tb.SortByTime()

	wantTimes := []float64{0, 1, 1, 2}
	wantSrc := []string{"first", "dup-a", "dup-b", "late"}
	for i := range wantTimes {
		if tb.Time(i) != wantTimes[i] {
			t.Fatalf("times[%d] = %f, want %f", i, tb.Time(i), wantTimes[i])
		}
		if got := tb.At("src", i).String(); got != wantSrc[i] {
			t.Fatalf("src[%d] = %q, want %q (equal timestamps must keep arrival order)", i, got, wantSrc[i])
		}
	}
}

func TestForwardFillNeverBackFills(t *testing.T) {
	tb := New()
	tb.AppendRow(0, map[string]Value{"a": Float(1)})
	tb.AppendRow(1, nil)
	tb.AppendRow(2, map[string]Value{"a": Float(3), "b": Float(7)})
	tb.AppendRow(3, nil)
	tb.ForwardFill()

	cases := []struct {
		col   string
		row   int
		valid bool
		want  float64
	}{
		{"a", 0, true, 1},
		{"a", 1, true, 1},
		{"a", 2, true, 3},
		{"a", 3, true, 3},
		// Cells before a column's first observation stay absent.
		{"b", 0, false, 0},
		{"b", 1, false, 0},
		{"b", 2, true, 7},
		{"b", 3, true, 7},
	}
	for _, c := range cases {
		v := tb.At(c.col, c.row)
		if v.Valid() != c.valid {
			t.Fatalf("%s[%d] valid = %v, want %v", c.col, c.row, v.Valid(), c.valid)
		}
		if c.valid && v.Float() != c.want {
			t.Fatalf("%s[%d] = %f, want %f", c.col, c.row, v.Float(), c.want)
		}
	}
}

func TestMergeAsOfTakesPriorNotFuture(t *testing.T) {
	base := New()
	for _, ts := range []float64{0, 0.5, 1.0, 1.5, 2.0} {
		base.AppendRow(ts, nil)
	}
	other := New()
	other.AppendRow(0.4, map[string]Value{"x": Float(10)})
	other.AppendRow(1.5, map[string]Value{"x": Float(20)})

	base.MergeAsOf(other)

	// Row 0 predates every sample; 1.0 must not see the future 1.5 sample;
	// an exact timestamp match counts as prior.
	cases := []struct {
		row   int
		valid bool
		want  float64
	}{
		{0, false, 0},
		{1, true, 10},
		{2, true, 10},
		{3, true, 20},
		{4, true, 20},
	}
	for _, c := range cases {
		v := base.At("x", c.row)
		if v.Valid() != c.valid {
			t.Fatalf("x[%d] valid = %v, want %v", c.row, v.Valid(), c.valid)
		}
		if c.valid && v.Float() != c.want {
			t.Fatalf("x[%d] = %f, want %f", c.row, v.Float(), c.want)
		}
	}
}

func TestStrideKeepsRowZero(t *testing.T) {
	tb := New()
	for i := 0; i < 10; i++ {
		tb.AppendRow(float64(i), map[string]Value{"a": Float(float64(i))})
	}
	out := tb.Stride(3)
	if out.Len() != 4 {
		t.Fatalf("Len = %d, want 4", out.Len())
	}
	for i, want := range []float64{0, 3, 6, 9} {
		if out.Time(i) != want {
			t.Fatalf("times[%d] = %f, want %f", i, out.Time(i), want)
		}
		if v := out.At("a", i); !v.Valid() || v.Float() != want {
			t.Fatalf("a[%d] = %+v, want %f", i, v, want)
		}
	}
	if thin := tb.Stride(0); thin.Len() != tb.Len() {
		t.Fatalf("stride 0 should keep every row, got %d of %d", thin.Len(), tb.Len())
	}
}

func TestRowOmitsInvalidCells(t *testing.T) {
	tb := New()
	tb.AppendRow(0, map[string]Value{"a": Float(1)})
	tb.AppendRow(1, map[string]Value{"b": String("LOITER")})

	row := tb.Row(1)
	if row["timestamp"] != 1.0 {
		t.Fatalf("timestamp = %v", row["timestamp"])
	}
	if _, ok := row["a"]; ok {
		t.Fatalf("row includes invalid cell: %v", row)
	}
	if row["b"] != "LOITER" {
		t.Fatalf("b = %v, want LOITER", row["b"])
	}
}

func TestFloatColumn(t *testing.T) {
	tb := New()
	tb.AppendRow(0, map[string]Value{"a": Float(1), "s": String("x")})
	tb.AppendRow(1, nil)

	floats, valid, err := tb.FloatColumn("a")
	if err != nil {
		t.Fatalf("FloatColumn: %v", err)
	}
	if len(floats) != 2 || floats[0] != 1 || !valid[0] || valid[1] {
		t.Fatalf("floats = %v valid = %v", floats, valid)
	}
	if _, _, err := tb.FloatColumn("missing"); err == nil {
		t.Fatalf("expected error for missing column")
	}
	if _, _, err := tb.FloatColumn("s"); err == nil {
		t.Fatalf("expected error for string column")
	}
}
