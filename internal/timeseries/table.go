package timeseries

import (
	"fmt"
	"sort"
)

// Kind discriminates the storage type of a column.
type Kind uint8

const (
	KindFloat Kind = iota
	KindString
)

// Value is a single cell. The zero Value is "absent": a cell that was never
// observed, which is distinct from an observed zero.
type Value struct {
	kind Kind
	f    float64
	s    string
	ok   bool
}

// Float wraps a float cell value.
func Float(v float64) Value {
	return Value{kind: KindFloat, f: v, ok: true}
}

// String wraps a string cell value.
func String(s string) Value {
	return Value{kind: KindString, s: s, ok: true}
}

func (v Value) Valid() bool { return v.ok }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Float() float64 { return v.f }

func (v Value) String() string { return v.s }

type column struct {
	kind    Kind
	floats  []float64
	strings []string
	valid   []bool
}

func newColumn(kind Kind, rows int) *column {
	c := &column{kind: kind, valid: make([]bool, rows)}
	switch kind {
	case KindString:
		c.strings = make([]string, rows)
	default:
		c.floats = make([]float64, rows)
	}
	return c
}

func (c *column) append(v Value) {
	c.valid = append(c.valid, v.ok)
	switch c.kind {
	case KindString:
		c.strings = append(c.strings, v.s)
	default:
		c.floats = append(c.floats, v.f)
	}
}

func (c *column) at(i int) Value {
	if i < 0 || i >= len(c.valid) || !c.valid[i] {
		return Value{kind: c.kind}
	}
	switch c.kind {
	case KindString:
		return Value{kind: KindString, s: c.strings[i], ok: true}
	default:
		return Value{kind: KindFloat, f: c.floats[i], ok: true}
	}
}

func (c *column) set(i int, v Value) {
	c.valid[i] = v.ok
	switch c.kind {
	case KindString:
		c.strings[i] = v.s
	default:
		c.floats[i] = v.f
	}
}

func (c *column) reorder(perm []int) {
	valid := make([]bool, len(perm))
	for i, j := range perm {
		valid[i] = c.valid[j]
	}
	c.valid = valid
	switch c.kind {
	case KindString:
		strs := make([]string, len(perm))
		for i, j := range perm {
			strs[i] = c.strings[j]
		}
		c.strings = strs
	default:
		floats := make([]float64, len(perm))
		for i, j := range perm {
			floats[i] = c.floats[j]
		}
		c.floats = floats
	}
}

// Table is the unified time series: one timestamp vector plus named columns of
// equal length. Cells carry an explicit validity flag so a forward-filled or
// never-observed cell is never confused with a recorded zero.
type Table struct {
	times []float64
	order []string
	cols  map[string]*column
}

func New() *Table {
	return &Table{cols: make(map[string]*column)}
}

func (t *Table) Len() int {
	return len(t.times)
}

// Columns returns the column names in first-appearance order, timestamp
// excluded.
func (t *Table) Columns() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

func (t *Table) Time(i int) float64 {
	return t.times[i]
}

// At returns the cell for column name at row i. Absent columns and invalid
// cells both come back as an invalid Value.
func (t *Table) At(name string, i int) Value {
	c, ok := t.cols[name]
	if !ok {
		return Value{}
	}
	return c.at(i)
}

// Set overwrites the cell for an existing or new column at row i.
func (t *Table) Set(name string, i int, v Value) {
	c := t.ensureColumn(name, v.kind)
	c.set(i, v)
}

func (t *Table) ensureColumn(name string, kind Kind) *column {
	c, ok := t.cols[name]
	if !ok {
		c = newColumn(kind, len(t.times))
		t.cols[name] = c
		t.order = append(t.order, name)
	}
	return c
}

// AppendRow adds one row at the given timestamp. Columns not named in values
// get an absent cell; columns seen for the first time are padded with absent
// cells for all earlier rows.
func (t *Table) AppendRow(ts float64, values map[string]Value) {
	for name, v := range values {
		if !v.ok {
			continue
		}
		t.ensureColumn(name, v.kind)
	}
	t.times = append(t.times, ts)
	for _, name := range t.order {
		t.cols[name].append(values[name])
	}
}

// SortByTime orders rows ascending by timestamp. The sort is stable: rows
// sharing a timestamp keep their arrival order.
func (t *Table) SortByTime() {
	perm := make([]int, len(t.times))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return t.times[perm[a]] < t.times[perm[b]]
	})
	times := make([]float64, len(perm))
	for i, j := range perm {
		times[i] = t.times[j]
	}
	t.times = times
	for _, c := range t.cols {
		c.reorder(perm)
	}
}

// ForwardFill propagates the last valid value of every column into later
// invalid cells. Cells before a column's first observation stay absent; no
// column is ever back-filled.
func (t *Table) ForwardFill() {
	for _, c := range t.cols {
		last := Value{}
		for i := 0; i < len(c.valid); i++ {
			if c.valid[i] {
				last = c.at(i)
				continue
			}
			if last.ok {
				c.set(i, last)
			}
		}
	}
}

// MergeAsOf attaches every column of other to t using nearest-prior-match
// semantics: row i of t receives other's values from the latest row at or
// before t's timestamp, never from a future row. Both tables must already be
// time sorted.
func (t *Table) MergeAsOf(other *Table) {
	if other == nil || other.Len() == 0 {
		return
	}
	for _, name := range other.order {
		src := other.cols[name]
		dst := t.ensureColumn(name, src.kind)
		j := -1
		for i := 0; i < len(t.times); i++ {
			for j+1 < len(other.times) && other.times[j+1] <= t.times[i] {
				j++
			}
			if j >= 0 {
				dst.set(i, src.at(j))
			}
		}
	}
}

// Stride returns a copy keeping every nth row, row 0 included. Used to thin
// dense tables before rendering or export.
func (t *Table) Stride(n int) *Table {
	if n <= 1 {
		n = 1
	}
	out := New()
	for i := 0; i < t.Len(); i += n {
		out.AppendRow(t.times[i], t.rowValues(i))
	}
	return out
}

func (t *Table) rowValues(i int) map[string]Value {
	values := make(map[string]Value, len(t.order))
	for _, name := range t.order {
		if v := t.cols[name].at(i); v.ok {
			values[name] = v
		}
	}
	return values
}

// Row materializes row i as a JSON-friendly map holding only valid cells.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.order)+1)
	row["timestamp"] = t.times[i]
	for _, name := range t.order {
		v := t.cols[name].at(i)
		if !v.ok {
			continue
		}
		switch v.kind {
		case KindString:
			row[name] = v.s
		default:
			row[name] = v.f
		}
	}
	return row
}

// FloatColumn copies out a column's float values along with the validity mask.
func (t *Table) FloatColumn(name string) ([]float64, []bool, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, nil, fmt.Errorf("no column %q", name)
	}
	if c.kind != KindFloat {
		return nil, nil, fmt.Errorf("column %q is not numeric", name)
	}
	floats := make([]float64, len(c.floats))
	copy(floats, c.floats)
	valid := make([]bool, len(c.valid))
	copy(valid, c.valid)
	return floats, valid, nil
}
