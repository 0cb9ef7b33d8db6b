// Package frame provides the small columnar table shared by the survey
// design builder and the estimators. A Table holds named float64 and
// string columns of equal length; rows are addressed by index. Tables
// are treated as immutable once handed to a design: mutating helpers
// return copies.
package frame

import (
	"fmt"
	"strings"
)

// Table is a column-oriented record table. Column order is preserved
// for deterministic output.
type Table struct {
	n     int
	order []string
	fcols map[string][]float64
	scols map[string][]string
}

// New returns an empty table. The first column added fixes the row count.
func New() *Table {
	return &Table{
		n:     -1,
		fcols: make(map[string][]float64),
		scols: make(map[string][]string),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t.n < 0 {
		return 0
	}
	return t.n
}

// Columns returns column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// HasColumn reports whether the named column exists (either type).
func (t *Table) HasColumn(name string) bool {
	_, f := t.fcols[name]
	_, s := t.scols[name]
	return f || s
}

func (t *Table) checkLen(name string, n int) error {
	if t.n >= 0 && n != t.n {
		return fmt.Errorf("column %q has %d rows, table has %d", name, n, t.n)
	}
	return nil
}

// AddFloat adds a float64 column. The slice is copied.
func (t *Table) AddFloat(name string, values []float64) error {
	if t.HasColumn(name) {
		return fmt.Errorf("column %q already exists", name)
	}
	if err := t.checkLen(name, len(values)); err != nil {
		return err
	}
	v := make([]float64, len(values))
	copy(v, values)
	t.fcols[name] = v
	t.order = append(t.order, name)
	if t.n < 0 {
		t.n = len(values)
	}
	return nil
}

// AddString adds a string column. The slice is copied.
func (t *Table) AddString(name string, values []string) error {
	if t.HasColumn(name) {
		return fmt.Errorf("column %q already exists", name)
	}
	if err := t.checkLen(name, len(values)); err != nil {
		return err
	}
	v := make([]string, len(values))
	copy(v, values)
	t.scols[name] = v
	t.order = append(t.order, name)
	if t.n < 0 {
		t.n = len(values)
	}
	return nil
}

// MustFloat is AddFloat that panics on error; intended for test fixtures
// and literal table construction where a length mismatch is a bug.
func (t *Table) MustFloat(name string, values []float64) *Table {
	if err := t.AddFloat(name, values); err != nil {
		panic(err)
	}
	return t
}

// MustString is AddString that panics on error.
func (t *Table) MustString(name string, values []string) *Table {
	if err := t.AddString(name, values); err != nil {
		panic(err)
	}
	return t
}

// Float returns the named float64 column. The returned slice is shared;
// callers must not mutate it.
func (t *Table) Float(name string) ([]float64, bool) {
	v, ok := t.fcols[name]
	return v, ok
}

// String returns the named string column. The returned slice is shared.
func (t *Table) String(name string) ([]string, bool) {
	v, ok := t.scols[name]
	return v, ok
}

// Label returns the row's value in the named column rendered as a
// string, for use in group keys and output rows.
func (t *Table) Label(name string, row int) (string, bool) {
	if v, ok := t.scols[name]; ok {
		return v[row], true
	}
	if v, ok := t.fcols[name]; ok {
		return fmt.Sprintf("%g", v[row]), true
	}
	return "", false
}

// SetFloat replaces or adds a float64 column, returning a copy of the
// table. The original is unchanged.
func (t *Table) SetFloat(name string, values []float64) (*Table, error) {
	if t.n >= 0 && len(values) != t.n {
		return nil, fmt.Errorf("column %q has %d rows, table has %d", name, len(values), t.n)
	}
	out := t.Clone()
	if _, exists := out.fcols[name]; exists {
		v := make([]float64, len(values))
		copy(v, values)
		out.fcols[name] = v
		return out, nil
	}
	if _, exists := out.scols[name]; exists {
		return nil, fmt.Errorf("column %q exists as string column", name)
	}
	if err := out.AddFloat(name, values); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := New()
	out.n = t.n
	out.order = make([]string, len(t.order))
	copy(out.order, t.order)
	for name, v := range t.fcols {
		c := make([]float64, len(v))
		copy(c, v)
		out.fcols[name] = c
	}
	for name, v := range t.scols {
		c := make([]string, len(v))
		copy(c, v)
		out.scols[name] = c
	}
	return out
}

// Select returns a new table containing the given rows, in order.
func (t *Table) Select(rows []int) *Table {
	out := New()
	out.n = len(rows)
	out.order = make([]string, len(t.order))
	copy(out.order, t.order)
	for name, v := range t.fcols {
		c := make([]float64, len(rows))
		for i, r := range rows {
			c[i] = v[r]
		}
		out.fcols[name] = c
	}
	for name, v := range t.scols {
		c := make([]string, len(rows))
		for i, r := range rows {
			c[i] = v[r]
		}
		out.scols[name] = c
	}
	return out
}

// Filter returns the row indexes for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) []int {
	var rows []int
	for i := 0; i < t.Len(); i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return rows
}

// keySep separates components of a composite group key. Unit separator:
// never appears in real column values.
const keySep = "\x1f"

// Key builds the composite group key for a row over the given columns.
// All columns must exist; callers filter requested columns beforehand.
func (t *Table) Key(row int, cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i], _ = t.Label(c, row)
	}
	return strings.Join(parts, keySep)
}

// SplitKey reverses Key.
func SplitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, keySep)
}

// Group is one group of rows sharing a composite key.
type Group struct {
	Key    string
	Labels []string // one per grouping column, in requested order
	Rows   []int
}

// GroupBy partitions rows by the composite key over cols, preserving
// first-appearance order. Empty cols yields a single group of all rows.
func (t *Table) GroupBy(cols []string) []Group {
	if len(cols) == 0 {
		all := make([]int, t.Len())
		for i := range all {
			all[i] = i
		}
		return []Group{{Rows: all}}
	}
	index := make(map[string]int)
	var groups []Group
	for i := 0; i < t.Len(); i++ {
		k := t.Key(i, cols)
		gi, ok := index[k]
		if !ok {
			gi = len(groups)
			index[k] = gi
			groups = append(groups, Group{Key: k, Labels: SplitKey(k)})
		}
		groups[gi].Rows = append(groups[gi].Rows, i)
	}
	return groups
}

// SumFloat sums the named column over the given rows.
func (t *Table) SumFloat(name string, rows []int) (float64, error) {
	v, ok := t.fcols[name]
	if !ok {
		return 0, fmt.Errorf("no float column %q", name)
	}
	var sum float64
	for _, r := range rows {
		sum += v[r]
	}
	return sum, nil
}
