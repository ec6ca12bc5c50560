package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnKind distinguishes numeric columns from free-form text columns.
type ColumnKind int

const (
	// KindNumeric columns hold float64 cells.
	KindNumeric ColumnKind = iota
	// KindCategorical columns hold string cells.
	KindCategorical
)

func (k ColumnKind) String() string {
	if k == KindNumeric {
		return "numeric"
	}
	return "categorical"
}

// Column is one named column of a Frame. Valid[i] reports whether row i carries a value.
type Column struct {
	Name    string
	Kind    ColumnKind
	Floats  []float64
	Strings []string
	Valid   []bool
}

// NewNumericColumn builds a fully populated numeric column.
func NewNumericColumn(name string, values []float64) *Column {
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = true
	}
	return &Column{Name: name, Kind: KindNumeric, Floats: values, Valid: valid}
}

// NewCategoricalColumn builds a categorical column; empty strings are treated as absent.
func NewCategoricalColumn(name string, values []string) *Column {
	valid := make([]bool, len(values))
	for i, v := range values {
		valid[i] = v != ""
	}
	return &Column{Name: name, Kind: KindCategorical, Strings: values, Valid: valid}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	return len(c.Valid)
}

// Float returns the numeric value of row i. Categorical cells are parsed when possible.
func (c *Column) Float(i int) (float64, bool) {
	if i < 0 || i >= len(c.Valid) || !c.Valid[i] {
		return 0, false
	}
	if c.Kind == KindNumeric {
		return c.Floats[i], true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(c.Strings[i]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Text returns the string form of row i.
func (c *Column) Text(i int) (string, bool) {
	if i < 0 || i >= len(c.Valid) || !c.Valid[i] {
		return "", false
	}
	if c.Kind == KindCategorical {
		return c.Strings[i], true
	}
	return FormatFloat(c.Floats[i]), true
}

// Value returns row i as float64 or string, or nil when absent.
func (c *Column) Value(i int) any {
	if i < 0 || i >= len(c.Valid) || !c.Valid[i] {
		return nil
	}
	if c.Kind == KindNumeric {
		return c.Floats[i]
	}
	return c.Strings[i]
}

// Present returns the valid numeric cells in row order.
func (c *Column) Present() []float64 {
	out := make([]float64, 0, len(c.Valid))
	for i := range c.Valid {
		if v, ok := c.Float(i); ok {
			out = append(out, v)
		}
	}
	return out
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Valid: append([]bool(nil), c.Valid...)}
	if c.Floats != nil {
		out.Floats = append([]float64(nil), c.Floats...)
	}
	if c.Strings != nil {
		out.Strings = append([]string(nil), c.Strings...)
	}
	return out
}

func (c *Column) take(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Valid: make([]bool, len(rows))}
	if c.Kind == KindNumeric {
		out.Floats = make([]float64, len(rows))
	} else {
		out.Strings = make([]string, len(rows))
	}
	for j, i := range rows {
		out.Valid[j] = c.Valid[i]
		if c.Kind == KindNumeric {
			out.Floats[j] = c.Floats[i]
		} else {
			out.Strings[j] = c.Strings[i]
		}
	}
	return out
}

// Frame is a column-oriented batch of lead records with an arbitrary schema.
type Frame struct {
	rows   int
	cols   []*Column
	byName map[string]int
}

// NewFrame creates an empty frame holding the given number of rows.
func NewFrame(rows int) *Frame {
	return &Frame{rows: rows, byName: make(map[string]int)}
}

// Len returns the row count.
func (f *Frame) Len() int {
	return f.rows
}

// Width returns the column count.
func (f *Frame) Width() int {
	return len(f.cols)
}

// Columns returns the columns in insertion order.
func (f *Frame) Columns() []*Column {
	return f.cols
}

// Names returns the column names in insertion order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with exactly the given name.
func (f *Frame) Column(name string) (*Column, bool) {
	idx, ok := f.byName[name]
	if !ok {
		return nil, false
	}
	return f.cols[idx], true
}

// LookupExact matches a column by normalized name only.
func (f *Frame) LookupExact(name string) (*Column, bool) {
	if match, ok := exactName(f.Names(), name); ok {
		return f.Column(match)
	}
	return nil, false
}

// Lookup is the canonical fuzzy accessor: exact normalized match first, then the
// first column whose normalized name contains the normalized query.
func (f *Frame) Lookup(name string) (*Column, bool) {
	if match, ok := lookupName(f.Names(), name); ok {
		return f.Column(match)
	}
	return nil, false
}

// lookupName resolves want against names in order: the exact name, the exact
// normalized name, then the first normalized name containing the normalized query.
func lookupName(names []string, want string) (string, bool) {
	if match, ok := exactName(names, want); ok {
		return match, true
	}
	norm := NormalizeName(want)
	if norm == "" {
		return "", false
	}
	for _, n := range names {
		if strings.Contains(NormalizeName(n), norm) {
			return n, true
		}
	}
	return "", false
}

func exactName(names []string, want string) (string, bool) {
	for _, n := range names {
		if n == want {
			return n, true
		}
	}
	norm := NormalizeName(want)
	if norm == "" {
		return "", false
	}
	for _, n := range names {
		if NormalizeName(n) == norm {
			return n, true
		}
	}
	return "", false
}

// Set adds the column or replaces an existing column with the same name.
func (f *Frame) Set(col *Column) error {
	if col == nil {
		return fmt.Errorf("nil column")
	}
	if col.Len() != f.rows {
		return fmt.Errorf("column %q has %d rows, frame has %d", col.Name, col.Len(), f.rows)
	}
	if idx, ok := f.byName[col.Name]; ok {
		f.cols[idx] = col
		return nil
	}
	f.byName[col.Name] = len(f.cols)
	f.cols = append(f.cols, col)
	return nil
}

// Drop removes the named column if present.
func (f *Frame) Drop(name string) {
	idx, ok := f.byName[name]
	if !ok {
		return
	}
	f.cols = append(f.cols[:idx], f.cols[idx+1:]...)
	f.reindex()
}

func (f *Frame) reindex() {
	f.byName = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.byName[c.Name] = i
	}
}

// Clone deep-copies the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{rows: f.rows, cols: make([]*Column, len(f.cols))}
	for i, c := range f.cols {
		out.cols[i] = c.Clone()
	}
	out.reindex()
	return out
}

// Take returns a new frame holding the given rows in the given order.
func (f *Frame) Take(rows []int) *Frame {
	out := &Frame{rows: len(rows), cols: make([]*Column, len(f.cols))}
	for i, c := range f.cols {
		out.cols[i] = c.take(rows)
	}
	out.reindex()
	return out
}

// Record returns row i as a map of present cells.
func (f *Frame) Record(i int) map[string]any {
	rec := make(map[string]any, len(f.cols))
	for _, c := range f.cols {
		if v := c.Value(i); v != nil {
			rec[c.Name] = v
		}
	}
	return rec
}

// NormalizeName lowercases a column name and strips all spaces.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
}

// FormatFloat renders a float without a trailing exponent or zero padding.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
