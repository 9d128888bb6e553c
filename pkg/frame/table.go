// Package frame provides the columnar table used throughout lagcast.
//
// A Table is an ordered set of equally long, typed columns. Three column kinds
// are supported:
//   - Float: numeric values, NaN marks a null
//   - Time:  timestamps, the zero time marks a null
//   - String: categorical values, the empty string marks a null
//
// Tables are values owned by whoever holds them. Every operation that changes
// the shape of a table (Take, Clone, Drop on a clone) returns fresh column
// storage, so a caller's table is never mutated by the pipeline.
package frame

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/lagcast/pkg/tserrors"
)

// Kind is the storage type of a column.
type Kind int

const (
	Float Kind = iota
	Time
	String
)

func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case Time:
		return "time"
	case String:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column holds the values of a single named column. Only the slice matching
// Kind is populated.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Times   []time.Time
	Strings []string
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case Time:
		return len(c.Times)
	case String:
		return len(c.Strings)
	default:
		return len(c.Floats)
	}
}

// IsNull reports whether the value at row i is null.
func (c *Column) IsNull(i int) bool {
	switch c.Kind {
	case Time:
		return c.Times[i].IsZero()
	case String:
		return c.Strings[i] == ""
	default:
		return math.IsNaN(c.Floats[i])
	}
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Time:
		out.Times = append([]time.Time(nil), c.Times...)
	case String:
		out.Strings = append([]string(nil), c.Strings...)
	default:
		out.Floats = append([]float64(nil), c.Floats...)
	}
	return out
}

func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Time:
		out.Times = make([]time.Time, len(idx))
		for i, j := range idx {
			out.Times[i] = c.Times[j]
		}
	case String:
		out.Strings = make([]string, len(idx))
		for i, j := range idx {
			out.Strings[i] = c.Strings[j]
		}
	default:
		out.Floats = make([]float64, len(idx))
		for i, j := range idx {
			out.Floats[i] = c.Floats[j]
		}
	}
	return out
}

// Table is an ordered collection of equally long columns.
type Table struct {
	order []string
	cols  map[string]*Column
	rows  int
}

// New returns an empty table.
func New() *Table {
	return &Table{cols: make(map[string]*Column)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.rows
}

// Names returns the column names in insertion order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.cols[name]
	return c, ok
}

// Floats returns the values of a float column. The returned slice aliases the
// table storage.
func (t *Table) Floats(name string) ([]float64, error) {
	c, err := t.lookup(name, Float)
	if err != nil {
		return nil, err
	}
	return c.Floats, nil
}

// Times returns the values of a time column. The returned slice aliases the
// table storage.
func (t *Table) Times(name string) ([]time.Time, error) {
	c, err := t.lookup(name, Time)
	if err != nil {
		return nil, err
	}
	return c.Times, nil
}

// Strings returns the values of a string column. The returned slice aliases
// the table storage.
func (t *Table) Strings(name string) ([]string, error) {
	c, err := t.lookup(name, String)
	if err != nil {
		return nil, err
	}
	return c.Strings, nil
}

func (t *Table) lookup(name string, kind Kind) (*Column, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: column %q not found", tserrors.ErrInputSchema, name)
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("%w: column %q is %s, want %s", tserrors.ErrInputSchema, name, c.Kind, kind)
	}
	return c, nil
}

// SetFloats adds or replaces a float column.
func (t *Table) SetFloats(name string, values []float64) error {
	return t.set(&Column{Name: name, Kind: Float, Floats: values})
}

// SetTimes adds or replaces a time column.
func (t *Table) SetTimes(name string, values []time.Time) error {
	return t.set(&Column{Name: name, Kind: Time, Times: values})
}

// SetStrings adds or replaces a string column.
func (t *Table) SetStrings(name string, values []string) error {
	return t.set(&Column{Name: name, Kind: String, Strings: values})
}

// Set adds or replaces a column. A replaced column keeps its position.
func (t *Table) Set(c *Column) error {
	return t.set(c)
}

func (t *Table) set(c *Column) error {
	if c.Name == "" {
		return fmt.Errorf("%w: column name cannot be empty", tserrors.ErrInputSchema)
	}
	n := c.Len()
	if len(t.cols) > 0 && n != t.rows {
		if _, replacing := t.cols[c.Name]; !replacing || len(t.cols) > 1 {
			return fmt.Errorf("%w: column %q has %d rows, table has %d", tserrors.ErrInputSchema, c.Name, n, t.rows)
		}
	}
	if _, ok := t.cols[c.Name]; !ok {
		t.order = append(t.order, c.Name)
	}
	t.cols[c.Name] = c
	t.rows = n
	return nil
}

// Drop removes the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) {
	for _, name := range names {
		if _, ok := t.cols[name]; !ok {
			continue
		}
		delete(t.cols, name)
		for i, n := range t.order {
			if n == name {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	if len(t.cols) == 0 {
		t.rows = 0
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		order: append([]string(nil), t.order...),
		cols:  make(map[string]*Column, len(t.cols)),
		rows:  t.rows,
	}
	for name, c := range t.cols {
		out.cols[name] = c.clone()
	}
	return out
}

// Take returns a new table holding the rows at idx, in that order.
func (t *Table) Take(idx []int) *Table {
	out := &Table{
		order: append([]string(nil), t.order...),
		cols:  make(map[string]*Column, len(t.cols)),
		rows:  len(idx),
	}
	for name, c := range t.cols {
		out.cols[name] = c.take(idx)
	}
	return out
}

// Select returns a new table with only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	out := New()
	for _, name := range names {
		c, ok := t.cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: column %q not found", tserrors.ErrInputSchema, name)
		}
		if err := out.set(c.clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StableOrder returns the permutation of 0..n-1 sorted by less, preserving the
// relative order of equal rows.
func StableOrder(n int, less func(a, b int) bool) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return less(perm[i], perm[j])
	})
	return perm
}
