package frame

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"
)

// Coercion describes a value that could not be converted to its column type.
// The value is stored as null instead and the failure is reported here.
type Coercion struct {
	Column string
	Row    int
	Value  any
	Reason string
}

func (c Coercion) String() string {
	return fmt.Sprintf("column %q row %d: %s (value %v)", c.Column, c.Row, c.Reason, c.Value)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseTime converts strings (RFC3339, "2006-01-02 15:04:05" or
// "2006-01-02"), time.Time values and Unix seconds into a UTC time.
func ParseTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time format %q", val)
	case float64:
		return time.Unix(int64(val), 0).UTC(), nil
	case int64:
		return time.Unix(val, 0).UTC(), nil
	case int:
		return time.Unix(int64(val), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time type %T", v)
	}
}

// toFloat64 converts numeric values and numeric strings to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FromRecords builds a table from row-oriented records such as those returned
// by the data adapters. Columns listed in timeColumns are parsed as times;
// every other column becomes a Float column when all its non-null values are
// numeric and a String column otherwise. Column order is alphabetical with the
// time columns first.
//
// Values that cannot be parsed as times are stored as null and reported in the
// returned coercions.
func FromRecords(records []map[string]any, timeColumns ...string) (*Table, []Coercion) {
	isTime := make(map[string]bool, len(timeColumns))
	for _, name := range timeColumns {
		isTime[name] = true
	}

	seen := make(map[string]bool)
	var names []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if isTime[names[i]] != isTime[names[j]] {
			return isTime[names[i]]
		}
		return names[i] < names[j]
	})

	t := New()
	var coercions []Coercion

	for _, name := range names {
		if isTime[name] {
			values := make([]time.Time, len(records))
			for i, rec := range records {
				raw, ok := rec[name]
				if !ok || raw == nil {
					continue
				}
				ts, err := ParseTime(raw)
				if err != nil {
					coercions = append(coercions, Coercion{Column: name, Row: i, Value: raw, Reason: err.Error()})
					continue
				}
				values[i] = ts
			}
			_ = t.SetTimes(name, values)
			continue
		}

		numeric := true
		for _, rec := range records {
			raw, ok := rec[name]
			if !ok || raw == nil {
				continue
			}
			if s, isStr := raw.(string); isStr && s == "" {
				continue
			}
			if _, ok := toFloat64(raw); !ok {
				numeric = false
				break
			}
		}

		if numeric {
			values := make([]float64, len(records))
			for i, rec := range records {
				values[i] = math.NaN()
				if f, ok := toFloat64(rec[name]); ok {
					values[i] = f
				}
			}
			_ = t.SetFloats(name, values)
			continue
		}

		values := make([]string, len(records))
		for i, rec := range records {
			if raw, ok := rec[name]; ok && raw != nil {
				values[i] = fmt.Sprint(raw)
			}
		}
		_ = t.SetStrings(name, values)
	}

	return t, coercions
}

// CoerceTimes converts a String column to a Time column in place. Rows that do
// not parse become null and are returned as coercions. A column that is
// already a Time column is left untouched.
func (t *Table) CoerceTimes(name string) ([]Coercion, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	switch c.Kind {
	case Time:
		return nil, nil
	case Float:
		values := make([]time.Time, len(c.Floats))
		for i, f := range c.Floats {
			if !math.IsNaN(f) {
				values[i] = time.Unix(int64(f), 0).UTC()
			}
		}
		t.cols[name] = &Column{Name: name, Kind: Time, Times: values}
		return nil, nil
	}

	var coercions []Coercion
	values := make([]time.Time, len(c.Strings))
	for i, s := range c.Strings {
		if s == "" {
			continue
		}
		ts, err := ParseTime(s)
		if err != nil {
			coercions = append(coercions, Coercion{Column: name, Row: i, Value: s, Reason: err.Error()})
			continue
		}
		values[i] = ts
	}
	t.cols[name] = &Column{Name: name, Kind: Time, Times: values}
	return coercions, nil
}

// CoerceStrings converts a Float column to a String (categorical) column in
// place. Integral values are rendered without a fractional part.
func (t *Table) CoerceStrings(name string) error {
	c, ok := t.cols[name]
	if !ok {
		return fmt.Errorf("column %q not found", name)
	}
	if c.Kind == String {
		return nil
	}
	values := make([]string, c.Len())
	for i := range values {
		values[i] = formatCell(c, i)
	}
	t.cols[name] = &Column{Name: name, Kind: String, Strings: values}
	return nil
}

// Records returns the table as row-oriented records. Null floats and times
// are emitted as nil.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, t.rows)
	for i := range out {
		rec := make(map[string]any, len(t.order))
		for _, name := range t.order {
			c := t.cols[name]
			if c.IsNull(i) {
				rec[name] = nil
				continue
			}
			switch c.Kind {
			case Time:
				rec[name] = c.Times[i]
			case String:
				rec[name] = c.Strings[i]
			default:
				rec[name] = c.Floats[i]
			}
		}
		out[i] = rec
	}
	return out
}

// WriteCSV writes the table with a header row. Nulls are written as empty
// cells; times at midnight UTC are written as dates.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.order); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(t.order))
	for i := 0; i < t.rows; i++ {
		for j, name := range t.order {
			record[j] = formatCell(t.cols[name], i)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(c *Column, i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch c.Kind {
	case Time:
		ts := c.Times[i].UTC()
		if ts.Equal(ts.Truncate(24 * time.Hour)) {
			return ts.Format(time.DateOnly)
		}
		return ts.Format(time.RFC3339)
	case String:
		return c.Strings[i]
	default:
		return strconv.FormatFloat(c.Floats[i], 'f', -1, 64)
	}
}
