package types

import (
	"sort"
	"time"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Bar is one row of an ordered OHLCV series.
type Bar struct {
	Time   time.Time `csv:"time"`
	Open   float64   `csv:"open"`
	High   float64   `csv:"high"`
	Low    float64   `csv:"low"`
	Close  float64   `csv:"close"`
	Volume float64   `csv:"volume"`
}

// Frame is a timestamp-ordered OHLCV series with named per-bar columns.
// Numeric columns hold indicator values; label columns hold categorical
// state such as the volatility regime. Column slices are always exactly
// Len() long.
type Frame struct {
	bars    []Bar
	numeric map[string][]float64
	labels  map[string][]string
}

// NewFrame creates a frame from bars. The bars must already be
// timestamp-ordered; ordering is asserted, not repaired.
func NewFrame(bars []Bar) (*Frame, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return nil, errors.Newf(errors.KindDataMissing, "frame",
				"bars out of order at index %d: %s !> %s", i, bars[i].Time, bars[i-1].Time)
		}
	}

	return &Frame{
		bars:    bars,
		numeric: make(map[string][]float64),
		labels:  make(map[string][]string),
	}, nil
}

// Len returns the number of bars.
func (f *Frame) Len() int {
	return len(f.bars)
}

// Bar returns the bar at index i.
func (f *Frame) Bar(i int) Bar {
	return f.bars[i]
}

// Bars returns the underlying bar slice. Callers must not mutate it.
func (f *Frame) Bars() []Bar {
	return f.bars
}

// Closes returns the close series.
func (f *Frame) Closes() []float64 {
	out := make([]float64, len(f.bars))
	for i, b := range f.bars {
		out[i] = b.Close
	}

	return out
}

// SetColumn attaches a numeric column. The slice length must equal Len().
func (f *Frame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.bars) {
		return errors.Newf(errors.KindMissingIndicator, name,
			"column length %d does not match bar count %d", len(values), len(f.bars))
	}

	f.numeric[name] = values

	return nil
}

// Column returns a numeric column by name.
func (f *Frame) Column(name string) ([]float64, bool) {
	col, ok := f.numeric[name]

	return col, ok
}

// SetLabelColumn attaches a categorical column. The slice length must equal Len().
func (f *Frame) SetLabelColumn(name string, values []string) error {
	if len(values) != len(f.bars) {
		return errors.Newf(errors.KindMissingIndicator, name,
			"label column length %d does not match bar count %d", len(values), len(f.bars))
	}

	f.labels[name] = values

	return nil
}

// LabelColumn returns a categorical column by name.
func (f *Frame) LabelColumn(name string) ([]string, bool) {
	col, ok := f.labels[name]

	return col, ok
}

// HasColumn reports whether a numeric or categorical column exists.
func (f *Frame) HasColumn(name string) bool {
	if _, ok := f.numeric[name]; ok {
		return true
	}

	_, ok := f.labels[name]

	return ok
}

// RenameColumn renames a numeric or categorical column in place. Renaming a
// missing column is a no-op; renaming onto an existing name is rejected.
func (f *Frame) RenameColumn(from, to string) error {
	if from == to {
		return nil
	}

	if f.HasColumn(to) {
		return errors.Newf(errors.KindConflictingDefinition, to,
			"cannot rename %q: column %q already exists", from, to)
	}

	if col, ok := f.numeric[from]; ok {
		f.numeric[to] = col
		delete(f.numeric, from)

		return nil
	}

	if col, ok := f.labels[from]; ok {
		f.labels[to] = col
		delete(f.labels, from)

		return nil
	}

	return nil
}

// ColumnNames returns all attached column names, sorted.
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.numeric)+len(f.labels))
	for name := range f.numeric {
		names = append(names, name)
	}

	for name := range f.labels {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// DailyClose is the last close of one calendar day (UTC).
type DailyClose struct {
	Day   time.Time
	Close float64
}

// ResampleDailyLastClose collapses the series to one close per UTC calendar
// day, keeping the last bar of each day. The result preserves chronological
// order.
func (f *Frame) ResampleDailyLastClose() []DailyClose {
	var out []DailyClose

	for _, b := range f.bars {
		day := time.Date(b.Time.UTC().Year(), b.Time.UTC().Month(), b.Time.UTC().Day(), 0, 0, 0, 0, time.UTC)
		if len(out) > 0 && out[len(out)-1].Day.Equal(day) {
			out[len(out)-1].Close = b.Close

			continue
		}

		out = append(out, DailyClose{Day: day, Close: b.Close})
	}

	return out
}
