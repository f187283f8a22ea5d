// Package batch partitions the article index space into fixed-size batches
// and persists the resulting intervals.
package batch

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// ErrNonPositive is returned when a total or a batch size is not > 0.
var ErrNonPositive = errors.New("value must be positive")

// Interval is the half-open item range [Start, End).
type Interval struct {
	Start int
	End   int
}

// Len returns the number of items in the interval.
func (iv Interval) Len() int {
	return iv.End - iv.Start
}

// MarshalJSON encodes the interval as a two-element array.
func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{iv.Start, iv.End})
}

// UnmarshalJSON decodes a two-element array.
func (iv *Interval) UnmarshalJSON(b []byte) error {
	var pair []int
	if err := json.Unmarshal(b, &pair); err != nil {
		return errors.Wrap(err, "decode interval")
	}
	if len(pair) != 2 {
		return errors.Newf("interval must have 2 bounds, got %d", len(pair))
	}
	iv.Start, iv.End = pair[0], pair[1]
	return nil
}

func (iv Interval) validate() error {
	if iv.Start < 0 {
		return errors.Newf("interval [%d, %d): negative start", iv.Start, iv.End)
	}
	if iv.Start >= iv.End {
		return errors.Newf("interval [%d, %d): start must be below end", iv.Start, iv.End)
	}
	return nil
}

// Split partitions [0, total) into consecutive intervals of size items.
// The last interval is shorter when total is not a multiple of size.
func Split(total, size int) ([]Interval, error) {
	if total <= 0 {
		return nil, errors.Wrapf(ErrNonPositive, "total %d", total)
	}
	if size <= 0 {
		return nil, errors.Wrapf(ErrNonPositive, "batch size %d", size)
	}

	intervals := make([]Interval, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		intervals = append(intervals, Interval{Start: start, End: min(start+size, total)})
	}
	return intervals, nil
}

// Save writes the intervals to path as indented JSON.
func Save(path string, intervals []Interval) error {
	data, err := json.MarshalIndent(intervals, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode batches")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write batch file %s", path)
	}
	return nil
}

// Load reads intervals previously written by Save.
func Load(path string) ([]Interval, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read batch file %s", path)
	}
	var intervals []Interval
	if err := json.Unmarshal(data, &intervals); err != nil {
		return nil, errors.Wrapf(err, "decode batch file %s", path)
	}
	for i, iv := range intervals {
		if err := iv.validate(); err != nil {
			return nil, errors.Wrapf(err, "batch %d in %s", i+1, path)
		}
	}
	return intervals, nil
}
