// Package series stores each user's blood-pressure readings as a sorted,
// hour-bucketed time series.
package series

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// TimestampLayout is the layout of column 0 in a durable record.
const TimestampLayout = "2006-01-02 15:04:05"

// recordColumns is the number of columns in every durable record row.
const recordColumns = 2

// Reading is a single measurement bucketed to the hour.
type Reading struct {
	Timestamp time.Time
	Value     string
}

// Bucket truncates t to the hour in its own location.
// Minutes, seconds and sub-second precision are always zero in a stored reading.
func Bucket(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Merge inserts r into readings, replacing the value of a reading with the
// same bucketed timestamp, and returns the result sorted by timestamp.
func Merge(readings []Reading, r Reading) []Reading {
	r.Timestamp = Bucket(r.Timestamp)
	key := r.Timestamp.Format(TimestampLayout)

	replaced := false
	for i := range readings {
		if readings[i].Timestamp.Format(TimestampLayout) == key {
			readings[i].Value = r.Value
			replaced = true
			break
		}
	}
	if !replaced {
		readings = append(readings, r)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
	return readings
}

// Encode renders readings as headerless two-column CSV.
func Encode(readings []Reading) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range readings {
		if err := w.Write([]string{r.Timestamp.Format(TimestampLayout), r.Value}); err != nil {
			return nil, fmt.Errorf("failed to encode reading: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush record: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a durable record. Timestamps are interpreted in loc.
// Any row that is not exactly (timestamp, value) yields a *StorageFormatError.
func Decode(userID string, data []byte, loc *time.Location) ([]Reading, error) {
	if loc == nil {
		loc = time.UTC
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = recordColumns

	var readings []Reading
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &StorageFormatError{UserID: userID, Line: line, Err: err}
		}

		ts, err := time.ParseInLocation(TimestampLayout, row[0], loc)
		if err != nil {
			return nil, &StorageFormatError{UserID: userID, Line: line, Err: err}
		}
		readings = append(readings, Reading{Timestamp: ts, Value: row[1]})
	}
	return readings, nil
}
