package sose

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/glwagner/sose/internal/cgrid"
)

// Times returns the time axis of ds as UTC timestamps. Each value is taken
// as seconds elapsed since 1970-01-01T00:00:00Z.
func Times(ds *Dataset) ([]time.Time, error) {
	secs, ok := ds.Coords["time"]
	if !ok {
		return nil, errors.Wrap(ErrUnknownVariable, "time")
	}
	ts := make([]time.Time, len(secs))
	for i, s := range secs {
		ts[i] = unixTime(s)
	}
	return ts, nil
}

func unixTime(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

var timeUnits = map[string]float64{
	"seconds": 1, "second": 1, "secs": 1, "sec": 1, "s": 1,
	"minutes": 60, "minute": 60, "mins": 60, "min": 60,
	"hours": 3600, "hour": 3600, "hrs": 3600, "hr": 3600, "h": 3600,
	"days": 86400, "day": 86400, "d": 86400,
}

var referenceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DecodeTimeUnits converts values in CF units such as
// "days since 2012-12-01 00:00:00" to seconds since the Unix epoch.
func DecodeTimeUnits(units string, values []float64) ([]float64, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return nil, errors.Errorf("time units %q are not of the form <unit> since <date>", units)
	}
	scale, ok := timeUnits[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return nil, errors.Errorf("unsupported time unit %q", unit)
	}
	ref = strings.TrimSuffix(strings.TrimSpace(ref), " UTC")
	var epoch time.Time
	var err error
	for _, layout := range referenceLayouts {
		if epoch, err = time.ParseInLocation(layout, ref, time.UTC); err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing reference date of %q", units)
	}
	base := float64(epoch.Unix()) + float64(epoch.Nanosecond())/1e9
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = base + v*scale
	}
	return out, nil
}

// FieldTimes returns the timestamps of the time steps of a field read from
// a dataset.
func FieldTimes(f *cgrid.Field) ([]time.Time, error) {
	secs, ok := f.Coords["time"]
	if !ok || len(secs) != f.Len("time") {
		return nil, errors.Errorf("%s has no time coordinate", f.Name)
	}
	ts := make([]time.Time, len(secs))
	for i, s := range secs {
		ts[i] = unixTime(s)
	}
	return ts, nil
}
