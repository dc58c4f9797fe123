package sose

import (
	"time"

	"github.com/pkg/errors"

	"github.com/glwagner/sose/internal/cgrid"
)

// Record is one value of a variable at a given location, depth and time.
type Record struct {
	// Dimensions
	Timestamp int64 // milliseconds since the Unix epoch
	Latitude  float32
	Longitude float32
	Depth     float32

	// Metric
	Variable string
	Value    float64
}

// Records flattens a time series returned by ScalarTimeSeries,
// ProfileTimeSeries or the geostrophic solver into records, one per time
// step and level. f must have a leading time dimension and at most one
// vertical dimension; times holds the timestamps of its time steps.
func Records(f *cgrid.Field, times []time.Time, variable string) ([]Record, error) {
	if len(f.Dims) == 0 || f.Dims[0] != "time" || len(f.Dims) > 2 {
		return nil, errors.Errorf("cannot make records of %s%v", f.Name, f.Dims)
	}
	if len(times) != f.Shape[0] {
		return nil, errors.Errorf("%s has %d time steps, got %d timestamps", f.Name, f.Shape[0], len(times))
	}
	nz := 1
	var depths []float64
	if len(f.Dims) == 2 {
		nz = f.Shape[1]
		depths = f.Coords[f.Dims[1]]
	}
	lat, lon := horizontal(f)
	recs := make([]Record, 0, len(f.Elements))
	for i, t := range times {
		for k := 0; k < nz; k++ {
			r := Record{
				Timestamp: t.UnixMilli(),
				Latitude:  float32(lat),
				Longitude: float32(lon),
				Variable:  variable,
				Value:     f.Elements[i*nz+k],
			}
			if len(depths) == nz {
				r.Depth = float32(depths[k])
			}
			recs = append(recs, r)
		}
	}
	return recs, nil
}

// horizontal returns the grid point a field was selected at.
func horizontal(f *cgrid.Field) (lat, lon float64) {
	for _, d := range []string{"YC", "YG"} {
		if v, ok := f.Scalars[d]; ok {
			lat = v
			break
		}
	}
	for _, d := range []string{"XC", "XG"} {
		if v, ok := f.Scalars[d]; ok {
			lon = v
			break
		}
	}
	return lat, lon
}
