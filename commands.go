package main

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/glwagner/sose/internal/cgrid"
	"github.com/glwagner/sose/internal/geostrophy"
	"github.com/glwagner/sose/internal/sose"
)

var timesCmd = &cobra.Command{
	Use:   "times",
	Short: "Print the time axis of a file group, one RFC 3339 timestamp per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset()
		if err != nil {
			return err
		}
		defer ds.Close()
		ts, err := sose.Times(ds)
		if err != nil {
			return err
		}
		for _, t := range ts {
			fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
		}
		return nil
	},
}

var (
	varName   string
	lat, lon  float64
	dayOffset int
	days      int
	profile   bool
)

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Extract the time series of a variable at the grid point nearest to a location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset()
		if err != nil {
			return err
		}
		defer ds.Close()
		extract := sose.ScalarTimeSeries
		if profile {
			extract = sose.ProfileTimeSeries
		}
		f, err := extract(ds, varName, lat, lon, dayOffset, days)
		if err != nil {
			return err
		}
		recs, err := fieldRecords(f, varName)
		if err != nil {
			return err
		}
		if vmInsertURL != "" {
			return export(recs)
		}
		return writeRecords(cmd, recs, len(f.Dims) > 1)
	},
}

var (
	alpha, beta float64
	gravity     float64
	coriolis    float64
	zF          []float64
)

// requireGroup rejects a --group other than want for commands that only
// make sense on one file group.
func requireGroup(cmd *cobra.Command, want string) error {
	if group != want {
		return fmt.Errorf("%s needs --group %s, got %q", cmd.Name(), want, group)
	}
	return nil
}

var geostrophicCmd = &cobra.Command{
	Use:   "geostrophic",
	Short: "Compute geostrophic velocity profiles at the grid point nearest to a location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireGroup(cmd, "3d"); err != nil {
			return err
		}
		ds, err := openDataset()
		if err != nil {
			return err
		}
		defer ds.Close()
		vel, err := geostrophy.Compute(ds, geostrophy.Params{
			Lat: lat, Lon: lon,
			DayOffset: dayOffset, Days: days,
			ZF:    zF,
			Alpha: alpha, Beta: beta,
			G: gravity, F: coriolis,
		})
		if err != nil {
			return err
		}
		u, err := fieldRecords(vel.U, "U_geo")
		if err != nil {
			return err
		}
		v, err := fieldRecords(vel.V, "V_geo")
		if err != nil {
			return err
		}
		if vmInsertURL != "" {
			return export(append(u, v...))
		}
		w := csv.NewWriter(cmd.OutOrStdout())
		w.Write([]string{"time", "level", "u", "v"})
		for i := range u {
			w.Write([]string{
				time.UnixMilli(u[i].Timestamp).UTC().Format(time.RFC3339),
				strconv.FormatFloat(float64(u[i].Depth), 'g', -1, 32),
				strconv.FormatFloat(u[i].Value, 'g', -1, 64),
				strconv.FormatFloat(v[i].Value, 'g', -1, 64),
			})
		}
		w.Flush()
		return w.Error()
	},
}

func init() {
	for _, cmd := range []*cobra.Command{seriesCmd, geostrophicCmd} {
		f := cmd.Flags()
		f.Float64Var(&lat, "lat", -60, "latitude in degrees north")
		f.Float64Var(&lon, "lon", 180, "longitude in degrees east")
		f.IntVar(&dayOffset, "offset", 0, "index of the first time step")
		f.IntVar(&days, "days", 1, "number of time steps")
		addExportFlags(cmd)
	}
	seriesCmd.Flags().StringVar(&varName, "var", "", "variable name, e.g. THETA or oceTAUX")
	seriesCmd.Flags().BoolVar(&profile, "profile", false, "the variable has a vertical dimension")
	seriesCmd.MarkFlagRequired("var")

	f := geostrophicCmd.Flags()
	f.Float64Var(&alpha, "alpha", 2e-4, "thermal expansion coefficient")
	f.Float64Var(&beta, "beta", 8e-4, "haline contraction coefficient")
	f.Float64Var(&gravity, "g", 9.81, "gravitational acceleration")
	f.Float64Var(&coriolis, "f", -1.26e-4, "Coriolis parameter, must not be zero")
	f.Float64SliceVar(&zF, "zf", nil, "depths to interpolate the profiles to; native levels when empty")
}

// fieldRecords turns an extracted field into records stamped with the
// times of its steps.
func fieldRecords(f *cgrid.Field, name string) ([]sose.Record, error) {
	ts, err := sose.FieldTimes(f)
	if err != nil {
		return nil, err
	}
	return sose.Records(f, ts, name)
}

func writeRecords(cmd *cobra.Command, recs []sose.Record, withDepth bool) error {
	w := csv.NewWriter(cmd.OutOrStdout())
	header := []string{"time", "value"}
	if withDepth {
		header = []string{"time", "depth", "value"}
	}
	w.Write(header)
	for _, r := range recs {
		row := []string{time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339)}
		if withDepth {
			row = append(row, strconv.FormatFloat(float64(r.Depth), 'g', -1, 32))
		}
		row = append(row, strconv.FormatFloat(r.Value, 'g', -1, 64))
		w.Write(row)
	}
	w.Flush()
	return w.Error()
}
