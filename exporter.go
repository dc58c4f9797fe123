package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/glwagner/sose/internal/sose"
	"github.com/glwagner/sose/internal/vm"
)

var (
	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	dir           string
	group         string
	filesPath     string
	concurrency   int
	recsPerInsert int
	vmInsertURL   string
	metricPrefix  string
)

var rootCmd = &cobra.Command{
	Use:   "sose",
	Short: "Extract time series and geostrophic velocities from SOSE output",
	Long: `sose reads the daily per-variable NetCDF files of the Southern Ocean
State Estimate, extracts time series at the grid point nearest to a location
and derives geostrophic velocity profiles from temperature and salinity.`,
	SilenceUsage: true,
}

func init() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "err", err)
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dir, "dir", os.Getenv("SOSE_DIR"), "directory holding the SOSE NetCDF files (default $SOSE_DIR)")
	pf.StringVar(&group, "group", "3d", "file group to open: 2d or 3d")
	pf.StringVar(&filesPath, "files", "", "TOML file table replacing the default file names of the group")
	rootCmd.AddCommand(timesCmd, seriesCmd, geostrophicCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command failed", "err", err)
		os.Exit(1)
	}
}

// openDataset opens the group selected by the persistent flags.
func openDataset() (*sose.Dataset, error) {
	if dir == "" {
		return nil, fmt.Errorf("no SOSE directory given, use --dir or SOSE_DIR")
	}
	l := sose.NewLoader(logger)
	if filesPath != "" {
		t, err := sose.LoadFileTable(filesPath)
		if err != nil {
			return nil, err
		}
		l.Files2D, l.Files3D = t, t
	}
	var (
		ds  *sose.Dataset
		err error
	)
	switch group {
	case "2d":
		ds, err = l.Open2D(dir)
	case "3d":
		ds, err = l.Open3D(dir)
	default:
		return nil, fmt.Errorf("unknown group %q, want 2d or 3d", group)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("SOSE summary", ds.Summary()...)
	return ds, nil
}

// export inserts recs into Victoria Metrics using concurrency workers and
// logs the progress.
func export(recs []sose.Record) error {
	if concurrency < 1 || recsPerInsert < 1 {
		return fmt.Errorf("--concurrency and --recs-per-insert must be positive")
	}
	vmCli, err := vm.NewClient(logger, vmInsertURL, concurrency, metricPrefix)
	if err != nil {
		return err
	}

	batchCh := make(chan []sose.Record)
	progressCh := make(chan int)
	errCh := make(chan error, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				if err := vmCli.Insert(batch); err != nil {
					logger.Error("Could not insert records", "err", err)
					select {
					case errCh <- err:
					default:
					}
				}
				progressCh <- len(batch)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		var inserted, total float64
		total = float64(len(recs))
		start := time.Now()
		for n := range progressCh {
			inserted += float64(n)
			percent := fmt.Sprintf("%.2f%%", 100*inserted/total)
			duration := time.Since(start).Round(1 * time.Second)
			logger.Info("progress", "inserted", percent, "in", duration)
		}
	}()
	for begin := 0; begin < len(recs); begin += recsPerInsert {
		limit := begin + recsPerInsert
		if limit > len(recs) {
			limit = len(recs)
		}
		batchCh <- recs[begin:limit]
	}
	close(batchCh)
	wg.Wait()
	close(progressCh)
	<-done

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// addExportFlags registers the Victoria Metrics flags on cmd.
func addExportFlags(cmd *cobra.Command) {
	defaultURL := os.Getenv("VM_INSERT_URL")
	f := cmd.Flags()
	f.StringVar(&vmInsertURL, "vm-url", defaultURL, "Victoria Metrics insert API URL; when empty values are printed as CSV (default $VM_INSERT_URL)")
	f.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent requests to Victoria Metrics")
	f.IntVar(&recsPerInsert, "recs-per-insert", 500, "number of records sent to Victoria Metrics in one batch")
	f.StringVar(&metricPrefix, "metric-prefix", "sose", "prefix of the inserted metric names")
}
