// Command count-replay runs the vehicle counting engine over a recorded detections log
// and writes the counting report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/vehicle-counter/counter"
	"github.com/viam-modules/vehicle-counter/results"
)

func main() {
	var (
		logPath    = flag.String("detections", "", "detections log (JSON) to replay (required)")
		configPath = flag.String("config", "", "counter config file (JSON); defaults are used when empty")
		outPath    = flag.String("out", "", "where to write the report; stdout when empty")
		dbPath     = flag.String("db", "", "sqlite results database to store the run in")
		frames     = flag.Bool("frames", false, "include per-frame tracked objects in the report")
		debug      = flag.Bool("debug", false, "log per-track decisions")
	)
	flag.Parse()

	logger := logging.NewLogger("count-replay")
	if *debug {
		logger.SetLevel(logging.DEBUG)
	}
	if *logPath == "" {
		fmt.Fprintln(os.Stderr, "usage: count-replay -detections <log.json> [-config cfg.json] [-out report.json] [-db results.db]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *logPath, *configPath, *outPath, *dbPath, *frames, logger); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logPath, configPath, outPath, dbPath string, recordFrames bool, logger logging.Logger) error {
	cfg := counter.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = counter.LoadConfig(configPath); err != nil {
			return err
		}
	}
	if recordFrames {
		cfg.RecordFrames = true
	}

	detLog, err := counter.LoadDetectionLog(logPath)
	if err != nil {
		return err
	}
	classes, err := counter.NewClassTable(cfg.ClassMap)
	if err != nil {
		return err
	}
	replay := counter.NewReplay(detLog, classes)

	report, runErr := counter.RunVideo(ctx, cfg, detLog.Info(), replay, replay, logger)
	if report == nil {
		return runErr
	}
	if runErr != nil {
		logger.Warn(runErr)
	}

	if err := writeReport(report, outPath); err != nil {
		return err
	}

	if dbPath != "" {
		store, err := results.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveReport(ctx, report); err != nil {
			return err
		}
		logger.Infof("saved run %s to %s", report.RunID, dbPath)
	}
	return runErr
}

func writeReport(report *counter.Report, outPath string) error {
	if outPath == "" {
		return encodeReport(os.Stdout, report)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "unable to create report file %v", outPath)
	}
	return saveReport(f, report)
}

// saveReport encodes the report and closes w; a failed close means the report may be
// incomplete.
func saveReport(w io.WriteCloser, report *counter.Report) error {
	if err := encodeReport(w, report); err != nil {
		w.Close()
		return err
	}
	return errors.Wrap(w.Close(), "unable to finish writing report")
}

func encodeReport(w io.Writer, report *counter.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Wrap(err, "unable to write report")
	}
	return nil
}
