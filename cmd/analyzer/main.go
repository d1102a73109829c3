// Command analyzer scores the detection logs written by the CA server and
// prints precision, recall and rate limit anomalies.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/roastedbeans/certification-authority/internal/config"
	"github.com/roastedbeans/certification-authority/internal/detection"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

type options struct {
	dir         string
	sources     detection.Sources
	maxRecords  int
	correlation string
	asJSON      bool
	archive     bool
	configPath  string
	noColor     bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("analyzer", flag.ContinueOnError)
	fs.StringVar(&o.dir, "dir", "", "directory holding the standard log file names")
	fs.StringVar(&o.sources.GroundTruth, "ground-truth", "", "ground truth log")
	fs.StringVar(&o.sources.Signature, "signature", "", "signature detector log")
	fs.StringVar(&o.sources.Specification, "specification", "", "specification detector log")
	fs.StringVar(&o.sources.Hybrid, "hybrid", "", "hybrid detector log")
	fs.StringVar(&o.sources.RateLimit, "rate-limit", "", "rate limit window log")
	fs.IntVar(&o.maxRecords, "max", detection.DefaultMaxRecords, "records read per log")
	fs.StringVar(&o.correlation, "correlate", detection.CorrelatePosition, "position or request_id")
	fs.BoolVar(&o.asJSON, "json", false, "print the summary as JSON")
	fs.BoolVar(&o.archive, "archive", false, "upload the summary to the configured bucket")
	fs.StringVar(&o.configPath, "config", "", "config file with an archive section")
	fs.BoolVar(&o.noColor, "no-color", false, "disable colored output")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.dir != "" {
		// explicit paths win over the directory layout
		def := detection.SourcesIn(o.dir)
		if o.sources.GroundTruth == "" {
			o.sources.GroundTruth = def.GroundTruth
		}
		if o.sources.Signature == "" {
			o.sources.Signature = def.Signature
		}
		if o.sources.Specification == "" {
			o.sources.Specification = def.Specification
		}
		if o.sources.Hybrid == "" {
			o.sources.Hybrid = def.Hybrid
		}
		if o.sources.RateLimit == "" {
			// the limiter log only exists when rate limiting ran
			if _, err := os.Stat(def.RateLimit); err == nil {
				o.sources.RateLimit = def.RateLimit
			}
		}
	}
	if o.sources.GroundTruth == "" {
		return nil, errors.New("either -dir or -ground-truth is required")
	}
	switch o.correlation {
	case detection.CorrelatePosition, detection.CorrelateRequestID:
	default:
		return nil, fmt.Errorf("unknown -correlate %q", o.correlation)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "analyzer:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		color.Red("analyzer: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o *options, out io.Writer) error {
	logger.ReplaceGlobal(&logger.Config{Level: "warn", Encoding: "console"})
	defer logger.Sync()
	if o.noColor {
		color.NoColor = true
	}

	summary, err := detection.NewEngine(detection.EngineConfig{
		MaxRecords:  o.maxRecords,
		Correlation: o.correlation,
	}).Analyze(ctx, o.sources)
	if err != nil {
		return err
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		renderSummary(out, summary)
	}

	if !o.archive {
		return nil
	}
	archiveCfg, err := loadArchiveConfig(o.configPath)
	if err != nil {
		return err
	}
	archive := NewArchive(archiveCfg)
	if archive == nil {
		return errors.New("-archive needs archive.bucket or ARCHIVE_BUCKET")
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return err
	}
	key, err := archive.Put(ctx, summary)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "archived s3://%s/%s\n", archiveCfg.Bucket, key)
	return err
}

// loadArchiveConfig reads the archive section of path, or the ARCHIVE_*
// environment when no file is given.
func loadArchiveConfig(path string) (config.ArchiveConfig, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadConfig(path)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return config.ArchiveConfig{}, err
	}
	return cfg.Archive, nil
}
