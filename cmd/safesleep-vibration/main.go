package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"safesleep-telemetry/common/logger"
	"safesleep-telemetry/common/metrics"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/spectral"
)

const (
	exitNormal  = 0
	exitError   = 1
	exitAnomaly = 3
)

var errUsage = errors.New("usage")

type options struct {
	file        string
	baseline    string
	metricsFile string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "safesleep-vibration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer log.Sync()

	m := metrics.NewMetrics()
	result, err := analyze(opts, cfg, log)
	verdict := verdictOf(result, err)
	m.SpectralVerdicts.WithLabelValues(verdict).Inc()

	if opts.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(opts.metricsFile, m.Registry()); werr != nil {
			log.Warn("Failed to write metrics file",
				zap.String("path", opts.metricsFile),
				zap.Error(werr),
			)
		}
	}

	if err != nil {
		log.Error("Vibration analysis failed", zap.String("file", opts.file), zap.Error(err))
		return exitError
	}
	if result.Anomaly {
		return exitAnomaly
	}
	return exitNormal
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("safesleep-vibration", pflag.ContinueOnError)
	fs.StringVarP(&opts.file, "file", "f", "", "CSV batch with AxisX/AxisY/AxisZ columns")
	fs.StringVar(&opts.baseline, "baseline", "", "comma-separated baseline vector, overrides SPECTRAL_BASELINE")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "write verdict metrics in text exposition format")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.file == "" {
		return nil, fmt.Errorf("%w: --file is required", errUsage)
	}
	return opts, nil
}

// analyze 加载批数据并与基线比较
func analyze(opts *options, cfg *config.Config, log *zap.Logger) (*spectral.Result, error) {
	baseline := cfg.Spectral.Baseline
	if opts.baseline != "" {
		parsed, err := config.ParseFloatList(opts.baseline)
		if err != nil {
			return nil, fmt.Errorf("invalid --baseline: %w", err)
		}
		baseline = parsed
	}
	if len(baseline) == 0 {
		return nil, fmt.Errorf("no baseline: set SPECTRAL_BASELINE or pass --baseline")
	}

	detector, err := spectral.NewDetector(spectral.Settings{
		SampleRate:          cfg.Spectral.SampleRate,
		PercentThreshold:    cfg.Spectral.PercentThreshold,
		MaxEuclidean:        cfg.Spectral.MaxEuclidean,
		MaxDeviationPercent: cfg.Spectral.MaxDeviationPercent,
	}, baseline)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(opts.file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	batch, err := spectral.LoadBatchCSV(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.file, err)
	}

	result, err := detector.Detect(batch)
	if err != nil {
		return nil, err
	}

	for _, feature := range result.Features {
		log.Info("Axis feature",
			zap.String("axis", feature.Axis),
			zap.Int("samples", feature.Samples),
			zap.Float64("threshold", feature.Threshold),
			zap.Float64("dominant_hz", feature.DominantFrequency),
		)
	}

	fields := []zap.Field{
		zap.String("file", opts.file),
		zap.Float64s("vector", result.Vector),
		zap.Float64s("baseline", baseline),
		zap.Float64("distance", result.Distance),
		zap.Float64("deviation", result.Deviation),
		zap.Bool("distance_tripped", result.DistanceTripped),
		zap.Bool("deviation_tripped", result.DeviationTripped),
	}
	if result.Anomaly {
		log.Warn("Abnormal vibration detected", fields...)
	} else {
		log.Info("Vibration normal", fields...)
	}
	return result, nil
}

func verdictOf(result *spectral.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case result.Anomaly:
		return "anomaly"
	default:
		return "normal"
	}
}
