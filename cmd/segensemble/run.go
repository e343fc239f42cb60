package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"segensemble/pkg/config"
	"segensemble/pkg/dataset"
	"segensemble/pkg/execution"
	"segensemble/pkg/inference"
	"segensemble/pkg/logging"
	"segensemble/pkg/tta"
)

// runFlags override the configuration file when set
type runFlags struct {
	Models      []string
	Dataset     string
	On          string
	TTA         bool
	Output      string
	MetricsAddr string
	ONNXLibrary string
	Device      string
	LogLevel    string
}

func newRunCmd() *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ensemble over a dataset and write label maps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, &rf)
			return run(cmd.Context(), cfg)
		},
	}

	bindRunFlags(cmd, &rf)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, rf *runFlags) {
	f := cmd.Flags()
	f.StringArrayVarP(&rf.Models, "model", "m", nil, "training config of an ensemble member (repeatable, replaces the configured list)")
	f.StringVar(&rf.Dataset, "dataset", "", "dataset root with one folder per patient")
	f.StringVar(&rf.On, "on", "", "dataset split the predictions are named after: train, val or test")
	f.BoolVar(&rf.TTA, "tta", false, "enable test-time augmentation")
	f.StringVarP(&rf.Output, "output", "o", "", "directory timestamped run folders are created in")
	f.StringVar(&rf.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address during the run")
	f.StringVar(&rf.ONNXLibrary, "onnx-lib", "", "path of the onnxruntime shared library")
	f.StringVar(&rf.Device, "device", "", "accelerator, e.g. cuda:0 or cpu")
	f.StringVar(&rf.LogLevel, "log-level", "", "debug, info, warn or error")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, rf *runFlags) {
	changed := cmd.Flags().Changed
	if changed("model") {
		cfg.Models = rf.Models
	}
	if changed("dataset") {
		cfg.Dataset.Root = rf.Dataset
	}
	if changed("on") {
		cfg.Dataset.On = rf.On
	}
	if changed("tta") {
		cfg.Inference.TTA = rf.TTA
	}
	if changed("output") {
		cfg.Output.Dir = rf.Output
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = rf.MetricsAddr
	}
	if changed("onnx-lib") {
		cfg.Inference.ONNXLibrary = rf.ONNXLibrary
	}
	if changed("device") {
		cfg.Inference.Device = rf.Device
		cfg.Inference.UseCUDA = strings.HasPrefix(rf.Device, "cuda")
	}
	if changed("log-level") {
		cfg.Logging.Level = rf.LogLevel
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	deviceID, err := parseDevice(cfg.Inference.Device)
	if err != nil {
		return err
	}

	descs, err := config.LoadEnsemble(cfg.Models)
	if err != nil {
		return err
	}
	frame := cfg.FrameShape()
	members, err := execution.BuildEnsemble(descs, execution.BackendOptions{
		InputChannels:  len(cfg.Dataset.Modalities),
		OutputChannels: frame.C,
		UseCUDA:        cfg.Inference.UseCUDA,
		DeviceID:       deviceID,
		Library:        cfg.Inference.ONNXLibrary,
	})
	if err != nil {
		return err
	}

	var augmenter execution.Augmenter
	if cfg.Inference.TTA {
		flips, err := tta.NewFlips()
		if err != nil {
			return err
		}
		augmenter = flips
	}
	manager := execution.NewManager(execution.NewDevice(cfg.Inference.Device), augmenter, logger)

	engine, err := inference.NewEngine(inference.Options{
		Frame:       frame,
		TTA:         cfg.Inference.TTA,
		Threshold:   cfg.Inference.Threshold,
		PadMultiple: cfg.Inference.PadMultiple,
	}, members, manager, logger)
	if err != nil {
		return err
	}

	ds, err := dataset.Open(cfg.Dataset.Root, dataset.Options{
		Modalities: cfg.Dataset.Modalities,
		Reference:  cfg.Dataset.Reference,
		Frame:      frame,
	})
	if err != nil {
		return err
	}

	started := time.Now()
	runDir := filepath.Join(cfg.Output.Dir, started.Format("20060102_150405"))
	predDir := filepath.Join(runDir, predFolder(cfg.Dataset.On, cfg.Inference.TTA))
	record := &config.RunRecord{RunID: engine.RunID(), Started: started, Config: cfg, Models: descs}
	if err := config.SaveRunRecord(record, filepath.Join(runDir, "config.yaml")); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, logger)
		defer stop()
	}

	writer := &inference.FolderWriter{Dir: predDir, Logger: logger}
	if cfg.Output.ExtractSlices {
		writer.SlicesDir = filepath.Join(runDir, cfg.Output.SlicesDir)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	logger.Info("run started",
		zap.String("run", engine.RunID()),
		zap.Int("cases", ds.Len()),
		zap.Int("models", len(members)),
		zap.Bool("tta", cfg.Inference.TTA),
		zap.String("output", predDir))

	summary, err := engine.Process(ctx, ds, writer)

	fmt.Printf("\nRun %s finished in %.1f seconds\n", summary.RunID, time.Since(started).Seconds())
	fmt.Printf("- Label maps written: %d\n", summary.Written)
	fmt.Printf("- Cases skipped: %d\n", summary.Skipped)
	for kind, n := range summary.Failures {
		fmt.Printf("  - %s: %d\n", kind, n)
	}
	fmt.Printf("- Predictions saved to: %s\n", predDir)

	return err
}

// predFolder names the prediction folder of a run
func predFolder(on string, tta bool) string {
	prefix := on
	switch on {
	case "train":
		prefix = "training"
	case "val":
		prefix = "validation"
	}
	flag := "False"
	if tta {
		flag = "True"
	}
	return prefix + "_segs_tta" + flag
}

// parseDevice returns the accelerator index of names like "cuda:1"; "cpu"
// and a bare "cuda" are index 0.
func parseDevice(name string) (int, error) {
	_, idx, found := strings.Cut(name, ":")
	if !found {
		return 0, nil
	}
	id, err := strconv.Atoi(idx)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid device %q", name)
	}
	return id, nil
}

func serveMetrics(addr string, logger *zap.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
