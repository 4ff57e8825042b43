// Command quantize converts a float32 checkpoint to grouped int8.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/paveldotsmirnov/arbalest/internal/checkpoint"
	"github.com/paveldotsmirnov/arbalest/internal/logger"
)

var (
	inPath    = flag.String("in", "", "float32 checkpoint to read")
	outPath   = flag.String("out", "", "quantized checkpoint to write")
	groupSize = flag.Int("group-size", 64, "quantization group width")
	logLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat = flag.String("log-format", "console", "log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -in and -out are required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, weights, err := checkpoint.Load(*inPath)
	if err != nil {
		logger.Log.Fatal("failed to load checkpoint", "path", *inPath, "error", err)
	}
	if cfg.GroupSize != 0 {
		logger.Log.Fatal("checkpoint is already quantized", "path", *inPath, "group_size", cfg.GroupSize)
	}

	qcfg := cfg
	qcfg.GroupSize = *groupSize
	if err := qcfg.Validate(); err != nil {
		logger.Log.Fatal("group size incompatible with model", "group_size", *groupSize, "error", err)
	}

	if err := checkpoint.WriteQuantized(*outPath, qcfg, weights); err != nil {
		logger.Log.Fatal("failed to write quantized checkpoint", "path", *outPath, "error", err)
	}

	inInfo, _ := os.Stat(*inPath)
	outInfo, err := os.Stat(*outPath)
	if err == nil && inInfo != nil {
		logger.Log.Info("quantization complete",
			"in", *inPath, "out", *outPath,
			"in_bytes", inInfo.Size(), "out_bytes", outInfo.Size(),
			"ratio", fmt.Sprintf("%.2f", float64(inInfo.Size())/float64(outInfo.Size())))
	}
}
