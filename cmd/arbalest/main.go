// Command arbalest generates text from a checkpoint: load model and
// tokenizer, encode the prompt, stream sampled tokens to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paveldotsmirnov/arbalest/internal/checkpoint"
	"github.com/paveldotsmirnov/arbalest/internal/engine"
	"github.com/paveldotsmirnov/arbalest/internal/flightexport"
	"github.com/paveldotsmirnov/arbalest/internal/logger"
	"github.com/paveldotsmirnov/arbalest/internal/metrics"
	"github.com/paveldotsmirnov/arbalest/internal/tokenizer"
)

var (
	modelPath   = flag.String("model", "", "path to a checkpoint (legacy float32 or quantized int8)")
	tokPath     = flag.String("tokenizer", "tokenizer.bin", "path to the vocabulary file")
	prompt      = flag.String("prompt", "", "prompt to generate from")
	numTokens   = flag.Int("n", 256, "maximum number of tokens to generate")
	temperature = flag.Float64("temperature", 1.0, "sampling temperature, 0 for greedy")
	topP        = flag.Float64("topp", 0.9, "nucleus sampling threshold, 1 disables")
	seed        = flag.Int64("seed", 0, "RNG seed, 0 uses the clock")
	threads     = flag.Int("threads", 0, "worker threads, 0 uses all CPUs")
	backend     = flag.String("backend", "cpu", "inference backend")
	metricsAddr = flag.String("metrics", "", "address to serve Prometheus metrics, empty disables")
	logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "console", "log format: console or json")
	flightAddr  = flag.String("flight", "", "Arrow Flight endpoint for hidden-state export, empty disables")
	flightPath  = flag.String("flight-path", "hidden", "Flight descriptor path for exported records")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *modelPath == "" {
		fmt.Fprintln(os.Stderr, "error: -model is required")
		flag.Usage()
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("metrics server listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Log.Error("metrics server failed", "error", err)
			}
		}()
	}

	cfg, weights, err := checkpoint.Load(*modelPath)
	if err != nil {
		logger.Log.Fatal("failed to load checkpoint", "path", *modelPath, "error", err)
	}
	tok, err := tokenizer.Load(*tokPath, cfg.VocabSize)
	if err != nil {
		logger.Log.Fatal("failed to load tokenizer", "path", *tokPath, "error", err)
	}
	eng, err := engine.New(*backend, cfg, weights, engine.Options{Threads: *threads})
	if err != nil {
		logger.Log.Fatal("failed to build engine", "backend", *backend, "error", err)
	}
	defer eng.Close()

	var exporter *flightexport.Exporter
	if *flightAddr != "" {
		exporter = flightexport.New(*flightAddr, *flightPath, cfg.Dim)
		if err := exporter.Connect(); err != nil {
			logger.Log.Fatal("failed to connect flight exporter", "addr", *flightAddr, "error", err)
		}
		defer exporter.Close()
	}

	promptTokens := tok.Encode(*prompt, true, false)
	logger.Log.Debug("prompt encoded", "tokens", len(promptTokens))

	sc := engine.SamplerConfig{
		Temperature: float32(*temperature),
		TopP:        float32(*topP),
		Seed:        *seed,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		start := time.Now()
		prev := promptTokens[len(promptTokens)-1]
		step := len(promptTokens) - 1

		out, err := eng.InferWithCallback(promptTokens, *numTokens, sc, func(id int) {
			fmt.Print(tok.Decode(prev, id))
			if exporter != nil {
				if err := exporter.Add(step, id, eng.LastHidden()); err != nil {
					logger.Log.Warn("hidden-state export skipped", "error", err)
				}
			}
			prev = id
			step++
		})
		fmt.Println()
		if err != nil {
			logger.Log.Error("inference failed", "error", err)
			return
		}

		dur := time.Since(start)
		total := len(promptTokens) + len(out)
		logger.Log.Info("generation complete",
			"prompt_tokens", len(promptTokens),
			"generated", len(out),
			"duration", dur,
			"tokens_per_sec", fmt.Sprintf("%.2f", float64(total)/dur.Seconds()),
			"total_tokens", metrics.TotalTokens())

		if exporter != nil {
			if err := exporter.Flush(context.Background()); err != nil {
				logger.Log.Error("hidden-state publish failed", "error", err)
			}
		}
	}()

	select {
	case <-done:
	case sig := <-sigCh:
		logger.Log.Warn("interrupted", "signal", sig.String())
		os.Exit(1)
	}
}
