package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	leafscanner "github.com/menta2k/leaf-scanner"
	"github.com/menta2k/leaf-scanner/internal/config"
	"github.com/menta2k/leaf-scanner/internal/logging"
	"github.com/menta2k/leaf-scanner/internal/utils"
	"github.com/menta2k/leaf-scanner/pkg/client"
	"github.com/menta2k/leaf-scanner/pkg/history"
	"github.com/menta2k/leaf-scanner/pkg/llamacpp"
	"github.com/menta2k/leaf-scanner/pkg/ollama"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/server"
	"github.com/menta2k/leaf-scanner/pkg/types"
	"github.com/menta2k/leaf-scanner/pkg/weather"
)

func main() {
	var configPath, in, crop, backend, url, model string
	var timeout time.Duration
	var attempts int
	var sendFmt string
	var sendSize int
	var sendQ int
	var focus bool
	var zoom float64
	var serve string
	var asJSON bool
	var showWeather bool
	var lat, lon string
	var historyPath string
	var logLevel string
	var saveConfig string

	flag.StringVar(&configPath, "config", "", "config file (.json or .yaml), defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/webp)")
	flag.StringVar(&crop, "crop", string(types.Tomato), "crop type: tomato|mango")
	flag.StringVar(&backend, "backend", "", "backend to use: http, ollama or llamacpp")
	flag.StringVar(&url, "url", "", "backend URL (defaults: http=inference service /predict, ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "", "model name for the ollama and llamacpp backends")
	flag.DurationVar(&timeout, "timeout", 0, "per-attempt timeout (e.g. 120s)")
	flag.IntVar(&attempts, "attempts", 0, "max attempts against the http backend")

	flag.StringVar(&sendFmt, "sendfmt", "", "format sent to the backend: jpg|png|webp")
	flag.IntVar(&sendSize, "sendsize", -1, "max long side sent to the backend (px), 0=original")
	flag.IntVar(&sendQ, "sendq", 0, "JPEG/WebP quality for the image sent (1-100)")
	flag.BoolVar(&focus, "focus", false, "crop square around the detected leaf before sending")
	flag.Float64Var(&zoom, "zoom", 0, "shrink factor for the focus crop (0.01..1.0)")

	flag.StringVar(&serve, "serve", "", "listen address; runs the HTTP API instead of a single scan")
	flag.BoolVar(&asJSON, "json", false, "print the scan result as JSON")
	flag.BoolVar(&showWeather, "weather", false, "also print current weather conditions")
	flag.StringVar(&lat, "lat", "", "latitude for -weather")
	flag.StringVar(&lon, "lon", "", "longitude for -weather")
	flag.StringVar(&historyPath, "history", "", "scan history file (JSON lines), empty keeps history in memory")
	flag.StringVar(&logLevel, "log", "", "log level: debug|info|warn|error")
	flag.StringVar(&saveConfig, "saveconfig", "", "write the effective configuration to this file (.json or .yaml) and exit")

	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()

	// Explicit flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Predict.Backend = backend
		case "url":
			switch cfg.Predict.Backend {
			case config.BackendOllama:
				cfg.Ollama.URL = url
			case config.BackendLlamaCpp:
				cfg.LlamaCpp.URL = url
			default:
				cfg.Predict.URL = url
			}
		case "model":
			cfg.Ollama.Model = model
			cfg.LlamaCpp.Model = model
		case "timeout":
			cfg.Predict.Timeout = config.Duration(timeout)
			cfg.Ollama.Timeout = config.Duration(timeout)
			cfg.LlamaCpp.Timeout = config.Duration(timeout)
		case "attempts":
			cfg.Predict.MaxAttempts = attempts
		case "sendfmt":
			cfg.Image.SendFormat = sendFmt
		case "sendsize":
			cfg.Image.MaxDimension = sendSize
		case "sendq":
			cfg.Image.Quality = sendQ
		case "focus":
			cfg.Image.FocusCrop = focus
		case "zoom":
			cfg.Image.FocusZoom = zoom
		case "serve":
			cfg.Server.Addr = serve
		case "history":
			cfg.History.Path = historyPath
		case "log":
			cfg.Log.Level = logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if saveConfig != "" {
		if err := cfg.SaveToFile(saveConfig); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", saveConfig)
		return
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	slog.SetDefault(logger)

	if serve == "" && in == "" {
		log.Fatalf("usage: %s -in leaf.jpg|URL [-crop tomato|mango] [-backend http|ollama|llamacpp] [-url server_url] [-json] | -serve :8080", filepath.Base(os.Args[0]))
	}

	predictor, err := newPredictor(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create %s backend: %v", cfg.Predict.Backend, err)
	}

	store, closeStore, err := openHistory(cfg.History.Path, logger)
	if err != nil {
		log.Fatalf("Failed to open scan history: %v", err)
	}
	defer closeStore()

	scanner := leafscanner.New(predictor,
		leafscanner.WithHistory(store),
		leafscanner.WithWeather(weather.NewClient(
			weather.WithBaseURL(cfg.Weather.BaseURL),
			weather.WithCacheTTL(cfg.Weather.CacheTTL.Std()),
		)),
		leafscanner.WithImageOptions(leafscanner.ImageOptions{
			Format:       cfg.Image.SendFormat,
			MaxDimension: cfg.Image.MaxDimension,
			Quality:      cfg.Image.Quality,
			MinSize:      cfg.Image.MinImageSize,
			FocusCrop:    cfg.Image.FocusCrop,
			FocusZoom:    cfg.Image.FocusZoom,
		}),
		leafscanner.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serve != "" {
		srv := server.New(scanner, server.WithLogger(logger), server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes))
		if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	cropType := types.ParseCrop(crop)
	if !cropType.Known() {
		logger.Warn("unknown crop type, sending as given", "crop", cropType)
	}

	if !strings.HasPrefix(in, "http://") && !strings.HasPrefix(in, "https://") {
		if ext := utils.GetFileExtension(in); !utils.IsImageFile(in) || !slices.Contains(cfg.Image.SupportedFormats, ext) {
			logger.Warn("input format is not in image.supported_formats", "path", in, "ext", ext)
		}
	}

	result, err := scanner.ScanFile(ctx, in, cropType)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	var conditions *types.WeatherData
	if showWeather {
		conditions, err = scanner.Weather().Current(ctx, lat, lon)
		if err != nil {
			logger.Warn("weather lookup failed", "error", err)
		}
	}

	if asJSON {
		out := struct {
			*leafscanner.ScanResult
			Weather *types.WeatherData    `json:"weather,omitempty"`
			Sensors []types.SensorReading `json:"sensors,omitempty"`
		}{ScanResult: result}
		if conditions != nil {
			out.Weather = conditions
			out.Sensors = weather.SensorReadings(conditions)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatal(err)
		}
		return
	}

	status := "diseased"
	if result.Prediction.IsHealthy {
		status = "healthy"
	}
	fmt.Printf("Crop:       %s\n", cropType.Title())
	fmt.Printf("Diagnosis:  %s (%s)\n", result.Prediction.Disease, status)
	fmt.Printf("Confidence: %.1f%%\n", result.Prediction.Confidence*100)
	fmt.Printf("Treatment:  %s\n", result.Treatment)
	if result.History != nil {
		fmt.Printf("History ID: %s\n", result.History.ID)
	}
	if conditions != nil {
		fmt.Printf("\nWeather at %s (%s)\n", conditions.Location, conditions.Timestamp)
		for _, r := range weather.SensorReadings(conditions) {
			fmt.Printf("  %-12s %6.1f %-3s [%s]\n", r.Name, r.Value, r.Unit, r.Status)
		}
	}
}

// loadConfig reads path, or the default config path when it exists, or
// falls back to defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if def := config.GetConfigPath(); utils.FileExists(def) {
			path = def
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

func newPredictor(cfg *config.Config, logger *slog.Logger) (client.Predictor, error) {
	var p client.Predictor
	switch cfg.Predict.Backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(cfg.Ollama.URL, cfg.Ollama.Model, nil)
		if err != nil {
			return nil, err
		}
		c.SetTimeout(cfg.Ollama.Timeout.Std())
		p = c
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(cfg.LlamaCpp.URL, cfg.LlamaCpp.Model, nil)
		if err != nil {
			return nil, err
		}
		c.SetTimeout(cfg.LlamaCpp.Timeout.Std())
		p = c
	default:
		c, err := predict.NewClient(predict.Config{
			URL:         cfg.Predict.URL,
			Timeout:     cfg.Predict.Timeout.Std(),
			MaxAttempts: cfg.Predict.MaxAttempts,
			RetryDelay:  cfg.Predict.RetryDelay.Std(),
			FileField:   cfg.Predict.FileField,
			CropField:   cfg.Predict.CropField,
		}, predict.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		p = c
	}
	return client.NewLoggingPredictor(p, logger), nil
}

func openHistory(path string, logger *slog.Logger) (history.Store, func(), error) {
	mem := history.NewMemoryStore()
	if path == "" {
		return mem, func() {}, nil
	}
	fs, err := history.OpenFileStore(path, mem, logger)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {
		if err := fs.Close(); err != nil {
			logger.Warn("failed to close history file", "error", err)
		}
	}, nil
}
