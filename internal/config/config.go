package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends understood by Predict.Backend
const (
	BackendHTTP     = "http"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Predict  PredictConfig  `json:"predict" yaml:"predict"`
	Ollama   OllamaConfig   `json:"ollama" yaml:"ollama"`
	LlamaCpp LlamaCppConfig `json:"llamacpp" yaml:"llamacpp"`
	Image    ImageConfig    `json:"image" yaml:"image"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Weather  WeatherConfig  `json:"weather" yaml:"weather"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// PredictConfig holds configuration for the remote inference service
type PredictConfig struct {
	Backend     string   `json:"backend" yaml:"backend"`
	URL         string   `json:"url" yaml:"url"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
	RetryDelay  Duration `json:"retry_delay" yaml:"retry_delay"`
	FileField   string   `json:"file_field" yaml:"file_field"`
	CropField   string   `json:"crop_field" yaml:"crop_field"`
}

// OllamaConfig holds configuration for the local vision model backend
type OllamaConfig struct {
	URL     string   `json:"url" yaml:"url"`
	Model   string   `json:"model" yaml:"model"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// LlamaCppConfig holds configuration for a llama.cpp server backend. The
// model name is optional since the server usually hosts one model.
type LlamaCppConfig struct {
	URL     string   `json:"url" yaml:"url"`
	Model   string   `json:"model" yaml:"model"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// ImageConfig holds configuration for preparing uploads
type ImageConfig struct {
	SendFormat       string   `json:"send_format" yaml:"send_format"`
	MaxDimension     int      `json:"max_dimension" yaml:"max_dimension"`
	Quality          int      `json:"quality" yaml:"quality"`
	MinImageSize     int      `json:"min_image_size" yaml:"min_image_size"`
	SupportedFormats []string `json:"supported_formats" yaml:"supported_formats"`
	FocusCrop        bool     `json:"focus_crop" yaml:"focus_crop"`
	FocusZoom        float64  `json:"focus_zoom" yaml:"focus_zoom"`
}

// ServerConfig holds configuration for the HTTP API
type ServerConfig struct {
	Addr           string `json:"addr" yaml:"addr"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// WeatherConfig holds configuration for the weather lookup
type WeatherConfig struct {
	BaseURL  string   `json:"base_url" yaml:"base_url"`
	CacheTTL Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// HistoryConfig holds configuration for scan history. An empty path keeps
// history in memory only.
type HistoryConfig struct {
	Path string `json:"path" yaml:"path"`
}

// LogConfig holds configuration for logging
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Predict: PredictConfig{
			Backend:     BackendHTTP,
			URL:         "https://crop-disease-backend-fdyh.onrender.com/predict",
			Timeout:     Duration(120 * time.Second),
			MaxAttempts: 3,
			RetryDelay:  Duration(2 * time.Second),
			FileField:   "file",
			CropField:   "crop",
		},
		Ollama: OllamaConfig{
			URL:     "http://localhost:11434",
			Model:   "llava",
			Timeout: Duration(300 * time.Second),
		},
		LlamaCpp: LlamaCppConfig{
			URL:     "http://localhost:8080",
			Timeout: Duration(300 * time.Second),
		},
		Image: ImageConfig{
			SendFormat:       "jpg",
			MaxDimension:     1024,
			Quality:          85,
			MinImageSize:     32,
			SupportedFormats: []string{"jpg", "jpeg", "png", "webp"},
			FocusZoom:        1.0,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 10 << 20,
		},
		Weather: WeatherConfig{
			BaseURL:  "https://api.open-meteo.com",
			CacheTTL: Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults. The format follows the file extension.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as JSON or YAML depending on the extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from LEAFSCAN_PREDICT_URL, LEAFSCAN_BACKEND,
// LEAFSCAN_OLLAMA_URL, LEAFSCAN_LLAMACPP_URL and PORT when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LEAFSCAN_PREDICT_URL"); v != "" {
		c.Predict.URL = v
	}
	if v := os.Getenv("LEAFSCAN_BACKEND"); v != "" {
		c.Predict.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("LEAFSCAN_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("LEAFSCAN_LLAMACPP_URL"); v != "" {
		c.LlamaCpp.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Predict.Backend {
	case BackendHTTP:
		if err := validateURL(c.Predict.URL); err != nil {
			return fmt.Errorf("predict.url: %w", err)
		}
	case BackendOllama:
		if err := validateURL(c.Ollama.URL); err != nil {
			return fmt.Errorf("ollama.url: %w", err)
		}
		if c.Ollama.Model == "" {
			return fmt.Errorf("ollama.model cannot be empty")
		}
	case BackendLlamaCpp:
		if err := validateURL(c.LlamaCpp.URL); err != nil {
			return fmt.Errorf("llamacpp.url: %w", err)
		}
	default:
		return fmt.Errorf("predict.backend must be %q, %q or %q", BackendHTTP, BackendOllama, BackendLlamaCpp)
	}

	if c.Predict.Timeout <= 0 {
		return fmt.Errorf("predict.timeout must be positive")
	}

	if c.Predict.MaxAttempts < 1 {
		return fmt.Errorf("predict.max_attempts must be at least 1")
	}

	if c.Predict.RetryDelay < 0 {
		return fmt.Errorf("predict.retry_delay cannot be negative")
	}

	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 1 and 100")
	}

	if c.Image.MaxDimension < 0 {
		return fmt.Errorf("image.max_dimension cannot be negative")
	}

	if c.Image.MinImageSize < 1 {
		return fmt.Errorf("image.min_image_size must be positive")
	}

	if c.Image.FocusZoom < 0 || c.Image.FocusZoom > 1 {
		return fmt.Errorf("image.focus_zoom must be between 0 and 1")
	}

	if len(c.Image.SupportedFormats) == 0 {
		return fmt.Errorf("image.supported_formats cannot be empty")
	}

	switch c.Image.SendFormat {
	case "jpg", "png", "webp":
	default:
		return fmt.Errorf("image.send_format must be jpg, png or webp")
	}

	if c.Server.MaxUploadBytes < 1 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "leaf-scanner", "config.json")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
