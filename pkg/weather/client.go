// Package weather fetches current conditions from Open-Meteo and grades them
// for the sensors view.
package weather

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/menta2k/leaf-scanner/pkg/types"
)

const (
	DefaultBaseURL   = "https://api.open-meteo.com"
	DefaultLatitude  = "20.5937"
	DefaultLongitude = "78.9629"
	DefaultCacheTTL  = 5 * time.Minute

	currentFields = "temperature_2m,relative_humidity_2m,apparent_temperature"
)

type forecastResponse struct {
	Current struct {
		Time                string  `json:"time"`
		Temperature2m       float64 `json:"temperature_2m"`
		RelativeHumidity2m  float64 `json:"relative_humidity_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
	} `json:"current"`
}

type cacheEntry struct {
	data    types.WeatherData
	fetched time.Time
}

// Client reads current weather and caches it per location
type Client struct {
	http  *resty.Client
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another Open-Meteo compatible host
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.http.SetBaseURL(strings.TrimRight(baseURL, "/")) }
}

// WithCacheTTL sets how long a reading is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

func withClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a weather client
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetTimeout(15*time.Second).
			SetHeader("Accept", "application/json"),
		ttl:   DefaultCacheTTL,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the current conditions at lat, lon. Empty coordinates fall
// back to the defaults.
func (c *Client) Current(ctx context.Context, lat, lon string) (*types.WeatherData, error) {
	lat = strings.TrimSpace(lat)
	lon = strings.TrimSpace(lon)
	if lat == "" {
		lat = DefaultLatitude
	}
	if lon == "" {
		lon = DefaultLongitude
	}
	key := lat + "," + lon

	if data, ok := c.cached(key); ok {
		return &data, nil
	}

	var body forecastResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  lat,
			"longitude": lon,
			"current":   currentFields,
			"timezone":  "auto",
		}).
		SetResult(&body).
		Get("/v1/forecast")
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("weather API responded with status: %d", resp.StatusCode())
	}

	data := types.WeatherData{
		Temperature:         roundTo(body.Current.Temperature2m, 1),
		Humidity:            math.Round(body.Current.RelativeHumidity2m),
		ApparentTemperature: roundTo(body.Current.ApparentTemperature, 1),
		Location:            lat + ", " + lon,
		Timestamp:           body.Current.Time,
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[key] = cacheEntry{data: data, fetched: c.now()}
		c.mu.Unlock()
	}
	return &data, nil
}

func (c *Client) cached(key string) (types.WeatherData, bool) {
	if c.ttl <= 0 {
		return types.WeatherData{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || c.now().Sub(entry.fetched) >= c.ttl {
		return types.WeatherData{}, false
	}
	return entry.data, true
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
