// Package server exposes a Scanner over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	leafscanner "github.com/menta2k/leaf-scanner"
	"github.com/menta2k/leaf-scanner/internal/utils"
	"github.com/menta2k/leaf-scanner/pkg/history"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/types"
	"github.com/menta2k/leaf-scanner/pkg/weather"
)

// DefaultMaxUploadBytes caps the multipart body of /api/predict
const DefaultMaxUploadBytes = 10 << 20

// Server serves the leaf scanner API
type Server struct {
	scanner   *leafscanner.Scanner
	engine    *gin.Engine
	logger    *slog.Logger
	maxUpload int64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMaxUploadBytes sets the upload cap
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New builds the routes for scanner
func New(scanner *leafscanner.Scanner, opts ...Option) *Server {
	s := &Server{
		scanner:   scanner,
		logger:    slog.Default(),
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), cors())

	engine.GET("/health", s.health)
	api := engine.Group("/api")
	api.POST("/predict", s.predict)
	api.GET("/weather", s.weather)
	api.GET("/history", s.listHistory)
	api.DELETE("/history/:id", s.deleteHistory)

	s.engine = engine
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type predictResponse struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
	IsHealthy  bool    `json:"isHealthy"`
	Treatment  string  `json:"treatment"`
	HistoryID  string  `json:"historyId,omitempty"`
}

func (s *Server) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("Image exceeds %d bytes", s.maxUpload)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded image"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded image"})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = utils.ContentTypeFor(fileHeader.Filename)
	}

	result, err := s.scanner.Scan(c.Request.Context(), leafscanner.ScanRequest{
		Image:       data,
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Crop:        types.ParseCrop(c.PostForm("crop")),
		ImageRef:    fileHeader.Filename,
	})
	if err != nil {
		s.writePredictError(c, err)
		return
	}

	resp := predictResponse{
		Disease:    result.Prediction.Disease,
		Confidence: result.Prediction.Confidence,
		IsHealthy:  result.Prediction.IsHealthy,
		Treatment:  result.Treatment,
	}
	if result.History != nil {
		resp.HistoryID = result.History.ID
	}
	c.JSON(http.StatusOK, resp)
}

// writePredictError maps prediction failures to statuses
func (s *Server) writePredictError(c *gin.Context, err error) {
	var (
		validationErr *predict.ValidationError
		timeoutErr    *predict.TimeoutError
		backendErr    *predict.BackendError
		malformedErr  *predict.MalformedResponseError
		networkErr    *predict.NetworkError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Request timed out. The server may be starting up."})
	case errors.As(err, &backendErr):
		status := backendErr.StatusCode
		if status < http.StatusBadRequest || status > 599 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": fmt.Sprintf("Backend error: %d", backendErr.StatusCode), "details": backendErr.Body})
	case errors.As(err, &malformedErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Invalid response from prediction service", "details": malformedErr.Body})
	case errors.As(err, &networkErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not reach prediction service", "details": networkErr.Err.Error()})
	default:
		s.logger.Error("prediction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type weatherResponse struct {
	types.WeatherData
	Sensors []types.SensorReading `json:"sensors"`
}

func (s *Server) weather(c *gin.Context) {
	data, err := s.scanner.Weather().Current(c.Request.Context(), c.Query("lat"), c.Query("lon"))
	if err != nil {
		s.logger.Error("weather lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch weather data"})
		return
	}
	c.JSON(http.StatusOK, weatherResponse{WeatherData: *data, Sensors: weather.SensorReadings(data)})
}

func (s *Server) listHistory(c *gin.Context) {
	limit := history.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	items, err := s.scanner.History().List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("history list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load scan history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) deleteHistory(c *gin.Context) {
	id := c.Param("id")
	err := s.scanner.History().Delete(c.Request.Context(), id)
	switch {
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
	case err != nil:
		s.logger.Error("history delete failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete scan"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
