package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	leafscanner "github.com/menta2k/leaf-scanner"
	"github.com/menta2k/leaf-scanner/internal/logging"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/weather"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer wires a Server to a fake inference backend answering with
// status and body
func newTestServer(t *testing.T, status int, body string) (*Server, *httptest.Server) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("backend failed to parse upload: %v", err)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(backend.Close)

	meteo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"current":{"time":"2024-05-01T12:00","temperature_2m":12.3,"relative_humidity_2m":55,"apparent_temperature":11.04}}`)
	}))
	t.Cleanup(meteo.Close)

	p, err := predict.NewClient(predict.Config{
		URL:         backend.URL,
		Timeout:     time.Second,
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	}, predict.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	scanner := leafscanner.New(p,
		leafscanner.WithWeather(weather.NewClient(weather.WithBaseURL(meteo.URL), weather.WithCacheTTL(0))),
		leafscanner.WithLogger(logging.Discard()),
	)
	return New(scanner, WithLogger(logging.Discard())), backend
}

func uploadRequest(t *testing.T, withFile bool, crop string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if withFile {
		fw, err := mw.CreateFormFile("file", "leaf.jpg")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("jpeg bytes"))
	}
	if crop != "" {
		mw.WriteField("crop", crop)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/predict", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected JSON body, got %q", rec.Body.String())
	}
	return body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{}`)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestPredict_Success(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"prediction":"early_blight","probability":92}`)

	rec := serve(s, uploadRequest(t, true, "Tomato"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["disease"] != "Early Blight" {
		t.Errorf("Expected Early Blight, got %v", body["disease"])
	}
	if body["confidence"] != 0.92 {
		t.Errorf("Expected 0.92, got %v", body["confidence"])
	}
	if body["isHealthy"] != false {
		t.Errorf("Expected isHealthy false, got %v", body["isHealthy"])
	}
	if !strings.Contains(body["treatment"].(string), "chlorothalonil") {
		t.Errorf("Expected early blight treatment, got %v", body["treatment"])
	}
	id, _ := body["historyId"].(string)
	if id == "" {
		t.Fatal("Expected historyId")
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	var list struct {
		Items []struct {
			ID   string `json:"id"`
			Crop string `json:"crop"`
		} `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Items) != 1 || list.Items[0].ID != id || list.Items[0].Crop != "tomato" {
		t.Errorf("Expected history entry %s for tomato, got %+v", id, list.Items)
	}
}

func TestPredict_NoFile(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{}`)
	rec := serve(s, uploadRequest(t, false, "tomato"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "No image file provided" {
		t.Errorf("Expected missing file error, got %v", body)
	}
}

func TestPredict_UploadTooLarge(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"disease":"healthy","confidence":0.9}`)
	WithMaxUploadBytes(1024)(s)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "leaf.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(bytes.Repeat([]byte{0xff}, 4096))
	mw.WriteField("crop", "tomato")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/predict", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := serve(s, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "Image exceeds 1024 bytes" {
		t.Errorf("Expected size error, got %v", body)
	}
}

func TestPredict_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    int
		details string
	}{
		{"backend status passthrough", http.StatusServiceUnavailable, "warming up", http.StatusServiceUnavailable, "warming up"},
		{"malformed body", http.StatusOK, "<html>oops</html>", http.StatusBadGateway, "<html>oops</html>"},
		{"error field in 2xx", http.StatusOK, `{"error":"unsupported crop"}`, http.StatusBadGateway, "unsupported crop"},
	}
	for _, tt := range tests {
		s, _ := newTestServer(t, tt.status, tt.body)
		rec := serve(s, uploadRequest(t, true, "mango"))
		if rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, rec.Code)
			continue
		}
		if body := decode(t, rec); body["details"] != tt.details {
			t.Errorf("%s: expected details %q, got %v", tt.name, tt.details, body["details"])
		}
	}
}

func TestPredict_NetworkError(t *testing.T) {
	s, backend := newTestServer(t, http.StatusOK, `{}`)
	backend.Close()

	rec := serve(s, uploadRequest(t, true, "mango"))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
}

func TestWeather(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{}`)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/weather?lat=1.5&lon=2.5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Temperature float64 `json:"temperature"`
		Location    string  `json:"location"`
		Sensors     []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"sensors"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Temperature != 12.3 || body.Location != "1.5, 2.5" {
		t.Errorf("Expected 12.3 at 1.5, 2.5, got %v at %s", body.Temperature, body.Location)
	}
	if len(body.Sensors) != 3 || body.Sensors[0].Status != "warning" {
		t.Errorf("Expected 3 sensors with warning temperature, got %+v", body.Sensors)
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/weather?lat=fail", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "Failed to fetch weather data" {
		t.Errorf("Expected weather error, got %v", body)
	}
}

func TestHistory_LimitAndDelete(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"label":"healthy","score":0.97}`)
	for i := 0; i < 3; i++ {
		serve(s, uploadRequest(t, true, "mango"))
	}

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
	var list struct {
		Items []struct {
			ID        string `json:"id"`
			IsHealthy bool   `json:"isHealthy"`
		} `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(list.Items))
	}
	if !list.Items[0].IsHealthy {
		t.Error("Expected healthy scan")
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/history?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", rec.Code)
	}

	rec = serve(s, httptest.NewRequest(http.MethodDelete, "/api/history/"+list.Items[0].ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", rec.Code)
	}
	rec = serve(s, httptest.NewRequest(http.MethodDelete, "/api/history/"+list.Items[0].ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{}`)
	rec := serve(s, httptest.NewRequest(http.MethodOptions, "/api/predict", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Errorf("Expected DELETE in allowed methods, got %s", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}
