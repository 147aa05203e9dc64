package rest

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/anomaly-detection-backend/internal/detector"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/config"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/repository"
	detectionsvc "github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serverOption func(*config.Config)

func withJWTSecret(secret string) serverOption {
	return func(cfg *config.Config) { cfg.Security.JWTSecret = secret }
}

func withRateLimit(rps, burst int) serverOption {
	return func(cfg *config.Config) {
		cfg.Security.RateLimit = config.RateLimitConfig{RequestsPerSecond: rps, BurstSize: burst}
	}
}

func newTestServer(t *testing.T, bootstrap bool, opts ...serverOption) *httptest.Server {
	t.Helper()

	scoring := detector.DefaultConfig()
	scoring.Isolation.Trees = 30
	scoring.Isolation.SampleSize = 64
	scoring.Boundary.MaxIter = 100

	store := repository.NewMemoryStore()
	svc, err := detectionsvc.NewService(
		detectionsvc.Config{FeatureCount: 4, TrainingSampleCount: 200, Bootstrap: bootstrap},
		scoring,
		store, store, nil, nil, nil, testLogger(),
	)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0},
		Security: config.SecurityConfig{
			RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	server := NewServer(cfg, svc, nil, map[string]HealthCheck{"store": nil}, testLogger())
	go server.hub.Run()

	ts := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		server.hub.Stop()
	})
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleDetect(t *testing.T) {
	ts := newTestServer(t, true)

	t.Run("scores a valid vector", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/detect", map[string]interface{}{
			"features": []float64{0.1, -0.2, 0.3, 0.0},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		record := decode[detection.Record](t, resp)
		assert.NotEqual(t, uuid.Nil, record.ID)
		assert.Equal(t, "ensemble", record.Algorithm)
		assert.False(t, record.IsAnomaly)
	})

	t.Run("flags an outlier", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/detect", map[string]interface{}{
			"features": []float64{50, 50, 50, 50},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		record := decode[detection.Record](t, resp)
		assert.True(t, record.IsAnomaly)
		assert.Greater(t, record.Confidence, 0.5)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/detect", "application/json", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects wrong vector shape", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/detect", map[string]interface{}{
			"features": []float64{1, 2},
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decode[errorResponse](t, resp)
		assert.Equal(t, "INVALID_SHAPE", body.Error.Code)
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/detect", map[string]interface{}{
			"features":  []float64{0, 0, 0, 0},
			"algorithm": "kmeans",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decode[errorResponse](t, resp)
		assert.Equal(t, "UNKNOWN_ALGORITHM", body.Error.Code)
	})
}

func TestHandleDetect_UntrainedModelConflicts(t *testing.T) {
	ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/api/v1/detect", map[string]interface{}{
		"features":  []float64{0, 0, 0, 0},
		"algorithm": "isolation",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, "MODEL_NOT_TRAINED", body.Error.Code)
}

func TestHandleDetectBatch(t *testing.T) {
	ts := newTestServer(t, true)

	resp := postJSON(t, ts.URL+"/api/v1/detect/batch", map[string]interface{}{
		"vectors": [][]float64{
			{0.1, 0.0, -0.1, 0.2},
			{1, 2},
			{50, 50, 50, 50},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[detectionsvc.BatchResult](t, resp)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 3)
	assert.True(t, result.Items[2].Record.IsAnomaly)
}

func TestHandleHistoryAndFeedback(t *testing.T) {
	ts := newTestServer(t, true)

	detectResp := postJSON(t, ts.URL+"/api/v1/detect", map[string]interface{}{
		"features": []float64{50, 50, 50, 50},
	})
	require.Equal(t, http.StatusOK, detectResp.StatusCode)
	record := decode[detection.Record](t, detectResp)

	t.Run("history returns the detection", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/history?limit=10")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[struct {
			Detections []detection.Record `json:"detections"`
			Count      int                `json:"count"`
		}](t, resp)
		require.Equal(t, 1, body.Count)
		assert.Equal(t, record.ID, body.Detections[0].ID)
	})

	t.Run("history rejects bad limit", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/history?limit=ten")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("feedback round trip", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/feedback", map[string]interface{}{
			"detection_id": record.ID.String(),
			"is_anomaly":   true,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		// Second label for the same detection conflicts.
		resp = postJSON(t, ts.URL+"/api/v1/feedback", map[string]interface{}{
			"detection_id": record.ID.String(),
			"is_anomaly":   true,
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("feedback for unknown detection", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/feedback", map[string]interface{}{
			"detection_id": uuid.NewString(),
			"is_anomaly":   false,
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("feedback rejects malformed id", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/feedback", map[string]interface{}{
			"detection_id": "not-a-uuid",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("model metrics reflect the label", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/metrics")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[map[string]interface{}](t, resp)
		assert.Contains(t, body, "algorithms")
	})
}

func TestHandleTrainLifecycle(t *testing.T) {
	ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/api/v1/train", map[string]interface{}{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		statusResp, err := http.Get(ts.URL + "/api/v1/train/status")
		if err != nil {
			return false
		}
		status := decode[detectionsvc.TrainingStatus](t, statusResp)
		return status.State == detectionsvc.TrainingCompleted
	}, 10*time.Second, 50*time.Millisecond)
}

func TestHandleExport(t *testing.T) {
	ts := newTestServer(t, true)

	resp := postJSON(t, ts.URL+"/api/v1/detect", map[string]interface{}{
		"features": []float64{50, 50, 50, 50},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	exportResp, err := http.Get(ts.URL + "/api/v1/export")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, exportResp.StatusCode)

	report := decode[detectionsvc.Report](t, exportResp)
	assert.EqualValues(t, 1, report.Aggregate.TotalCount)
	assert.Len(t, report.Recent, 1)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, true, withRateLimit(1, 1))

	first, err := http.Get(ts.URL + "/api/v1/history")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(ts.URL + "/api/v1/history")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, true, withJWTSecret(secret))

	t.Run("rejects missing token", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/history")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects forged token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("wrong-secret"))
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/history", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("accepts signed token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/history", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health probe stays open", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
