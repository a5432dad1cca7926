package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathieu-neron/owo-counter/internal/handler"
)

type staticReadiness []string

func (s staticReadiness) ReadyChannels() []string { return s }

func newApp(ready staticReadiness) *fiber.App {
	reg := prometheus.NewRegistry()
	probe := prometheus.NewCounter(prometheus.CounterOpts{Name: "owo_router_test_total", Help: "test"})
	reg.MustRegister(probe)
	probe.Inc()

	app := fiber.New()
	Setup(app, handler.NewHealthHandler(nil, nil, ready, 2), reg, zerolog.Nop())
	return app
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestLiveProbes(t *testing.T) {
	app := newApp(staticReadiness{"1"})
	for _, path := range []string{"/", "/healthz", "/ready", "/health/live"} {
		t.Run(path, func(t *testing.T) {
			status, body := get(t, app, path)
			assert.Equal(t, http.StatusOK, status)
			assert.JSONEq(t, `{"status":"ok"}`, body)
		})
	}
}

func TestReadyProbe_Healthy(t *testing.T) {
	status, body := get(t, newApp(staticReadiness{"1", "2"}), "/health/ready")
	assert.Equal(t, http.StatusOK, status)

	var resp struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "disabled", resp.Checks["database"]["status"])
	assert.Equal(t, "disabled", resp.Checks["redis"]["status"])
	assert.Equal(t, "up", resp.Checks["counting"]["status"])
	assert.EqualValues(t, 2, resp.Checks["counting"]["ready"])
}

func TestReadyProbe_NoReadyChannels(t *testing.T) {
	status, body := get(t, newApp(nil), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, `"degraded"`)
}

func TestMetricsEndpoint(t *testing.T) {
	status, body := get(t, newApp(nil), "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "owo_router_test_total 1"))
}

func TestUnknownPath(t *testing.T) {
	status, _ := get(t, newApp(nil), "/nope")
	assert.Equal(t, http.StatusNotFound, status)
}
