package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/doodlehub/pkg/doodlehub/client"
	"github.com/tsarna/doodlehub/pkg/doodlehub/config"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"github.com/tsarna/doodlehub/pkg/doodlehub/registry"
)

const testConfig = `
server "test" {
  listen  = "127.0.0.1:0"
  ws_path = "/hub"
}

inference {
  classes = "digit"
  seed    = 3
}

metrics {
  provider = "prometheus"
}
`

func startApp(t *testing.T, src string) *App {
	t.Helper()

	cfg, diags := config.NewConfig().WithSources([]byte(src)).Build()
	require.False(t, diags.HasErrors(), "failed to build config: %v", diags)

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})

	return a
}

func (a *App) testURL(path string) string {
	return "http://" + a.Addr().String() + path
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func startController(t *testing.T, a *App, role protocol.Role, handlers client.Handlers) *client.Controller {
	t.Helper()

	controller, err := client.NewController().
		WithURL("ws://" + a.Addr().String() + "/hub").
		WithRole(role).
		WithHandlers(handlers).
		WithReconnectDelay(time.Hour).
		Build()
	require.NoError(t, err)
	require.NoError(t, controller.Start(context.Background()))
	t.Cleanup(controller.Close)

	return controller
}

func waitForStats(t *testing.T, a *App, want registry.Stats) {
	t.Helper()

	require.Eventually(t, func() bool {
		return a.Registry().Stats() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApp_HTTPRoutes(t *testing.T) {
	a := startApp(t, testConfig)

	t.Run("health", func(t *testing.T) {
		resp, body := get(t, a.testURL("/health"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.JSONEq(t, `{"status":"ok"}`, body)
	})

	t.Run("stats", func(t *testing.T) {
		_, body := get(t, a.testURL("/stats"))
		assert.JSONEq(t, `{"tablets":0,"desktops":0,"connections":0}`, body)
	})

	t.Run("placeholder", func(t *testing.T) {
		resp, body := get(t, a.testURL("/api/placeholder/cat/2"))
		assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
		assert.Equal(t, "public, max-age=86400", resp.Header.Get("Cache-Control"))
		assert.Contains(t, body, "Training Example 2")
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := get(t, a.testURL("/metrics"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, body, "relay_submissions_total", "nothing recorded yet")
	})

	t.Run("plain request to websocket path", func(t *testing.T) {
		resp, _ := get(t, a.testURL("/hub"))
		assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	})

	t.Run("unknown path", func(t *testing.T) {
		resp, _ := get(t, a.testURL("/nope"))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestApp_StaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>kiosk</h1>"), 0o644))

	a := startApp(t, `
server "test" {
  listen     = "127.0.0.1:0"
  static_dir = "`+filepath.ToSlash(dir)+`"
}
`)

	resp, body := get(t, a.testURL("/"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>kiosk</h1>", body)

	_, body = get(t, a.testURL("/health"))
	assert.JSONEq(t, `{"status":"ok"}`, body)

	resp, _ = get(t, a.testURL("/metrics"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "metrics are off by default")
}

func TestApp_EndToEnd(t *testing.T) {
	a := startApp(t, testConfig)

	desktopResults := make(chan protocol.PredictionResult, 4)
	tabletResults := make(chan protocol.PredictionResult, 4)
	tabletStarts := make(chan struct{}, 4)

	startController(t, a, protocol.RoleDesktop, client.Handlers{
		OnPredictionResult: func(r protocol.PredictionResult) { desktopResults <- r },
	})
	tablet := startController(t, a, protocol.RoleTablet, client.Handlers{
		OnPredictionResult: func(r protocol.PredictionResult) { tabletResults <- r },
		OnStartDrawing:     func() { tabletStarts <- struct{}{} },
	})

	waitForStats(t, a, registry.Stats{Tablets: 1, Desktops: 1, Connections: 2})

	_, body := get(t, a.testURL("/stats"))
	assert.JSONEq(t, `{"tablets":1,"desktops":1,"connections":2}`, body)

	modelData := make([]float64, 784)
	modelData[100] = 1
	require.True(t, tablet.SubmitDrawing(protocol.DrawingPayload{
		DisplayImage: "data:image/png;base64,AA==",
		ModelData:    modelData,
		Width:        28,
		Height:       28,
	}))

	for _, results := range []chan protocol.PredictionResult{desktopResults, tabletResults} {
		select {
		case result := <-results:
			require.Len(t, result.Predictions, 4)
			assert.Equal(t, "data:image/png;base64,AA==", result.UserDrawing)
			for _, p := range result.Predictions {
				assert.Len(t, p.Class, 1, "digit classes")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("prediction result not delivered")
		}
	}

	a.DispatchSignalAction(context.Background(), config.SignalStart)
	select {
	case <-tabletStarts:
	case <-time.After(2 * time.Second):
		t.Fatal("start_drawing not delivered")
	}

	assert.Eventually(t, func() bool {
		_, metrics := get(t, a.testURL("/metrics"))
		return strings.Contains(metrics, `doodlehub_relay_submissions_total{outcome="ok"} 1`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApp_Shutdown(t *testing.T) {
	cfg, diags := config.NewConfig().WithSources([]byte(testConfig)).Build()
	require.False(t, diags.HasErrors())

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, a.Done())
	require.NoError(t, a.Start(context.Background()))

	disconnected := make(chan struct{}, 1)
	startController(t, a, protocol.RoleTablet, client.Handlers{
		OnDisconnected: func() { disconnected <- struct{}{} },
	})
	waitForStats(t, a, registry.Stats{Tablets: 1, Connections: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not disconnected")
	}

	select {
	case err := <-a.Done():
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	waitForStats(t, a, registry.Stats{})
}

func TestNew_HTTPBackend(t *testing.T) {
	cfg, diags := config.NewConfig().WithSources([]byte(`
inference {
  backend = "http"
  url     = "http://127.0.0.1:1/predict"
  headers = { "X-Api-Key" = "k" }
}
metrics {
  provider = "otel"
  tracing  = true
}
`)).Build()
	require.False(t, diags.HasErrors(), "%v", diags)

	a, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, a.Engine())
}

func TestNew_PrometheusLabelsAndBuckets(t *testing.T) {
	cfg, diags := config.NewConfig().WithSources([]byte(`
metrics {
  provider     = "prometheus"
  const_labels = { exhibit = "north" }
  buckets      = [0.25, 1]
}
`)).Build()
	require.False(t, diags.HasErrors(), "%v", diags)

	a, err := New(cfg)
	require.NoError(t, err)

	a.Engine().Announce(context.Background(), protocol.RoleTablet, protocol.ResetCanvas{})

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `doodlehub_relay_broadcasts_total{exhibit="north",role="tablet",type="reset_canvas"} 1`)
}
