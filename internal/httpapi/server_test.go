package httpapi_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tonometer/internal/httpapi"
	"github.com/Veraticus/tonometer/internal/series"
)

type brokenExporter struct{}

func (brokenExporter) Export(_ context.Context, userID string) ([]byte, error) {
	return nil, &series.StorageIOError{UserID: userID, Op: "load", Err: errors.New("permission denied")}
}

func get(t *testing.T, handler http.Handler, path string) *http.Response {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Result()
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestRouter_Healthz(t *testing.T) {
	router := httpapi.NewRouter(brokenExporter{}, nil)

	resp := get(t, router, "/healthz")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body(t, resp))
}

func TestRouter_Metrics(t *testing.T) {
	router := httpapi.NewRouter(brokenExporter{}, nil)

	resp := get(t, router, "/metrics")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "tonometer_queue_depth")
}

func TestRouter_ExportReadings(t *testing.T) {
	store := series.NewStore(series.NewFileBackend(t.TempDir()), series.WithLocation(time.UTC))
	require.NoError(t, store.Upsert(context.Background(), "1001",
		time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC), "118/76"))

	router := httpapi.NewRouter(store, nil)

	t.Run("found", func(t *testing.T) {
		resp := get(t, router, "/users/1001/readings.csv")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, `attachment; filename="1001.csv"`, resp.Header.Get("Content-Disposition"))
		assert.Equal(t, "2024-03-15 08:00:00,118/76\n", body(t, resp))
	})

	t.Run("not found", func(t *testing.T) {
		resp := get(t, router, "/users/2002/readings.csv")

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.JSONEq(t, `{"error":"no readings for user"}`, body(t, resp))
	})
}

func TestRouter_ExportStorageError(t *testing.T) {
	router := httpapi.NewRouter(brokenExporter{}, nil)

	resp := get(t, router, "/users/1001/readings.csv")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"internal server error"}`, body(t, resp))
}

func TestServer_ShutdownStopsListen(t *testing.T) {
	srv := httpapi.NewServer("127.0.0.1:0", httpapi.NewRouter(brokenExporter{}, nil))

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(context.Background()) }()

	// Give Serve a moment to start; Shutdown before Serve is also handled.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, srv.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
