package healthz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veggerby/ignition"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEndpointsBeforeStart(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{},
		ignition.Register(ignition.NewSignal("db", func(ctx context.Context) error { return nil })),
	)
	require.NoError(t, err)
	h := Handler(coord)

	require.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/startupz/timeline").Code)

	rec := get(t, h, "/startupz")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not started", body["state"])
}

func TestEndpointsAfterSuccessfulRun(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{},
		ignition.Register(ignition.NewSignal("db", func(ctx context.Context) error { return nil })),
	)
	require.NoError(t, err)

	_, err = coord.WaitAll(context.Background())
	require.NoError(t, err)

	h := Handler(coord)
	rec := get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/startupz/timeline")
	require.Equal(t, http.StatusOK, rec.Code)
	var export map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	require.Equal(t, coord.RunID(), export["runId"])
	require.Equal(t, "healthy", export["health"])
}

func TestReadyzUnhealthyAfterFailure(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{},
		ignition.Register(ignition.NewSignal("broken", func(ctx context.Context) error {
			return errors.New("nope")
		})),
	)
	require.NoError(t, err)

	_, err = coord.WaitAll(context.Background())
	require.NoError(t, err)

	rec := get(t, Handler(coord), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unhealthy", body["health"])
}
