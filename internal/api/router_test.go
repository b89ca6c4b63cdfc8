package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge-core/internal/catalog"
	"github.com/surge-downloader/surge-core/internal/config"
	"github.com/surge-downloader/surge-core/internal/lifecycle"
	"github.com/surge-downloader/surge-core/internal/testutil"
)

func newTestServer(t *testing.T, token string) (http.Handler, *catalog.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settings := config.DefaultSettings()
	settings.Download.Location = filepath.Join(dir, "downloads")
	settings.Download.NumThreads = 2
	settings.Network.ConnectTimeout = 5
	settings.Network.ReadTimeout = 30
	require.NoError(t, os.MkdirAll(settings.Download.Location, 0755))

	mgr := lifecycle.New(store, filepath.Join(dir, "journals"), filepath.Join(dir, "settings.json"), settings)
	t.Cleanup(mgr.Shutdown)

	return NewRouter(mgr, store, token), store
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	router, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	router, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestNewDownloadAndListRoundTrip(t *testing.T) {
	router, store := newTestServer(t, "")

	srv := testutil.NewOriginT(t, testutil.WithFileSize(64*1024), testutil.WithRangeSupport(true))

	body, err := json.Marshal(map[string]string{"url": srv.URL()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/download", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	deadline := time.Now().Add(5 * time.Second)
	var recs []catalog.Record
	for time.Now().Before(deadline) {
		recs, err = store.ListAll()
		require.NoError(t, err)
		if len(recs) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, recs, 1)

	req = httptest.NewRequest(http.MethodGet, "/list", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var listed []catalog.Record
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	require.Len(t, listed, 1)
	require.Equal(t, recs[0].ID, listed[0].ID)
}

func TestSettingsRoundTrip(t *testing.T) {
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var s config.Settings
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))

	body, err := json.Marshal(3)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPatch, "/settings/download.num_threads", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var updated config.Settings
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updated))
	require.Equal(t, 3, updated.Download.NumThreads)
}

func TestUnknownDownloadReturnsNotFound(t *testing.T) {
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/download?id=does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
