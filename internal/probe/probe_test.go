package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerParsesHeadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "20480")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="archive.zip"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := Server(context.Background(), srv.Client(), srv.URL, "", nil, "test-agent")
	require.NoError(t, err)
	require.True(t, result.SupportsRange)
	require.True(t, result.SizeKnown)
	require.EqualValues(t, 20480, result.FileSize)
	require.Equal(t, "archive.zip", result.Filename)
	require.Equal(t, "abc123", result.ETag)
	require.Equal(t, "application/zip", result.ContentType)
}

func TestServerWithoutAcceptRangesDisablesRangeSupport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := Server(context.Background(), srv.Client(), srv.URL+"/path/to/file.bin", "", nil, "test-agent")
	require.NoError(t, err)
	require.False(t, result.SupportsRange)
	require.EqualValues(t, 100, result.FileSize)
	require.Equal(t, "file.bin", result.Filename)
}

func TestServerFilenameHintOverridesHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="server-name.bin"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := Server(context.Background(), srv.Client(), srv.URL, "hinted-name.bin", nil, "test-agent")
	require.NoError(t, err)
	require.Equal(t, "hinted-name.bin", result.Filename)
}

func TestServerForwardsCustomHeadersButNeverRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token-123", r.Header.Get("Authorization"))
		require.Empty(t, r.Header.Get("Range"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := Server(context.Background(), srv.Client(), srv.URL, "", map[string]string{
		"Authorization": "token-123",
		"Range":         "bytes=999-999",
	}, "test-agent")
	require.NoError(t, err)
}

func TestServerRejectsUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Server(context.Background(), srv.Client(), srv.URL, "", nil, "test-agent")
	require.Error(t, err)
}

func TestServerMarksSizeUnknownWithoutContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := Server(context.Background(), srv.Client(), srv.URL, "", nil, "test-agent")
	require.NoError(t, err)
	require.False(t, result.SizeKnown)
	require.EqualValues(t, 0, result.FileSize)
}

func TestSupportsResumeAndHeaderHelpers(t *testing.T) {
	h := http.Header{}
	h.Set("Accept-Ranges", "bytes")
	require.True(t, SupportsResume(h))

	h.Set("Accept-Ranges", "none")
	require.False(t, SupportsResume(h))

	etag, ok := ExtractETag(http.Header{"Etag": []string{`"xyz"`}})
	require.True(t, ok)
	require.Equal(t, "xyz", etag)

	_, ok = ExtractETag(http.Header{})
	require.False(t, ok)
}

func TestParseContentRangeSize(t *testing.T) {
	size, ok := ParseContentRangeSize("bytes 0-0/12345")
	require.True(t, ok)
	require.EqualValues(t, 12345, size)

	_, ok = ParseContentRangeSize("bytes 0-0/*")
	require.False(t, ok)

	_, ok = ParseContentRangeSize("garbage")
	require.False(t, ok)
}
