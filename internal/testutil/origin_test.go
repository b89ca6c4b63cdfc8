package testutil

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginServesFullBodyOn200(t *testing.T) {
	o := NewOriginT(t, WithFileSize(4096), WithRangeSupport(false))

	resp, err := http.Get(o.URL())
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, o.Data(), body)
}

func TestOriginHonorsByteRange(t *testing.T) {
	o := NewOriginT(t, WithFileSize(4096))

	req, _ := http.NewRequest(http.MethodGet, o.URL(), nil)
	req.Header.Set("Range", "bytes=100-199")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "bytes 100-199/4096", resp.Header.Get("Content-Range"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, o.Data()[100:200], body)
	require.EqualValues(t, 1, o.RangeRequests.Load())
}

func TestOriginIgnoresRangeWhenUnsupported(t *testing.T) {
	o := NewOriginT(t, WithFileSize(1024), WithRangeSupport(false))

	req, _ := http.NewRequest(http.MethodGet, o.URL(), nil)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Content-Range"))
}

func TestOriginSetETagChangesValidator(t *testing.T) {
	o := NewOriginT(t, WithFileSize(64), WithETag("aaa"))

	resp, err := http.Get(o.URL())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, `"aaa"`, resp.Header.Get("ETag"))

	o.SetETag("bbb")
	resp, err = http.Get(o.URL())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, `"bbb"`, resp.Header.Get("ETag"))
}

func TestParseByteRangeForms(t *testing.T) {
	cases := []struct {
		spec       string
		start, end int64
		wantErr    bool
	}{
		{"bytes=0-99", 0, 99, false},
		{"bytes=100-", 100, 999, false},
		{"bytes=-50", 950, 999, false},
		{"bytes=0-5000", 0, 999, false},
		{"bytes=1000-", 0, 0, true},
		{"bytes=50-10", 0, 0, true},
		{"bytes=0-10,20-30", 0, 0, true},
	}
	for _, tc := range cases {
		start, end, err := parseByteRange(tc.spec, 1000)
		if tc.wantErr {
			require.Error(t, err, tc.spec)
			continue
		}
		require.NoError(t, err, tc.spec)
		require.Equal(t, tc.start, start, tc.spec)
		require.Equal(t, tc.end, end, tc.spec)
	}
}
