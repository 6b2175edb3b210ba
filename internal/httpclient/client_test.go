package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hazard804/mdcx/internal/events"
)

func newTestClient(t *testing.T, bypassURL string) *Client {
	t.Helper()
	cfg := Config{
		Retry:         3,
		Timeout:       2 * time.Second,
		BypassBaseURL: bypassURL,
	}
	c, err := New(cfg, events.NewBus(events.WithBufferSize(16)))
	require.NoError(t, err)
	return c
}

func TestRequestSucceedsFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, "")
	text, err := c.GetText(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestRequestRetriesTransientFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, "")
	text, err := c.GetText(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRequestTerminalFailureNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, "")
	_, err := c.GetText(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestRequestBypassesCloudflareChallenge(t *testing.T) {
	var challenged int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&challenged) == 0 {
			atomic.StoreInt32(&challenged, 1)
			w.Header().Set("Server", "cloudflare")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Just a moment..."))
			return
		}
		assert.Equal(t, "cleared-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("real content"))
	}))
	defer site.Close()

	bypassSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cookies":
			json.NewEncoder(w).Encode(map[string]any{
				"cookies":    map[string]string{"cf_clearance": "tok"},
				"user_agent": "cleared-agent",
			})
		case "/cache/refresh":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer bypassSrv.Close()

	c := newTestClient(t, bypassSrv.URL)
	text, err := c.GetText(context.Background(), site.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "real content", text)
}

func TestIsChallengeDetectsMarkers(t *testing.T) {
	resp := &Response{
		StatusCode: 503,
		Header:     http.Header{"Server": []string{"cloudflare"}},
		Body:       []byte("Just a moment..."),
	}
	assert.True(t, IsChallenge(resp))

	resp2 := &Response{StatusCode: 200, Header: http.Header{}, Body: []byte("hello world")}
	assert.False(t, IsChallenge(resp2))
}

func TestIsChallengeRequiresMarkerAlongsideStatus(t *testing.T) {
	resp := &Response{StatusCode: 503, Header: http.Header{"Server": []string{"cloudflare"}}, Body: []byte("hello world")}
	assert.False(t, IsChallenge(resp))
}

func TestIsChallengeHonorsCFRayHeader(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		Header:     http.Header{"Cf-Ray": []string{"abc123-LAX"}},
		Body:       []byte("please enable javascript and cookies to continue"),
	}
	assert.True(t, IsChallenge(resp))
}

func TestIsChallengeSoloMarkerFallback(t *testing.T) {
	resp := &Response{StatusCode: 200, Header: http.Header{}, Body: []byte("redirecting to /cdn-cgi/challenge-platform/h/b/...")}
	assert.True(t, IsChallenge(resp))

	resp2 := &Response{StatusCode: 200, Header: http.Header{}, Body: []byte("attention required but no other marker")}
	assert.False(t, IsChallenge(resp2))
}

func TestDownloadSmallFileSequential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, "")
	dest := filepath.Join(t.TempDir(), "out.txt")
	err := c.Download(context.Background(), srv.URL, dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestHeadSizeFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := newTestClient(t, "")
	size, err := c.HeadSize(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestSanitizeURLStripsTrailingQuote(t *testing.T) {
	assert.Equal(t, "https://example.com/a", sanitizeURL(`https://example.com/a"></script>`))
}

func TestPrepareHeadersInjectsReferer(t *testing.T) {
	c := newTestClient(t, "")
	headers := c.prepareHeaders("https://www.javbus.com/ABC-123", nil)
	assert.Equal(t, "https://www.javbus.com/", headers["Referer"])
}

func TestGetTextDecodesBrotliResponse(t *testing.T) {
	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	_, err := bw.Write([]byte("hello brotli"))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	c := newTestClient(t, "")
	text, err := c.GetText(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello brotli", text)
}

func TestGetTextPassesThroughUnrecognizedEncodingUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain"))
	}))
	defer srv.Close()

	c := newTestClient(t, "")
	text, err := c.GetText(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
}

func TestRequestRejectsURLDisallowedByRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := Config{
		Retry:         1,
		Timeout:       2 * time.Second,
		RespectRobots: true,
	}
	c, err := New(cfg, events.NewBus(events.WithBufferSize(16)))
	require.NoError(t, err)

	_, err = c.GetText(context.Background(), srv.URL+"/private/page", Options{})
	assert.Error(t, err)

	text, err := c.GetText(context.Background(), srv.URL+"/public/page", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}
