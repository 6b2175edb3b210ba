package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hazard804/mdcx/internal/events"
	"github.com/Hazard804/mdcx/internal/httpclient"
	"github.com/Hazard804/mdcx/internal/model"
)

type fakeSite struct {
	baseURL string
}

func (f *fakeSite) Name() string    { return "fake" }
func (f *fakeSite) BaseURL() string { return f.baseURL }

func (f *fakeSite) SearchURLs(ctx *Context) []string {
	return []string{f.baseURL + "/search?q=" + ctx.Input.Number}
}

func (f *fakeSite) Cookies(ctx *Context) map[string]string { return nil }
func (f *fakeSite) NeedsBrowser(ctx *Context) bool          { return false }

func (f *fakeSite) ParseSearchPage(ctx *Context, html string) (string, error) {
	if html == "no results" {
		return "", New(f.Name(), KindSoftNotFound, nil)
	}
	return f.baseURL + "/detail/ABC-123", nil
}

func (f *fakeSite) ParseDetailPage(ctx *Context, html string) (*model.CrawlerData, error) {
	if html != "<h1>ABC-123</h1>" {
		return nil, New(f.Name(), KindParseFailure, fmt.Errorf("unexpected body: %s", html))
	}
	return &model.CrawlerData{Number: "ABC-123", Title: "A Title"}, nil
}

func (f *fakeSite) PostProcess(ctx *Context, data *model.CrawlerData) error {
	data.Studio = "post-processed"
	return nil
}

func newRunClient(t *testing.T) *httpclient.Client {
	t.Helper()
	c, err := httpclient.New(httpclient.Config{Retry: 1, Timeout: 2 * time.Second}, events.NewBus(events.WithBufferSize(8)))
	require.NoError(t, err)
	return c
}

func TestRunSucceedsEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			w.Write([]byte("has results"))
			return
		}
		w.Write([]byte("<h1>ABC-123</h1>"))
	}))
	defer srv.Close()

	site := &fakeSite{baseURL: srv.URL}
	client := newRunClient(t)

	data, err := Run(context.Background(), site, client, nil, model.Input{Number: "ABC-123"})
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", data.Number)
	assert.Equal(t, "post-processed", data.Studio)
}

func TestRunRejectsEmptyNumber(t *testing.T) {
	site := &fakeSite{baseURL: "http://example.invalid"}
	client := newRunClient(t)

	_, err := Run(context.Background(), site, client, nil, model.Input{})
	require.Error(t, err)
	var siteErr *Error
	require.ErrorAs(t, err, &siteErr)
	assert.Equal(t, KindNumberEmpty, siteErr.Kind)
}

func TestRunPropagatesSoftNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no results"))
	}))
	defer srv.Close()

	site := &fakeSite{baseURL: srv.URL}
	client := newRunClient(t)

	_, err := Run(context.Background(), site, client, nil, model.Input{Number: "XYZ-999"})
	require.Error(t, err)
	var siteErr *Error
	require.ErrorAs(t, err, &siteErr)
	assert.Equal(t, KindSoftNotFound, siteErr.Kind)
}

func TestRunRequiresBrowserWhenNeeded(t *testing.T) {
	site := &fakeSite{baseURL: "http://example.invalid"}
	client := newRunClient(t)
	_ = client

	ctx := NewContext(context.Background(), site.Name(), model.Input{Number: "ABC-123"}, client, nil)
	_, err := fetchPage(ctx, site, "http://example.invalid/x", true)
	require.Error(t, err)
}
