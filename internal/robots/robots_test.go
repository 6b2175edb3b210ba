package robots

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedRespectsDisallowRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		default:
			w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	c := NewChecker("mdcx-test")
	assert.False(t, c.Allowed(srv.URL+"/private/page"))
	assert.True(t, c.Allowed(srv.URL+"/public/page"))
}

func TestAllowedFailsOpenOnMalformedURL(t *testing.T) {
	c := NewChecker("mdcx-test")
	assert.True(t, c.Allowed("://not-a-url"))
}

func TestAllowedReusesCollectorPerHost(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits++
			w.Write([]byte("User-agent: *\nDisallow: /blocked\n"))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewChecker("")
	assert.True(t, c.Allowed(srv.URL+"/a"))
	assert.True(t, c.Allowed(srv.URL+"/b"))
	assert.False(t, c.Allowed(srv.URL+"/blocked/c"))
	assert.Equal(t, 1, hits)
}
