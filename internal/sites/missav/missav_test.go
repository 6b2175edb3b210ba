package missav

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/model"
)

func newCtx(number string) *crawler.Context {
	return crawler.NewContext(context.Background(), "missav", model.Input{Number: number}, nil, nil)
}

func TestParseSearchPageFindsDetailLink(t *testing.T) {
	s := New("https://missav.ws")
	html := `
	<html><body>
	  <a class="group" href="/en/genres/uncensored">Uncensored</a>
	  <a class="group" href="/en/abc-123">ABC-123 cover</a>
	</body></html>`

	detailURL, err := s.ParseSearchPage(newCtx("ABC-123"), html)
	require.NoError(t, err)
	assert.Equal(t, "https://missav.ws/en/abc-123", detailURL)
}

func TestSearchURLsRoutesUncensoredNumbersViaSearch(t *testing.T) {
	s := New("https://missav.ws")
	urls := s.SearchURLs(newCtx("010101-123-U"))
	assert.Equal(t, []string{"https://missav.ws/search/010101-123-U"}, urls)
}

func TestSearchURLsRoutesCensoredNumbersDirectly(t *testing.T) {
	s := New("https://missav.ws")
	urls := s.SearchURLs(newCtx("SSIS-497"))
	assert.Equal(t, []string{"https://missav.ws/ssis-497"}, urls)
}

func TestParseSearchPageReturnsDirectSlugWhenNotSoftNotFound(t *testing.T) {
	s := New("https://missav.ws")
	ctx := newCtx("SSIS-497")
	ctx.Scratch["search_url"] = "https://missav.ws/ssis-497"

	html := `<html><head>
	  <meta property="og:title" content="SSIS-497 A Real Title">
	  <meta property="og:image" content="https://cdn.example/ssis-497.jpg">
	</head><body><h1>SSIS-497 A Real Title</h1></body></html>`

	detailURL, err := s.ParseSearchPage(ctx, html)
	require.NoError(t, err)
	assert.Equal(t, "https://missav.ws/ssis-497", detailURL)
}

func TestParseSearchPageDetectsSoftNotFoundOnDirectSlug(t *testing.T) {
	s := New("https://missav.ws")
	ctx := newCtx("SSIS-9999999")
	ctx.Scratch["search_url"] = "https://missav.ws/ssis-9999999"

	html := `<html><head>
	  <meta property="og:title" content="MissAV - Watch JAV Online Free">
	  <meta property="og:image" content="https://missav.ws/assets/logo.png">
	</head><body><h1>404 Page Not Found</h1></body></html>`

	_, err := s.ParseSearchPage(ctx, html)
	require.Error(t, err)
	var siteErr *crawler.Error
	require.ErrorAs(t, err, &siteErr)
	assert.Equal(t, crawler.KindSoftNotFound, siteErr.Kind)
}

func TestParseSearchPageSoftNotFound(t *testing.T) {
	s := New("https://missav.ws")
	_, err := s.ParseSearchPage(newCtx("ABC-123"), `<html><body>no links here</body></html>`)
	require.Error(t, err)
	var siteErr *crawler.Error
	require.ErrorAs(t, err, &siteErr)
	assert.Equal(t, crawler.KindSoftNotFound, siteErr.Kind)
}

func TestParseDetailPageExtractsFields(t *testing.T) {
	s := New("https://missav.ws")
	html := `
	<html><head>
	  <meta property="og:title" content="Fallback Title">
	  <meta property="og:description" content="A real, specific synopsis about the plot.">
	  <meta property="og:image" content="https://cdn.example/cover.jpg">
	</head><body>
	  <div class="text-secondary"><span>番號</span><span class="font-medium">ABC-123</span></div>
	  <div class="text-secondary"><span>標題</span><span class="font-medium">実際のタイトル</span></div>
	  <div class="text-secondary"><span>女優</span><a>大島 優子</a><a>他の人</a></div>
	  <div class="text-secondary"><span>發行日期</span><time>2024-05-01</time></div>
	  <div class="text-secondary"><span>時長</span><span class="font-medium">120分鐘</span></div>
	  <div class="text-secondary"><span>類型</span><a>Tag1</a><a>Tag2</a></div>
	</body></html>`

	data, err := s.ParseDetailPage(newCtx("ABC-123"), html)
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", data.Number)
	assert.Equal(t, "実際のタイトル", data.Title)
	assert.Equal(t, []string{"大島 優子", "他の人"}, data.Actors)
	assert.Equal(t, "2024-05-01", data.Release)
	assert.Equal(t, "120", data.Runtime)
	assert.Equal(t, []string{"Tag1", "Tag2"}, data.Tags)
	assert.Equal(t, "https://cdn.example/cover.jpg", data.Thumb)
	assert.Equal(t, "A real, specific synopsis about the plot.", data.Outline)
}

func TestParseDetailPageRejectsGenericOutline(t *testing.T) {
	s := New("https://missav.ws")
	html := `
	<html><head>
	  <meta property="og:description" content="免費高清日本av在線看 無需下載">
	</head><body></body></html>`

	data, err := s.ParseDetailPage(newCtx("ABC-123"), html)
	require.NoError(t, err)
	assert.Equal(t, "", data.Outline)
}

func TestToMinutesHandlesSecondsHeuristic(t *testing.T) {
	assert.Equal(t, "125", toMinutes("125"))
	assert.Equal(t, "120", toMinutes("7200"))
	assert.Equal(t, "120", toMinutes("120分鐘"))
	assert.Equal(t, "", toMinutes(""))
}

func TestPreferJapaneseNameExtractsParenthetical(t *testing.T) {
	assert.Equal(t, "大島優子", preferJapaneseName("Yuko Oshima (大島優子)"))
	assert.Equal(t, "Plain Name", preferJapaneseName("Plain Name"))
}
