package dmm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/events"
	"github.com/Hazard804/mdcx/internal/httpclient"
	"github.com/Hazard804/mdcx/internal/model"
)

func newDmmCtx(t *testing.T, number string) *crawler.Context {
	t.Helper()
	bus := events.NewBus()
	client, err := httpclient.New(httpclient.Config{Retry: 1, Timeout: 2 * time.Second}, bus)
	require.NoError(t, err)
	return crawler.NewContext(context.Background(), "dmm", model.Input{Number: number}, client, nil)
}

func TestCandidateCIDsPadsAndBares(t *testing.T) {
	padded, bare := candidateCIDs("SSIS-497")
	assert.Equal(t, "ssis00497", padded)
	assert.Equal(t, "ssis497", bare)
}

func TestParseCategoryFromURL(t *testing.T) {
	assert.Equal(t, categoryDigital, parseCategory("https://www.dmm.co.jp/digital/videoa/-/detail/=/cid=ssis00497/"))
	assert.Equal(t, categoryMono, parseCategory("https://www.dmm.co.jp/mono/dvd/-/detail/=/cid=ssis00497/"))
	assert.Equal(t, categoryRental, parseCategory("https://www.dmm.co.jp/rental/-/detail/=/cid=ssis00497/"))
	assert.Equal(t, categoryUnknown, parseCategory("https://www.dmm.co.jp/unknown/-/detail/=/cid=ssis00497/"))
}

func TestParseSearchPageMatchesCID(t *testing.T) {
	s := New("")
	html := `<html><body>
	  <a href="/digital/videoa/-/detail/=/cid=ssis00497/">cover</a>
	</body></html>`

	ctx := newDmmCtx(t, "SSIS-497")
	detailURL, err := s.ParseSearchPage(ctx, html)
	require.NoError(t, err)
	assert.Contains(t, detailURL, "cid=ssis00497")
	assert.Equal(t, categoryDigital, ctx.Scratch["category"])
}

func TestParseSearchPageSoftNotFound(t *testing.T) {
	s := New("")
	ctx := newDmmCtx(t, "SSIS-497")
	_, err := s.ParseSearchPage(ctx, `<html><body>no matches</body></html>`)
	require.Error(t, err)
	var siteErr *crawler.Error
	require.ErrorAs(t, err, &siteErr)
	assert.Equal(t, crawler.KindSoftNotFound, siteErr.Kind)
}

func TestParseDetailPageExtractsTableFields(t *testing.T) {
	s := New("")
	html := `<html><head>
	  <meta property="og:title" content="フォールバックタイトル">
	  <meta property="og:image" content="https://pics.dmm.co.jp/digital/video/ssis00497/ssis00497ps.jpg">
	</head><body>
	  <table>
	    <tr><td>品番：</td><td>ssis00497</td></tr>
	    <tr><td>出演者：</td><td><a>三上悠亜</a></td></tr>
	    <tr><td>監督：</td><td><a>タナカ</a></td></tr>
	    <tr><td>シリーズ：</td><td><a>あるシリーズ</a></td></tr>
	    <tr><td>メーカー：</td><td><a>S1</a></td></tr>
	    <tr><td>レーベル：</td><td><a>S1 NO.1 STYLE</a></td></tr>
	    <tr><td>ジャンル：</td><td><a>単体作品</a><a>デジモ</a></td></tr>
	    <tr><td>発売日：</td><td>2024/05/01</td></tr>
	    <tr><td>収録時間：</td><td>120分</td></tr>
	  </table>
	</body></html>`

	ctx := newDmmCtx(t, "SSIS-497")
	data, err := s.ParseDetailPage(ctx, html)
	require.NoError(t, err)
	assert.Equal(t, "ssis00497", data.Number)
	assert.Equal(t, []string{"三上悠亜"}, data.Actors)
	assert.Equal(t, []string{"タナカ"}, data.Directors)
	assert.Equal(t, "あるシリーズ", data.Series)
	assert.Equal(t, "S1", data.Studio)
	assert.Equal(t, "S1 NO.1 STYLE", data.Publisher)
	assert.Equal(t, []string{"単体作品", "デジモ"}, data.Tags)
	assert.Equal(t, "2024-05-01", data.Release)
	assert.Equal(t, "120", data.Runtime)
	assert.Equal(t, "https://pics.dmm.co.jp/digital/video/ssis00497/ssis00497ps.jpg", data.Thumb)
}

func TestParseDetailPageDerivesPortraitPosterFromLandscapeThumb(t *testing.T) {
	s := New("")
	html := `<html><head>
	  <meta property="og:title" content="タイトル">
	  <meta property="og:image" content="https://pics.dmm.co.jp/digital/video/ssis00497/ssis00497pl.jpg">
	</head><body></body></html>`

	ctx := newDmmCtx(t, "SSIS-497")
	data, err := s.ParseDetailPage(ctx, html)
	require.NoError(t, err)
	assert.Equal(t, "https://pics.dmm.co.jp/digital/video/ssis00497/ssis00497pl.jpg", data.Thumb)
	assert.Equal(t, "https://pics.dmm.co.jp/digital/video/ssis00497/ssis00497ps.jpg", data.Poster)
	assert.True(t, data.ImageDownload)
}

func TestApplySODCropOverrideCropsWhenLandscapeMuchLarger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pl.jpg":
			w.Header().Set("Content-Length", "200000")
			w.Write(make([]byte, 200000))
		case "/ps.jpg":
			w.Header().Set("Content-Length", "20000")
			w.Write(make([]byte, 20000))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	withStubLitevideoHost(t, srv.URL)

	s := New("")
	ctx := newDmmCtx(t, "SSIS-497")
	data := &model.CrawlerData{Studio: "SOD", Thumb: srv.URL + "/pl.jpg", Poster: srv.URL + "/ps.jpg"}
	require.NoError(t, s.PostProcess(ctx, data))
	assert.False(t, data.ImageDownload)
	assert.Equal(t, model.ImageCutRight, data.ImageCut)
}

func TestApplySODCropOverrideSkipsNonSODStudios(t *testing.T) {
	s := New("")
	ctx := newDmmCtx(t, "SSIS-497")
	data := &model.CrawlerData{Studio: "S1", ImageDownload: true, ImageCut: model.ImageCutCenter}
	s.applySODCropOverride(ctx, data)
	assert.True(t, data.ImageDownload)
	assert.Equal(t, model.ImageCutCenter, data.ImageCut)
}

func TestNeedsBrowserOnlyForDigitalCategory(t *testing.T) {
	s := New("")
	ctx := newDmmCtx(t, "SSIS-497")
	assert.False(t, s.NeedsBrowser(ctx))

	ctx.Scratch["category"] = categoryDigital
	assert.True(t, s.NeedsBrowser(ctx))

	ctx.Scratch["category"] = categoryMono
	assert.False(t, s.NeedsBrowser(ctx))
}

// withStubLitevideoHost points quality-ladder construction/probing at an
// httptest server for the duration of a test, restoring the real CDN host
// on cleanup.
func withStubLitevideoHost(t *testing.T, url string) {
	t.Helper()
	orig := litevideoHostOverride
	litevideoHostOverride = url
	t.Cleanup(func() { litevideoHostOverride = orig })
}

func TestPostProcessKeepsExistingTrailerWhenNoLadderCandidateValidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	withStubLitevideoHost(t, srv.URL)

	s := New("")
	ctx := newDmmCtx(t, "SSIS-497")
	data := &model.CrawlerData{Trailer: "https://already.example/trailer.mp4"}
	require.NoError(t, s.PostProcess(ctx, data))
	assert.Equal(t, "https://already.example/trailer.mp4", data.Trailer)
}

func TestPostProcessEscalatesToHighestValidatedLadderRung(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "_hhb_w.mp4") {
			w.Header().Set("Content-Type", "video/mp4")
			w.Write([]byte("fake-video-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	withStubLitevideoHost(t, srv.URL)

	s := New("")
	ctx := newDmmCtx(t, "SSIS-497")
	data := &model.CrawlerData{}
	require.NoError(t, s.PostProcess(ctx, data))
	assert.Contains(t, data.Trailer, "_hhb_w.mp4")
	assert.Equal(t, 7, data.TrailerQualityRank)
}

func TestPostProcessFetchesFanzaTVExtraFanart(t *testing.T) {
	ladderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ladderSrv.Close()
	withStubLitevideoHost(t, ladderSrv.URL)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"title":{"sampleMovie":{"url":"` + ladderSrv.URL + `/hlsvideo/pv/abc/ssis00497_dmb_w.mp4"},"samplePictures":[{"url":"https://pics.dmm.co.jp/f1.jpg"}]}}}`))
	}))
	defer srv.Close()

	s := New("")
	ctx := newDmmCtx(t, "SSIS-497")
	data := &model.CrawlerData{}

	orig := fanzaTVEndpointOverride
	fanzaTVEndpointOverride = srv.URL
	defer func() { fanzaTVEndpointOverride = orig }()

	require.NoError(t, s.PostProcess(ctx, data))
	assert.Equal(t, []string{"https://pics.dmm.co.jp/f1.jpg"}, data.ExtraFanart)
}
