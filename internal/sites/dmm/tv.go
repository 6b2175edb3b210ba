package dmm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/httpclient"
)

// fanzaTVEndpoint is the Fanza TV Plus GraphQL host used to resolve a
// sample-video temp link into a stable, directly downloadable trailer URL
// (supplemented feature, grounded on the original project's dmm_new
// package, which this storefront crawler never otherwise touches).
const fanzaTVEndpoint = "https://api.tv.dmm.co.jp/graphql"

// fanzaTVEndpointOverride lets tests point the sub-crawl at an httptest
// server instead of the real Fanza TV host.
var fanzaTVEndpointOverride = fanzaTVEndpoint

// litevideoHost is DMM's trailer CDN origin.
const litevideoHost = "https://cc3001.dmm.co.jp"

// litevideoHostOverride lets tests point quality-ladder construction and
// probing at an httptest server instead of the real litevideo CDN.
var litevideoHostOverride = litevideoHost

const fanzaTVQuery = `query Title($titleId: ID!) {
  title(id: $titleId) {
    sampleMovie { url }
    samplePictures { url }
  }
}`

type fanzaTVRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type fanzaTVResponse struct {
	Data struct {
		Title struct {
			SampleMovie struct {
				URL string `json:"url"`
			} `json:"sampleMovie"`
			SamplePictures []struct {
				URL string `json:"url"`
			} `json:"samplePictures"`
		} `json:"title"`
	} `json:"data"`
}

// TVResult carries the fields FetchFanzaTV can contribute back into a
// CrawlerData that the storefront page itself left empty.
type TVResult struct {
	Trailer     string
	ExtraFanart []string
}

// FetchFanzaTV queries the Fanza TV GraphQL endpoint for cid and
// reconstructs a canonical trailer URL from whatever temp-link or
// playlist shape it returns.
func FetchFanzaTV(ctx *crawler.Context, client *httpclient.Client, cid string) (TVResult, error) {
	if client == nil {
		return TVResult{}, fmt.Errorf("dmm: no http client available for fanza tv lookup")
	}

	body := fanzaTVRequest{
		Query:     fanzaTVQuery,
		Variables: map[string]any{"titleId": cid},
	}
	var resp fanzaTVResponse
	if err := client.PostJSON(ctx, fanzaTVEndpointOverride, &resp, httpclient.Options{JSON: body}); err != nil {
		return TVResult{}, fmt.Errorf("dmm: fanza tv query failed: %w", err)
	}

	var result TVResult
	if raw := resp.Data.Title.SampleMovie.URL; raw != "" {
		result.Trailer = ReconstructTrailerURL(raw, cid)
	}
	for _, pic := range resp.Data.Title.SamplePictures {
		if pic.URL != "" {
			result.ExtraFanart = append(result.ExtraFanart, pic.URL)
		}
	}
	return result, nil
}

// tempLinkPattern matches the Fanza TV "temp link" shape
// ".../pv/{key}/{filename}", where filename still carries a quality
// suffix (e.g. "abc123_dmb_w.mp4") that must be stripped before
// reconstructing the canonical litevideo path.
var tempLinkPattern = regexp.MustCompile(`/pv/([^/]+)/([^/?#]+)`)

// qualitySuffixPattern strips the trailing "_XXX_w" resolution token DMM
// embeds in sample filenames (e.g. "_dmb_w", "_sm_w", "_dm_w").
var qualitySuffixPattern = regexp.MustCompile(`_[a-z]{2,3}_w(\.[a-zA-Z0-9]+)$`)

// ReconstructTrailerURL ports the original project's fetch_fanza_tv
// URL-rewrite: a temp-link sample URL never stays valid, so it is rewritten
// into DMM's stable "litevideo/freepv" CDN path, keyed by the title's cid.
// Non-temp-link URLs (an hlsvideo playlist) fall back to the "_sm_w.mp4"
// direct-file naming convention instead.
func ReconstructTrailerURL(raw, cid string) string {
	raw = strings.Replace(raw, "hlsvideo", "litevideo", 1)

	if m := tempLinkPattern.FindStringSubmatch(raw); m != nil {
		filename := qualitySuffixPattern.ReplaceAllString(m[2], "$1")
		filename = strings.TrimSuffix(filename, ".mp4")
		prefix := cidPrefix(cid)
		threeChar := cidThreeChar(cid)
		return fmt.Sprintf("%s/litevideo/freepv/%s/%s/%s/%s.mp4", litevideoHostOverride, prefix, threeChar, cid, filename)
	}

	if strings.Contains(raw, "playlist.m3u8") {
		return fmt.Sprintf("%s/litevideo/freepv/%s/%s/%s/%s_sm_w.mp4", litevideoHostOverride, cidPrefix(cid), cidThreeChar(cid), cid, cid)
	}

	return raw
}

// litevideoCIDPattern extracts the cid segment from a litevideo/freepv
// trailer URL, e.g. ".../litevideo/freepv/a/abc/abc00123/abc00123_hhb_w.mp4"
// -> "abc00123".
var litevideoCIDPattern = regexp.MustCompile(`/litevideo/freepv/[^/]+/[^/]+/([^/]+)/`)

// CIDFromTrailerURL recovers the cid a litevideo/freepv trailer URL was
// built from, so a post-merge refinement step that only has the final
// trailer URL (not the site's own Scratch state) can still reconstruct the
// full quality-ladder candidate set via TrailerLadder.
func CIDFromTrailerURL(trailerURL string) string {
	m := litevideoCIDPattern.FindStringSubmatch(trailerURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// TrailerLadder builds the full litevideo/freepv candidate set for cid,
// one URL per quality token on DMM's quality ladder (spec §4.6), for
// refiner.ProbeBestTrailer to probe from highest to lowest.
func TrailerLadder(cid string) []string {
	if cid == "" {
		return nil
	}
	prefix := cidPrefix(cid)
	threeChar := cidThreeChar(cid)
	tokens := []string{"4k", "hhb", "mhb", "hmb", "mmb", "dmb", "dm", "sm"}
	ladder := make([]string, 0, len(tokens))
	for _, token := range tokens {
		ladder = append(ladder, fmt.Sprintf("%s/litevideo/freepv/%s/%s/%s/%s_%s_w.mp4", litevideoHostOverride, prefix, threeChar, cid, cid, token))
	}
	return ladder
}

// cidPrefix is the first character of the cid, used as DMM's top-level
// litevideo bucket shard.
func cidPrefix(cid string) string {
	if cid == "" {
		return ""
	}
	return cid[:1]
}

// cidThreeChar is the first three characters of the cid, used as DMM's
// second-level litevideo bucket shard.
func cidThreeChar(cid string) string {
	if len(cid) < 3 {
		return cid
	}
	return cid[:3]
}
