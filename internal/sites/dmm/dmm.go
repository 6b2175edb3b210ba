// Package dmm implements the DMM/Fanza site crawler (spec §4.4), including
// the digital/mono/rental detail-page table parser and, as a supplemented
// feature read from the original project's dmm_new package, a Fanza TV
// GraphQL sub-crawl that reconstructs a playable trailer URL from a
// temp-link pattern the storefront page itself never exposes directly.
package dmm

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/model"
	"github.com/Hazard804/mdcx/internal/refiner"
)

// category is the DMM detail-page shape, inferred from the URL path (spec
// §4.4's "DMM digital/mono/rental detail-URL variants").
type category string

const (
	categoryDigital category = "digital"
	categoryMono    category = "mono"
	categoryRental  category = "rental"
	categoryUnknown category = "unknown"
)

func parseCategory(detailURL string) category {
	switch {
	case strings.Contains(detailURL, "/digital/"):
		return categoryDigital
	case strings.Contains(detailURL, "/mono/"):
		return categoryMono
	case strings.Contains(detailURL, "/rental/"):
		return categoryRental
	default:
		return categoryUnknown
	}
}

// Site implements crawler.Site for dmm.co.jp / dmm.com.
type Site struct {
	baseURL string
}

// New constructs a dmm Site. baseURL defaults to the .co.jp storefront
// origin when empty; search and detail URLs are built on that one origin,
// and no .com storefront is queried.
func New(baseURL string) *Site {
	if baseURL == "" {
		baseURL = "https://www.dmm.co.jp"
	}
	return &Site{baseURL: baseURL}
}

func (s *Site) Name() string    { return "dmm" }
func (s *Site) BaseURL() string { return s.baseURL }

func (s *Site) SearchURLs(ctx *crawler.Context) []string {
	return []string{fmt.Sprintf("%s/search/=/searchstr=%s/", s.baseURL, url.QueryEscape(ctx.Input.Number))}
}

func (s *Site) Cookies(ctx *crawler.Context) map[string]string {
	return map[string]string{"age_check_done": "1"}
}

// NeedsBrowser reports true once ParseSearchPage has classified the
// resolved detail URL as "digital" — DMM's digital storefront renders its
// gallery and trailer links via client-side JS (spec §4.4).
func (s *Site) NeedsBrowser(ctx *crawler.Context) bool {
	cat, _ := ctx.Scratch["category"].(category)
	return cat == categoryDigital
}

// numberPattern mirrors the source project's (prefix)(digits) split used to
// build both a zero-padded and a bare candidate for matching DMM's cid
// scheme (e.g. "SSIS-497" -> "ssis00497" / "ssis497").
var numberPattern = regexp.MustCompile(`(\d*[a-z]+)?-?(\d+)`)

func candidateCIDs(number string) (padded, bare string) {
	m := numberPattern.FindStringSubmatch(strings.ToLower(number))
	if m == nil {
		return "", ""
	}
	prefix, digits := m[1], m[2]
	return fmt.Sprintf("%s%05s", prefix, digits), prefix + digits
}

func (s *Site) ParseSearchPage(ctx *crawler.Context, html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", crawler.New(s.Name(), crawler.KindParseFailure, err)
	}

	padded, bare := candidateCIDs(ctx.Input.Number)
	if padded == "" {
		return "", crawler.New(s.Name(), crawler.KindParseFailure, fmt.Errorf("could not derive cid from %q", ctx.Input.Number))
	}

	var detailURL string
	doc.Find("a[href*='/detail/']").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		if strings.Contains(href, "cid="+padded) || strings.Contains(href, "cid="+bare) {
			detailURL = href
			return false
		}
		return true
	})

	if detailURL == "" {
		return "", crawler.New(s.Name(), crawler.KindSoftNotFound, nil)
	}
	detailURL = resolveURL(s.baseURL, detailURL)
	ctx.Scratch["category"] = parseCategory(detailURL)
	ctx.Scratch["cid"] = padded
	return detailURL, nil
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(u).String()
}

// infoValue reads a DMM detail-page definition row (<tr><td>label</td>
// <td>value</td></tr>, the classic mono/rental storefront table shape) by
// matching on the label cell's text.
func infoValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return true
		}
		if strings.Contains(strings.TrimSpace(cells.Eq(0).Text()), label) {
			value = strings.TrimSpace(cells.Eq(1).Text())
			return false
		}
		return true
	})
	return value
}

func infoLinks(doc *goquery.Document, label string) []string {
	var links []string
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return true
		}
		if strings.Contains(strings.TrimSpace(cells.Eq(0).Text()), label) {
			cells.Eq(1).Find("a").Each(func(_ int, a *goquery.Selection) {
				t := strings.TrimSpace(a.Text())
				if t != "" {
					links = append(links, t)
				}
			})
			return false
		}
		return true
	})
	return links
}

func metaContent(doc *goquery.Document, property string) string {
	v, _ := doc.Find(fmt.Sprintf(`meta[property="%s"]`, property)).First().Attr("content")
	return strings.TrimSpace(v)
}

func (s *Site) ParseDetailPage(ctx *crawler.Context, html string) (*model.CrawlerData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, crawler.New(s.Name(), crawler.KindParseFailure, err)
	}

	title := metaContent(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1#title").First().Text())
	}

	number := infoValue(doc, "品番")
	if number == "" {
		number = ctx.Input.Number
	}

	actors := infoLinks(doc, "出演者")
	directors := infoLinks(doc, "監督")
	series := firstOrValue(infoLinks(doc, "シリーズ"), infoValue(doc, "シリーズ"))
	studio := firstOrValue(infoLinks(doc, "メーカー"), infoValue(doc, "メーカー"))
	publisher := firstOrValue(infoLinks(doc, "レーベル"), infoValue(doc, "レーベル"))
	tags := infoLinks(doc, "ジャンル")
	release := normalizeDMMDate(infoValue(doc, "発売日"))
	runtime := extractDigits(infoValue(doc, "収録時間"))

	// DMM's og:image is the landscape "pl" package shot used as the list
	// thumbnail; the portrait "ps" cover the rest of the system treats as
	// the poster is the same asset under DMM's own pl/ps naming
	// convention, not a second image.
	thumb := metaContent(doc, "og:image")
	poster := thumb
	if strings.Contains(thumb, "pl.jpg") {
		poster = strings.Replace(thumb, "pl.jpg", "ps.jpg", 1)
	}

	data := &model.CrawlerData{
		Number:        number,
		Title:         title,
		OriginalTitle: title,
		Actors:        model.DedupePreserveOrder(actors),
		AllActors:     model.DedupePreserveOrder(actors),
		Directors:     model.DedupePreserveOrder(directors),
		Tags:          model.DedupePreserveOrder(tags),
		Series:        series,
		Studio:        studio,
		Publisher:     publisher,
		Release:       release,
		Runtime:       runtime,
		Thumb:         thumb,
		Poster:        poster,
		ImageCut:      model.ImageCutCenter,
		ImageDownload: true,
		ExternalID:    ctx.Input.Number,
	}
	return data, nil
}

// PostProcess escalates the trailer to DMM's highest reachable quality,
// upgrades the cover image to its AWS-mirror original-resolution form, and
// arbitrates SOD's crop-vs-download image override (spec §4.4, §4.6, §8
// scenario 3).
func (s *Site) PostProcess(ctx *crawler.Context, data *model.CrawlerData) error {
	cid, ok := ctx.Scratch["cid"].(string)
	if !ok || cid == "" {
		padded, _ := candidateCIDs(ctx.Input.Number)
		cid = padded
	}

	if cid != "" {
		tv, err := FetchFanzaTV(ctx, ctx.Client, cid)
		if err != nil {
			ctx.Debugf("fanza tv sub-crawl skipped: %v", err)
		} else if len(tv.ExtraFanart) > 0 && len(data.ExtraFanart) == 0 {
			data.ExtraFanart = tv.ExtraFanart
		}

		candidates := TrailerLadder(cid)
		if tv.Trailer != "" {
			candidates = append([]string{tv.Trailer}, candidates...)
		}
		if data.Trailer != "" {
			candidates = append([]string{data.Trailer}, candidates...)
		}
		if len(candidates) > 0 && ctx.Client != nil {
			best, rank, err := refiner.ProbeBestTrailer(ctx, ctx.Client, candidates)
			if err != nil {
				ctx.Debugf("trailer quality probe found no reachable candidate: %v", err)
			} else {
				data.Trailer = best
				data.TrailerQualityRank = rank
			}
		}
	}

	if data.Thumb != "" && ctx.Client != nil {
		data.Thumb = refiner.UpgradeToAWSMirror(ctx, ctx.Client, data.Thumb)
	}

	s.applySODCropOverride(ctx, data)
	return nil
}

// applySODCropOverride implements spec §8 scenario 3: when the studio is
// SOD and its landscape "pl" thumb is reported much larger (by byte size)
// than the portrait "ps" poster, crop the poster from the thumb instead of
// downloading it directly.
func (s *Site) applySODCropOverride(ctx *crawler.Context, data *model.CrawlerData) {
	if !strings.EqualFold(data.Studio, "SOD") {
		return
	}
	if data.Thumb == "" || data.Poster == "" || ctx.Client == nil {
		return
	}

	plBytes, err := refiner.ProbeImageBytes(ctx, ctx.Client, data.Thumb)
	if err != nil {
		ctx.Debugf("sod crop probe skipped thumb: %v", err)
		return
	}
	psBytes, err := refiner.ProbeImageBytes(ctx, ctx.Client, data.Poster)
	if err != nil {
		ctx.Debugf("sod crop probe skipped poster: %v", err)
		return
	}

	download, cut := refiner.SODCropOverride(
		refiner.ImageByteSize{URL: data.Thumb, Bytes: plBytes},
		refiner.ImageByteSize{URL: data.Poster, Bytes: psBytes},
		refiner.SODImageSizeRatio,
	)
	data.ImageDownload = download
	data.ImageCut = cut
}

func firstOrValue(links []string, value string) string {
	if len(links) > 0 {
		return links[0]
	}
	return value
}

var digitsOnly = regexp.MustCompile(`\d+`)

func extractDigits(value string) string {
	return digitsOnly.FindString(value)
}

var dmmDateRegexp = regexp.MustCompile(`(\d{4})[/年](\d{1,2})[/月](\d{1,2})`)

// normalizeDMMDate converts DMM's "2024/05/01" or "2024年05月01日" date
// display into the ISO form the rest of the system expects.
func normalizeDMMDate(value string) string {
	m := dmmDateRegexp.FindStringSubmatch(value)
	if m == nil {
		return ""
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return fmt.Sprintf("%s-%02d-%02d", m[1], month, day)
}
