// Package missav implements the MissAV site crawler (spec §4.4's enumerated
// site list), grounded on the original project's label-driven info-row
// parser: MissAV's detail page renders its metadata as a flat list of
// "label: value" rows rather than a structured schema, so the parser reads
// whichever label variant (Japanese, Traditional/Simplified Chinese, or
// English) the page happened to render.
package missav

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/model"
)

// Site implements crawler.Site for missav.ws.
type Site struct {
	baseURL string
}

// New constructs a missav Site. baseURL defaults to the production origin
// when empty, letting tests point it at an httptest server.
func New(baseURL string) *Site {
	if baseURL == "" {
		baseURL = "https://missav.ws"
	}
	return &Site{baseURL: baseURL}
}

func (s *Site) Name() string    { return "missav" }
func (s *Site) BaseURL() string { return s.baseURL }

// uncensoredNumberPattern matches the bare "010101-123" FC2/Caribbeancom-style
// numbering scheme uncensored studios use (spec §4.4).
var uncensoredNumberPattern = regexp.MustCompile(`^\d{6}[-_]\d{3,4}(-[A-Za-z])?$`)

// uncensoredPrefixes are known studio/series prefixes that publish
// uncensored content under a non-numeric catalog scheme (spec §4.4 "or
// known-uncensored prefixes").
var uncensoredPrefixes = []string{"FC2", "HEYZO", "1PON", "CARIB", "10MU", "PACOPACOMAMA", "MUGEN"}

// isUncensoredNumber decides which MissAV lookup strategy to use: uncensored
// numbers are searched for (their catalog number rarely matches MissAV's own
// slug exactly), censored numbers go straight to their slug-style detail URL.
func isUncensoredNumber(number string) bool {
	if uncensoredNumberPattern.MatchString(number) {
		return true
	}
	upper := strings.ToUpper(number)
	for _, prefix := range uncensoredPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// slugify lowercases a catalog number into MissAV's detail-URL slug form
// (e.g. "SSIS-497" -> "ssis-497").
func slugify(number string) string {
	return strings.ToLower(strings.TrimSpace(number))
}

func (s *Site) SearchURLs(ctx *crawler.Context) []string {
	if !isUncensoredNumber(ctx.Input.Number) {
		return []string{fmt.Sprintf("%s/%s", s.baseURL, slugify(ctx.Input.Number))}
	}
	return []string{fmt.Sprintf("%s/search/%s", s.baseURL, url.PathEscape(ctx.Input.Number))}
}

func (s *Site) Cookies(ctx *crawler.Context) map[string]string { return nil }

func (s *Site) NeedsBrowser(ctx *crawler.Context) bool { return false }

var detailLinkPattern = regexp.MustCompile(`^/(en/)?[a-zA-Z0-9-]+$`)

// ParseSearchPage returns the first search-result link that looks like a
// detail page rather than navigation chrome (genre/actress index links).
// When the originating request was a censored direct-slug guess rather than
// a search, the fetched page IS the detail page: it is returned as-is
// unless isSoftNotFound flags it as a 404 dressed up as a 200.
func (s *Site) ParseSearchPage(ctx *crawler.Context, html string) (string, error) {
	if searchURL, ok := ctx.Scratch["search_url"].(string); ok && !strings.Contains(searchURL, "/search/") {
		if isSoftNotFound(html) {
			return "", crawler.New(s.Name(), crawler.KindSoftNotFound, nil)
		}
		return searchURL, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", crawler.New(s.Name(), crawler.KindParseFailure, err)
	}

	if isSoftNotFound(html) {
		return "", crawler.New(s.Name(), crawler.KindSoftNotFound, nil)
	}

	var detailURL string
	doc.Find("a.text-secondary, a.group").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		if detailLinkPattern.MatchString(u.Path) {
			detailURL = resolveURL(s.baseURL, href)
			return false
		}
		return true
	})

	if detailURL == "" {
		return "", crawler.New(s.Name(), crawler.KindSoftNotFound, nil)
	}
	return detailURL, nil
}

func (s *Site) ParseDetailPage(ctx *crawler.Context, html string) (*model.CrawlerData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, crawler.New(s.Name(), crawler.KindParseFailure, err)
	}

	rows := collectInfoRows(doc)

	number, _ := findInfoValue(rows, codeLabels)
	if number == "" {
		number = ctx.Input.Number
	}

	title, _ := findInfoValue(rows, titleLabels)
	if title == "" {
		title = metaContent(doc, "og:title")
		if title == "" {
			title = strings.TrimSpace(doc.Find("h1").First().Text())
		}
	}

	actresses := extractNames(rows, actressLabels)
	if len(actresses) == 0 {
		if neutral := extractNames(rows, neutralActorLabels); len(neutral) > 0 {
			actresses = neutral
		}
	}
	_, maleLinks := findInfoValue(rows, actorLabels)
	actors := actresses
	if len(actors) == 0 && len(maleLinks) == 0 {
		actors = normalizePersonNames(ogContents(doc, "og:video:actor"))
	}

	allActors := model.DedupePreserveOrder(append(append(
		extractNames(rows, actressLabels),
		extractNames(rows, actorLabels)...),
		extractNames(rows, neutralActorLabels)...))
	if len(allActors) == 0 {
		allActors = normalizePersonNames(ogContents(doc, "og:video:actor"))
	}

	directors := extractNames(rows, directorLabels)
	if len(directors) == 0 {
		directors = normalizePersonNames(ogContents(doc, "og:video:director"))
	}

	outline := metaContent(doc, "og:description")
	if outline == "" {
		outline = metaContent(doc, "description")
	}
	outline = strings.TrimSpace(outline)
	if isGenericOutline(outline) {
		outline = ""
	}

	release, _ := findInfoValue(rows, releaseLabels)
	if release == "" {
		release = metaContent(doc, "og:video:release_date")
	}

	runtimeRaw, _ := findInfoValue(rows, durationLabels)
	if runtimeRaw == "" {
		runtimeRaw = metaContent(doc, "og:video:duration")
	}

	tags := extractTags(rows)

	seriesVal, seriesLinks := findInfoValue(rows, seriesLabels)
	series := seriesVal
	if len(seriesLinks) > 0 {
		series = seriesLinks[0]
	}

	publisherVal, publisherLinks := findInfoValue(rows, makerLabels)
	publisher := publisherVal
	if len(publisherLinks) > 0 {
		publisher = publisherLinks[0]
	}

	thumb := metaContent(doc, "og:image")

	data := &model.CrawlerData{
		Number:        number,
		Title:         title,
		OriginalTitle: title,
		Outline:       outline,
		OriginalPlot:  outline,
		Actors:        actors,
		AllActors:     allActors,
		Directors:     directors,
		Tags:          tags,
		Series:        series,
		Publisher:     publisher,
		Release:       model.NormalizeRelease(release),
		Runtime:       toMinutes(runtimeRaw),
		Thumb:         thumb,
		Poster:        thumb,
		ImageCut:      model.ImageCutNone,
	}
	return data, nil
}

func (s *Site) PostProcess(ctx *crawler.Context, data *model.CrawlerData) error {
	return nil
}

// --- label tables, ported from the source project's Parser class ---

var (
	codeLabels         = []string{"番號", "番号", "code"}
	titleLabels        = []string{"標題", "标题", "title"}
	actressLabels      = []string{"女優", "女优", "actress"}
	actorLabels        = []string{"男優", "男优", "actor"}
	neutralActorLabels = []string{"演員", "演员", "cast", "performer", "performers"}
	releaseLabels      = []string{"發行日期", "发行日期", "release date", "releasedate"}
	durationLabels     = []string{"時長", "时长", "duration", "runtime"}
	tagLabels          = []string{"類型", "类型", "genre", "genres", "tags"}
	tagFallbackLabels  = []string{"標籤", "标签"}
	seriesLabels       = []string{"系列", "series"}
	makerLabels        = []string{"發行商", "发行商", "maker", "publisher", "studio"}
	directorLabels     = []string{"導演", "导演", "director"}
)

type infoRow struct {
	label string
	value string
	links []string
}

func collectInfoRows(doc *goquery.Document) []infoRow {
	var rows []infoRow
	doc.Find("div.text-secondary").Each(func(_ int, sel *goquery.Selection) {
		spans := sel.Find("span")
		if spans.Length() == 0 {
			return
		}
		label := normalizeLabel(spans.First().Text())
		if label == "" {
			return
		}
		value := strings.TrimSpace(sel.Find("span.font-medium").First().Text())
		if value == "" {
			value = strings.TrimSpace(sel.Find("time").First().Text())
		}
		var links []string
		sel.Find("a").Each(func(_ int, a *goquery.Selection) {
			t := strings.TrimSpace(a.Text())
			if t != "" {
				links = append(links, t)
			}
		})
		if value == "" && len(links) > 0 {
			value = strings.Join(links, " | ")
		}
		rows = append(rows, infoRow{label: label, value: value, links: links})
	})
	return rows
}

func normalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	label = strings.Trim(label, ":：")
	label = strings.TrimSpace(label)
	return strings.ToLower(label)
}

func labelSet(labels []string) map[string]struct{} {
	out := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		out[strings.ToLower(l)] = struct{}{}
	}
	return out
}

func findInfoValue(rows []infoRow, labels []string) (string, []string) {
	set := labelSet(labels)
	for _, row := range rows {
		if _, ok := set[row.label]; ok {
			return row.value, row.links
		}
	}
	return "", nil
}

func findInfoValues(rows []infoRow, labels []string) []infoRow {
	set := labelSet(labels)
	var out []infoRow
	for _, row := range rows {
		if _, ok := set[row.label]; ok {
			out = append(out, row)
		}
	}
	return out
}

func splitNames(value string) []string {
	if value == "" {
		return nil
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		switch r {
		case '|', '｜', ',', '，', '/', '／', '、':
			return true
		}
		return false
	})
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" && f != "-" && f != "_" {
			out = append(out, f)
		}
	}
	return out
}

// preferJapaneseName extracts a parenthesized alias when present, matching
// the source project's preference for the Japanese reading over a
// romanized/localized display name.
func preferJapaneseName(value string) string {
	name := strings.TrimSpace(value)
	if name == "" {
		return ""
	}
	if idx := strings.IndexAny(name, "(（"); idx >= 0 {
		rest := name[idx+1:]
		if end := strings.IndexAny(rest, ")）"); end >= 0 {
			if jp := strings.TrimSpace(rest[:end]); jp != "" {
				return jp
			}
		}
	}
	return name
}

func normalizePersonNames(names []string) []string {
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, preferJapaneseName(n))
	}
	return model.DedupePreserveOrder(out)
}

func extractNames(rows []infoRow, labels []string) []string {
	value, links := findInfoValue(rows, labels)
	names := links
	if len(names) == 0 {
		names = splitNames(value)
	}
	return normalizePersonNames(names)
}

func extractTags(rows []infoRow) []string {
	value, links := findInfoValue(rows, tagLabels)
	tags := links
	if len(tags) == 0 {
		tags = splitNames(value)
	}
	if len(tags) == 0 {
		for _, row := range findInfoValues(rows, tagFallbackLabels) {
			if len(row.links) > 0 {
				tags = append(tags, row.links...)
			} else {
				tags = append(tags, splitNames(row.value)...)
			}
		}
	}
	return model.DedupePreserveOrder(tags)
}

var durationDigits = regexp.MustCompile(`\d+`)

// toMinutes converts a raw duration string to whole minutes, treating any
// value >= 300 as already-expressed-in-seconds (mirrors the source
// project's heuristic for sites that report runtime in seconds).
func toMinutes(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	match := durationDigits.FindString(raw)
	if match == "" {
		return raw
	}
	num, err := strconv.Atoi(match)
	if err != nil {
		return raw
	}
	if num >= 300 {
		minutes := num / 60
		if minutes < 1 {
			minutes = 1
		}
		return strconv.Itoa(minutes)
	}
	return strconv.Itoa(num)
}

var outlineWhitespace = regexp.MustCompile(`\s+`)

// genericOutlineMarkers are boilerplate phrases (in both Traditional and
// Simplified Chinese) that mean the "description" is actually site chrome
// advertising free streaming, not a real synopsis.
var genericOutlineMarkers = []string{
	"免費高清日本av在線看",
	"免费高清日本av在线看",
	"無需下載",
	"无需下载",
	"開始播放後不會再有廣告",
	"开始播放后不会再有广告",
	"支援任何裝置包括手機",
	"支持任何装置包括手机",
	"可以番號",
	"可以番号",
	"加入會員後可任意收藏影片供日後觀賞",
	"加入会员后可任意收藏影片供日后观赏",
}

func isGenericOutline(value string) bool {
	normalized := strings.ToLower(outlineWhitespace.ReplaceAllString(value, ""))
	normalized = strings.ReplaceAll(normalized, "　", "")
	if normalized == "" {
		return true
	}
	hits := 0
	for _, marker := range genericOutlineMarkers {
		if strings.Contains(normalized, marker) {
			hits++
		}
	}
	return hits >= 2
}

// softNotFoundTokens are 404-ish substrings looked for in a page's title or
// visible body text (spec §4.4's soft-404 heuristic).
var softNotFoundTokens = []string{"404", "page not found", "not found", "找不到", "頁面不存在", "页面不存在"}

// genericSiteTitles are MissAV's own storefront/landing titles — seeing one
// of these where a specific video title is expected means the slug guess
// resolved to the homepage or a generic listing, not a real detail page.
var genericSiteTitles = []string{"missav", "最佳premium", "watch jav online", "javtiful"}

// isSoftNotFound implements spec §4.4's MissAV soft-404 rule: a page that
// answers 200 but is really a 404 dressed up as content, detected by the
// *combination* of a 404 token somewhere in the title/body and a generic
// site title or logo thumbnail (rather than the specific video's own
// title/cover) in the Open Graph tags.
func isSoftNotFound(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	title := strings.ToLower(metaContent(doc, "og:title"))
	image := strings.ToLower(metaContent(doc, "og:image"))
	bodyText := strings.ToLower(doc.Find("h1, p").Text())

	has404 := false
	for _, token := range softNotFoundTokens {
		if strings.Contains(title, token) || strings.Contains(bodyText, token) {
			has404 = true
			break
		}
	}
	if !has404 {
		return false
	}

	genericTitle := false
	for _, marker := range genericSiteTitles {
		if strings.Contains(title, marker) {
			genericTitle = true
			break
		}
	}
	genericImage := strings.Contains(image, "logo") || image == ""

	return genericTitle || genericImage
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property="%s"]`, property))
	if sel.Length() == 0 {
		sel = doc.Find(fmt.Sprintf(`meta[name="%s"]`, property))
	}
	v, _ := sel.First().Attr("content")
	return strings.TrimSpace(v)
}

func ogContents(doc *goquery.Document, property string) []string {
	var out []string
	doc.Find(fmt.Sprintf(`meta[property="%s"]`, property)).Each(func(_ int, sel *goquery.Selection) {
		if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	})
	return out
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
