package fanout

import "github.com/Hazard804/mdcx/internal/model"

// defaultOrder is the fallback priority used for any field absent from
// the configured FieldPriority: the order sites were registered in.
func defaultOrder(results []SiteResult) []string {
	order := make([]string, 0, len(results))
	for _, r := range results {
		if r.Data != nil {
			order = append(order, r.Site)
		}
	}
	return order
}

// bySite indexes successful results by site name for O(1) priority lookup.
func bySite(results []SiteResult) map[string]*model.CrawlerData {
	out := make(map[string]*model.CrawlerData, len(results))
	for _, r := range results {
		if r.Data != nil {
			out[r.Site] = r.Data
		}
	}
	return out
}

// Merge applies the per-field site-priority rule (spec §4.6) to fold every
// site's CrawlerData into one MergedRecord, enforcing the validity and
// invariant rules from spec §3/§4.5 along the way.
func Merge(input model.Input, results []SiteResult, priority FieldPriority) *model.MergedRecord {
	indexed := bySite(results)
	fallback := defaultOrder(results)

	merged := &model.MergedRecord{
		Number:       input.Number,
		Mosaic:       input.Mosaic,
		FieldSources: make(map[string]string),
	}

	orderFor := func(field string) []string {
		if order, ok := priority[field]; ok && len(order) > 0 {
			return order
		}
		return fallback
	}

	mergeScalar(merged, indexed, orderFor("title"), "title", func(d *model.CrawlerData) string { return d.Title }, func(v string) { merged.Title = v })
	mergeScalar(merged, indexed, orderFor("originaltitle"), "originaltitle", func(d *model.CrawlerData) string { return d.OriginalTitle }, func(v string) { merged.OriginalTitle = v })
	mergeScalar(merged, indexed, orderFor("outline"), "outline", func(d *model.CrawlerData) string { return d.Outline }, func(v string) { merged.Outline = v })
	mergeScalar(merged, indexed, orderFor("originalplot"), "originalplot", func(d *model.CrawlerData) string { return d.OriginalPlot }, func(v string) { merged.OriginalPlot = v })
	mergeScalar(merged, indexed, orderFor("series"), "series", func(d *model.CrawlerData) string { return d.Series }, func(v string) { merged.Series = v })
	mergeScalar(merged, indexed, orderFor("studio"), "studio", func(d *model.CrawlerData) string { return d.Studio }, func(v string) { merged.Studio = v })
	mergeScalar(merged, indexed, orderFor("publisher"), "publisher", func(d *model.CrawlerData) string { return d.Publisher }, func(v string) { merged.Publisher = v })
	mergeScalar(merged, indexed, orderFor("release"), "release", func(d *model.CrawlerData) string { return model.NormalizeRelease(d.Release) }, func(v string) { merged.Release = v })
	mergeScalar(merged, indexed, orderFor("runtime"), "runtime", func(d *model.CrawlerData) string { return d.Runtime }, func(v string) { merged.Runtime = v })
	mergeScalar(merged, indexed, orderFor("score"), "score", func(d *model.CrawlerData) string { return d.Score }, func(v string) { merged.Score = v })
	mergeScalar(merged, indexed, orderFor("thumb"), "thumb", func(d *model.CrawlerData) string { return d.Thumb }, func(v string) { merged.Thumb = v })
	mergeScalar(merged, indexed, orderFor("poster"), "poster", func(d *model.CrawlerData) string { return d.Poster }, func(v string) { merged.Poster = v })
	mergeScalar(merged, indexed, orderFor("trailer"), "trailer", func(d *model.CrawlerData) string { return d.Trailer }, func(v string) { merged.Trailer = v })
	if winner, ok := merged.FieldSources["trailer"]; ok {
		merged.TrailerQualityRank = indexed[winner].TrailerQualityRank
	}
	mergeScalar(merged, indexed, orderFor("externalid"), "externalid", func(d *model.CrawlerData) string { return d.ExternalID }, func(v string) { merged.ExternalID = v })

	mergeCollection(merged, indexed, orderFor("actors"), "actors", func(d *model.CrawlerData) []string { return d.Actors }, func(v []string) { merged.Actors = v })
	mergeCollection(merged, indexed, orderFor("directors"), "directors", func(d *model.CrawlerData) []string { return d.Directors }, func(v []string) { merged.Directors = v })
	mergeCollection(merged, indexed, orderFor("tags"), "tags", func(d *model.CrawlerData) []string { return d.Tags }, func(v []string) { merged.Tags = v })
	mergeCollection(merged, indexed, orderFor("extrafanart"), "extrafanart", func(d *model.CrawlerData) []string { return d.ExtraFanart }, func(v []string) { merged.ExtraFanart = v })

	// all_actors merges across every site that reported anything (not just
	// the field winner) so the superset invariant holds even when the
	// winning site for "actors" didn't list every performer.
	var allActors []string
	for _, site := range orderFor("all_actors") {
		if d, ok := indexed[site]; ok {
			allActors = append(allActors, d.AllActors...)
		}
	}
	merged.AllActors = model.EnsureAllActorsSuperset(merged.Actors, model.DedupePreserveOrder(allActors))

	mergeNumberProvenance(merged, indexed, orderFor("number"))
	mergeYear(merged, indexed, orderFor("year"))
	merged.ImageDownload = anyImageDownload(indexed)
	merged.ImageCut = firstImageCut(indexed, orderFor("thumb"))

	return merged
}

// mergeNumberProvenance records which site's CrawlerData.Number backed the
// already-fixed merged.Number (spec §4.5: the catalog number itself always
// comes from the original input, but FieldSources still needs a winner so
// callers can tell which site actually recognized this number).
func mergeNumberProvenance(merged *model.MergedRecord, indexed map[string]*model.CrawlerData, order []string) {
	for _, site := range order {
		d, ok := indexed[site]
		if !ok {
			continue
		}
		if model.IsValidScalar(d.Number) {
			merged.FieldSources["number"] = site
			return
		}
	}
}

// mergeYear implements spec §4.5's year coupling: year defaults to
// release[:4], *unless* some site in the year priority list explicitly
// populated CrawlerData.Year itself, in which case that value (and its
// provenance) wins instead.
func mergeYear(merged *model.MergedRecord, indexed map[string]*model.CrawlerData, order []string) {
	for _, site := range order {
		d, ok := indexed[site]
		if !ok {
			continue
		}
		if model.IsValidScalar(d.Year) {
			merged.Year = d.Year
			merged.FieldSources["year"] = site
			return
		}
	}
	merged.Year = model.YearFromRelease(merged.Release)
}

func mergeScalar(merged *model.MergedRecord, indexed map[string]*model.CrawlerData, order []string, field string, get func(*model.CrawlerData) string, set func(string)) {
	for _, site := range order {
		d, ok := indexed[site]
		if !ok {
			continue
		}
		v := get(d)
		if model.IsValidScalar(v) {
			set(v)
			merged.FieldSources[field] = site
			return
		}
	}
}

func mergeCollection(merged *model.MergedRecord, indexed map[string]*model.CrawlerData, order []string, field string, get func(*model.CrawlerData) []string, set func([]string)) {
	for _, site := range order {
		d, ok := indexed[site]
		if !ok {
			continue
		}
		v := get(d)
		if model.IsValidCollection(v) {
			set(model.DedupePreserveOrder(v))
			merged.FieldSources[field] = site
			return
		}
	}
}

func anyImageDownload(indexed map[string]*model.CrawlerData) bool {
	for _, d := range indexed {
		if d.ImageDownload {
			return true
		}
	}
	return false
}

func firstImageCut(indexed map[string]*model.CrawlerData, order []string) model.ImageCut {
	for _, site := range order {
		if d, ok := indexed[site]; ok && d.ImageCut != "" {
			return d.ImageCut
		}
	}
	return model.ImageCutNone
}
