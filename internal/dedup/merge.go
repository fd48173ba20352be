// Package dedup implements the cross-source deduplication engine: URL-graph
// clustering of a freshly ingested batch, and resolution of a single
// candidate against incidents already in the store.
package dedup

import (
	"sort"
	"strings"

	"github.com/sagarkishore-7/edu-cti/internal/store"
	"github.com/sagarkishore-7/edu-cti/internal/urlnorm"
)

// Candidate pairs a not-yet-persisted incident with the source tag that
// produced it, so the merge policy can build the "merged_from=" notes
// annotation without needing a round trip through the store's attribution
// table.
type Candidate struct {
	Incident *store.Incident
	Source   string
}

// ExtractURLs returns the normalized URL set an incident contributes to the
// dedup graph: all_urls plus, if set, primary_url.
func ExtractURLs(inc *store.Incident) []string {
	seen := map[string]bool{}
	var out []string
	add := func(raw string) {
		n := urlnorm.Normalize(raw)
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	for _, u := range inc.AllURLs {
		add(u)
	}
	if inc.PrimaryURL != nil {
		add(*inc.PrimaryURL)
	}
	return out
}

// Merge combines a group of candidates sharing at least one URL into a
// single incident, following the confidence-rank merge policy of §4.3.
// Merge panics if group is empty — callers never invoke it on an empty
// cluster.
func Merge(group []Candidate) *store.Incident {
	if len(group) == 0 {
		panic("dedup: merge of empty group")
	}
	if len(group) == 1 {
		return group[0].Incident
	}

	ranked := append([]Candidate(nil), group...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Incident.Confidence.Rank() > ranked[j].Incident.Confidence.Rank()
	})
	primary := ranked[0].Incident

	urlSet := map[string]bool{}
	var allURLs []string
	sources := map[string]bool{}
	for _, c := range ranked {
		for _, u := range ExtractURLs(c.Incident) {
			if !urlSet[u] {
				urlSet[u] = true
				allURLs = append(allURLs, u)
			}
		}
		if c.Source != "" {
			sources[c.Source] = true
		}
	}

	sourceList := make([]string, 0, len(sources))
	for s := range sources {
		sourceList = append(sourceList, s)
	}
	sort.Strings(sourceList)

	notes := "merged_from=" + strings.Join(sourceList, ",")
	if primary.Notes != "" {
		notes += ";" + primary.Notes
	}

	return &store.Incident{
		ID:                   primary.ID,
		VictimRawName:        firstNonEmpty(ranked, func(i *store.Incident) string { return i.VictimRawName }),
		VictimNormalizedName: firstNonEmpty(ranked, func(i *store.Incident) string { return i.VictimNormalizedName }),
		InstitutionType:      store.InstitutionType(firstNonEmpty(ranked, func(i *store.Incident) string { return string(i.InstitutionType) })),
		Country:              firstNonEmpty(ranked, func(i *store.Incident) string { return i.Country }),
		Region:               firstNonEmpty(ranked, func(i *store.Incident) string { return i.Region }),
		City:                 firstNonEmpty(ranked, func(i *store.Incident) string { return i.City }),
		IncidentDate:         firstNonEmpty(ranked, func(i *store.Incident) string { return i.IncidentDate }),
		DatePrecision:        store.DatePrecision(firstDatePrecision(ranked)),
		SourcePublishedDate:  firstNonEmpty(ranked, func(i *store.Incident) string { return i.SourcePublishedDate }),
		Title:                firstNonEmpty(ranked, func(i *store.Incident) string { return i.Title }),
		Subtitle:             firstNonEmpty(ranked, func(i *store.Incident) string { return i.Subtitle }),
		PrimaryURL:           nil,
		AllURLs:              allURLs,
		AttackTypeHint:       firstNonEmpty(ranked, func(i *store.Incident) string { return i.AttackTypeHint }),
		Status:               primary.Status,
		Confidence:           primary.Confidence,
		Notes:                notes,
		CreatedAt:            primary.CreatedAt,
	}
}

func firstNonEmpty(ranked []Candidate, get func(*store.Incident) string) string {
	for _, c := range ranked {
		if v := get(c.Incident); v != "" {
			return v
		}
	}
	return ""
}

func firstDatePrecision(ranked []Candidate) string {
	for _, c := range ranked {
		if c.Incident.IncidentDate != "" {
			return string(c.Incident.DatePrecision)
		}
	}
	return string(store.PrecisionUnknown)
}
