package dedup

import (
	"context"
	"fmt"

	"github.com/sagarkishore-7/edu-cti/internal/store"
)

// BatchStats summarizes one ClusterAndMerge call.
type BatchStats struct {
	TotalInput       int
	TotalOutput      int
	DuplicatesMerged int
	IncidentsRemoved int
}

// ClusterAndMerge groups a freshly ingested batch of candidates by shared
// normalized URL (connected components of the incident/URL bipartite graph)
// and merges each group per the confidence-rank policy. Candidates with an
// empty URL set form singleton groups of their own — they are never merged,
// but they are never dropped either.
func ClusterAndMerge(candidates []Candidate) ([]*store.Incident, BatchStats) {
	stats := BatchStats{TotalInput: len(candidates)}
	if len(candidates) == 0 {
		return nil, stats
	}

	idxByID := make(map[string]int, len(candidates))
	urlsByID := make(map[string][]string, len(candidates))
	candidatesByURL := make(map[string][]int)

	for idx, c := range candidates {
		idxByID[c.Incident.ID] = idx
		urls := ExtractURLs(c.Incident)
		urlsByID[c.Incident.ID] = urls
		for _, u := range urls {
			candidatesByURL[u] = append(candidatesByURL[u], idx)
		}
	}

	groupOf := make(map[int]int, len(candidates))
	nextGroup := 0
	for idx := range candidates {
		if _, assigned := groupOf[idx]; assigned {
			continue
		}
		shared := map[int]bool{idx: true}
		frontier := []int{idx}
		for len(frontier) > 0 {
			cur := frontier[0]
			frontier = frontier[1:]
			for _, u := range urlsByID[candidates[cur].Incident.ID] {
				for _, other := range candidatesByURL[u] {
					if !shared[other] {
						shared[other] = true
						frontier = append(frontier, other)
					}
				}
			}
		}
		if len(shared) > 1 {
			for other := range shared {
				if _, already := groupOf[other]; !already {
					groupOf[other] = nextGroup
				}
			}
			nextGroup++
		}
	}

	groups := make(map[int][]Candidate)
	for idx, gid := range groupOf {
		groups[gid] = append(groups[gid], candidates[idx])
	}

	var merged []*store.Incident
	processed := make(map[string]bool)
	for _, group := range groups {
		m := Merge(group)
		merged = append(merged, m)
		for _, c := range group {
			processed[c.Incident.ID] = true
		}
	}
	for _, c := range candidates {
		if !processed[c.Incident.ID] {
			merged = append(merged, c.Incident)
		}
	}

	stats.TotalOutput = len(merged)
	stats.DuplicatesMerged = len(groups)
	stats.IncidentsRemoved = stats.TotalInput - stats.TotalOutput
	return merged, stats
}

// Resolution is the outcome of resolving a candidate against the store.
type Resolution int

const (
	// New: no existing incident shares a URL; insert the candidate as-is.
	New Resolution = iota
	// MergedIntoUnenriched: merged into an existing unenriched incident;
	// write back under the existing id.
	MergedIntoUnenriched
	// SubsetDropOfEnriched: candidate's URLs are a subset of an existing
	// enriched incident's; drop the candidate's payload, keep the row.
	SubsetDropOfEnriched
	// URLUpgradeOfEnriched: candidate introduces new URLs to an existing
	// enriched incident; union URLs and reset enriched=false.
	URLUpgradeOfEnriched
)

// Outcome is the result of ResolveAgainstStore: the resolution kind, the
// incident id to write attribution/events against, and — for resolutions
// that mutate a row — the incident to persist.
type Outcome struct {
	Resolution Resolution
	TargetID   string
	ToWrite    *store.Incident // nil for SubsetDropOfEnriched
}

// ResolveAgainstStore implements the three-way case split of §4.3 "Against
// the store". It queries existing incidents sharing at least one normalized
// URL with candidate and decides how the candidate should be folded in.
func ResolveAgainstStore(ctx context.Context, q store.Queryer, candidate *store.Incident) (Outcome, error) {
	candidateURLs := ExtractURLs(candidate)
	if len(candidateURLs) == 0 {
		return Outcome{Resolution: New, TargetID: candidate.ID, ToWrite: candidate}, nil
	}

	existingMatches, err := store.FindIncidentsByURLs(ctx, q, candidateURLs)
	if err != nil {
		return Outcome{}, fmt.Errorf("dedup: resolve against store: %w", err)
	}
	// The candidate has not been inserted yet, so it cannot appear among
	// the matches; any hit is a genuine pre-existing incident.
	if len(existingMatches) == 0 {
		return Outcome{Resolution: New, TargetID: candidate.ID, ToWrite: candidate}, nil
	}

	existing := pickExisting(existingMatches)

	if !existing.Enriched {
		merged := Merge([]Candidate{{Incident: existing}, {Incident: candidate}})
		merged.ID = existing.ID
		merged.Enriched = existing.Enriched
		merged.EnrichedAt = existing.EnrichedAt
		merged.Summary = existing.Summary
		merged.Timeline = existing.Timeline
		merged.MITRETechniques = existing.MITRETechniques
		merged.AttackDynamics = existing.AttackDynamics
		merged.ExtractionConfidence = existing.ExtractionConfidence
		merged.PrimaryURL = existing.PrimaryURL
		merged.CreatedAt = existing.CreatedAt
		return Outcome{Resolution: MergedIntoUnenriched, TargetID: existing.ID, ToWrite: merged}, nil
	}

	existingURLs := toSet(ExtractURLs(existing))
	subset := true
	for _, u := range candidateURLs {
		if !existingURLs[u] {
			subset = false
			break
		}
	}
	if subset {
		return Outcome{Resolution: SubsetDropOfEnriched, TargetID: existing.ID}, nil
	}

	upgraded := *existing
	urls := toSet(existing.AllURLs)
	merged := append([]string(nil), existing.AllURLs...)
	for _, u := range candidateURLs {
		if !urls[u] {
			urls[u] = true
			merged = append(merged, u)
		}
	}
	upgraded.AllURLs = merged
	upgraded.Enriched = false
	return Outcome{Resolution: URLUpgradeOfEnriched, TargetID: existing.ID, ToWrite: &upgraded}, nil
}

// pickExisting chooses which pre-existing match to fold the candidate into
// when more than one existing incident shares a URL with it (the store's
// own dedup invariant keeps this rare; the highest-confidence match wins,
// and equal ranks go to the lowest id rather than depending on query order).
func pickExisting(matches []*store.Incident) *store.Incident {
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence.Rank() > best.Confidence.Rank() ||
			(m.Confidence.Rank() == best.Confidence.Rank() && m.ID < best.ID) {
			best = m
		}
	}
	return best
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}
