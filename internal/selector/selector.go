// Package selector picks which unenriched incidents to run through the
// enrichment pipeline next, balancing random order against domain
// diversity so a single slow or blocked domain cannot starve a whole run.
package selector

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sagarkishore-7/edu-cti/internal/ratelimit"
	"github.com/sagarkishore-7/edu-cti/internal/store"
	"github.com/sagarkishore-7/edu-cti/internal/urlnorm"
)

// OverfetchFactor is how many candidates are pulled from the store for
// every slot the caller asked to fill.
const OverfetchFactor = 3

// Select returns up to n unenriched incidents, over-fetching 3n candidates
// and taking at most one per distinct fetchable domain on the first pass,
// then filling any remaining slots randomly from the leftover pool.
// exclude names domains to skip entirely (e.g. permanently blocked ones).
// An incident none of whose URLs is both fetchable and outside exclude is
// not selected.
func Select(ctx context.Context, q store.Queryer, limiter *ratelimit.Limiter, n int, exclude map[string]bool) ([]*store.Incident, error) {
	if n <= 0 {
		return nil, nil
	}
	pool, err := store.ListUnenriched(ctx, q, n*OverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("selector: list unenriched: %w", err)
	}

	type candidate struct {
		incident *store.Incident
		domain   string
	}

	var byDomain []candidate
	for _, inc := range pool {
		domain := firstFetchableDomain(inc, limiter, exclude)
		if domain == "" {
			continue
		}
		byDomain = append(byDomain, candidate{incident: inc, domain: domain})
	}

	rand.Shuffle(len(byDomain), func(i, j int) { byDomain[i], byDomain[j] = byDomain[j], byDomain[i] })

	seenDomain := map[string]bool{}
	var firstPass []*store.Incident
	var leftover []*store.Incident
	for _, c := range byDomain {
		if !seenDomain[c.domain] {
			seenDomain[c.domain] = true
			firstPass = append(firstPass, c.incident)
		} else {
			leftover = append(leftover, c.incident)
		}
	}
	rand.Shuffle(len(leftover), func(i, j int) { leftover[i], leftover[j] = leftover[j], leftover[i] })

	out := firstPass
	if len(out) > n {
		out = out[:n]
	} else if len(out) < n {
		need := n - len(out)
		if need > len(leftover) {
			need = len(leftover)
		}
		out = append(out, leftover[:need]...)
	}
	return out, nil
}

// firstFetchableDomain returns the domain of the first URL in inc's URL
// set that is currently fetchable per the rate limiter and not excluded,
// or "" if none qualify.
func firstFetchableDomain(inc *store.Incident, limiter *ratelimit.Limiter, exclude map[string]bool) string {
	for _, u := range inc.AllURLs {
		d := urlnorm.Domain(u)
		if d == "" || exclude[d] {
			continue
		}
		if limiter == nil || limiter.CanFetch(d) {
			return d
		}
	}
	return ""
}
