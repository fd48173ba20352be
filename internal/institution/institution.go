// Package institution runs the post-enrichment pass that collapses enriched
// incidents describing the same institution and attack window but missed by
// the URL-graph dedup engine because they shared no URL.
package institution

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"

	"github.com/sagarkishore-7/edu-cti/internal/store"
)

// DefaultWindowDays is the default date-window width used when no override
// is configured.
const DefaultWindowDays = 14

var stopwords = map[string]bool{
	"the": true, "of": true, "university": true, "college": true,
	"school": true, "institute": true, "state": true,
}

// NormalizeName lowercases name, strips punctuation, removes generic
// stopwords, and collapses whitespace, so that "University of Test State"
// and "Test" normalize equal.
func NormalizeName(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	kept := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// withinWindow reports whether two incident dates are within windowDays of
// each other. Unparseable dates never match anything.
func withinWindow(a, b string, windowDays int) bool {
	ta, err := dateparse.ParseAny(a)
	if err != nil {
		return false
	}
	tb, err := dateparse.ParseAny(b)
	if err != nil {
		return false
	}
	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(windowDays)*24*time.Hour
}

// Stats summarizes one post-enrichment dedup pass.
type Stats struct {
	Considered int
	Groups     int
	Deleted    int
}

// Run loads every enriched incident, groups them by normalized institution
// name and date-window adjacency, and deletes every group member except the
// one with the highest extraction confidence.
func Run(ctx context.Context, st *store.Store, windowDays int, logger *slog.Logger) (Stats, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if logger == nil {
		logger = slog.Default()
	}

	var incidents []*store.Incident
	err := st.WithTx(ctx, func(q store.Queryer) error {
		var err error
		incidents, err = store.ListEnriched(ctx, q)
		return err
	})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Considered: len(incidents)}
	groups := groupByNameAndWindow(incidents, windowDays)

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		stats.Groups++
		winner := group[0]
		for _, inc := range group[1:] {
			if inc.ExtractionConfidence > winner.ExtractionConfidence {
				winner = inc
			}
		}
		err := st.WithTx(ctx, func(q store.Queryer) error {
			for _, inc := range group {
				if inc.ID == winner.ID {
					continue
				}
				if err := store.DeleteIncident(ctx, q, inc.ID); err != nil {
					return err
				}
				stats.Deleted++
			}
			return nil
		})
		if err != nil {
			logger.Error("institution: dedup group delete failed", "winner", winner.ID, "error", err)
			return stats, err
		}
		logger.Info("institution: collapsed duplicate group", "winner", winner.ID, "group_size", len(group))
	}
	return stats, nil
}

// groupByNameAndWindow partitions incidents into connected components under
// the relation "same normalized name and within windowDays of each other",
// using union-find, as the cross-source dedup engine groups URL clusters
// into connected components.
func groupByNameAndWindow(incidents []*store.Incident, windowDays int) [][]*store.Incident {
	n := len(incidents)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	names := make([]string, n)
	for i, inc := range incidents {
		names[i] = NormalizeName(inc.VictimNormalizedName)
		if names[i] == "" {
			names[i] = NormalizeName(inc.VictimRawName)
		}
	}

	for i := 0; i < n; i++ {
		if names[i] == "" {
			continue
		}
		for j := i + 1; j < n; j++ {
			if names[j] == "" || names[i] != names[j] {
				continue
			}
			if withinWindow(incidents[i].IncidentDate, incidents[j].IncidentDate, windowDays) {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]*store.Incident)
	for i, inc := range incidents {
		root := find(i)
		byRoot[root] = append(byRoot[root], inc)
	}

	groups := make([][]*store.Incident, 0, len(byRoot))
	for _, g := range byRoot {
		groups = append(groups, g)
	}
	return groups
}
