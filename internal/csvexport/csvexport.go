// Package csvexport writes every enriched incident in the store to CSV, for
// downstream consumers that don't talk SQL.
package csvexport

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/sagarkishore-7/edu-cti/internal/store"
)

var header = []string{
	"id", "victim_raw_name", "victim_normalized_name", "institution_type",
	"country", "region", "city", "incident_date", "date_precision",
	"title", "primary_url", "all_urls", "broken_urls", "attack_type_hint",
	"status", "confidence", "summary", "mitre_techniques",
	"extraction_confidence", "enriched_at",
}

// Write reads every enriched incident from st (opened store.ReadOnly()) and
// writes one CSV row per incident to w.
func Write(ctx context.Context, st *store.Store, w io.Writer) error {
	incidents, err := store.ListEnriched(ctx, st.DB)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, inc := range incidents {
		if err := cw.Write(rowFor(inc)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func rowFor(inc *store.Incident) []string {
	primary := ""
	if inc.PrimaryURL != nil {
		primary = *inc.PrimaryURL
	}
	enrichedAt := ""
	if inc.EnrichedAt != nil {
		enrichedAt = inc.EnrichedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	mitre, _ := json.Marshal(inc.MITRETechniques)

	return []string{
		inc.ID,
		inc.VictimRawName,
		inc.VictimNormalizedName,
		string(inc.InstitutionType),
		inc.Country,
		inc.Region,
		inc.City,
		inc.IncidentDate,
		string(inc.DatePrecision),
		inc.Title,
		primary,
		strings.Join(inc.AllURLs, ";"),
		strings.Join(inc.BrokenURLs, ";"),
		inc.AttackTypeHint,
		string(inc.Status),
		string(inc.Confidence),
		inc.Summary,
		string(mitre),
		strconv.FormatFloat(inc.ExtractionConfidence, 'f', 4, 64),
		enrichedAt,
	}
}
