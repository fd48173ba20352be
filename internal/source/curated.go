package source

import (
	"context"

	"github.com/sagarkishore-7/edu-cti/internal/store"
)

// CuratedEntry is one hand-maintained incident record, the kind a curated
// feed (a spreadsheet, a maintained tracker page) would contribute.
type CuratedEntry struct {
	EventID       string
	VictimName    string
	Institution   store.InstitutionType
	Country       string
	IncidentDate  string
	DatePrecision store.DatePrecision
	Title         string
	URLs          []string
	AttackType    string
	Confidence    store.Confidence
}

// CuratedAdapter emits a fixed, hand-maintained list of incidents. It is
// the reference implementation of the curated source group: no network
// access, just the §4.4 contract applied to static data.
type CuratedAdapter struct {
	tag     string
	entries []CuratedEntry
}

// NewCuratedAdapter builds a curated adapter tagged tag over entries.
func NewCuratedAdapter(tag string, entries []CuratedEntry) *CuratedAdapter {
	return &CuratedAdapter{tag: tag, entries: entries}
}

// Tag implements Adapter.
func (a *CuratedAdapter) Tag() string { return a.tag }

// Adapt implements Adapter, emitting every configured entry; MaxPages and
// MaxAgeDays are not applied (curated lists have no pages).
func (a *CuratedAdapter) Adapt(ctx context.Context, opts AdaptOptions) error {
	var batch []RawIncident
	for _, e := range a.entries {
		raw := RawIncident{
			Source:        a.tag,
			SourceEventID: e.EventID,
			Incident: &store.Incident{
				ID:                   IdentityKey(a.tag, e.EventID),
				VictimRawName:        e.VictimName,
				InstitutionType:      e.Institution,
				Country:              e.Country,
				IncidentDate:         e.IncidentDate,
				DatePrecision:        e.DatePrecision,
				Title:                e.Title,
				AllURLs:              e.URLs,
				AttackTypeHint:       e.AttackType,
				Status:               store.StatusConfirmed,
				Confidence:           e.Confidence,
			},
		}
		batch = append(batch, raw)
		if len(batch) >= 50 {
			if opts.SaveBatch != nil {
				if err := opts.SaveBatch(ctx, batch); err != nil {
					return err
				}
			}
			batch = nil
		}
	}
	if len(batch) > 0 && opts.SaveBatch != nil {
		return opts.SaveBatch(ctx, batch)
	}
	return nil
}
