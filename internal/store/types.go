package store

import "time"

// InstitutionType classifies the kind of education-sector victim.
type InstitutionType string

const (
	InstitutionUniversity InstitutionType = "university"
	InstitutionSchool     InstitutionType = "school"
	InstitutionResearch   InstitutionType = "research-institute"
	InstitutionUnknown    InstitutionType = "unknown"
)

// DatePrecision describes how much of IncidentDate is known.
type DatePrecision string

const (
	PrecisionDay     DatePrecision = "day"
	PrecisionMonth   DatePrecision = "month"
	PrecisionYear    DatePrecision = "year"
	PrecisionUnknown DatePrecision = "unknown"
)

// Status is the adjudication state of an incident report.
type Status string

const (
	StatusSuspected Status = "suspected"
	StatusConfirmed Status = "confirmed"
)

// Confidence is the qualitative source-level confidence label. Rank order
// (low < medium < high) drives the merge policy in package dedup.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank returns the merge-priority ordinal for c; higher wins.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// TimelineEntry is one dated event within an incident's enrichment timeline.
type TimelineEntry struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// Incident is a deduplicated report of one attack on one institution.
type Incident struct {
	ID                   string
	VictimRawName        string
	VictimNormalizedName string
	InstitutionType      InstitutionType
	Country              string
	Region               string
	City                 string
	IncidentDate         string
	DatePrecision        DatePrecision
	SourcePublishedDate  string
	Title                string
	Subtitle             string
	PrimaryURL           *string
	AllURLs              []string
	BrokenURLs           []string
	AttackTypeHint       string
	Status               Status
	Confidence           Confidence
	Notes                string

	Enriched             bool
	EnrichedAt           *time.Time
	SkipReason           string
	Summary              string
	Timeline             []TimelineEntry
	MITRETechniques      []string
	AttackDynamics       map[string]any
	ExtractionConfidence float64

	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// HasURL reports whether rawURL (already normalized) is present in AllURLs.
func (i *Incident) HasURL(normalized string) bool {
	for _, u := range i.AllURLs {
		if u == normalized {
			return true
		}
	}
	return false
}

// SourceAttribution is a many-to-many link between an incident, a source,
// and the source-native event id that produced it.
type SourceAttribution struct {
	IncidentID    string
	Source        string
	SourceEventID string
	FirstSeenAt   time.Time
	Confidence    Confidence
}

// SourceEvent is the per-source dedup ledger: presence of a row forbids
// re-ingesting the same (source, source_event_id) pair.
type SourceEvent struct {
	Source        string
	SourceEventID string
	IncidentID    string
	FirstSeenAt   time.Time
}

// Article is cached fetched content keyed by (incident id, URL).
type Article struct {
	IncidentID        string
	URL               string
	Title             string
	Body              string
	Author            string
	PublishDate       string
	FetchSuccessful   bool
	ErrorMessage      string
	ContentLength     int
	FetchedAt         time.Time
	URLScore          *float64
	URLScoreReasoning *string
	IsPrimary         bool
}
