package source

import "sort"

// Group names the three adapter groups (curated, news, rss) a configuration
// can list sources under.
type Group string

const (
	GroupCurated Group = "curated"
	GroupNews    Group = "news"
	GroupRSS     Group = "rss"
)

// Registry is a lookup table from source tag to Adapter, populated at
// program start by NewRegistry and handed to the orchestrator as an
// explicit constructor argument — never referenced as package-level mutable
// state, so tests can build their own registries with fakes.
type Registry map[string]Adapter

// NewRegistry builds a single registry, keyed by tag, from a fixed list of
// adapters, as a plain constructor call rather than an init()-time side
// effect. Adapters of all three groups share this one map; the registry
// does not record which group an adapter belongs to.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Tag()] = a
	}
	return r
}

// Lookup returns the adapter registered under tag, or nil if none.
func (r Registry) Lookup(tag string) Adapter {
	return r[tag]
}

// Tags returns every registered source tag, in registration-independent
// sorted order for deterministic iteration (e.g. logging, test fixtures).
func (r Registry) Tags() []string {
	tags := make([]string, 0, len(r))
	for t := range r {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
