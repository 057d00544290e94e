package indexer

import "sort"

// Configuration is the per-indexer filter. Empty lists mean "accept all".
type Configuration struct {
	Collections   []string       `json:"collections,omitempty" yaml:"collections"`
	Tokens        []string       `json:"tokens,omitempty" yaml:"tokens"`
	Marketplaces  []string       `json:"marketplaces,omitempty" yaml:"marketplaces"`
	Platforms     []string       `json:"platforms,omitempty" yaml:"platforms"`
	CustomFilters *CustomFilters `json:"customFilters,omitempty" yaml:"customFilters"`
}

// CustomFilters drives the CUSTOM category.
type CustomFilters struct {
	// FilterField is a dot path into the raw event (e.g. "events.nft.mint"). Empty disables filtering.
	FilterField string `json:"filterField,omitempty" yaml:"filterField"`
	// FilterValues are compared against the resolved FilterField as strings.
	FilterValues []string `json:"filterValues,omitempty" yaml:"filterValues"`
	// Mappings maps a destination column to a dot path into the raw event.
	Mappings map[string]string `json:"mappings,omitempty" yaml:"mappings"`
}

// MappedColumns returns the mapping targets sorted by name.
func (f *CustomFilters) MappedColumns() []string {
	if f == nil {
		return nil
	}
	cols := make([]string, 0, len(f.Mappings))
	for col := range f.Mappings {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
