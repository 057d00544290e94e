package indexer

import "github.com/go-jose/go-jose/v4/json"

// FieldDef is one destination column of a TablePlan.
type FieldDef struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	Nullable   bool   `json:"nullable"`
}

// UnmarshalJSON treats a missing "nullable" key as nullable, so partial custom plans
// only produce NOT NULL columns when asked to.
func (f *FieldDef) UnmarshalJSON(data []byte) error {
	type alias FieldDef
	var raw struct {
		alias
		Nullable *bool `json:"nullable"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FieldDef(raw.alias)
	f.Nullable = raw.Nullable == nil || *raw.Nullable
	return nil
}

// IndexDef is one index of a TablePlan.
type IndexDef struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// TablePlan is the destination table of an indexer.
type TablePlan struct {
	TableName string     `json:"table_name"`
	Fields    []FieldDef `json:"fields"`
	Indices   []IndexDef `json:"indices"`
}

// Field returns the field named name.
func (p TablePlan) Field(name string) (FieldDef, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// FieldNames returns the column names in declaration order.
func (p TablePlan) FieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		names = append(names, f.Name)
	}
	return names
}
