package transform

// Row is one destination row. Columns keep insertion order so statements are deterministic.
type Row struct {
	columns []string
	values  map[string]any
}

// Set assigns col, keeping its original position when it already exists.
func (r *Row) Set(col string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[col]; !ok {
		r.columns = append(r.columns, col)
	}
	r.values[col] = v
}

// Get returns the value of col and whether the column is present.
func (r Row) Get(col string) (any, bool) {
	v, ok := r.values[col]
	return v, ok
}

// Columns returns the column names in insertion order.
func (r Row) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Values returns the values aligned with Columns.
func (r Row) Values() []any {
	out := make([]any, len(r.columns))
	for i, c := range r.columns {
		out[i] = r.values[c]
	}
	return out
}

func (r Row) Len() int { return len(r.columns) }
