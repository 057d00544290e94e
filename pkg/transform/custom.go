package transform

import (
	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/event"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/canopy-network/ingestx/pkg/utils"
)

func text(v event.Value) any {
	if s, ok := v.Text(); ok {
		return s
	}
	return nil
}

func custom(events []event.Event, cfg indexer.Configuration) []Row {
	f := cfg.CustomFilters
	if f == nil {
		f = &indexer.CustomFilters{}
	}
	filtering := f.FilterField != "" && len(f.FilterValues) > 0
	columns := f.MappedColumns()

	rows := make([]Row, 0)
	for _, e := range events {
		if filtering {
			got, ok := e.Path(f.FilterField).Text()
			if !ok || !utils.Contains(f.FilterValues, got) {
				continue
			}
		}
		r, ok := baseRow(e)
		if !ok {
			continue
		}
		for _, col := range columns {
			if schema.IsCommonColumn(col) {
				continue
			}
			r.Set(col, text(e.Path(f.Mappings[col])))
		}
		rows = append(rows, r)
	}
	return rows
}
