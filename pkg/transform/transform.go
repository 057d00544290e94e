// Package transform turns raw provider events into destination rows for one indexer.
package transform

import (
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/event"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/google/uuid"
)

// ErrTransformFailure reports that extraction aborted unexpectedly. Callers treat it as zero rows.
var ErrTransformFailure = errors.New("transform failure")

var now = func() time.Time { return time.Now().UTC() }

type extractor func(events []event.Event, cfg indexer.Configuration) []Row

// Transform filters events for category c under cfg and extracts one row per surviving event.
// Events that cannot be interpreted are skipped. An unknown category returns
// indexer.ErrUnsupportedCategory, and a panic inside an extractor is recovered and
// returned as ErrTransformFailure; both come with no rows.
func Transform(events []event.Event, c indexer.Category, cfg indexer.Configuration) (rows []Row, err error) {
	var fn extractor
	switch c {
	case indexer.CategoryNFTBids:
		fn = nftBids
	case indexer.CategoryNFTPrices:
		fn = nftPrices
	case indexer.CategoryTokenLoans:
		fn = tokenLoans
	case indexer.CategoryTokenPrices:
		fn = tokenPrices
	case indexer.CategoryCustom:
		fn = custom
	default:
		return nil, fmt.Errorf("%w: %q", indexer.ErrUnsupportedCategory, string(c))
	}

	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = fmt.Errorf("%w: %s: %v", ErrTransformFailure, c, r)
		}
	}()

	return fn(events, cfg), nil
}

// baseRow fills the columns every category carries. ok is false for events that cannot
// be attributed to a transaction.
func baseRow(e event.Event) (Row, bool) {
	sig := e.Signature()
	if sig == "" {
		return Row{}, false
	}
	var r Row
	r.Set(schema.ColumnID, uuid.NewString())
	r.Set(schema.ColumnTransactionSignature, sig)
	if ts, ok := e.Timestamp(); ok {
		r.Set(schema.ColumnBlockTime, ts)
	} else {
		r.Set(schema.ColumnBlockTime, nil)
	}
	r.Set(schema.ColumnCreatedAt, now())
	return r, true
}

// allowed applies allow-list semantics: an empty list accepts everything.
func allowed(list []string, v event.Value) bool {
	if len(list) == 0 {
		return true
	}
	s, ok := v.String()
	if !ok {
		return false
	}
	for _, a := range list {
		if a == s {
			return true
		}
	}
	return false
}

func str(v event.Value) any {
	if s, ok := v.String(); ok {
		return s
	}
	return nil
}

func strOrNil(v event.Value) any {
	if s, ok := v.String(); ok && s != "" {
		return s
	}
	return nil
}

func strOr(v event.Value, def string) any {
	return v.StringOr(def)
}

func dec(v event.Value) any {
	if d, ok := v.Decimal(); ok {
		return d
	}
	return nil
}

func decOrNil(v event.Value) any {
	if d, ok := v.Decimal(); ok && !d.IsZero() {
		return d
	}
	return nil
}

func intOrNil(v event.Value) any {
	if n, ok := v.Int64(); ok && n != 0 {
		return n
	}
	return nil
}

func unixOrNil(v event.Value) any {
	if d, ok := v.Decimal(); !ok || d.IsZero() {
		return nil
	}
	t, _ := v.UnixTime()
	return t
}
