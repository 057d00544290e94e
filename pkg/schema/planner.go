// Package schema derives destination table plans for indexers and renders their DDL.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
)

// ErrInvalidPlan is returned when a custom plan cannot be provisioned.
var ErrInvalidPlan = errors.New("invalid table plan")

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	typePattern  = regexp.MustCompile(`(?i)^(text|uuid|jsonb?|boolean|bool|date|smallint|integer|int|bigint|real|double precision|timestamp|timestamptz|timestamp with time zone|varchar(\(\d+\))?|numeric(\(\d+(,\s*\d+)?\))?)$`)
)

// maxIdentLen is NAMEDATALEN-1.
const maxIdentLen = 63

const (
	ColumnID                   = "id"
	ColumnTransactionSignature = "transaction_signature"
	ColumnBlockTime            = "block_time"
	ColumnCreatedAt            = "created_at"
)

func commonFields() []indexer.FieldDef {
	return []indexer.FieldDef{
		{Name: ColumnID, Type: "uuid", PrimaryKey: true},
		{Name: ColumnTransactionSignature, Type: "text"},
		{Name: ColumnBlockTime, Type: "timestamp", Nullable: true},
		{Name: ColumnCreatedAt, Type: "timestamp"},
	}
}

func nullable(name, typ string) indexer.FieldDef {
	return indexer.FieldDef{Name: name, Type: typ, Nullable: true}
}

// DefaultTableName returns the table a category writes to when no custom plan names one.
func DefaultTableName(c indexer.Category) (string, error) {
	switch c {
	case indexer.CategoryNFTBids:
		return "nft_bids", nil
	case indexer.CategoryNFTPrices:
		return "nft_prices", nil
	case indexer.CategoryTokenLoans:
		return "token_loans", nil
	case indexer.CategoryTokenPrices:
		return "token_prices", nil
	case indexer.CategoryCustom:
		return "custom_data", nil
	default:
		return "", fmt.Errorf("%w: %q", indexer.ErrUnsupportedCategory, string(c))
	}
}

func defaultFields(c indexer.Category, cfg indexer.Configuration) []indexer.FieldDef {
	fields := commonFields()
	switch c {
	case indexer.CategoryNFTBids:
		fields = append(fields,
			nullable("nft_address", "text"),
			nullable("bidder_address", "text"),
			nullable("bid_amount", "numeric"),
			nullable("marketplace", "text"),
			nullable("currency", "text"),
			nullable("expiry_time", "timestamp"),
		)
	case indexer.CategoryNFTPrices:
		fields = append(fields,
			nullable("nft_address", "text"),
			nullable("collection_address", "text"),
			nullable("sale_amount", "numeric"),
			nullable("currency", "text"),
			nullable("marketplace", "text"),
			nullable("seller_address", "text"),
			nullable("buyer_address", "text"),
		)
	case indexer.CategoryTokenLoans:
		fields = append(fields,
			nullable("token_address", "text"),
			nullable("amount", "numeric"),
			nullable("interest_rate", "numeric"),
			nullable("platform", "text"),
			nullable("lender_address", "text"),
			nullable("borrower_address", "text"),
			nullable("duration_seconds", "integer"),
			nullable("collateral_token", "text"),
			nullable("collateral_amount", "numeric"),
		)
	case indexer.CategoryTokenPrices:
		fields = append(fields,
			nullable("token_address", "text"),
			nullable("price_usd", "numeric"),
			nullable("platform", "text"),
			nullable("volume_24h", "numeric"),
			nullable("liquidity", "numeric"),
		)
	case indexer.CategoryCustom:
		for _, col := range cfg.CustomFilters.MappedColumns() {
			if IsCommonColumn(col) {
				continue
			}
			fields = append(fields, nullable(col, "text"))
		}
	}
	return fields
}

func defaultIndices(c indexer.Category, table string) []indexer.IndexDef {
	idx := func(suffix string, unique bool, cols ...string) indexer.IndexDef {
		return indexer.IndexDef{Name: table + "_" + suffix, Columns: cols, Unique: unique}
	}
	indices := []indexer.IndexDef{
		idx("transaction_signature_idx", false, ColumnTransactionSignature),
		idx("block_time_idx", false, ColumnBlockTime),
	}
	switch c {
	case indexer.CategoryNFTBids:
		indices = append(indices,
			idx("nft_address_idx", false, "nft_address"),
			idx("bidder_address_idx", false, "bidder_address"),
			idx("dedup_idx", true, ColumnTransactionSignature, "nft_address", "bidder_address"),
		)
	case indexer.CategoryNFTPrices:
		indices = append(indices,
			idx("nft_address_idx", false, "nft_address"),
			idx("collection_address_idx", false, "collection_address"),
			idx("marketplace_idx", false, "marketplace"),
			idx("dedup_idx", true, ColumnTransactionSignature, "nft_address"),
		)
	case indexer.CategoryTokenLoans, indexer.CategoryTokenPrices:
		indices = append(indices,
			idx("token_address_idx", false, "token_address"),
			idx("platform_idx", false, "platform"),
			idx("dedup_idx", true, ColumnTransactionSignature, "token_address"),
		)
	case indexer.CategoryCustom:
	}
	return indices
}

// Plan returns the table plan for an indexer. A custom plan overrides the category
// defaults piecewise: a missing table name, field list or index list each fall back
// on their own. Fallback indices are limited to those whose columns the plan has.
// The common columns are always present.
func Plan(c indexer.Category, custom *indexer.TablePlan, cfg indexer.Configuration) (indexer.TablePlan, error) {
	table, err := DefaultTableName(c)
	if err != nil {
		return indexer.TablePlan{}, err
	}

	plan := indexer.TablePlan{
		TableName: table,
		Fields:    defaultFields(c, cfg),
		Indices:   defaultIndices(c, table),
	}
	if custom != nil {
		if name := strings.TrimSpace(custom.TableName); name != "" {
			plan.TableName = name
		}
		if len(custom.Fields) > 0 {
			plan.Fields = withCommonFields(custom.Fields)
		}
		if len(custom.Indices) > 0 {
			plan.Indices = append([]indexer.IndexDef(nil), custom.Indices...)
		} else {
			plan.Indices = coveredIndices(defaultIndices(c, plan.TableName), plan.Fields)
		}
	}

	if err := Validate(plan); err != nil {
		return indexer.TablePlan{}, err
	}
	return plan, nil
}

// coveredIndices keeps the indices whose columns all appear in fields.
func coveredIndices(indices []indexer.IndexDef, fields []indexer.FieldDef) []indexer.IndexDef {
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f.Name] = true
	}
	out := make([]indexer.IndexDef, 0, len(indices))
next:
	for _, idx := range indices {
		for _, col := range idx.Columns {
			if !have[col] {
				continue next
			}
		}
		out = append(out, idx)
	}
	return out
}

// IsCommonColumn reports whether name is one of the columns every plan carries.
func IsCommonColumn(name string) bool {
	switch name {
	case ColumnID, ColumnTransactionSignature, ColumnBlockTime, ColumnCreatedAt:
		return true
	}
	return false
}

// withCommonFields prepends whichever common fields the caller left out.
func withCommonFields(fields []indexer.FieldDef) []indexer.FieldDef {
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f.Name] = true
	}
	out := make([]indexer.FieldDef, 0, len(fields)+4)
	for _, f := range commonFields() {
		if !have[f.Name] {
			out = append(out, f)
		}
	}
	return append(out, fields...)
}

// Validate checks identifiers, types and index references of a plan.
func Validate(plan indexer.TablePlan) error {
	if !validIdent(plan.TableName) {
		return fmt.Errorf("%w: table name %q", ErrInvalidPlan, plan.TableName)
	}
	if len(plan.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidPlan)
	}

	seen := make(map[string]bool, len(plan.Fields))
	primaries := 0
	for _, f := range plan.Fields {
		if !validIdent(f.Name) {
			return fmt.Errorf("%w: field name %q", ErrInvalidPlan, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidPlan, f.Name)
		}
		seen[f.Name] = true
		if !typePattern.MatchString(strings.TrimSpace(f.Type)) {
			return fmt.Errorf("%w: field %q has unsupported type %q", ErrInvalidPlan, f.Name, f.Type)
		}
		if f.PrimaryKey {
			primaries++
		}
	}
	if primaries > 1 {
		return fmt.Errorf("%w: %d primary key fields", ErrInvalidPlan, primaries)
	}

	for _, idx := range plan.Indices {
		if !validIdent(idx.Name) {
			return fmt.Errorf("%w: index name %q", ErrInvalidPlan, idx.Name)
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("%w: index %q has no columns", ErrInvalidPlan, idx.Name)
		}
		for _, col := range idx.Columns {
			if !seen[col] {
				return fmt.Errorf("%w: index %q references unknown column %q", ErrInvalidPlan, idx.Name, col)
			}
		}
	}
	return nil
}

func validIdent(s string) bool {
	return len(s) <= maxIdentLen && identPattern.MatchString(s)
}
