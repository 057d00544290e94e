package indexer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedCategory is returned for any category outside the closed set below.
var ErrUnsupportedCategory = errors.New("unsupported category")

// Category is the class of on-chain activity an indexer tracks.
// The set is closed: every switch over Category must handle all five values and
// treat anything else as ErrUnsupportedCategory.
type Category string

const (
	CategoryNFTBids     Category = "NFT_BIDS"
	CategoryNFTPrices   Category = "NFT_PRICES"
	CategoryTokenLoans  Category = "TOKEN_LOANS"
	CategoryTokenPrices Category = "TOKEN_PRICES"
	CategoryCustom      Category = "CUSTOM"
)

// Categories lists every supported category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryNFTBids,
		CategoryNFTPrices,
		CategoryTokenLoans,
		CategoryTokenPrices,
		CategoryCustom,
	}
}

// ParseCategory accepts the canonical upper-case name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCategory, s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	switch c {
	case CategoryNFTBids, CategoryNFTPrices, CategoryTokenLoans, CategoryTokenPrices, CategoryCustom:
		return true
	default:
		return false
	}
}

func (c Category) String() string { return string(c) }

// TransactionTypes returns the provider transaction types a subscription for c listens to.
// CUSTOM returns an empty list, meaning every type.
func (c Category) TransactionTypes() ([]string, error) {
	switch c {
	case CategoryNFTBids:
		return []string{"NFT_BID"}, nil
	case CategoryNFTPrices:
		return []string{"NFT_SALE", "NFT_LISTING", "NFT_CANCEL"}, nil
	case CategoryTokenLoans:
		return []string{"LOAN_CREATE", "LOAN_REPAY", "LOAN_LIQUIDATE", "LOAN_EXTEND"}, nil
	case CategoryTokenPrices:
		return []string{"SWAP", "TRADE", "PRICE_UPDATE"}, nil
	case CategoryCustom:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCategory, string(c))
	}
}
