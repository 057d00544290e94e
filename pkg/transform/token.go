package transform

import (
	"strings"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/event"
	"github.com/canopy-network/ingestx/pkg/utils"
)

const defaultPlatform = "unknown"

func tokenLoans(events []event.Event, cfg indexer.Configuration) []Row {
	rows := make([]Row, 0)
	for _, e := range events {
		if !strings.Contains(e.Type(), "LOAN") {
			continue
		}
		// tokens take precedence over platforms when both are configured
		switch {
		case len(cfg.Tokens) > 0:
			if !allowed(cfg.Tokens, e.Path("events.token.mint")) {
				continue
			}
		case len(cfg.Platforms) > 0:
			if !allowed(cfg.Platforms, e.Path("events.loan.platform")) {
				continue
			}
		}

		r, ok := baseRow(e)
		if !ok {
			continue
		}
		loan := e.Path("events.loan")
		r.Set("token_address", str(e.Path("events.token.mint")))
		r.Set("amount", dec(loan.Get("amount")))
		r.Set("interest_rate", dec(loan.Get("interestRate")))
		r.Set("platform", strOr(loan.Get("platform"), defaultPlatform))
		r.Set("lender_address", strOrNil(loan.Get("lender")))
		r.Set("borrower_address", strOrNil(loan.Get("borrower")))
		r.Set("duration_seconds", intOrNil(loan.Get("duration")))
		r.Set("collateral_token", strOrNil(loan.Get("collateralToken")))
		r.Set("collateral_amount", decOrNil(loan.Get("collateralAmount")))
		rows = append(rows, r)
	}
	return rows
}

// balanceChangeMints lists the mints of every token balance change in accountData, in order.
func balanceChangeMints(e event.Event) []string {
	var mints []string
	for _, acc := range e.Path("accountData").List() {
		for _, change := range acc.Get("tokenBalanceChanges").List() {
			if mint, ok := change.Get("mint").String(); ok && mint != "" {
				mints = append(mints, mint)
			}
		}
	}
	return mints
}

func hasBalanceChanges(e event.Event) bool {
	for _, acc := range e.Path("accountData").List() {
		if len(acc.Get("tokenBalanceChanges").List()) > 0 {
			return true
		}
	}
	return false
}

func tokenPrices(events []event.Event, cfg indexer.Configuration) []Row {
	rows := make([]Row, 0)
	for _, e := range events {
		mints := balanceChangeMints(e)

		switch {
		case len(cfg.Tokens) > 0:
			candidates := mints
			if native, ok := e.Path("events.token.mint").String(); ok && native != "" {
				candidates = append(append([]string(nil), mints...), native)
			}
			matched := false
			for _, m := range candidates {
				if utils.Contains(cfg.Tokens, m) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		case len(cfg.Platforms) > 0:
			if !hasBalanceChanges(e) || !utils.Contains(cfg.Platforms, e.Source()) {
				continue
			}
		default:
			if !hasBalanceChanges(e) {
				continue
			}
		}

		r, ok := baseRow(e)
		if !ok {
			continue
		}

		token := ""
		for _, m := range mints {
			if utils.Contains(cfg.Tokens, m) {
				token = m
				break
			}
		}
		if token == "" && len(mints) > 0 {
			token = mints[0]
		}
		if token == "" {
			token = "unknown"
		}

		r.Set("token_address", token)
		r.Set("price_usd", nil)
		r.Set("platform", e.Root().Get("source").StringOr(defaultPlatform))
		r.Set("volume_24h", nil)
		r.Set("liquidity", nil)
		rows = append(rows, r)
	}
	return rows
}
