package transform

import (
	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/event"
)

const (
	typeNFTBid  = "NFT_BID"
	typeNFTSale = "NFT_SALE"

	defaultMarketplace = "unknown"
	defaultCurrency    = "SOL"
)

func nftBids(events []event.Event, cfg indexer.Configuration) []Row {
	rows := make([]Row, 0)
	for _, e := range events {
		if e.Type() != typeNFTBid || !allowed(cfg.Collections, e.Path("events.nft.mint")) {
			continue
		}
		r, ok := baseRow(e)
		if !ok {
			continue
		}
		bid := e.Path("events.bid")
		r.Set("nft_address", str(e.Path("events.nft.mint")))
		r.Set("bidder_address", str(bid.Get("bidder")))
		r.Set("bid_amount", dec(bid.Get("amount")))
		r.Set("marketplace", strOr(bid.Get("marketplace"), defaultMarketplace))
		r.Set("currency", strOr(bid.Get("currency"), defaultCurrency))
		r.Set("expiry_time", unixOrNil(bid.Get("expiry")))
		rows = append(rows, r)
	}
	return rows
}

func nftPrices(events []event.Event, cfg indexer.Configuration) []Row {
	rows := make([]Row, 0)
	for _, e := range events {
		if e.Type() != typeNFTSale || !allowed(cfg.Collections, e.Path("events.nft.mint")) {
			continue
		}
		r, ok := baseRow(e)
		if !ok {
			continue
		}
		nft := e.Path("events.nft")
		sale := e.Path("events.sale")
		r.Set("nft_address", str(nft.Get("mint")))
		r.Set("collection_address", strOrNil(nft.Get("collection")))
		r.Set("sale_amount", dec(sale.Get("amount")))
		r.Set("currency", strOr(sale.Get("currency"), defaultCurrency))
		r.Set("marketplace", strOr(sale.Get("marketplace"), defaultMarketplace))
		r.Set("seller_address", str(sale.Get("seller")))
		r.Set("buyer_address", str(sale.Get("buyer")))
		rows = append(rows, r)
	}
	return rows
}
