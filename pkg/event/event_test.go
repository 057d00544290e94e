package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const saleJSON = `{
	"type": "NFT_SALE",
	"signature": "sig1",
	"timestamp": 1700000000,
	"events": {
		"nft": {"mint": "MintA"},
		"sale": {"amount": 5, "currency": "SOL", "marketplace": "MagicEden", "seller": "S1", "buyer": "B1"}
	},
	"accountData": [{"account": "A", "tokenBalanceChanges": [{"mint": "TokA"}]}]
}`

func TestDecodeBatchSingleObject(t *testing.T) {
	events, err := DecodeBatch(strings.NewReader(saleJSON))
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	require.Equal(t, "NFT_SALE", e.Type())
	require.Equal(t, "sig1", e.Signature())
	ts, ok := e.Timestamp()
	require.True(t, ok)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), ts)

	mint, ok := e.Path("events.nft.mint").String()
	require.True(t, ok)
	require.Equal(t, "MintA", mint)

	amount, ok := e.Path("events.sale.amount").Decimal()
	require.True(t, ok)
	require.Equal(t, "5", amount.String())

	tok, ok := e.Path("accountData.0.tokenBalanceChanges.0.mint").String()
	require.True(t, ok)
	require.Equal(t, "TokA", tok)
}

func TestDecodeBatchArray(t *testing.T) {
	events, err := DecodeBatch(strings.NewReader("[" + saleJSON + `, 7, {"type": "SWAP", "txSignature": "sig2"}]`))
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Empty(t, events[1].Type())
	require.Equal(t, "sig2", events[2].Signature())
}

func TestDecodeBatchRejectsScalarsAndEmpty(t *testing.T) {
	_, err := DecodeBatch(strings.NewReader("  "))
	require.ErrorIs(t, err, ErrEmptyBody)

	_, err = DecodeBatch(strings.NewReader(`"hello"`))
	require.Error(t, err)

	_, err = DecodeBatch(strings.NewReader(`{"type":`))
	require.Error(t, err)
}

func TestPathToleratesAbsence(t *testing.T) {
	events, err := DecodeBytes([]byte(`{"events": {"nft": null, "list": [1, 2]}, "n": "12.5"}`))
	require.NoError(t, err)
	e := events[0]

	for _, p := range []string{
		"events.nft.mint",
		"events.missing.deeper.still",
		"events.list.9",
		"events.list.x",
		"n.inner",
		"type",
	} {
		require.False(t, e.Path(p).Exists(), p)
		_, ok := e.Path(p).String()
		require.False(t, ok, p)
	}

	require.Equal(t, "unknown", e.Path("events.nft.marketplace").StringOr("unknown"))

	n, ok := e.Path("n").Decimal()
	require.True(t, ok)
	require.Equal(t, "12.5", n.String())

	i, ok := e.Path("events.list.1").Int64()
	require.True(t, ok)
	require.Equal(t, int64(2), i)
}

func TestValueText(t *testing.T) {
	events, err := DecodeBytes([]byte(`{"b": true, "o": {"k": 1}, "s": "x", "z": null}`))
	require.NoError(t, err)
	root := events[0].Root()

	s, ok := root.Get("b").Text()
	require.True(t, ok)
	require.Equal(t, "true", s)

	s, ok = root.Get("o").Text()
	require.True(t, ok)
	require.JSONEq(t, `{"k": 1}`, s)

	_, ok = root.Get("z").Text()
	require.False(t, ok)
}
