package indexer

import (
	"testing"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		require.Equal(t, c, got)
	}

	got, err := ParseCategory(" nft_prices ")
	require.NoError(t, err)
	require.Equal(t, CategoryNFTPrices, got)

	_, err = ParseCategory("NFT_MINTS")
	require.ErrorIs(t, err, ErrUnsupportedCategory)
}

func TestTransactionTypes(t *testing.T) {
	types, err := CategoryNFTPrices.TransactionTypes()
	require.NoError(t, err)
	require.Equal(t, []string{"NFT_SALE", "NFT_LISTING", "NFT_CANCEL"}, types)

	types, err = CategoryCustom.TransactionTypes()
	require.NoError(t, err)
	require.Empty(t, types)

	_, err = Category("BOGUS").TransactionTypes()
	require.ErrorIs(t, err, ErrUnsupportedCategory)
}

func TestFieldDefNullableDefaultsToTrue(t *testing.T) {
	var plan TablePlan
	err := json.Unmarshal([]byte(`{
		"table_name": "sales",
		"fields": [
			{"name": "price", "type": "numeric"},
			{"name": "buyer", "type": "text", "nullable": false}
		]
	}`), &plan)
	require.NoError(t, err)
	require.Len(t, plan.Fields, 2)
	require.True(t, plan.Fields[0].Nullable)
	require.False(t, plan.Fields[1].Nullable)
	require.Equal(t, []string{"price", "buyer"}, plan.FieldNames())
}

func TestRedactedConnection(t *testing.T) {
	conn := DatabaseConnection{ID: "c1", Password: "secret", SSLConfig: &SSLConfig{Key: "pem"}}
	red := conn.Redacted()
	require.Empty(t, red.Password)
	require.Empty(t, red.SSLConfig.Key)
	require.Equal(t, "secret", conn.Password)
	require.Equal(t, "pem", conn.SSLConfig.Key)
}
