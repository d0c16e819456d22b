package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeIdTextRoundTrip(t *testing.T) {
	id := NewNodeId(EntityGlobalGenericComponent, []byte("component"), 7)
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back NodeId
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, id, back)

	text, err = NodeId{}.MarshalText()
	require.NoError(t, err)
	require.Empty(t, text)

	for _, zero := range []string{"", "  ", strings.Repeat("0", 2*NodeIdLength)} {
		back = id
		require.NoError(t, back.UnmarshalText([]byte(zero)))
		require.True(t, back.IsZero())
	}

	require.Error(t, back.UnmarshalText([]byte("ff"+strings.Repeat("0", 2*NodeIdLength-2))))
	_, err = ParseNodeId("")
	require.Error(t, err)
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	account := NewNodeId(EntityGlobalGenericComponent, []byte("account"), 0)
	tx := Transaction{Network: "localnet", Nonce: 3, Instructions: []Instruction{
		{Op: OpLockFee, Address: account, Amount: MustParseDecimal("1")},
		{Op: OpCallMethod, Address: account, Function: "withdraw", Args: HexBytes{0xc0}},
	}}
	body, err := json.Marshal(tx)
	require.NoError(t, err)

	var back Transaction
	require.NoError(t, json.Unmarshal(body, &back))
	require.Equal(t, tx, back)
	require.True(t, back.Instructions[0].Package.IsZero())
	require.True(t, back.Instructions[0].Resource.IsZero())
}

func TestReceiptJSONRoundTrip(t *testing.T) {
	receipt := Receipt{
		TransactionHash: Hash{1},
		Status:          StatusCommitted,
		Outcome:         OutcomeSuccess,
		Fee: FeeSummary{
			CostUnitPrice: MustParseDecimal("0.001"),
			Payments:      []FeePayment{{Amount: MustParseDecimal("2")}},
		},
		StateVersion: 4,
	}
	body, err := json.Marshal(receipt)
	require.NoError(t, err)

	var back Receipt
	require.NoError(t, json.Unmarshal(body, &back))
	require.Equal(t, receipt, back)
}
