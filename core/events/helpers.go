package events

import "ledgerengine/core/types"

func formatAmount(amount types.Decimal) string {
	return amount.String()
}

func formatIds(ids []types.NonFungibleLocalId) string {
	out := make([]byte, 0, len(ids)*8)
	for i, id := range ids {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, id...)
	}
	return string(out)
}
