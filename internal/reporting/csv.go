package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders code summaries as CSV string.
func RenderCSV(rows []CodeSummaryRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("code,owner_address,owner_name,deposits,withdrawals,settled,")
	sb.WriteString("total_realized_value,gross_settled_value,decremented_value,")
	sb.WriteString("settle_records,decrement_records,last_activity_ms\n")

	// Rows
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d,%d,%d,%s,%s,%s,%d,%d,%d\n",
			r.Code,
			r.OwnerAddress,
			r.OwnerName,
			r.DepositCount,
			r.WithdrawCount,
			r.SettledCount,
			r.TotalRealizedValue,
			r.GrossSettledValue,
			r.DecrementedValue,
			r.SettleRecords,
			r.DecrementRecords,
			r.LastActivity,
		))
	}

	return sb.String()
}
