package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Referral Ledger Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Codes: %d | Entries: %d\n\n", r.CodeCount, r.EntryCount))

	// Code Summaries
	sb.WriteString("## Code Summaries\n\n")
	if len(r.Summaries) > 0 {
		sb.WriteString("| Code | Owner | Deposits | Withdrawals | Settled | Realized | Gross Settled | Decremented | Last Activity (ms) |\n")
		sb.WriteString("|------|-------|----------|-------------|---------|----------|---------------|-------------|--------------------|\n")
		for _, row := range r.Summaries {
			owner := row.OwnerName
			if owner == "" {
				owner = row.OwnerAddress
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %s | %s | %s | %d |\n",
				row.Code, owner,
				row.DepositCount, row.WithdrawCount, row.SettledCount,
				row.TotalRealizedValue, row.GrossSettledValue, row.DecrementedValue,
				row.LastActivity))
		}
	} else {
		sb.WriteString("No referral codes registered.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
