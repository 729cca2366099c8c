package processor

// TransactionTypeStats aggregates transactions of one type.
type TransactionTypeStats struct {
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
	TotalUnits  float64 `json:"total_units"`
	AvgAmount   float64 `json:"avg_amount"`
	AvgUnits    float64 `json:"avg_units"`
}

// TransactionAnalysis summarises a meter's transaction history.
type TransactionAnalysis struct {
	TotalTransactions int                              `json:"total_transactions"`
	TotalAmount       float64                          `json:"total_amount"`
	TotalUnits        float64                          `json:"total_units"`
	ByType            map[string]*TransactionTypeStats `json:"by_type"`
	OldestTransaction string                           `json:"oldest_transaction,omitempty"`
	NewestTransaction string                           `json:"newest_transaction,omitempty"`
}

// AnalyzeTransactions computes summary statistics over the raw transaction
// map returned by the API. Amount and unit fields arrive as strings from
// some backends, so the lenient coercion applies; entries that are not
// objects are skipped.
func AnalyzeTransactions(transactions map[string]any) TransactionAnalysis {
	analysis := TransactionAnalysis{ByType: map[string]*TransactionTypeStats{}}

	for _, raw := range transactions {
		tx, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		txType := "UNKNOWN"
		if t, ok := tx["type"].(string); ok && t != "" {
			txType = t
		}
		stats := analysis.ByType[txType]
		if stats == nil {
			stats = &TransactionTypeStats{}
			analysis.ByType[txType] = stats
		}

		amount, _ := ValidateNumeric(tx["total_price"])
		units, _ := ValidateNumeric(tx["unit"])

		stats.Count++
		stats.TotalAmount += amount
		stats.TotalUnits += units

		analysis.TotalTransactions++
		analysis.TotalAmount += amount
		analysis.TotalUnits += units

		if created, ok := tx["created_at"].(string); ok && created != "" {
			if analysis.OldestTransaction == "" || created < analysis.OldestTransaction {
				analysis.OldestTransaction = created
			}
			if analysis.NewestTransaction == "" || created > analysis.NewestTransaction {
				analysis.NewestTransaction = created
			}
		}
	}

	for _, stats := range analysis.ByType {
		if stats.Count > 0 {
			stats.AvgAmount = stats.TotalAmount / float64(stats.Count)
			stats.AvgUnits = stats.TotalUnits / float64(stats.Count)
		}
	}

	return analysis
}
