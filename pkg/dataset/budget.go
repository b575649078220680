package dataset

// ErrorBudget bounds how many malformed rows a load tolerates. A load fails only once both
// limits are crossed, the same rule ClickHouse applies with input_format_allow_errors_num
// and input_format_allow_errors_ratio.
type ErrorBudget struct {
	MaxErrors uint64
	MaxRatio  float64
}

// DefaultErrorBudget allows 5 malformed rows, or any number up to 20% of the rows read.
var DefaultErrorBudget = ErrorBudget{MaxErrors: 5, MaxRatio: 0.2}

// Exceeded reports whether errors malformed rows out of total rows read breaks the budget.
func (b ErrorBudget) Exceeded(errors, total uint64) bool {
	if errors <= b.MaxErrors || total == 0 {
		return false
	}
	return float64(errors) > b.MaxRatio*float64(total)
}
