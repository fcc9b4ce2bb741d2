package usage

// Usage holds the token counters reported on a single agent message.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Totals accumulates usage across every message a session reports.
// Counters only ever grow; the turn metrics come from result messages.
type Totals struct {
	InputTokens              int64   `json:"input_tokens"`
	OutputTokens             int64   `json:"output_tokens"`
	CacheCreationInputTokens int64   `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64   `json:"cache_read_input_tokens"`
	TotalCostUSD             float64 `json:"total_cost_usd"`
	Turns                    int     `json:"turns"`
	DurationMs               int64   `json:"duration_ms"`
}

// Add folds one message's usage into the totals.
func (t *Totals) Add(u Usage) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CacheCreationInputTokens += u.CacheCreationInputTokens
	t.CacheReadInputTokens += u.CacheReadInputTokens
}

// AddResult folds turn-level metrics from a result message into the totals.
func (t *Totals) AddResult(costUSD float64, turns int, durationMs int64) {
	t.TotalCostUSD += costUSD
	t.Turns += turns
	t.DurationMs += durationMs
}
