package domain

// VoteSnapshot is the process-wide governance voting summary, recomputed
// wholesale each refresh cycle. TotalVotes sums vote weight across all pool
// gauges; VotesCast is the lock-balance-weighted count of governance
// positions that voted within the active epoch. A failed recomputation is
// replaced by configured fallback values, never by a partial result.
type VoteSnapshot struct {
	TotalVotes    float64            `json:"total_votes"`
	VotesCast     float64            `json:"votes_cast"`
	VotedBalances map[uint64]float64 `json:"voted_balances,omitempty"`
}
