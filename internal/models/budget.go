package models

// TokenBudget tracks the token ceiling of a single workflow run. Only the
// workflow engine mutates it, once per completed stage.
//
// Invariant: Used never exceeds Allocated. Stage outputs that would cross
// Allocated*SummarizeThreshold are summarized before they are charged.
type TokenBudget struct {
	Allocated          int     `json:"allocated"`
	Used               int     `json:"used"`
	SummarizeThreshold float64 `json:"summarize_threshold"`
}

func NewTokenBudget(allocated int, summarizeThreshold float64) TokenBudget {
	if summarizeThreshold <= 0 || summarizeThreshold > 1 {
		summarizeThreshold = 0.6
	}
	return TokenBudget{Allocated: allocated, SummarizeThreshold: summarizeThreshold}
}

// TriggerPoint is the used-token count at which summarization kicks in.
func (b *TokenBudget) TriggerPoint() int {
	return int(float64(b.Allocated) * b.SummarizeThreshold)
}

// WouldExceedThreshold reports whether charging cost crosses the
// summarization trigger point.
func (b *TokenBudget) WouldExceedThreshold(cost int) bool {
	return b.Used+cost > b.TriggerPoint()
}

func (b *TokenBudget) Remaining() int {
	remaining := b.Allocated - b.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Charge records cost against the budget, clamped so Used never exceeds
// Allocated. It returns the amount actually charged.
func (b *TokenBudget) Charge(cost int) int {
	if cost < 0 {
		cost = 0
	}
	if cost > b.Remaining() {
		cost = b.Remaining()
	}
	b.Used += cost
	return cost
}

// SubBudget derives a branch budget for concurrent deep-dive stages: the
// smaller of the per-branch cap and an even split of what is left.
func (b *TokenBudget) SubBudget(branches, perBranchCap int) TokenBudget {
	if branches <= 0 {
		branches = 1
	}
	share := b.Remaining() / branches
	if perBranchCap > 0 && share > perBranchCap {
		share = perBranchCap
	}
	return NewTokenBudget(share, b.SummarizeThreshold)
}
