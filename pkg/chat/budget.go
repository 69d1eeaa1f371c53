package chat

// maxCacheBreakpoints is the vendor-side ceiling on cache breakpoints per
// conversation.
const maxCacheBreakpoints = 4

// cacheBudget counts cache breakpoints allocated over a conversation's
// lifetime. Requests past the ceiling are silently denied, never errors.
type cacheBudget struct {
	used int
}

// acquire takes one breakpoint, reporting whether it was granted.
func (b *cacheBudget) acquire() bool {
	if b.used >= maxCacheBreakpoints {
		return false
	}
	b.used++
	return true
}

// remaining reports the breakpoints still available.
func (b *cacheBudget) remaining() int {
	return maxCacheBreakpoints - b.used
}

// reset returns the budget to its initial state.
func (b *cacheBudget) reset() {
	b.used = 0
}
