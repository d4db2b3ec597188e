package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task of the given kind can start now.
	CanStart(requiresLLM bool) bool
	// OnStart is called when a task starts.
	OnStart(requiresLLM bool)
	// OnComplete is called when a task finishes, whatever the outcome.
	OnComplete(requiresLLM bool)
}

// ============================================================================
// ThrottledStrategy - Up to N parallel LLM tasks
// ============================================================================

// ThrottledStrategy allows up to maxLLM model-calling tasks and up to maxOther
// remaining tasks to run in parallel. A limit below 1 is treated as 1.
type ThrottledStrategy struct {
	mu       sync.Mutex
	maxLLM   int
	maxOther int
	llm      int
	other    int
}

// NewThrottledStrategy creates a strategy with separate limits per kind.
func NewThrottledStrategy(maxLLM, maxOther int) *ThrottledStrategy {
	if maxLLM < 1 {
		maxLLM = 1
	}
	if maxOther < 1 {
		maxOther = 1
	}
	return &ThrottledStrategy{maxLLM: maxLLM, maxOther: maxOther}
}

func (s *ThrottledStrategy) CanStart(requiresLLM bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requiresLLM {
		return s.llm < s.maxLLM
	}
	return s.other < s.maxOther
}

func (s *ThrottledStrategy) OnStart(requiresLLM bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requiresLLM {
		s.llm++
	} else {
		s.other++
	}
}

func (s *ThrottledStrategy) OnComplete(requiresLLM bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requiresLLM {
		if s.llm > 0 {
			s.llm--
		}
	} else if s.other > 0 {
		s.other--
	}
}

// ============================================================================
// SerializedStrategy - One task of each kind at a time
// ============================================================================

// NewSerializedStrategy runs one LLM task and one other task at a time.
func NewSerializedStrategy() *ThrottledStrategy {
	return NewThrottledStrategy(1, 1)
}

// ============================================================================
// UnboundedStrategy - No limits
// ============================================================================

// UnboundedStrategy starts every task immediately.
type UnboundedStrategy struct{}

func (UnboundedStrategy) CanStart(bool) bool { return true }
func (UnboundedStrategy) OnStart(bool)       {}
func (UnboundedStrategy) OnComplete(bool)    {}
