package tool

import (
	"context"
	"sync"
)

// MockTool is a Tool that returns a scripted sequence of responses instead
// of doing real work, for exercising Interpreter.Dispatch in tests without
// a live backend. Safe for concurrent use, since Dispatch runs every Call
// in a batch on its own goroutine.
type MockTool struct {
	// ToolName is the identifier returned by Name() and the key Registry
	// dispatches on.
	ToolName string

	// Responses is the sequence of outputs Call returns, one per
	// invocation; the last response repeats once exhausted.
	Responses []map[string]interface{}

	// Err, if set, is what Call returns instead of a response — used to
	// exercise the Result.Err path through Dispatch.
	Err error

	// Calls records every invocation, in call order, for assertions.
	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single invocation of Call().
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements Tool.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements Tool, recording the call before returning Err or the
// next scripted response.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}

	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}

	return m.Responses[idx], nil
}

// Reset clears call history and the response index, for reusing a MockTool
// across test cases.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times Call has been invoked.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
