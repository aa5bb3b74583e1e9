package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/relay/server/completion"
)

// MockCompleter implements completion.Completer for testing purposes.
// It records every call and answers with CompleteFunc, or with a fixed
// reply when CompleteFunc is nil.
//
// Example usage:
//
//	completer := NewMockCompleter(func(ctx context.Context, text string) completion.Reply {
//	    return completion.Reply{Text: "mocked reply"}
//	})
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, userText string) completion.Reply

	mu    sync.Mutex
	calls []string
}

// NewMockCompleter creates a MockCompleter with an optional reply function.
func NewMockCompleter(fn func(ctx context.Context, userText string) completion.Reply) *MockCompleter {
	return &MockCompleter{CompleteFunc: fn}
}

// Complete records userText and returns the configured reply.
func (m *MockCompleter) Complete(ctx context.Context, userText string) completion.Reply {
	m.mu.Lock()
	m.calls = append(m.calls, userText)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, userText)
	}
	return completion.Reply{Text: "mock reply"}
}

// Calls returns the texts passed to Complete, in order.
func (m *MockCompleter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
