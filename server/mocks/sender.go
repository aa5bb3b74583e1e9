package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/relay/server/delivery"
)

// SentMessage is one recorded Send call.
type SentMessage struct {
	RecipientID string
	Text        string
}

// MockSender implements delivery.Sender for testing purposes. Calls are
// recorded; SendFunc, when set, decides the receipt.
type MockSender struct {
	SendFunc func(ctx context.Context, recipientID, text string) delivery.Receipt

	mu    sync.Mutex
	calls []SentMessage
}

// NewMockSender creates a MockSender with an optional send function.
func NewMockSender(fn func(ctx context.Context, recipientID, text string) delivery.Receipt) *MockSender {
	return &MockSender{SendFunc: fn}
}

// Send records the call and returns a delivered receipt unless SendFunc
// says otherwise.
func (m *MockSender) Send(ctx context.Context, recipientID, text string) delivery.Receipt {
	m.mu.Lock()
	m.calls = append(m.calls, SentMessage{RecipientID: recipientID, Text: text})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, recipientID, text)
	}
	return delivery.Receipt{Delivered: true, Status: 200, Text: text}
}

// Calls returns the recorded sends, in order.
func (m *MockSender) Calls() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.calls...)
}
