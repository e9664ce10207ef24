// internal/channel/channel.go
package channel

import (
	"context"
	"fmt"
	"math/rand"
)

// Request is one logical send handed to a delivery provider.
type Request struct {
	Channel string
	Persona string
	To      string
	Content string
}

// Result carries the provider's acknowledgement.
type Result struct {
	ProviderMessageID string
}

// Sender is the narrow contract every delivery channel implements. The engine
// is channel-agnostic: it decides that a touch is due and what to send, the
// sender does the network call.
type Sender interface {
	Send(ctx context.Context, req Request) (Result, error)
}

// Registry maps channel names to their senders.
type Registry map[string]Sender

func (r Registry) For(name string) (Sender, bool) {
	s, ok := r[name]
	return s, ok
}

// MockSender simulates a provider with a fixed success rate.
// TODO: replace with the real SMS/voice/email provider clients
type MockSender struct {
	Name     string
	FailRate float64
}

func (m *MockSender) Send(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if rand.Float64() < m.FailRate {
		return Result{}, fmt.Errorf("mock %s send failed", m.Name)
	}
	return Result{ProviderMessageID: fmt.Sprintf("mock-%s-%d", m.Name, rand.Int63())}, nil
}

// NewMockRegistry wires a mock sender for every supported channel, each with
// a 10% failure rate.
func NewMockRegistry() Registry {
	return Registry{
		"sms":   &MockSender{Name: "sms", FailRate: 0.1},
		"voice": &MockSender{Name: "voice", FailRate: 0.1},
		"email": &MockSender{Name: "email", FailRate: 0.1},
	}
}
