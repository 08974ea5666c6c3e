// Package memory provides an in-process Publisher that records
// messages instead of sending them, for development mode and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher appends every message to an in-memory log. Safe for
// concurrent use.
type Publisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

// Messages returns a snapshot of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}
