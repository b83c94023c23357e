package llm

import (
	"context"
	"sync"

	"github.com/hyperjump/doctalk/internal/models"
)

// MockClient is a deterministic ChatClient for tests. It replays a fixed list of
// fragments and records every message sequence it was called with.
type MockClient struct {
	mu        sync.Mutex
	fragments []string
	failAfter int
	failErr   error
	startErr  error
	gate      <-chan struct{}
	calls     [][]models.Turn
}

// NewMockClient returns a client that streams fragments in order and then completes.
func NewMockClient(fragments ...string) *MockClient {
	return &MockClient{fragments: fragments, failAfter: -1}
}

// FailAfter makes the stream fail with err after n fragments were sent.
func (m *MockClient) FailAfter(n int, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.failErr = err
	return m
}

// FailToStart makes ChatStream return err without streaming.
func (m *MockClient) FailToStart(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
	return m
}

// HoldUntil delays completion of every stream until gate is closed (or ctx is done).
func (m *MockClient) HoldUntil(gate <-chan struct{}) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
	return m
}

// Calls returns every message sequence received, oldest first.
func (m *MockClient) Calls() [][]models.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]models.Turn(nil), m.calls...)
}

// LastCall returns the most recent message sequence, or nil.
func (m *MockClient) LastCall() []models.Turn {
	calls := m.Calls()
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// ChatStream implements ChatClient.
func (m *MockClient) ChatStream(ctx context.Context, messages []models.Turn) (<-chan Chunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]models.Turn(nil), messages...))
	fragments := append([]string(nil), m.fragments...)
	failAfter, failErr, startErr, gate := m.failAfter, m.failErr, m.startErr, m.gate
	m.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for i, f := range fragments {
			if i == failAfter {
				send(Chunk{Err: failErr})
				return
			}
			if !send(Chunk{Content: f}) {
				return
			}
		}
		if failAfter >= len(fragments) {
			send(Chunk{Err: failErr})
			return
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
