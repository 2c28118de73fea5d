package mocks

import (
	"context"
	"sync"

	"github.com/Veraticus/qrelay/internal/agent"
	"github.com/Veraticus/qrelay/internal/relay"
)

// MockRunner records agent requests and returns a fixed reply.
type MockRunner struct {
	mu       sync.Mutex
	requests []agent.Request
	reply    string

	// Block, when set, is waited on before Run returns.
	Block chan struct{}
	// Started receives each request as Run begins, when set.
	Started chan agent.Request
}

// NewMockRunner creates a runner returning reply.
func NewMockRunner(reply string) *MockRunner {
	return &MockRunner{reply: reply}
}

// Run records req.
func (m *MockRunner) Run(ctx context.Context, req agent.Request) string {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Started != nil {
		m.Started <- req
	}
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
		}
	}
	return m.reply
}

// Requests returns the recorded requests.
func (m *MockRunner) Requests() []agent.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// MockHandler records inbound messages.
type MockHandler struct {
	mu      sync.Mutex
	inbound []relay.Inbound
	err     error
}

// NewMockHandler creates a handler that returns err from Handle.
func NewMockHandler(err error) *MockHandler {
	return &MockHandler{err: err}
}

// Handle records in.
func (m *MockHandler) Handle(_ context.Context, in relay.Inbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, in)
	return m.err
}

// Inbound returns the recorded messages.
func (m *MockHandler) Inbound() []relay.Inbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]relay.Inbound, len(m.inbound))
	copy(out, m.inbound)
	return out
}

// AsyncSubmitter runs each submitted task on its own goroutine, or rejects
// it with Err.
type AsyncSubmitter struct {
	mu    sync.Mutex
	wg    sync.WaitGroup
	names []string
	Err   error
}

// Submit starts task unless Err is set.
func (s *AsyncSubmitter) Submit(name string, task relay.Task) error {
	s.mu.Lock()
	s.names = append(s.names, name)
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task(context.Background())
	}()
	return nil
}

// Wait blocks until every started task has returned.
func (s *AsyncSubmitter) Wait() {
	s.wg.Wait()
}

// Names returns the submitted task names.
func (s *AsyncSubmitter) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}
