package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the Client interface.
// Responses are consumed in order; when they run out, Response/Err are
// returned. Handler, when set, takes precedence over both.
type MockClient struct {
	Response  *Response
	Err       error
	Responses []string
	Handler   func(req Request) (string, error)

	mu    sync.Mutex
	Calls []Request // records requests sent
}

// Complete records the call and returns the scripted response.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	var next *string
	if m.Handler == nil && len(m.Responses) > 0 {
		s := m.Responses[0]
		m.Responses = m.Responses[1:]
		next = &s
	}
	m.mu.Unlock()

	if m.Handler != nil {
		text, err := m.Handler(req)
		if err != nil {
			return nil, err
		}
		return &Response{Content: text, Provider: "mock"}, nil
	}
	if next != nil {
		return &Response{Content: *next, Provider: "mock"}, nil
	}
	return m.Response, m.Err
}

// CallCount returns the number of recorded calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request.
func (m *MockClient) LastCall() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Request{}
	}
	return m.Calls[len(m.Calls)-1]
}
