package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a test double for the Client interface. Responses are served
// in FIFO order or computed by ResponseFunc when set.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	// ResponseFunc, when set, computes the response from the prompt and takes
	// precedence over Responses.
	ResponseFunc func(prompt, system string) (string, error)
	// Err, when set, is returned by every call.
	Err error

	Calls []MockCall
}

// MockCall records one GenerateResponse invocation.
type MockCall struct {
	Prompt      string
	System      string
	Temperature float64
}

// GenerateResponse returns the next canned response.
func (m *MockClient) GenerateResponse(_ context.Context, prompt, system string, temperature float64) (*GenerateResponseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Prompt: prompt, System: system, Temperature: temperature})

	if m.Err != nil {
		return nil, m.Err
	}
	if m.ResponseFunc != nil {
		content, err := m.ResponseFunc(prompt, system)
		if err != nil {
			return nil, err
		}
		return &GenerateResponseResult{Content: content}, nil
	}
	if len(m.Responses) == 0 {
		return nil, fmt.Errorf("mock: no responses left")
	}

	content := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &GenerateResponseResult{Content: content, TotalTokens: len(content) / 4}, nil
}

// GetModel returns a fixed mock model name.
func (m *MockClient) GetModel() string { return "mock-model" }

// CallCount returns the number of recorded calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ Client = (*MockClient)(nil)

// MockEmbedder is a test double for the Embedder interface. It returns
// deterministic fixed-dimension vectors.
type MockEmbedder struct {
	Dim   int
	Err   error
	mu    sync.Mutex
	Calls [][]string
}

// CreateEmbeddings returns one Dim-length vector per input.
func (m *MockEmbedder) CreateEmbeddings(_ context.Context, inputs []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, inputs)
	if m.Err != nil {
		return nil, m.Err
	}

	dim := m.Dim
	if dim == 0 {
		dim = 8
	}

	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32((len(in)+i+j)%97) / 97.0
		}
		out[i] = vec
	}
	return out, nil
}

// GetModel returns a fixed mock model name.
func (m *MockEmbedder) GetModel() string { return "mock-embedding" }

var _ Embedder = (*MockEmbedder)(nil)
