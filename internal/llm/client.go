package llm

import "context"

// Client is the interface every stage uses to talk to the backend.
type Client interface {
	// Chat sends a completion request and returns the first choice.
	// Errors wrap ErrBackendUnavailable, ErrBackendProtocol or the
	// caller's context error.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}
