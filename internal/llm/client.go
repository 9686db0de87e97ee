// Package llm talks to the chat model backend.
package llm

import "context"

// Client is a chat backend.
type Client interface {
	// Chat sends a blocking chat request.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. Content tokens are passed
	// to onToken as they arrive; the assembled response is returned once
	// the model is done.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, onToken TokenFunc) (*ChatResponse, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
