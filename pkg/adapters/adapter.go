package adapters

import "context"

// Adapter is the uniform execution contract over one provider backend.
// Not every variant implements every capability: unsupported operations
// return an AdapterError with KindCapability.
//
// All methods accept a context.Context for cancellation and timeout
// control. Implementations must respect context cancellation and release
// any underlying process or connection promptly when the context is
// cancelled.
//
// Example usage:
//
//	adapter, err := adapterfactory.New(provider)
//	if err != nil {
//	    return err
//	}
//	defer adapter.Close()
//
//	resp, err := adapter.Chat(ctx, &adapters.Request{
//	    Model:    "internal-model-id",
//	    Messages: []adapters.Message{{Role: "user", Content: "Hello!"}},
//	})
type Adapter interface {
	// Chat executes a non-streaming chat completion. It fails with an
	// AdapterError on timeout, non-zero exit, malformed output, or
	// transport error.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// StreamChat executes a streaming chat completion. It returns a channel
	// of deltas terminated by a final delta carrying a finish reason. If an
	// error occurs mid-stream it is delivered as the Err field of the last
	// delta and the channel is closed.
	//
	// Cancelling the context stops the backend and closes the channel
	// within bounded time.
	StreamChat(ctx context.Context, req *Request) (<-chan Delta, error)

	// Embeddings computes embedding vectors for the given input. Variants
	// without embedding support fail with a capability error.
	Embeddings(ctx context.Context, req *EmbeddingsRequest) (*EmbeddingsResponse, error)

	// TestConnection performs a lightweight liveness probe. Expected
	// failures (unreachable backend, bad status) are reported in the
	// result, never as an error.
	TestConnection(ctx context.Context) *ConnectionResult

	// ValidateConfig statically checks the adapter configuration before
	// activation.
	ValidateConfig() *ValidationResult

	// Name returns the provider slug this adapter executes for.
	Name() string

	// Type returns the adapter variant (spawn, http, proxy, local).
	Type() string

	// Close releases any resources held by the adapter.
	Close() error
}
