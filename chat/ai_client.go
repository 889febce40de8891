package chat

import "context"

// AIClient abstracts the OpenAI client so the handler can be unit tested
// with a mock.
type AIClient interface {
	StreamMessage(ctx context.Context, model, prompt string) (<-chan string, error)
}
