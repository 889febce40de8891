package openai

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// Model names exposed to clients. Premium models are tier-gated by the
// subscription limits before a request ever reaches here.
const (
	ModelStandard = "gpt-4o-mini"
	ModelPremium  = "gpt-4o"
)

type Client struct {
	api *openai.Client
}

func NewClient() *Client {
	return &Client{api: openai.NewClient(os.Getenv("OPENAI_API_KEY"))}
}

// StreamMessage streams completion tokens for a single-turn prompt.
func (c *Client) StreamMessage(ctx context.Context, model, prompt string) (<-chan string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan string)
	go func() {
		defer stream.Close()
		defer close(ch)
		for {
			resp, err := stream.Recv()
			if err != nil {
				break
			}
			if len(resp.Choices) > 0 {
				ch <- resp.Choices[0].Delta.Content
			}
		}
	}()
	return ch, nil
}
