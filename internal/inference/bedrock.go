// Package inference wraps the text-generation and delegated-function
// collaborators used by assessment and reporting.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const DefaultModelID = "anthropic.claude-v2"

var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Completer produces text for a prompt.
type Completer interface {
	Invoke(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type BedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Bedrock struct {
	client  BedrockAPI
	modelID string
}

func NewBedrock(client BedrockAPI, modelID string) *Bedrock {
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &Bedrock{client: client, modelID: modelID}
}

type completionRequest struct {
	Prompt            string `json:"prompt"`
	MaxTokensToSample int    `json:"max_tokens_to_sample"`
}

type completionResponse struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason,omitempty"`
}

func (b *Bedrock) Invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:            "\n\nHuman: " + strings.TrimSpace(prompt) + "\n\nAssistant:",
		MaxTokensToSample: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("error encoding prompt: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke %s: %w", b.modelID, err)
	}

	var resp completionResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("error decoding completion: %w", err)
	}
	text := strings.TrimSpace(resp.Completion)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
