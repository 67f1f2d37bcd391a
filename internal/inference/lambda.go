package inference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

func invokeJSON(ctx context.Context, client LambdaAPI, arn string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding payload: %w", err)
	}

	resp, err := client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(arn),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        body,
	})
	if err != nil {
		return fmt.Errorf("lambda invoke %s: %w", arn, err)
	}
	if resp.FunctionError != nil {
		return fmt.Errorf("lambda %s failed: %s: %s", arn, aws.ToString(resp.FunctionError), resp.Payload)
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", arn, err)
	}
	return nil
}

// LambdaAnalyzer delegates situation analysis to a function that receives the
// emergency record and answers {"analysis": "...", "status": "..."}.
type LambdaAnalyzer struct {
	client LambdaAPI
	arn    string
}

func NewLambdaAnalyzer(client LambdaAPI, arn string) *LambdaAnalyzer {
	return &LambdaAnalyzer{client: client, arn: arn}
}

type analysisResponse struct {
	Analysis string `json:"analysis"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func (a *LambdaAnalyzer) Analyze(ctx context.Context, e *models.Emergency) (string, error) {
	var resp analysisResponse
	if err := invokeJSON(ctx, a.client, a.arn, e, &resp); err != nil {
		return "", err
	}
	if resp.Status == "ERROR" {
		return "", fmt.Errorf("analysis function error: %s", resp.Error)
	}
	if resp.Analysis == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Analysis, nil
}

// LambdaRecommender delegates resource recommendation to a function that
// answers {"recommended_resources": [...]}.
type LambdaRecommender struct {
	client LambdaAPI
	arn    string
}

func NewLambdaRecommender(client LambdaAPI, arn string) *LambdaRecommender {
	return &LambdaRecommender{client: client, arn: arn}
}

type recommendationResponse struct {
	RecommendedResources []string `json:"recommended_resources"`
	Status               string   `json:"status"`
	Error                string   `json:"error,omitempty"`
}

func (r *LambdaRecommender) Recommend(ctx context.Context, e *models.Emergency) ([]string, error) {
	var resp recommendationResponse
	if err := invokeJSON(ctx, r.client, r.arn, e, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "ERROR" {
		return nil, fmt.Errorf("recommendation function error: %s", resp.Error)
	}
	return resp.RecommendedResources, nil
}
