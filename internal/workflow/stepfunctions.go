package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctions starts state machine executions. Workflow ids are state
// machine ARNs.
type StepFunctions struct {
	client SFNAPI
}

func NewStepFunctions(client SFNAPI) *StepFunctions {
	return &StepFunctions{client: client}
}

func (s *StepFunctions) StartExecution(ctx context.Context, workflowID, name string, input []byte) (string, error) {
	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(workflowID),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		// Names are unique per state machine; a repeat start of the same
		// emergency resolves to the existing execution.
		var exists *types.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return ExecutionARN(workflowID, name), nil
		}
		return "", fmt.Errorf("start execution %s: %w", name, err)
	}
	return aws.ToString(out.ExecutionArn), nil
}

// ExecutionARN derives an execution ARN from its state machine ARN and name.
func ExecutionARN(stateMachineARN, name string) string {
	return strings.Replace(stateMachineARN, ":stateMachine:", ":execution:", 1) + ":" + name
}
