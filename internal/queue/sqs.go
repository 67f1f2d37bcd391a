package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS sends to queue URLs. FIFO queues (".fifo") get the key as message
// group and a content hash as deduplication id.
type SQS struct {
	client SQSAPI
}

func NewSQS(client SQSAPI) *SQS {
	return &SQS{client: client}
}

func (s *SQS) Enqueue(ctx context.Context, queue, key string, body []byte) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queue),
		MessageBody: aws.String(string(body)),
	}
	if strings.HasSuffix(queue, ".fifo") {
		sum := sha256.Sum256(append([]byte(key+"|"), body...))
		in.MessageGroupId = aws.String(key)
		in.MessageDeduplicationId = aws.String(hex.EncodeToString(sum[:]))
	}

	if _, err := s.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send %s: %w", queue, err)
	}
	return nil
}
