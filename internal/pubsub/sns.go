package pubsub

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNS rejects longer subjects.
const maxSNSSubject = 100

type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes to topic ARNs.
type SNS struct {
	client SNSAPI
}

func NewSNS(client SNSAPI) *SNS {
	return &SNS{client: client}
}

func (s *SNS) Publish(ctx context.Context, topic string, msg Message) error {
	in := &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(msg.Body),
	}
	if msg.Subject != "" {
		subject := msg.Subject
		if len(subject) > maxSNSSubject {
			subject = subject[:maxSNSSubject]
		}
		in.Subject = aws.String(subject)
	}
	if len(msg.Attributes) > 0 {
		in.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			in.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	if _, err := s.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("sns publish %s: %w", topic, err)
	}
	return nil
}
