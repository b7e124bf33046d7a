// Package sqsout hands reminders to a downstream delivery service over SQS.
package sqsout

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/oklog/ulid/v2"

	"remind/internal/transport"
)

// API is the subset of the SQS client the producer needs.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Producer struct {
	SQS      API
	QueueURL string
}

// OutboundMessage is the wire shape consumed by the delivery service.
type OutboundMessage struct {
	DeliveryID string    `json:"deliveryId"`
	Recipient  string    `json:"recipient"`
	Text       string    `json:"text"`
	QueuedAt   time.Time `json:"queuedAt"`
}

var _ transport.Sender = (*Producer)(nil)

// Send succeeds once SQS has accepted the message; delivery past the queue is
// the consumer's concern.
func (p *Producer) Send(ctx context.Context, recipient, text string) error {
	now := time.Now().UTC()
	msg := OutboundMessage{
		DeliveryID: ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Recipient:  recipient,
		Text:       text,
		QueuedAt:   now,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return &transport.Error{Kind: transport.KindRejected, Err: err}
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.QueueURL),
		MessageBody: aws.String(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		// FIFO ordering per recipient
		in.MessageGroupId = aws.String(recipient)
		in.MessageDeduplicationId = aws.String(msg.DeliveryID)
	}
	if _, err := p.SQS.SendMessage(ctx, in); err != nil {
		if ctx.Err() != nil {
			return &transport.Error{Kind: transport.KindTimeout, Err: err}
		}
		return &transport.Error{Kind: transport.KindUnavailable, Err: err}
	}
	return nil
}
