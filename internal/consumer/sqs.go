package consumer

import (
	"context"
	"errors"
	"fmt"
	"gatekeep/internal/guard"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// ReferenceAttribute, when set on a message, overrides the reference found in the body.
const ReferenceAttribute = "Reference"

const paymentResourcePrefix = "payment:"

// PaymentHandler forwards payment gateway events from SQS to SNS once per external
// reference, however many times SQS delivers them.
type PaymentHandler struct {
	Idem          *guard.IdempotencyGuard
	Locks         *guard.ResourceLockManager
	Publisher     ports.Publisher
	TopicArn      string
	ReferenceExpr string
}

// HandleSQSEvent processes one batch and reports failed messages for redelivery.
func (h *PaymentHandler) HandleSQSEvent(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	log.Infof("Processing batch of %d messages", len(sqsEvent.Records))

	var batchItemFailures []events.SQSBatchItemFailure

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			log.WithError(err).Errorf("Failed to process message %s", record.MessageId)
			batchItemFailures = append(batchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	return events.SQSEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func (h *PaymentHandler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(record.Body), &payload); err != nil {
		return fmt.Errorf("parse message body: %w", err)
	}
	ref, err := h.reference(record, payload)
	if err != nil {
		return err
	}

	// Concurrent deliveries of one reference are serialized so only one of them publishes.
	err = h.Locks.WithLocks(ctx, []string{paymentResourcePrefix + ref}, func(ctx context.Context) error {
		resultID, duplicate, err := h.Idem.Run(ctx, ref, func(ctx context.Context) (string, error) {
			if err := h.Publisher.PublishRaw(ctx, h.TopicArn, []byte(record.Body)); err != nil {
				return "", fmt.Errorf("publish to SNS: %w", err)
			}
			return record.MessageId, nil
		})
		if err != nil {
			return err
		}
		fields := log.Fields{
			"reference": ref,
			"messageID": record.MessageId,
			"resultID":  resultID,
		}
		if duplicate {
			log.WithFields(fields).Info("Duplicate delivery skipped")
			return nil
		}
		log.WithFields(fields).Info("Payment event forwarded to SNS")
		return nil
	})
	if errors.Is(err, types.ErrLockUnavailable) {
		return fmt.Errorf("reference %s is being processed: %w", ref, err)
	}
	return err
}

func (h *PaymentHandler) reference(record events.SQSMessage, payload map[string]any) (string, error) {
	if attr, ok := record.MessageAttributes[ReferenceAttribute]; ok && attr.StringValue != nil && *attr.StringValue != "" {
		return *attr.StringValue, nil
	}
	ref, err := guard.ExtractReference(h.ReferenceExpr, payload)
	if err != nil {
		return "", fmt.Errorf("extract reference: %w", err)
	}
	return ref, nil
}
