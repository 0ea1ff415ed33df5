package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

const (
	DeadLetterQueueName    = "transcode_jobs_dlq"
	DeadLetterExchangeName = "transcode_dlq"
	RetryQueueName         = "transcode_jobs_retry"

	retryCountHeader    = "x-retry-count"
	failureReasonHeader = "x-failure-reason"
	failedAtHeader      = "x-failed-at"
)

// setupDeadLetterQueue sets up the retry and dead letter queue infrastructure
func (q *Queue) setupDeadLetterQueue() error {
	// Declare dead letter exchange
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare dead letter queue
	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ to exchange
	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages are dead-lettered back onto the main queue.
	// Each message carries its own expiration so the delay can grow.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": TranscodeQueueName,
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	q.logger.Debug("Dead letter queue infrastructure set up")
	return nil
}

// PublishToRetryQueue parks a message for delay before it is redelivered
// with its retry count incremented
func (q *Queue) PublishToRetryQueue(ctx context.Context, msg *models.TranscodeMessage, retryCount int, delay time.Duration) error {
	publishing, err := newPublishing(msg, amqp.Table{
		retryCountHeader: int32(retryCount + 1),
	})
	if err != nil {
		return err
	}
	publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)

	if err := q.publish(ctx, "", RetryQueueName, publishing); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.WithJobID(msg.JobID).Infof("Job queued for retry #%d in %v", retryCount+1, delay)
	return nil
}

// PublishToDeadLetterQueue publishes a failed message to the dead letter queue
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, msg *models.TranscodeMessage, reason string) error {
	publishing, err := newPublishing(msg, amqp.Table{
		failureReasonHeader: reason,
		failedAtHeader:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, publishing); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.WithJobID(msg.JobID).Warnf("Job moved to dead letter queue: %s", reason)
	return nil
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

// CalculateBackoffDelay returns base * 2^retryCount, capped at max
func CalculateBackoffDelay(retryCount int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}

	if delay > max {
		delay = max
	}

	return delay
}

// retryCountFromHeaders reads the retry header; AMQP may hand integers back
// as any width
func retryCountFromHeaders(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}
