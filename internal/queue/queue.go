package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

const (
	TranscodeQueueName = "transcode_jobs"
	ExchangeName       = "transcode"
)

// Handler processes one delivered message. retryCount is the number of
// earlier failed attempts. Returning an error requeues the delivery.
type Handler func(ctx context.Context, msg *models.TranscodeMessage, retryCount int) error

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger

	// serializes publish + confirm pairs on the shared channel
	publishMu sync.Mutex
	prefetch  int

	consumers sync.WaitGroup
}

// New creates a new queue client
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	conn, err := amqp.Dial(URL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{
		conn:     conn,
		channel:  channel,
		logger:   logger.WithComponent("queue"),
		prefetch: cfg.Prefetch,
	}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}

	// Publisher confirms make PublishJob return only once the broker owns the message
	if err := channel.Confirm(false); err != nil {
		q.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return q, nil
}

// URL renders the AMQP connection URL for cfg
func URL(cfg config.QueueConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	if cfg.Vhost != "" && cfg.Vhost != "/" {
		u.Path = "/" + cfg.Vhost
	} else {
		u.Path = "/"
	}
	return u.String()
}

func (q *Queue) declare() error {
	// Declare exchange
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = q.channel.QueueDeclare(
		TranscodeQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = q.channel.QueueBind(
		TranscodeQueueName,
		TranscodeQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return q.setupDeadLetterQueue()
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishJob publishes a transcode message and waits for the broker confirm
func (q *Queue) PublishJob(ctx context.Context, msg *models.TranscodeMessage) error {
	publishing, err := newPublishing(msg, nil)
	if err != nil {
		return err
	}

	if err := q.publish(ctx, ExchangeName, TranscodeQueueName, publishing); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

func (q *Queue) publish(ctx context.Context, exchange, routingKey string, publishing amqp.Publishing) error {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	confirm, err := q.channel.PublishWithDeferredConfirmWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked message")
	}

	return nil
}

// ConsumeJobs starts consuming jobs from the queue. Deliveries are acked
// only after handler returns.
func (q *Queue) ConsumeJobs(ctx context.Context, handler Handler) error {
	prefetch := q.prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		prefetch, // prefetch count
		0,        // prefetch size
		false,    // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		TranscodeQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.consumers.Add(1)
	go func() {
		defer q.consumers.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-msgs:
				if !ok {
					q.logger.Warn("Delivery channel closed")
					return
				}
				q.dispatch(ctx, delivery, handler)
			}
		}
	}()

	return nil
}

func (q *Queue) dispatch(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	var msg models.TranscodeMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		q.logger.WithError(err).Error("Discarding malformed transcode message")
		delivery.Nack(false, false)
		return
	}

	if err := handler(ctx, &msg, retryCountFromHeaders(delivery.Headers)); err != nil {
		q.logger.WithJobID(msg.JobID).WithError(err).Warn("Handler failed, requeueing delivery")
		delivery.Nack(false, true)
		return
	}

	delivery.Ack(false)
}

// Wait blocks until every consumer started by ConsumeJobs has settled its
// last delivery and returned
func (q *Queue) Wait() {
	q.consumers.Wait()
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(TranscodeQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

func newPublishing(msg *models.TranscodeMessage, headers amqp.Table) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    msg.JobID,
		Body:         body,
		Timestamp:    time.Now(),
		Headers:      headers,
	}, nil
}
