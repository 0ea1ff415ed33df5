package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
)

// QueueDepths holds the latest broker backlog sample
type QueueDepths struct {
	Transcode   int       `json:"transcode"`
	DeadLetter  int       `json:"dead_letter"`
	LastUpdated time.Time `json:"last_updated"`
}

// QueueProvider defines the interface for queue metrics
type QueueProvider interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// Monitor samples the broker backlog and exports it as gauges
type Monitor struct {
	queues   QueueProvider
	interval time.Duration
	logger   *logging.Logger

	mu     sync.RWMutex
	latest QueueDepths
}

// NewMonitor creates a monitor polling queues every interval
func NewMonitor(queues QueueProvider, interval time.Duration, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Monitor{
		queues:   queues,
		interval: interval,
		logger:   logger.WithComponent("monitoring"),
	}
}

// Start samples until ctx is cancelled
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Collect(); err != nil {
				m.logger.WithError(err).Warn("Failed to update queue metrics")
			}
		}
	}
}

// Collect takes one sample
func (m *Monitor) Collect() error {
	transcode, err := m.queues.GetQueueDepth()
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}

	deadLetter, err := m.queues.GetDLQDepth()
	if err != nil {
		return fmt.Errorf("failed to get DLQ depth: %w", err)
	}

	metrics.RecordQueueDepth("transcode", transcode)
	metrics.RecordQueueDepth("dead_letter", deadLetter)

	m.mu.Lock()
	m.latest = QueueDepths{
		Transcode:   transcode,
		DeadLetter:  deadLetter,
		LastUpdated: time.Now(),
	}
	m.mu.Unlock()

	return nil
}

// Latest returns the most recent sample
func (m *Monitor) Latest() QueueDepths {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}
