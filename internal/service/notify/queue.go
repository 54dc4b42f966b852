package notify

import (
	"go.uber.org/zap"

	"tasksync/internal/model"
	"tasksync/pkg/metrics"
)

// Queue is the shared intent channel between producers (deriver,
// scheduler, retry timers) and the dispatcher workers. Enqueue never
// blocks: a full queue drops the intent, which is safe because scans
// re-derive due-soon/overdue intents on the next cycle.
type Queue struct {
	ch     chan model.NotificationIntent
	logger *zap.Logger
}

func NewQueue(size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan model.NotificationIntent, size), logger: logger}
}

func (q *Queue) Enqueue(in model.NotificationIntent) bool {
	select {
	case q.ch <- in:
		metrics.IntentsEnqueuedTotal.WithLabelValues(string(in.Kind)).Inc()
		return true
	default:
		metrics.IntentsDroppedTotal.WithLabelValues("queue_full").Inc()
		q.logger.Warn("Intent queue full, dropping intent",
			zap.Int64("task_ref", in.TaskRef),
			zap.String("kind", string(in.Kind)))
		return false
	}
}

func (q *Queue) C() <-chan model.NotificationIntent { return q.ch }

// Len reports the number of queued intents, for observability.
func (q *Queue) Len() int { return len(q.ch) }
