package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jonwraymond/cachegate/resilience"
)

// TaskDeliver is the asynq task type for one webhook delivery.
const TaskDeliver = "webhook:deliver"

// DefaultQueue is the asynq queue webhook tasks go to.
const DefaultQueue = "webhooks"

// DeliverPayload is the task payload.
type DeliverPayload struct {
	Target       string       `json:"target"`
	Notification Notification `json:"notification"`
}

// Enqueuer is the part of *asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue is a Notifier that hands delivery to asynq workers.
type Queue struct {
	client   Enqueuer
	queue    string
	maxRetry int
	timeout  time.Duration
}

// NewQueue creates a queue notifier. An empty queue name uses DefaultQueue.
func NewQueue(client Enqueuer, queue string, maxRetry int) *Queue {
	if queue == "" {
		queue = DefaultQueue
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	return &Queue{client: client, queue: queue, maxRetry: maxRetry, timeout: time.Minute}
}

// Notify enqueues one delivery task. The notification ID is the task ID, so
// a repeated enqueue of the same change is rejected by asynq.
func (q *Queue) Notify(ctx context.Context, target string, n Notification) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	payload, err := json.Marshal(DeliverPayload{Target: target, Notification: n})
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(q.queue),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(q.timeout),
	}
	if n.ID != "" {
		opts = append(opts, asynq.TaskID(n.ID))
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskDeliver, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("webhook: enqueue: %w", err)
	}
	return nil
}

// Handler processes TaskDeliver tasks with a Notifier, normally an
// HTTPNotifier configured with a single attempt so asynq owns retries.
type Handler struct {
	notifier Notifier
}

// NewHandler creates a task handler.
func NewHandler(n Notifier) *Handler {
	return &Handler{notifier: n}
}

// ProcessTask implements asynq.Handler. Malformed payloads and permanent
// delivery failures skip retry.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DeliverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("webhook: bad payload: %v: %w", err, asynq.SkipRetry)
	}
	err := h.notifier.Notify(ctx, p.Target, p.Notification)
	if err == nil {
		return nil
	}
	if resilience.IsPermanent(err) || errors.Is(err, ErrInvalidTarget) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Register adds the handler to an asynq mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.Handle(TaskDeliver, h)
}

var (
	_ Notifier      = (*Queue)(nil)
	_ asynq.Handler = (*Handler)(nil)
)
