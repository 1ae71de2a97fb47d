package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/monitoring"
	"github.com/sirupsen/logrus"
)

// Executor schedules item chains. The orchestrator does not know whether the
// chain runs now in the caller's goroutine or later on another host.
type Executor interface {
	Mode() string
	// Submit schedules every task and returns one handle per scheduled task.
	Submit(ctx context.Context, tasks []ItemTask) ([]string, error)
}

// InlineExecutor runs each chain to completion in the caller's goroutine.
// It is the fallback when no broker is configured.
type InlineExecutor struct {
	runner    *Runner
	collector *monitoring.Collector
}

func NewInlineExecutor(runner *Runner, collector *monitoring.Collector) *InlineExecutor {
	return &InlineExecutor{runner: runner, collector: collector}
}

func (e *InlineExecutor) Mode() string { return config.ExecutionModeInline }

// Submit runs the tasks one after another. A task that cannot run does not
// stop its siblings; the errors are joined.
func (e *InlineExecutor) Submit(ctx context.Context, tasks []ItemTask) ([]string, error) {
	e.collector.Enqueued(len(tasks))
	handles := make([]string, 0, len(tasks))
	var errs []error
	for _, t := range tasks {
		if _, err := e.runner.Run(ctx, t); err != nil {
			errs = append(errs, err)
			continue
		}
		handles = append(handles, "inline:"+t.ItemID)
	}
	return handles, errors.Join(errs...)
}

// PubSubExecutor publishes one message per task; workers pick them up with
// Worker or PushHandler.
type PubSubExecutor struct {
	topic     *pubsub.Topic
	collector *monitoring.Collector
}

func NewPubSubExecutor(topic *pubsub.Topic, collector *monitoring.Collector) *PubSubExecutor {
	return &PubSubExecutor{topic: topic, collector: collector}
}

func (e *PubSubExecutor) Mode() string { return config.ExecutionModePubSub }

func (e *PubSubExecutor) Submit(ctx context.Context, tasks []ItemTask) ([]string, error) {
	results := make([]*pubsub.PublishResult, 0, len(tasks))
	for _, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		results = append(results, e.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"tenant_id": t.TenantID,
				"batch_id":  t.BatchID,
				"item_id":   t.ItemID,
			},
		}))
	}

	handles := make([]string, 0, len(results))
	var errs []error
	for _, res := range results {
		id, err := res.Get(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		handles = append(handles, id)
	}
	e.collector.Enqueued(len(handles))
	return handles, errors.Join(errs...)
}

// Worker pulls item tasks from a subscription and runs them.
type Worker struct {
	Subscription *pubsub.Subscription
	Runner       *Runner
	Logger       *logrus.Logger
	Concurrency  int
}

// Run blocks receiving messages until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.Concurrency > 0 {
		w.Subscription.ReceiveSettings.MaxOutstandingMessages = w.Concurrency
	}
	return w.Subscription.Receive(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, msg *pubsub.Message) {
	task, err := DecodeTask(msg.Data)
	if err != nil {
		// Redelivering a malformed task cannot fix it.
		config.LogError(w.Logger, "pipeline", "Worker.handle", "decoding item task", string(msg.Data), err)
		msg.Ack()
		return
	}
	if _, err := w.Runner.Run(ctx, task); err != nil {
		if w.Logger != nil {
			w.Logger.WithFields(logrus.Fields{
				"field":      "PipelineWorker",
				"tenant_id":  task.TenantID,
				"batch_id":   task.BatchID,
				"item_id":    task.ItemID,
				"message_id": msg.ID,
			}).Warn("item task not processed: " + err.Error())
		}
		msg.Nack()
		return
	}
	msg.Ack()
}

// PushEnvelope is the body Pub/Sub posts to a push endpoint.
type PushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushHandler runs item tasks delivered by a push subscription. Tasks that
// must be retried answer 503 so Pub/Sub redelivers them; everything else is
// acknowledged with 204.
func PushHandler(runner *Runner, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope PushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "pipeline", "PushHandler", "decoding push envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		task, err := DecodeTask(envelope.Message.Data)
		if err != nil {
			config.LogError(logger, "pipeline", "PushHandler", "decoding item task", envelope.Message.ID, err)
			c.Status(http.StatusNoContent)
			return
		}
		if _, err := runner.Run(c.Request.Context(), task); err != nil {
			config.LogError(logger, "pipeline", "PushHandler", task.ItemID, envelope.Message.ID, err)
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
