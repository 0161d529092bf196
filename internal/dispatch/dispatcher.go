// Package dispatch drains the webhook outboxes in the background.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/playware/integration-hub/internal/client"
	"github.com/playware/integration-hub/internal/storage"
	"github.com/playware/integration-hub/pkg/logging"
)

// Broadcaster receives delivery events for live observers. The websocket
// hub implements it; a nil broadcaster disables events.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// Config configures the dispatcher behavior.
type Config struct {
	PollInterval time.Duration // How often to scan the outboxes
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
	}
}

// Dispatcher periodically scans both outbox queues and attempts delivery of
// every record that is due. Delivery state lives in storage, so a restart
// picks up exactly where the previous run stopped.
type Dispatcher struct {
	storage *storage.Storage
	client  *client.Client
	config  Config
	events  Broadcaster
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new dispatcher.
func New(store *storage.Storage, c *client.Client, cfg Config, events Broadcaster) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		storage: store,
		client:  c,
		config:  cfg,
		events:  events,
		log:     logging.GetDefault().Component("dispatch"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the dispatcher background goroutine.
func (d *Dispatcher) Start() {
	go d.run()
	d.log.Info("Dispatcher started", "poll_interval", d.config.PollInterval)
}

// Stop stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.log.Info("Dispatcher stopped")
}

// run is the main loop of the dispatcher.
func (d *Dispatcher) run() {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.DrainOnce(d.ctx)
		}
	}
}

// DrainOnce makes a single pass over both queues, attempting every record
// whose next attempt is due. A failed record never aborts the pass.
func (d *Dispatcher) DrainOnce(ctx context.Context) {
	now := time.Now().Unix()

	for _, q := range storage.Queues {
		records, err := d.storage.UndeliveredOutbox(q)
		if err != nil {
			d.log.Warn("Failed to load undelivered records", "queue", q, "error", err)
			continue
		}

		for _, rec := range records {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if rec.NextAttemptAt > now {
				continue
			}
			d.deliver(ctx, rec)
		}
	}
}

// deliver attempts one record and records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, rec *storage.OutboxRecord) {
	resp, err := d.client.Request(ctx, "POST", rec.TargetURL, rec.Payload)

	if err == nil && resp.StatusCode < 500 {
		if err := d.storage.MarkOutboxSent(rec.Queue, rec.ID); err != nil {
			d.log.Warn("Failed to mark record sent", "queue", rec.Queue, "id", rec.ID, "error", err)
			return
		}
		d.log.Info("Outbox record delivered",
			"queue", rec.Queue,
			"id", rec.ID,
			"event_type", rec.EventType,
			"attempt", rec.AttemptCount+1)
		d.broadcast("outbox_delivered", rec)
		return
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	} else {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}

	nextAttempt := time.Now().Add(d.backoffAfter(rec.AttemptCount)).Unix()
	if err := d.storage.MarkOutboxFailed(rec.Queue, rec.ID, reason, nextAttempt); err != nil {
		d.log.Warn("Failed to mark record failed", "queue", rec.Queue, "id", rec.ID, "error", err)
		return
	}

	d.log.Warn("Outbox delivery failed",
		"queue", rec.Queue,
		"id", rec.ID,
		"event_type", rec.EventType,
		"attempt", rec.AttemptCount+1,
		"reason", reason)
	d.broadcast("outbox_failed", rec)
}

// backoffAfter returns the delay before the attempt following attemptCount
// completed attempts. Doubles per attempt: 2s, 4s, 8s, capped at 10 minutes.
func (d *Dispatcher) backoffAfter(attemptCount int) time.Duration {
	maxBackoff := 10 * time.Minute

	backoff := 2 * time.Second
	for i := 0; i < attemptCount; i++ {
		backoff *= 2
		if backoff > maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

func (d *Dispatcher) broadcast(event string, rec *storage.OutboxRecord) {
	if d.events == nil {
		return
	}
	d.events.Broadcast(event, rec)
}
