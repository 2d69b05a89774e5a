// Package worker consumes extraction requests from an AMQP queue,
// dispatches each to the crawl engine or the drive harvester, and
// persists the results.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/siftlabs/kbharvest/internal/chunk"
	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/drive"
	"github.com/siftlabs/kbharvest/internal/engine"
	"github.com/siftlabs/kbharvest/internal/observability"
	"github.com/siftlabs/kbharvest/internal/pipeline"
	"github.com/siftlabs/kbharvest/internal/storage"
	"github.com/siftlabs/kbharvest/internal/types"
)

// JobPayload is the message shape producers put on the queue. Field
// names follow the upstream API contract.
type JobPayload struct {
	ID                  string `json:"id"`
	URL                 string `json:"url"`
	SpecialInstructions string `json:"specialInstructions"`
}

// CrawlFunc runs a full crawl for a seed URL.
type CrawlFunc func(ctx context.Context, seedURL, instructions string) ([]*types.KBItem, error)

// DriveFunc harvests a public Drive folder.
type DriveFunc func(ctx context.Context, folderURL string) ([]*types.KBItem, error)

// Worker is a long-running queue consumer.
type Worker struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	metrics  *observability.Metrics
	pipe     *pipeline.Pipeline
	splitter *chunk.Splitter

	// Job runners, injectable for tests.
	crawl CrawlFunc
	drive DriveFunc

	connected atomic.Bool
}

// New creates a worker wired to the default crawl and drive runners.
func New(cfg *config.Config, store storage.Store, metrics *observability.Metrics, logger *slog.Logger) *Worker {
	w := &Worker{
		cfg:      cfg,
		logger:   logger.With("component", "worker"),
		store:    store,
		metrics:  metrics,
		pipe:     pipeline.Default(logger),
		splitter: chunk.NewSplitter(cfg.Worker.ChunkSize, cfg.Worker.ChunkOverlap, logger),
	}

	w.crawl = func(ctx context.Context, seedURL, instructions string) ([]*types.KBItem, error) {
		return engine.RunCrawl(ctx, cfg, logger, seedURL, instructions)
	}
	w.drive = func(ctx context.Context, folderURL string) ([]*types.KBItem, error) {
		h, err := drive.NewHarvester(cfg, logger)
		if err != nil {
			return nil, err
		}
		return h.HarvestFolder(ctx, folderURL)
	}
	return w
}

// Healthy reports whether the AMQP connection is live.
func (w *Worker) Healthy() bool {
	return w.connected.Load()
}

// Run consumes jobs until the context is canceled. Dial failures and
// dropped connections retry every queue.reconnect_delay.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.consume(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Error("amqp session ended", "error", err,
				"retry_in", w.cfg.Queue.ReconnectDelay)
		}

		w.metrics.Reconnects.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Queue.ReconnectDelay):
		}
	}
}

// consume holds one AMQP session: dial, declare, and process
// deliveries until the connection drops or the context ends.
func (w *Worker) consume(ctx context.Context) error {
	w.logger.Info("connecting to message broker")
	conn, err := amqp.Dial(w.cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrNotConnected, err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(w.cfg.Queue.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	queue, err := ch.QueueDeclare(w.cfg.Queue.Name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	w.connected.Store(true)
	defer w.connected.Store(false)
	w.logger.Info("waiting for extraction requests", "queue", queue.Name)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return fmt.Errorf("connection closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			w.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery processes one message. Jobs are acked regardless of
// outcome; failures are logged, not redelivered.
func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	w.metrics.JobsInFlight.Add(1)
	defer w.metrics.JobsInFlight.Add(-1)
	defer func() {
		if err := d.Ack(false); err != nil {
			w.logger.Error("ack failed", "error", err)
		}
	}()

	var payload JobPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		w.metrics.JobsFailed.Add(1)
		w.logger.Error("malformed job payload", "error", err, "body", string(d.Body))
		return
	}

	w.logger.Info("processing extraction request",
		"request_id", payload.ID, "url", payload.URL)

	if err := w.process(ctx, payload); err != nil {
		w.metrics.JobsFailed.Add(1)
		w.logger.Error("job failed", "request_id", payload.ID, "error", err)
		return
	}
	w.metrics.JobsProcessed.Add(1)
}

// process runs one job end to end: harvest, post-process, chunk, save,
// complete. Zero surviving items still complete the request so
// consumers can tell "done, empty" from "still running".
func (w *Worker) process(ctx context.Context, payload JobPayload) error {
	var (
		items []*types.KBItem
		err   error
	)
	if strings.Contains(payload.URL, "drive.google.com") {
		w.metrics.DriveJobs.Add(1)
		items, err = w.drive(ctx, payload.URL)
	} else {
		w.metrics.CrawlJobs.Add(1)
		items, err = w.crawl(ctx, payload.URL, payload.SpecialInstructions)
	}
	if err != nil {
		return err
	}

	w.metrics.ItemsHarvested.Add(int64(len(items)))

	kept := w.pipe.ProcessAll(items)
	w.metrics.ItemsDropped.Add(int64(len(items) - len(kept)))

	chunked := w.splitter.SplitAll(kept)
	if len(chunked) == 0 {
		w.metrics.JobsEmpty.Add(1)
		w.logger.Info("no items for request", "request_id", payload.ID, "url", payload.URL)
		return w.store.CompleteRequest(ctx, payload.ID)
	}

	records := storage.NewRecords(payload.ID, chunked)
	if err := w.store.SaveResults(ctx, records); err != nil {
		return err
	}
	w.metrics.ItemsSaved.Add(int64(len(records)))

	if err := w.store.CompleteRequest(ctx, payload.ID); err != nil {
		return err
	}

	w.logger.Info("extraction request completed",
		"request_id", payload.ID, "results", len(records))
	return nil
}
