package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/frahmantamala/ssoflow/pkg/metrics"
)

type Worker struct {
	ID         int
	WorkerPool chan chan Message
	JobChannel chan Message
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Message, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Message),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Message)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			// register as idle
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("notify worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case msg := <-w.JobChannel:
				w.Logger.Debug("notify worker processing message", "worker_id", w.ID, "channel", msg.Channel, "ref", msg.Ref)
				processFunc(msg)
			case <-ctx.Done():
				w.Logger.Debug("notify worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Config struct {
	MaxWorkers   int
	JobQueueSize int
	MaxRetries   uint
	SendTimeout  time.Duration
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// Dispatcher queues messages and delivers them from a fixed pool of workers, retrying each send with
// exponential backoff. Enqueue never blocks a request.
type Dispatcher struct {
	senders map[string]Sender
	cfg     Config
	logger  *slog.Logger

	jobQueue   chan Message
	workerPool chan chan Message
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
	stopOnce   sync.Once
}

func NewDispatcher(cfg Config, senders map[string]Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 256
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		senders:    senders,
		cfg:        cfg,
		logger:     logger,
		jobQueue:   make(chan Message, cfg.JobQueueSize),
		workerPool: make(chan chan Message, cfg.MaxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (d *Dispatcher) Start() {
	d.once.Do(func() {
		for i := 0; i < d.cfg.MaxWorkers; i++ {
			worker := NewWorker(i, d.workerPool, d.logger)
			worker.Start(d.ctx, &d.wg, d.deliver)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("notification worker pool started",
			"max_workers", d.cfg.MaxWorkers,
			"queue_size", cap(d.jobQueue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.jobQueue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- msg:
				case <-d.ctx.Done():
					return
				}
			case <-d.ctx.Done():
				return
			}
		case <-d.ctx.Done():
			d.logger.Info("notification dispatcher shutting down", "dropped", len(d.jobQueue))
			return
		}
	}
}

// Enqueue hands msg to the pool. A full queue drops the message.
func (d *Dispatcher) Enqueue(msg Message) error {
	if _, ok := d.senders[msg.Channel]; !ok {
		metrics.NotificationsSent.WithLabelValues(msg.Channel, "unavailable").Inc()
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, msg.Channel)
	}
	select {
	case d.jobQueue <- msg:
		return nil
	default:
		metrics.NotificationsSent.WithLabelValues(msg.Channel, "dropped").Inc()
		d.logger.Warn("notification queue full, dropping message",
			"channel", msg.Channel,
			"ref", msg.Ref,
			"queue_capacity", cap(d.jobQueue))
		return ErrQueueFull
	}
}

// Send delivers synchronously with the same retry policy the workers use.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	sender, ok := d.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, msg.Channel)
	}
	return d.send(ctx, sender, msg)
}

func (d *Dispatcher) deliver(msg Message) {
	if err := d.Send(d.ctx, msg); err != nil {
		d.logger.Error("notification delivery failed",
			"channel", msg.Channel,
			"ref", msg.Ref,
			"error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, sender Sender, msg Message) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.InitialInterval
	exp.RandomizationFactor = 0.2
	exp.Multiplier = 2
	exp.Reset()

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		err := sender.Send(sendCtx, msg)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrChannelUnavailable) || errors.Is(err, ErrNoRecipients) {
			return struct{}{}, backoff.Permanent(err)
		}
		d.logger.Warn("notification send failed, retrying", "channel", msg.Channel, "ref", msg.Ref, "attempt", attempt, "error", err)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(exp), backoff.WithMaxTries(d.cfg.MaxRetries))
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(msg.Channel, "failed").Inc()
		return err
	}
	metrics.NotificationsSent.WithLabelValues(msg.Channel, "sent").Inc()
	d.logger.Debug("notification sent", "channel", msg.Channel, "ref", msg.Ref, "attempts", attempt)
	return nil
}

// Shutdown stops the workers. Messages still queued are dropped.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() {
		d.logger.Info("shutting down notification dispatcher")
		d.cancel()
		d.wg.Wait()
		d.logger.Info("notification dispatcher shutdown complete")
	})
}
