package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Buffer         int
	MaxRetries     int
	RetryDelay     time.Duration
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Buffer:         1024,
		MaxRetries:     3,
		RetryDelay:     200 * time.Millisecond,
		PublishTimeout: 5 * time.Second,
	}
}

// Dispatcher hands activities to a Publisher on its own goroutine so a
// slow or unavailable sink never holds up the caller. When the queue is
// full, activities are dropped.
type Dispatcher struct {
	publisher Publisher
	config    Config
	queue     chan Activity
	dropped   atomic.Int64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(publisher Publisher, cfg Config) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Dispatcher{
		publisher: publisher,
		config:    cfg,
		queue:     make(chan Activity, cfg.Buffer),
		stopChan:  make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("activity dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	log.Info().
		Int("buffer", d.config.Buffer).
		Msg("activity dispatcher started")
	return nil
}

// Stop publishes whatever is still queued and waits for the worker to exit
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("activity dispatcher not running")
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()

	log.Info().Int64("dropped", d.dropped.Load()).Msg("activity dispatcher stopped")
	return nil
}

// Emit queues an activity without blocking. It reports false when the
// activity was dropped.
func (d *Dispatcher) Emit(activity Activity) bool {
	select {
	case d.queue <- activity:
		return true
	default:
		n := d.dropped.Add(1)
		log.Warn().
			Str("activity_id", activity.ID).
			Str("type", string(activity.Type)).
			Int64("dropped_total", n).
			Msg("activity queue full, dropping")
		return false
	}
}

// Dropped returns how many activities were discarded because the queue was full
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			d.drain(ctx)
			return
		case activity := <-d.queue:
			d.deliver(ctx, activity)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case activity := <-d.queue:
			d.deliver(ctx, activity)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, activity Activity) {
	if err := d.publishWithRetry(ctx, activity); err != nil {
		log.Error().
			Err(err).
			Str("activity_id", activity.ID).
			Str("type", string(activity.Type)).
			Msg("failed to publish activity")
	}
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, activity Activity) error {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.config.RetryDelay * time.Duration(attempt)):
			}
		}

		pubCtx, cancel := context.WithTimeout(ctx, d.config.PublishTimeout)
		err := d.publisher.Publish(pubCtx, activity)
		cancel()
		if err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("activity_id", activity.ID).
				Int("attempt", attempt+1).
				Msg("failed to publish activity, retrying")
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}
