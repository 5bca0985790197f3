// Package heartbeat drives the periodic liveness frames on open push
// channels and reaps channels whose clients have stopped draining.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/geomcp/internal/channel"
	"github.com/basket/geomcp/internal/otel"
)

// Emitter ticks on a fixed interval and enqueues a heartbeat event to every
// open channel. A channel whose queue is saturated at tick time is closed:
// a client that cannot absorb a heartbeat is not draining its stream.
type Emitter struct {
	registry *channel.Registry
	interval time.Duration
	logger   *slog.Logger
	metrics  *otel.Metrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(registry *channel.Registry, interval time.Duration, logger *slog.Logger) *Emitter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// SetMetrics enables heartbeat counting. Optional.
func (e *Emitter) SetMetrics(m *otel.Metrics) {
	e.metrics = m
}

// Start launches the tick loop. Starting a running emitter is an error.
func (e *Emitter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("heartbeat emitter already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.loop(e.stopCh, e.doneCh)
	e.logger.Info("heartbeat emitter started", "interval", e.interval.String())
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (e *Emitter) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	done := e.doneCh
	e.mu.Unlock()

	<-done
	e.logger.Info("heartbeat emitter stopped")
}

func (e *Emitter) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

func (e *Emitter) tick(now time.Time) {
	msg := channel.Message{
		Event: channel.EventHeartbeat,
		Data:  map[string]any{"timestamp": now.UTC().Format(time.RFC3339)},
	}
	for _, id := range e.registry.OpenIDs() {
		err := e.registry.Enqueue(id, msg)
		switch {
		case err == nil:
			if e.metrics != nil {
				e.metrics.HeartbeatsSent.Add(context.Background(), 1)
			}
		case errors.Is(err, channel.ErrNotFound):
			// Closed between snapshot and enqueue; nothing to do.
		case errors.Is(err, channel.ErrQueueSaturated):
			e.logger.Warn("closing unresponsive channel", "client_id", id)
			e.registry.Close(id)
		default:
			e.logger.Error("heartbeat enqueue failed", "client_id", id, "error", err)
		}
	}
}
