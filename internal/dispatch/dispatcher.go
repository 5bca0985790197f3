// Package dispatch validates submitted calls and runs them to completion,
// delivering results onto the caller's push channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/geomcp/internal/channel"
	"github.com/basket/geomcp/internal/functions"
	"github.com/basket/geomcp/internal/otel"
	"github.com/basket/geomcp/internal/shared"
)

// ErrFunctionNotFound reports a call naming an unregistered function.
var ErrFunctionNotFound = errors.New("function not found")

// Request is one submitted call. An empty ClientID means the caller wants
// the result synchronously instead of on a push channel.
type Request struct {
	Function string
	Params   map[string]any
	ClientID string
}

// Ack is the immediate response to an accepted asynchronous call.
type Ack struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
	CallID string `json:"call_id"`
}

// Dispatcher validates calls synchronously, then executes them in detached
// goroutines bounded by a per-call timeout. In-flight calls are tracked so
// shutdown can drain them.
type Dispatcher struct {
	functions *functions.Registry
	channels  *channel.Registry
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *otel.Metrics
	tracer    trace.Tracer

	wg sync.WaitGroup
}

func New(fr *functions.Registry, cr *channel.Registry, timeout time.Duration, logger *slog.Logger, metrics *otel.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		functions: fr,
		channels:  cr,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// SetTracer enables span emission around call execution. Without it, calls
// run untraced.
func (d *Dispatcher) SetTracer(tracer trace.Tracer) {
	d.tracer = tracer
}

// Submit validates the request and launches execution in the background.
// Validation failures surface immediately: channel.ErrNotFound for an
// unknown client id, ErrFunctionNotFound for an unknown function, and
// *functions.ValidationError for rejected parameters. Once the ack is
// returned, the outcome travels only on the client's channel.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Ack, error) {
	if _, ok := d.channels.Lookup(req.ClientID); !ok {
		return Ack{}, fmt.Errorf("client %q: %w", req.ClientID, channel.ErrNotFound)
	}
	d.channels.Touch(req.ClientID)
	desc, ok := d.functions.Lookup(req.Function)
	if !ok {
		return Ack{}, fmt.Errorf("%q: %w", req.Function, ErrFunctionNotFound)
	}
	if err := desc.ValidateParams(req.Params); err != nil {
		return Ack{}, err
	}

	callID := uuid.NewString()
	// Execution must survive the submission request ending.
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go d.execute(detached, desc, req, callID)

	return Ack{
		Status: "accepted",
		Detail: "result will be delivered on the push channel",
		CallID: callID,
	}, nil
}

// Call validates and executes synchronously, for submissions without a
// client id and for scheduled runs. The same timeout and panic recovery
// apply; handler faults come back as errors.
func (d *Dispatcher) Call(ctx context.Context, function string, params map[string]any) (any, error) {
	desc, ok := d.functions.Lookup(function)
	if !ok {
		return nil, fmt.Errorf("%q: %w", function, ErrFunctionNotFound)
	}
	if err := desc.ValidateParams(params); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.run(ctx, desc, params)
}

// Wait blocks until all in-flight calls finish or the bound elapses.
// Returns false when calls were still running at the deadline.
func (d *Dispatcher) Wait(bound time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(bound):
		return false
	}
}

func (d *Dispatcher) execute(parent context.Context, desc *functions.Descriptor, req Request, callID string) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()
	ctx = shared.WithCallID(ctx, callID)
	ctx = shared.WithClientID(ctx, req.ClientID)

	if d.tracer != nil {
		var span trace.Span
		ctx, span = otel.StartSpan(ctx, d.tracer, "dispatch.execute",
			otel.AttrCallID.String(callID),
			otel.AttrClientID.String(req.ClientID),
			otel.AttrFunction.String(desc.Name),
		)
		defer span.End()
	}

	start := time.Now()
	result, err := d.run(ctx, desc, req.Params)
	elapsed := time.Since(start)

	if d.metrics != nil {
		d.metrics.DispatchDuration.Record(parent, elapsed.Seconds())
	}

	data := map[string]any{
		"call_id":  callID,
		"function": desc.Name,
	}
	if err != nil {
		data["status"] = "error"
		data["error"] = err.Error()
		if d.metrics != nil {
			d.metrics.HandlerErrors.Add(parent, 1)
		}
		d.logger.Error("call failed",
			"call_id", callID, "function", desc.Name, "client_id", req.ClientID,
			"duration_ms", elapsed.Milliseconds(), "error", err)
	} else {
		data["status"] = "success"
		data["result"] = result
		d.logger.Info("call completed",
			"call_id", callID, "function", desc.Name, "client_id", req.ClientID,
			"duration_ms", elapsed.Milliseconds())
	}

	msg := channel.Message{ID: callID, Event: channel.EventResult, Data: data}
	switch enqErr := d.channels.Enqueue(req.ClientID, msg); {
	case enqErr == nil:
	case errors.Is(enqErr, channel.ErrNotFound), errors.Is(enqErr, channel.ErrQueueSaturated):
		// Client went away or stopped draining; the result is dropped.
		if d.metrics != nil {
			d.metrics.DroppedDeliveries.Add(parent, 1)
		}
		d.logger.Warn("result dropped",
			"call_id", callID, "client_id", req.ClientID, "reason", enqErr.Error())
	default:
		d.logger.Error("result delivery failed",
			"call_id", callID, "client_id", req.ClientID, "error", enqErr)
	}
}

type outcome struct {
	result any
	err    error
}

// run executes the handler with panic recovery, bounded by ctx. A handler
// that outlives the deadline is abandoned; its goroutine exits when it
// eventually returns.
func (d *Dispatcher) run(ctx context.Context, desc *functions.Descriptor, params map[string]any) (any, error) {
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := desc.Handler(ctx, params)
		out <- outcome{result: result, err: err}
	}()

	select {
	case o := <-out:
		return o.result, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s did not complete within %s", desc.Name, d.timeout)
	}
}
