package streaming

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/culinara/v2/pkg/errors"
	"github.com/culinara/v2/pkg/partialjson"
)

// DefaultParseInterval is how many chunks accumulate between parse attempts
// when the configuration does not say otherwise.
const DefaultParseInterval = 50

// Config tunes one dispatcher. The zero value is usable.
type Config struct {
	// ParseInterval is the number of chunks between best-effort parse passes.
	ParseInterval int

	// Timeout bounds the whole stream, accumulation and final result included.
	// Zero means the caller's context is the only bound.
	Timeout time.Duration
}

// Observer receives pipeline counters. Implementations must be safe for
// concurrent use; the monitoring package provides the Prometheus-backed one.
type Observer interface {
	ChunkProcessed()
	RecordEmitted(dataType string)
	DuplicateDropped()
	StreamFinished(outcome string, duration time.Duration)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) ChunkProcessed()                      {}
func (NopObserver) RecordEmitted(string)                 {}
func (NopObserver) DuplicateDropped()                    {}
func (NopObserver) StreamFinished(string, time.Duration) {}

// Dispatcher drives one generation stream end to end: it accumulates chunks,
// periodically parses the buffer, asks the engine for newly complete records,
// and emits events to the sink. A Dispatcher is shared across requests; all
// per-request state lives on the stack of Run.
type Dispatcher struct {
	engine   *Engine
	config   Config
	observer Observer
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over the given engine.
func NewDispatcher(engine *Engine, config Config, observer Observer, logger *zap.Logger) *Dispatcher {
	if config.ParseInterval <= 0 {
		config.ParseInterval = DefaultParseInterval
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Dispatcher{
		engine:   engine,
		config:   config,
		observer: observer,
		logger:   logger.Named("stream-dispatcher"),
	}
}

// Run consumes the source until exhaustion or failure and emits events to the
// sink. Exactly one terminal event is sent: structured_complete on success, or
// a single error event on timeout or upstream failure. A sink write failure
// means the client went away; Run stops quietly and returns nil in that case.
func (d *Dispatcher) Run(ctx context.Context, src Source, sink Sink) error {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	ledger := NewLedger()
	var buffer strings.Builder
	chunks := 0
	sent := 0

	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return d.fail(sink, started, err, chunks)
		}

		buffer.WriteString(chunk)
		chunks++
		d.observer.ChunkProcessed()

		if chunks%d.config.ParseInterval != 0 {
			continue
		}

		snapshot, err := partialjson.Parse(buffer.String())
		if err != nil {
			// The buffer has no usable document yet. Normal mid-stream.
			continue
		}

		n, ok := d.emit(sink, snapshot, ledger)
		sent += n
		if !ok {
			d.logger.Debug("client disconnected mid-stream",
				zap.Int("chunks", chunks),
				zap.Int("records_sent", sent))
			d.observer.StreamFinished("disconnected", time.Since(started))
			return nil
		}
	}

	final, err := src.Final(ctx)
	if err != nil {
		return d.fail(sink, started, err, chunks)
	}

	// Final flush: anything that never crossed a parse boundary, or only
	// became complete in the last chunks, goes out now.
	n, ok := d.emit(sink, final, ledger)
	sent += n
	if !ok {
		d.observer.StreamFinished("disconnected", time.Since(started))
		return nil
	}

	complete := newCompleteEvent(final, Stats{
		TotalChunksProcessed: chunks,
		TotalItemsSent:       sent,
		ItemsProcessed:       ledger.EmittedCount(),
	})
	if err := sink.Send(complete); err != nil {
		d.observer.StreamFinished("disconnected", time.Since(started))
		return nil
	}

	d.logger.Info("stream complete",
		zap.Int("chunks", chunks),
		zap.Int("records_sent", sent),
		zap.Int("duplicates_dropped", ledger.DuplicateCount()),
		zap.Duration("duration", time.Since(started)))
	d.observer.StreamFinished("complete", time.Since(started))
	return nil
}

// emit collects newly complete records from the snapshot and sends one event
// per record. It reports the number sent and false once the sink is gone.
func (d *Dispatcher) emit(sink Sink, snapshot interface{}, ledger *Ledger) (int, bool) {
	before := ledger.DuplicateCount()
	records := d.engine.Collect(snapshot, ledger)
	for i := before; i < ledger.DuplicateCount(); i++ {
		d.observer.DuplicateDropped()
	}

	sent := 0
	for _, r := range records {
		if err := sink.Send(newRecordEvent(r)); err != nil {
			return sent, false
		}
		d.observer.RecordEmitted(r.DataType)
		sent++
	}
	return sent, true
}

// fail classifies the error, sends the single terminal error event, and
// returns the classified error to the caller for logging and metrics.
func (d *Dispatcher) fail(sink Sink, started time.Time, cause error, chunks int) error {
	var classified *apperrors.AppError
	outcome := "upstream_failed"
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		classified = apperrors.NewStreamTimeoutError(cause)
		outcome = "timeout"
	case errors.Is(cause, context.Canceled):
		// The client canceled; nobody is listening for an error event.
		d.observer.StreamFinished("canceled", time.Since(started))
		return nil
	default:
		classified = apperrors.NewUpstreamFailedError(cause)
	}

	d.logger.Error("stream failed",
		zap.String("outcome", outcome),
		zap.Int("chunks", chunks),
		zap.Error(cause))
	d.observer.StreamFinished(outcome, time.Since(started))

	if err := sink.Send(newErrorEvent(classified.Message)); err != nil {
		d.logger.Debug("error event undeliverable, client gone", zap.Error(err))
	}
	return classified
}
