package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/culinara/v2/pkg/errors"
)

// scriptSource replays a fixed chunk script and then either ends cleanly or
// fails, standing in for a live model stream.
type scriptSource struct {
	chunks   []string
	pos      int
	nextErr  error
	final    interface{}
	finalErr error
}

func (s *scriptSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.nextErr != nil {
		return "", s.nextErr
	}
	return "", io.EOF
}

func (s *scriptSource) Final(ctx context.Context) (interface{}, error) {
	return s.final, s.finalErr
}

// blockingSource never produces a chunk; it only honors cancellation.
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingSource) Final(ctx context.Context) (interface{}, error) {
	return nil, errors.New("final called on blocking source")
}

// captureSink records everything sent. failAfter >= 0 makes Send fail once
// that many events have been accepted, simulating a departed client.
type captureSink struct {
	events    []interface{}
	failAfter int
}

func newCaptureSink() *captureSink {
	return &captureSink{failAfter: -1}
}

func (s *captureSink) Send(event interface{}) error {
	if s.failAfter >= 0 && len(s.events) >= s.failAfter {
		return errors.New("write on closed stream")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) recordEvents() []RecordEvent {
	var out []RecordEvent
	for _, e := range s.events {
		if r, ok := e.(RecordEvent); ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *captureSink) completeEvents() []CompleteEvent {
	var out []CompleteEvent
	for _, e := range s.events {
		if c, ok := e.(CompleteEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *captureSink) errorEvents() []ErrorEvent {
	var out []ErrorEvent
	for _, e := range s.events {
		if c, ok := e.(ErrorEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	engine := NewEngine(DefaultRegistry(), zaptest.NewLogger(t))
	return NewDispatcher(engine, cfg, nil, zaptest.NewLogger(t))
}

const causesDoc = `{"data":{"potential_causes":[` +
	`{"id":"c1","name":"Oven too hot","suggestion":"Lower it","explanation":"Browning too fast."},` +
	`{"id":"c2","name":"Thin pan","suggestion":"Heavier pan","explanation":"Uneven heat."},` +
	`{"id":"c3","name":"Rack too high","suggestion":"Middle rack","explanation":"Top heat dominates."}` +
	`]}}`

func finalOf(t *testing.T, doc string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return v
}

// splitAt carves a document at the given byte offsets so each test controls
// exactly where element boundaries fall relative to chunk boundaries.
func splitAt(doc string, offsets ...int) []string {
	var chunks []string
	prev := 0
	for _, off := range offsets {
		chunks = append(chunks, doc[prev:off])
		prev = off
	}
	return append(chunks, doc[prev:])
}

func TestRunEmitsRecordsAsElementsComplete(t *testing.T) {
	// First chunk carries all of cause 1 and part of cause 2; the rest
	// arrives in the second chunk. With a parse pass on every chunk, cause 1
	// must go out before the stream ends and cause 2 on the next pass.
	cut := len(`{"data":{"potential_causes":[` +
		`{"id":"c1","name":"Oven too hot","suggestion":"Lower it","explanation":"Browning too fast."},` +
		`{"id":"c2","name":"Thin pan","sugge`)
	src := &scriptSource{
		chunks: splitAt(causesDoc, cut),
		final:  finalOf(t, causesDoc),
	}
	sink := newCaptureSink()

	d := newTestDispatcher(t, Config{ParseInterval: 1})
	require.NoError(t, d.Run(context.Background(), src, sink))

	records := sink.recordEvents()
	require.Len(t, records, 3)
	assert.Equal(t, "causes", records[0].Field)
	assert.Equal(t, 0, records[0].Index)
	assert.Equal(t, 1, records[1].Index)
	assert.Equal(t, 2, records[2].Index)

	completes := sink.completeEvents()
	require.Len(t, completes, 1)
	assert.Equal(t, EventStructuredComplete, completes[0].Type)
	assert.IsType(t, CompleteEvent{}, sink.events[len(sink.events)-1], "complete event is last")
	assert.Empty(t, sink.errorEvents())

	stats := completes[0].Stats
	assert.Equal(t, 2, stats.TotalChunksProcessed)
	assert.Equal(t, 3, stats.TotalItemsSent)
	assert.Equal(t, 3, stats.ItemsProcessed)
}

func TestRunFinalFlushCoversUnparsedTail(t *testing.T) {
	// With the default interval the short stream never hits a parse pass,
	// so everything must come out of the final flush, before the complete
	// event.
	src := &scriptSource{
		chunks: splitAt(causesDoc, 40, 90),
		final:  finalOf(t, causesDoc),
	}
	sink := newCaptureSink()

	d := newTestDispatcher(t, Config{})
	require.NoError(t, d.Run(context.Background(), src, sink))

	records := sink.recordEvents()
	require.Len(t, records, 3)
	require.Len(t, sink.completeEvents(), 1)
	assert.IsType(t, CompleteEvent{}, sink.events[len(sink.events)-1])

	stats := sink.completeEvents()[0].Stats
	assert.Equal(t, 3, stats.TotalChunksProcessed)
	assert.Equal(t, 3, stats.ItemsProcessed)
}

func TestRunUpstreamFailureSendsSingleErrorEvent(t *testing.T) {
	src := &scriptSource{
		chunks:  splitAt(causesDoc[:60], 5, 10, 15, 20, 25, 30, 35, 40, 45),
		nextErr: errors.New("provider connection reset"),
	}
	require.Len(t, src.chunks, 10)
	sink := newCaptureSink()

	d := newTestDispatcher(t, Config{})
	err := d.Run(context.Background(), src, sink)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeUpstreamFailed))

	require.Len(t, sink.errorEvents(), 1)
	assert.Equal(t, EventError, sink.errorEvents()[0].Type)
	assert.Empty(t, sink.completeEvents(), "no complete event after a failure")
}

func TestRunFinalResultFailureSendsSingleErrorEvent(t *testing.T) {
	src := &scriptSource{
		chunks:   splitAt(causesDoc, 40),
		finalErr: errors.New("model returned malformed payload"),
	}
	sink := newCaptureSink()

	d := newTestDispatcher(t, Config{})
	err := d.Run(context.Background(), src, sink)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeUpstreamFailed))
	require.Len(t, sink.errorEvents(), 1)
	assert.Empty(t, sink.completeEvents())
}

func TestRunTimeout(t *testing.T) {
	sink := newCaptureSink()
	d := newTestDispatcher(t, Config{Timeout: 20 * time.Millisecond})

	err := d.Run(context.Background(), blockingSource{}, sink)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeStreamTimeout))
	require.Len(t, sink.errorEvents(), 1)
	assert.Empty(t, sink.completeEvents())
}

func TestRunClientCancelIsQuiet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := newCaptureSink()

	d := newTestDispatcher(t, Config{})
	err := d.Run(ctx, blockingSource{}, sink)

	assert.NoError(t, err, "a canceled client is not a pipeline failure")
	assert.Empty(t, sink.events)
}

func TestRunStopsWhenSinkIsGone(t *testing.T) {
	src := &scriptSource{
		chunks: splitAt(causesDoc, 100),
		final:  finalOf(t, causesDoc),
	}
	sink := newCaptureSink()
	sink.failAfter = 1

	d := newTestDispatcher(t, Config{ParseInterval: 1})
	err := d.Run(context.Background(), src, sink)

	assert.NoError(t, err, "a departed client is not a pipeline failure")
	assert.Len(t, sink.events, 1)
	assert.Empty(t, sink.completeEvents())
}

func TestRunEventTimestampsAreISO8601(t *testing.T) {
	src := &scriptSource{
		chunks: []string{causesDoc},
		final:  finalOf(t, causesDoc),
	}
	sink := newCaptureSink()

	d := newTestDispatcher(t, Config{ParseInterval: 1})
	require.NoError(t, d.Run(context.Background(), src, sink))

	for _, e := range sink.events {
		var stamp string
		switch ev := e.(type) {
		case RecordEvent:
			stamp = ev.Timestamp
		case CompleteEvent:
			stamp = ev.Timestamp
		case ErrorEvent:
			stamp = ev.Timestamp
		}
		_, err := time.Parse(time.RFC3339, stamp)
		assert.NoError(t, err, "timestamp %q", stamp)
	}
}
