package streaming

import (
	"context"
	"time"
)

// Event kind names as they appear on the wire.
const (
	EventStructuredData     = "structured_data"
	EventStructuredComplete = "structured_complete"
	EventError              = "error"
)

// RecordEvent announces one newly complete record.
type RecordEvent struct {
	Type      string                 `json:"type"`
	Field     string                 `json:"field"`
	Index     int                    `json:"index"`
	Data      map[string]interface{} `json:"data"`
	Timestamp string                 `json:"timestamp"`
}

// Stats carries aggregate counters for one finished stream.
type Stats struct {
	TotalChunksProcessed int `json:"totalChunksProcessed"`
	TotalItemsSent       int `json:"totalItemsSent"`
	ItemsProcessed       int `json:"itemsProcessed"`
}

// CompleteEvent closes a successful stream with the full final value.
type CompleteEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Stats     Stats       `json:"stats"`
	Timestamp string      `json:"timestamp"`
}

// ErrorEvent closes a failed stream. Exactly one is emitted per failure.
type ErrorEvent struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func newRecordEvent(r Record) RecordEvent {
	return RecordEvent{
		Type:      EventStructuredData,
		Field:     r.DataType,
		Index:     r.Index,
		Data:      r.Fields,
		Timestamp: eventTimestamp(),
	}
}

func newCompleteEvent(final interface{}, stats Stats) CompleteEvent {
	return CompleteEvent{
		Type:      EventStructuredComplete,
		Data:      final,
		Stats:     stats,
		Timestamp: eventTimestamp(),
	}
}

func newErrorEvent(message string) ErrorEvent {
	return ErrorEvent{
		Type:      EventError,
		Error:     message,
		Timestamp: eventTimestamp(),
	}
}

func eventTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Source is the incremental text-producing side of a generation call.
// Next returns io.EOF once the chunk stream is exhausted; Final is valid only
// after that and returns the complete parsed result or the upstream error.
type Source interface {
	Next(ctx context.Context) (string, error)
	Final(ctx context.Context) (interface{}, error)
}

// Sink accepts outbound events. Send returns an error once the client side is
// gone; the dispatcher treats that as a signal to stop, not as a failure.
type Sink interface {
	Send(event interface{}) error
}
