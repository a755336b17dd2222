// Package outbound defines the interfaces for outbound ports (secondary/driven adapters)
// These are the interfaces the application uses to talk to model providers and caches
package outbound

import (
	"context"
	"time"
)

// ChatStream is one in-flight streaming chat completion. Recv returns model
// output chunks in order and io.EOF once the provider is done. Close releases
// the underlying connection and is safe to call more than once.
type ChatStream interface {
	Recv(ctx context.Context) (string, error)
	Close() error
}

// ChunkProvider defines the interface for a streaming model provider
type ChunkProvider interface {
	// StreamChat opens a streaming chat completion with the given system and
	// user prompts.
	StreamChat(ctx context.Context, system, user string) (ChatStream, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// SnapshotCache defines the interface for caching finished generation results
// so a repeated request can be replayed without a provider call.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, key string) ([]byte, bool, error)
	SetSnapshot(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}
