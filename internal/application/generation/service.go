// Package generation provides the application layer for streamed recipe generation
package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/culinara/v2/internal/ports/outbound"
	"github.com/culinara/v2/pkg/errors"
)

// Options tunes the generation service.
type Options struct {
	// MaxRetries is how many times opening a stream is attempted across the
	// provider chain before giving up.
	MaxRetries int

	// CacheTTL bounds how long a finished result is replayable from cache.
	// Zero disables caching.
	CacheTTL time.Duration
}

// Service opens generation streams against a chain of model providers, with
// fallback between providers and replay of cached results.
type Service struct {
	providers []outbound.ChunkProvider
	cache     outbound.SnapshotCache
	opts      Options
	logger    *zap.Logger
}

// NewService creates a generation service. Providers are tried in order; cache
// may be nil when replay is disabled.
func NewService(providers []outbound.ChunkProvider, cache outbound.SnapshotCache, opts Options, logger *zap.Logger) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	namedLogger := logger.Named("generation-service")
	namedLogger.Info("generation service initialized",
		zap.Strings("providers", names),
		zap.Int("max_retries", opts.MaxRetries),
		zap.Duration("cache_ttl", opts.CacheTTL))

	return &Service{
		providers: providers,
		cache:     cache,
		opts:      opts,
		logger:    namedLogger,
	}
}

// OpenStream resolves the step prompt and opens a chunk stream for the input.
// A cached result for the same step and input is replayed without a provider
// call. The returned stream yields raw model text via Next and the strictly
// parsed result via Final.
func (s *Service) OpenStream(ctx context.Context, step, input string) (*Stream, error) {
	prompt, err := PromptForStep(step)
	if err != nil {
		return nil, err
	}

	key := snapshotKey(step, input)
	if s.cache != nil && s.opts.CacheTTL > 0 {
		payload, hit, err := s.cache.GetSnapshot(ctx, key)
		if err != nil {
			s.logger.Warn("snapshot cache lookup failed", zap.Error(err))
		} else if hit {
			s.logger.Info("replaying cached generation",
				zap.String("step", step),
				zap.String("key", key))
			return newReplayStream(payload), nil
		}
	}

	upstream, provider, err := s.openWithFallback(ctx, prompt, input)
	if err != nil {
		return nil, err
	}

	return &Stream{
		upstream: upstream,
		onFinal: func(ctx context.Context, payload []byte) {
			s.storeSnapshot(ctx, key, payload)
		},
		logger: s.logger.With(zap.String("provider", provider), zap.String("step", step)),
	}, nil
}

// openWithFallback walks the provider chain, retrying until MaxRetries opens
// have been attempted in total.
func (s *Service) openWithFallback(ctx context.Context, prompt StepPrompt, input string) (outbound.ChatStream, string, error) {
	attempts := 0
	var lastErr error

	for attempts < s.opts.MaxRetries {
		for _, provider := range s.providers {
			if attempts >= s.opts.MaxRetries {
				break
			}
			attempts++

			stream, err := provider.StreamChat(ctx, prompt.System, prompt.Render(input))
			if err == nil {
				if attempts > 1 {
					s.logger.Info("provider succeeded after fallback",
						zap.String("provider", provider.Name()),
						zap.Int("attempt", attempts))
				}
				return stream, provider.Name(), nil
			}

			lastErr = err
			s.logger.Warn("provider failed to open stream",
				zap.String("provider", provider.Name()),
				zap.Int("attempt", attempts),
				zap.Error(err))

			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
		}
	}

	return nil, "", errors.NewProviderExhaustedError(attempts).WithCause(lastErr)
}

func (s *Service) storeSnapshot(ctx context.Context, key string, payload []byte) {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return
	}
	if err := s.cache.SetSnapshot(ctx, key, payload, s.opts.CacheTTL); err != nil {
		s.logger.Warn("snapshot cache store failed", zap.Error(err))
	}
}

func snapshotKey(step, input string) string {
	sum := sha256.Sum256([]byte(step + "\x00" + strings.TrimSpace(input)))
	return "generation:snapshot:" + hex.EncodeToString(sum[:])
}

// Stream adapts one provider chat stream to the pipeline source contract:
// Next returns raw text chunks and io.EOF at the end; Final strictly parses
// the assembled output.
type Stream struct {
	upstream outbound.ChatStream
	onFinal  func(ctx context.Context, payload []byte)
	logger   *zap.Logger

	assembled strings.Builder
	done      bool
}

// Next returns the next raw chunk from the provider.
func (g *Stream) Next(ctx context.Context) (string, error) {
	chunk, err := g.upstream.Recv(ctx)
	if err == io.EOF {
		g.done = true
		return "", io.EOF
	}
	if err != nil {
		g.done = true
		return "", err
	}
	g.assembled.WriteString(chunk)
	return chunk, nil
}

// Final parses the complete assembled output. Unlike the incremental parse
// passes, a malformed final payload is a hard failure.
func (g *Stream) Final(ctx context.Context) (interface{}, error) {
	if !g.done {
		return nil, fmt.Errorf("final result requested before stream exhaustion")
	}

	payload, err := extractDocument(g.assembled.String())
	if err != nil {
		return nil, err
	}

	var result interface{}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("final payload is not valid JSON: %w", err)
	}

	if g.onFinal != nil {
		g.onFinal(ctx, payload)
	}
	g.logger.Debug("final payload parsed", zap.Int("bytes", len(payload)))
	return result, nil
}

// Close releases the provider connection.
func (g *Stream) Close() error {
	return g.upstream.Close()
}

// extractDocument cuts the JSON object out of the model output, tolerating
// prose or markdown fences around it.
func extractDocument(text string) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in model output")
	}
	return []byte(text[start : end+1]), nil
}

// newReplayStream wraps a cached final payload as a one-chunk stream.
func newReplayStream(payload []byte) *Stream {
	return &Stream{
		upstream: &replayChat{payload: string(payload)},
		logger:   zap.NewNop(),
	}
}

type replayChat struct {
	payload string
	sent    bool
}

func (r *replayChat) Recv(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.sent {
		return "", io.EOF
	}
	r.sent = true
	return r.payload, nil
}

func (r *replayChat) Close() error { return nil }
