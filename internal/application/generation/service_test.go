package generation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/culinara/v2/internal/ports/outbound"
	apperrors "github.com/culinara/v2/pkg/errors"
)

// chunkedChat replays fixed chunks as a provider stream.
type chunkedChat struct {
	chunks []string
	pos    int
	closed bool
}

func (c *chunkedChat) Recv(ctx context.Context) (string, error) {
	if c.pos >= len(c.chunks) {
		return "", io.EOF
	}
	chunk := c.chunks[c.pos]
	c.pos++
	return chunk, nil
}

func (c *chunkedChat) Close() error {
	c.closed = true
	return nil
}

// MockProvider is a mock implementation of outbound.ChunkProvider
type MockProvider struct {
	mock.Mock
	name string
}

func (m *MockProvider) StreamChat(ctx context.Context, system, user string) (outbound.ChatStream, error) {
	args := m.Called(ctx, system, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(outbound.ChatStream), args.Error(1)
}

func (m *MockProvider) Name() string { return m.name }

// MockSnapshotCache is a mock implementation of outbound.SnapshotCache
type MockSnapshotCache struct {
	mock.Mock
}

func (m *MockSnapshotCache) GetSnapshot(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	var payload []byte
	if args.Get(0) != nil {
		payload = args.Get(0).([]byte)
	}
	return payload, args.Bool(1), args.Error(2)
}

func (m *MockSnapshotCache) SetSnapshot(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, payload, ttl)
	return args.Error(0)
}

func TestPromptForStep(t *testing.T) {
	for _, step := range []string{"troubleshoot", "draft", "refine"} {
		p, err := PromptForStep(step)
		require.NoError(t, err)
		assert.Equal(t, step, p.Step)
		assert.NotEmpty(t, p.System)
		assert.Contains(t, p.Render("burnt cake"), "burnt cake")
	}

	_, err := PromptForStep("garnish")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeStepNotFound))
}

func TestOpenStreamUnknownStep(t *testing.T) {
	svc := NewService(nil, nil, Options{}, zaptest.NewLogger(t))

	_, err := svc.OpenStream(context.Background(), "garnish", "anything")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeStepNotFound))
}

func TestOpenStreamFallsBackToSecondProvider(t *testing.T) {
	primary := &MockProvider{name: "ollama"}
	primary.On("StreamChat", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	fallback := &MockProvider{name: "openai"}
	fallback.On("StreamChat", mock.Anything, mock.Anything, mock.Anything).
		Return(&chunkedChat{chunks: []string{`{"data":{}}`}}, nil)

	svc := NewService(
		[]outbound.ChunkProvider{primary, fallback},
		nil,
		Options{MaxRetries: 4},
		zaptest.NewLogger(t),
	)

	stream, err := svc.OpenStream(context.Background(), "draft", "weeknight pasta")
	require.NoError(t, err)

	chunk, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"data":{}}`, chunk)

	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}

func TestOpenStreamExhaustsProviders(t *testing.T) {
	provider := &MockProvider{name: "ollama"}
	provider.On("StreamChat", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("model not loaded")).
		Times(3)

	svc := NewService(
		[]outbound.ChunkProvider{provider},
		nil,
		Options{MaxRetries: 3},
		zaptest.NewLogger(t),
	)

	_, err := svc.OpenStream(context.Background(), "troubleshoot", "soup too salty")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeProviderExhausted))
	provider.AssertExpectations(t)
}

func TestOpenStreamReplaysCachedResult(t *testing.T) {
	cache := &MockSnapshotCache{}
	cache.On("GetSnapshot", mock.Anything, mock.Anything).
		Return([]byte(`{"data":{"equipment":[{"id":"e1","name":"Pan"}]}}`), true, nil)

	provider := &MockProvider{name: "ollama"}

	svc := NewService(
		[]outbound.ChunkProvider{provider},
		cache,
		Options{CacheTTL: time.Hour},
		zaptest.NewLogger(t),
	)

	stream, err := svc.OpenStream(context.Background(), "draft", "weeknight pasta")
	require.NoError(t, err)

	var assembled string
	for {
		chunk, err := stream.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assembled += chunk
	}
	assert.Contains(t, assembled, "equipment")

	final, err := stream.Final(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, final)

	provider.AssertNotCalled(t, "StreamChat", mock.Anything, mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestStreamFinalStoresSnapshot(t *testing.T) {
	cache := &MockSnapshotCache{}
	cache.On("GetSnapshot", mock.Anything, mock.Anything).Return(nil, false, nil)
	cache.On("SetSnapshot", mock.Anything, mock.Anything, mock.Anything, time.Hour).Return(nil)

	provider := &MockProvider{name: "ollama"}
	provider.On("StreamChat", mock.Anything, mock.Anything, mock.Anything).
		Return(&chunkedChat{chunks: []string{"Here you go:\n", `{"data":{"equipment":[]}}`}}, nil)

	svc := NewService(
		[]outbound.ChunkProvider{provider},
		cache,
		Options{CacheTTL: time.Hour},
		zaptest.NewLogger(t),
	)

	stream, err := svc.OpenStream(context.Background(), "draft", "weeknight pasta")
	require.NoError(t, err)

	for {
		if _, err := stream.Next(context.Background()); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
	}

	final, err := stream.Final(context.Background())
	require.NoError(t, err)
	m := final.(map[string]interface{})
	assert.Contains(t, m, "data")

	cache.AssertCalled(t, "SetSnapshot", mock.Anything, mock.Anything,
		[]byte(`{"data":{"equipment":[]}}`), time.Hour)
}

func TestStreamFinalRejectsMalformedOutput(t *testing.T) {
	provider := &MockProvider{name: "ollama"}
	provider.On("StreamChat", mock.Anything, mock.Anything, mock.Anything).
		Return(&chunkedChat{chunks: []string{"Sorry, I cannot help with that."}}, nil)

	svc := NewService([]outbound.ChunkProvider{provider}, nil, Options{}, zaptest.NewLogger(t))

	stream, err := svc.OpenStream(context.Background(), "refine", "less salt")
	require.NoError(t, err)

	for {
		if _, err := stream.Next(context.Background()); err == io.EOF {
			break
		}
	}

	_, err = stream.Final(context.Background())
	require.Error(t, err)
}

func TestStreamFinalBeforeExhaustion(t *testing.T) {
	provider := &MockProvider{name: "ollama"}
	provider.On("StreamChat", mock.Anything, mock.Anything, mock.Anything).
		Return(&chunkedChat{chunks: []string{`{"data":{}}`}}, nil)

	svc := NewService([]outbound.ChunkProvider{provider}, nil, Options{}, zaptest.NewLogger(t))

	stream, err := svc.OpenStream(context.Background(), "draft", "stew")
	require.NoError(t, err)

	_, err = stream.Final(context.Background())
	require.Error(t, err)
}

func TestExtractDocument(t *testing.T) {
	payload, err := extractDocument("```json\n{\"a\":1}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(payload))

	_, err = extractDocument("no json at all")
	assert.Error(t, err)
}
