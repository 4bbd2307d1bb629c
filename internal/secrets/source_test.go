// ABOUTME: Tests for service-key resolution against a fake Secrets Manager
// ABOUTME: Covers JSON field precedence, plain payloads, caching, and failures

package secrets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	mu      sync.Mutex
	payload string
	err     error
	calls   int
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.payload)}, nil
}

func (f *fakeSecrets) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gatedSecrets parks every fetch on a gate so tests can hold one in flight.
type gatedSecrets struct {
	inner   *fakeSecrets
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.GetSecretValue(ctx, in, opts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSource(f *fakeSecrets) *Source {
	return New(f, "/prod/key-scanner/env", "KEY_SCANNER_API_KEY", discardLogger())
}

func TestServiceKey_ConfiguredField(t *testing.T) {
	src := newSource(&fakeSecrets{payload: `{"KEY_SCANNER_API_KEY":"svc-key-1","api_key":"other"}`})
	key, err := src.ServiceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc-key-1", key)
}

func TestServiceKey_FallbackField(t *testing.T) {
	src := newSource(&fakeSecrets{payload: `{"api_key":"svc-key-2"}`})
	key, err := src.ServiceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc-key-2", key)
}

func TestServiceKey_PlainPayload(t *testing.T) {
	src := newSource(&fakeSecrets{payload: "raw-service-key"})
	key, err := src.ServiceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "raw-service-key", key)
}

func TestServiceKey_JSONWithoutKnownField(t *testing.T) {
	src := newSource(&fakeSecrets{payload: `{"something_else":"x"}`})
	_, err := src.ServiceKey(context.Background())
	assert.Error(t, err)
}

func TestServiceKey_EmptyPayload(t *testing.T) {
	src := newSource(&fakeSecrets{payload: ""})
	_, err := src.ServiceKey(context.Background())
	assert.Error(t, err)
}

func TestServiceKey_Cached(t *testing.T) {
	f := &fakeSecrets{payload: "raw-service-key"}
	src := newSource(f)

	_, err := src.ServiceKey(context.Background())
	require.NoError(t, err)
	_, err = src.ServiceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.callCount())
}

func TestServiceKey_ConcurrentCallersFetchOnce(t *testing.T) {
	f := &fakeSecrets{payload: "raw-service-key"}
	gated := &gatedSecrets{
		inner:   f,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	src := New(gated, "/prod/key-scanner/env", "KEY_SCANNER_API_KEY", discardLogger())

	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			key, err := src.ServiceKey(context.Background())
			assert.NoError(t, err)
			results <- key
		}()
	}
	<-gated.entered
	close(gated.release)

	assert.Equal(t, "raw-service-key", <-results)
	assert.Equal(t, "raw-service-key", <-results)
	assert.Equal(t, 1, f.callCount())
}

func TestServiceKey_FetchErrorNotCached(t *testing.T) {
	f := &fakeSecrets{err: errors.New("access denied")}
	src := newSource(f)

	_, err := src.ServiceKey(context.Background())
	assert.Error(t, err)

	// Recovery after a transient failure.
	f.err = nil
	f.payload = "raw-service-key"
	key, err := src.ServiceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "raw-service-key", key)
}
