// ABOUTME: Tests for the certificate store against a fake S3 fetcher
// ABOUTME: Covers key layout, pinned configs, fallback, caching, and invalidation

package certstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyme/panel-gateway/internal/device"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	calls   int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}

func (f *fakeS3) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeS3) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeS3) setObject(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = body
}

// gatedS3 parks fetches for one device on a gate so tests can hold a fetch
// in flight while probing the store from other goroutines.
type gatedS3 struct {
	inner   *fakeS3
	gateKey string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if strings.Contains(*in.Key, g.gateKey) {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.inner.GetObject(ctx, in, opts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// selfSignedPEM generates a throwaway certificate for the given host.
func selfSignedPEM(t *testing.T, host string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestKey(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	assert.Equal(t, "wss_certs/ABC123/abc123.keymekiosk.com.crt", Key(id))
}

func TestTLSConfig_Pinned(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{
		Key(id): selfSignedPEM(t, id.FQDN),
	}}
	store := New(s3c, "keyme-calibration", discardLogger())

	cfg, pinned := store.TLSConfig(context.Background(), id)
	assert.True(t, pinned)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, id.FQDN, cfg.ServerName)
}

func TestTLSConfig_CachedAcrossCalls(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{
		Key(id): selfSignedPEM(t, id.FQDN),
	}}
	store := New(s3c, "keyme-calibration", discardLogger())

	store.TLSConfig(context.Background(), id)
	store.TLSConfig(context.Background(), id)
	assert.Equal(t, 1, s3c.callCount())
}

func TestTLSConfig_FetchFailureFallsBack(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{err: errors.New("throttled")}
	store := New(s3c, "keyme-calibration", discardLogger())

	cfg, pinned := store.TLSConfig(context.Background(), id)
	assert.False(t, pinned)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestTLSConfig_BadPEMFallsBack(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{
		Key(id): []byte("not a certificate"),
	}}
	store := New(s3c, "keyme-calibration", discardLogger())

	_, pinned := store.TLSConfig(context.Background(), id)
	assert.False(t, pinned)
}

func TestInvalidate_Refetches(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{err: errors.New("throttled")}
	store := New(s3c, "keyme-calibration", discardLogger())

	_, pinned := store.TLSConfig(context.Background(), id)
	assert.False(t, pinned)

	// Certificate appears after rotation; invalidation picks it up.
	s3c.err = nil
	s3c.objects = map[string][]byte{Key(id): selfSignedPEM(t, id.FQDN)}
	store.Invalidate(id)

	_, pinned = store.TLSConfig(context.Background(), id)
	assert.True(t, pinned)
	assert.Equal(t, 2, s3c.callCount())
}

func TestRefresh_SuccessRepins(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{err: errors.New("throttled")}
	store := New(s3c, "keyme-calibration", discardLogger())

	_, pinned := store.TLSConfig(context.Background(), id)
	require.False(t, pinned)

	s3c.err = nil
	s3c.objects = map[string][]byte{Key(id): selfSignedPEM(t, id.FQDN)}
	require.NoError(t, store.Refresh(context.Background(), id))

	// Refresh already populated the cache; no extra fetch here.
	calls := s3c.callCount()
	_, pinned = store.TLSConfig(context.Background(), id)
	assert.True(t, pinned)
	assert.Equal(t, calls, s3c.callCount())
}

func TestRefresh_FailureReportsAndClears(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{Key(id): selfSignedPEM(t, id.FQDN)}}
	store := New(s3c, "keyme-calibration", discardLogger())

	_, pinned := store.TLSConfig(context.Background(), id)
	require.True(t, pinned)

	s3c.err = errors.New("throttled")
	assert.Error(t, store.Refresh(context.Background(), id))
}

func TestTLSConfig_CacheHitDoesNotWaitOnOtherFetch(t *testing.T) {
	idA, err := device.Resolve("aaa")
	require.NoError(t, err)
	idB, err := device.Resolve("bbb")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{
		Key(idA): selfSignedPEM(t, idA.FQDN),
		Key(idB): selfSignedPEM(t, idB.FQDN),
	}}
	gated := &gatedS3{
		inner:   s3c,
		gateKey: idB.FQDN,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := New(gated, "keyme-calibration", discardLogger())

	_, pinned := store.TLSConfig(context.Background(), idA)
	require.True(t, pinned)

	fetchDone := make(chan struct{})
	go func() {
		defer close(fetchDone)
		store.TLSConfig(context.Background(), idB)
	}()
	<-gated.entered

	// With B's fetch parked inside S3, A's cached config must come back
	// without waiting on it.
	hit := make(chan struct{})
	go func() {
		defer close(hit)
		_, pinnedA := store.TLSConfig(context.Background(), idA)
		assert.True(t, pinnedA)
	}()
	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatal("cache hit blocked behind another device's fetch")
	}

	close(gated.release)
	<-fetchDone
}

func TestTLSConfig_ConcurrentSameDeviceFetchesOnce(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{
		Key(id): selfSignedPEM(t, id.FQDN),
	}}
	gated := &gatedS3{
		inner:   s3c,
		gateKey: id.FQDN,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := New(gated, "keyme-calibration", discardLogger())

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, pinned := store.TLSConfig(context.Background(), id)
			results <- pinned
		}()
	}
	<-gated.entered
	close(gated.release)

	assert.True(t, <-results)
	assert.True(t, <-results)
	assert.Equal(t, 1, s3c.callCount())
}

func TestTLSConfig_FallbackNotCached(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{err: errors.New("throttled")}
	store := New(s3c, "keyme-calibration", discardLogger())

	cfg, pinned := store.TLSConfig(context.Background(), id)
	require.False(t, pinned)
	require.True(t, cfg.InsecureSkipVerify)

	// The outage ends; the very next session pins again without any
	// invalidation step.
	s3c.setErr(nil)
	s3c.setObject(Key(id), selfSignedPEM(t, id.FQDN))

	cfg, pinned = store.TLSConfig(context.Background(), id)
	assert.True(t, pinned)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Equal(t, 2, s3c.callCount())
}

func TestTLSConfig_BadPEMNotCached(t *testing.T) {
	id, err := device.Resolve("abc123")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{
		Key(id): []byte("not a certificate"),
	}}
	store := New(s3c, "keyme-calibration", discardLogger())

	_, pinned := store.TLSConfig(context.Background(), id)
	require.False(t, pinned)

	s3c.setObject(Key(id), selfSignedPEM(t, id.FQDN))
	_, pinned = store.TLSConfig(context.Background(), id)
	assert.True(t, pinned)
}

func TestStore_IndependentDevices(t *testing.T) {
	idA, err := device.Resolve("aaa")
	require.NoError(t, err)
	idB, err := device.Resolve("bbb")
	require.NoError(t, err)
	s3c := &fakeS3{objects: map[string][]byte{
		Key(idA): selfSignedPEM(t, idA.FQDN),
	}}
	store := New(s3c, "keyme-calibration", discardLogger())

	_, pinnedA := store.TLSConfig(context.Background(), idA)
	_, pinnedB := store.TLSConfig(context.Background(), idB)
	assert.True(t, pinnedA)
	assert.False(t, pinnedB)

	// Invalidating one device leaves the other cached.
	store.Invalidate(idB)
	store.TLSConfig(context.Background(), idA)
	assert.Equal(t, 2, s3c.callCount())
}
