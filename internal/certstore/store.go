// ABOUTME: Device TLS certificate store backed by S3 with in-memory caching
// ABOUTME: Builds pinned tls.Configs and falls back to unpinned TLS when fetch fails

package certstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keyme/panel-gateway/internal/device"
)

// ObjectFetcher is the slice of the S3 API the store needs.
type ObjectFetcher interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// fetchCall is a single-flight slot: concurrent sessions for one device
// share one S3 round trip instead of piling on.
type fetchCall struct {
	done chan struct{}
	pem  []byte
	err  error
}

// Store caches device certificates and the tls.Configs derived from them.
// Certificates live at wss_certs/{DEVICE}/{fqdn}.crt in the configured
// bucket; a fetched PEM is kept until Invalidate evicts it. The mutex guards
// only the maps, never a fetch in progress: one device's slow S3 round trip
// must not stall cache hits for the rest of the fleet.
type Store struct {
	fetcher ObjectFetcher
	bucket  string
	logger  *slog.Logger

	mu       sync.Mutex
	pems     map[string][]byte
	configs  map[string]*tls.Config
	inflight map[string]*fetchCall
}

// New creates a certificate store reading from the given bucket.
func New(fetcher ObjectFetcher, bucket string, logger *slog.Logger) *Store {
	return &Store{
		fetcher:  fetcher,
		bucket:   bucket,
		logger:   logger.With("component", "certstore"),
		pems:     make(map[string][]byte),
		configs:  make(map[string]*tls.Config),
		inflight: make(map[string]*fetchCall),
	}
}

// Key returns the S3 object key for a device's certificate.
func Key(id device.Identity) string {
	return fmt.Sprintf("wss_certs/%s/%s.crt", id.Upper, id.FQDN)
}

// TLSConfig returns a tls.Config for dialing the device, and whether it pins
// the device certificate. When the certificate cannot be fetched or parsed
// the returned config skips verification so the session can still be
// attempted; that fallback is per-attempt and never cached, so the next
// session fetches again and pinning recovers as soon as the object does.
func (s *Store) TLSConfig(ctx context.Context, id device.Identity) (*tls.Config, bool) {
	s.mu.Lock()
	if cfg, ok := s.configs[id.FQDN]; ok {
		s.mu.Unlock()
		return cfg, true
	}
	s.mu.Unlock()

	pem, err := s.fetchPEM(ctx, id)
	if err != nil {
		s.logger.Warn("device certificate unavailable, dialing unpinned",
			"device", id.FQDN, "key", Key(id), "error", err)
		return &tls.Config{InsecureSkipVerify: true}, false
	}

	cfg, err := pinnedConfig(pem, id)
	if err != nil {
		s.logger.Warn("device certificate unparsable, dialing unpinned",
			"device", id.FQDN, "error", err)
		s.dropPEM(id)
		return &tls.Config{InsecureSkipVerify: true}, false
	}

	s.mu.Lock()
	s.configs[id.FQDN] = cfg
	s.mu.Unlock()
	return cfg, true
}

// Invalidate drops any cached material for the device. The next TLSConfig
// call fetches a fresh certificate.
func (s *Store) Invalidate(id device.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pems, id.FQDN)
	delete(s.configs, id.FQDN)
}

// Refresh drops cached material and fetches a fresh certificate, failing
// loudly instead of falling back. The dial-retry path uses it to distinguish
// "rotation fixed by a refetch" from "certificate genuinely gone".
func (s *Store) Refresh(ctx context.Context, id device.Identity) error {
	s.Invalidate(id)

	pem, err := s.fetchPEM(ctx, id)
	if err != nil {
		return err
	}
	cfg, err := pinnedConfig(pem, id)
	if err != nil {
		s.dropPEM(id)
		return err
	}

	s.mu.Lock()
	s.configs[id.FQDN] = cfg
	s.mu.Unlock()
	return nil
}

// fetchPEM returns the device's certificate bytes, from cache or S3. Misses
// are single-flighted per device, and the store lock is released for the
// duration of the network call.
func (s *Store) fetchPEM(ctx context.Context, id device.Identity) ([]byte, error) {
	s.mu.Lock()
	if pem, ok := s.pems[id.FQDN]; ok {
		s.mu.Unlock()
		return pem, nil
	}
	if call, ok := s.inflight[id.FQDN]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.pem, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	s.inflight[id.FQDN] = call
	s.mu.Unlock()

	pem, err := s.fetch(ctx, id)

	s.mu.Lock()
	delete(s.inflight, id.FQDN)
	if err == nil {
		s.pems[id.FQDN] = pem
	}
	s.mu.Unlock()

	call.pem, call.err = pem, err
	close(call.done)
	return pem, err
}

func (s *Store) dropPEM(id device.Identity) {
	s.mu.Lock()
	delete(s.pems, id.FQDN)
	s.mu.Unlock()
}

func pinnedConfig(pem []byte, id device.Identity) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("certificate for %s is not valid PEM", id.FQDN)
	}
	return &tls.Config{RootCAs: pool, ServerName: id.FQDN}, nil
}

func (s *Store) fetch(ctx context.Context, id device.Identity) ([]byte, error) {
	out, err := s.fetcher.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(Key(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", Key(id), err)
	}
	defer out.Body.Close()

	pem, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", Key(id), err)
	}
	return pem, nil
}
