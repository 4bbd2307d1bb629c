// ABOUTME: Resolves the device service key from AWS Secrets Manager
// ABOUTME: Caches the resolved key and tolerates JSON or plain secret payloads

package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// fallbackField is tried when the configured field is absent from a JSON
// secret payload.
const fallbackField = "api_key"

// SecretFetcher is the slice of the Secrets Manager API the source needs.
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// keyFetch is a single-flight slot shared by callers that arrive while a
// Secrets Manager round trip is in progress.
type keyFetch struct {
	done chan struct{}
	key  string
	err  error
}

// Source resolves the kiosk service key used as the Bearer credential when
// dialing devices. The key is fetched once and cached for the process
// lifetime; kiosk-side rotation requires a gateway restart. The mutex guards
// only the cached key, never the fetch itself.
type Source struct {
	fetcher  SecretFetcher
	secretID string
	field    string
	logger   *slog.Logger

	mu       sync.Mutex
	key      string
	inflight *keyFetch
}

// New creates a service-key source reading the given secret. field names the
// JSON key holding the value when the payload is a JSON document.
func New(fetcher SecretFetcher, secretID, field string, logger *slog.Logger) *Source {
	return &Source{
		fetcher:  fetcher,
		secretID: secretID,
		field:    field,
		logger:   logger.With("component", "secrets"),
	}
}

// ServiceKey returns the device service key, fetching it on first use.
// Concurrent first-use callers share one upstream round trip.
func (s *Source) ServiceKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.key != "" {
		key := s.key
		s.mu.Unlock()
		return key, nil
	}
	if call := s.inflight; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.key, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &keyFetch{done: make(chan struct{})}
	s.inflight = call
	s.mu.Unlock()

	key, err := s.resolve(ctx)

	s.mu.Lock()
	s.inflight = nil
	if err == nil {
		s.key = key
	}
	s.mu.Unlock()

	call.key, call.err = key, err
	close(call.done)
	return key, err
}

// resolve performs the Secrets Manager round trip. No store lock is held.
func (s *Source) resolve(ctx context.Context) (string, error) {
	out, err := s.fetcher.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("fetching secret %s: %w", s.secretID, err)
	}
	raw := aws.ToString(out.SecretString)
	if raw == "" {
		return "", fmt.Errorf("secret %s has no string payload", s.secretID)
	}

	key, err := s.extract(raw)
	if err != nil {
		return "", err
	}
	s.logger.Debug("service key resolved", "secret", s.secretID)
	return key, nil
}

// extract pulls the key out of the payload. JSON documents are tried against
// the configured field, then api_key; anything non-JSON is taken verbatim.
func (s *Source) extract(raw string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return raw, nil
	}
	for _, field := range []string{s.field, fallbackField} {
		if v, ok := doc[field]; ok {
			if str, ok := v.(string); ok && str != "" {
				return str, nil
			}
		}
	}
	return "", fmt.Errorf("secret %s: no %q or %q field", s.secretID, s.field, fallbackField)
}
