package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	RateLimitBase time.Duration // Base backoff after a 429
	TransientBase time.Duration // Base backoff after a transient failure
	MaxBackoff    time.Duration
}

// DefaultRetryConfig returns the standard policy: three attempts, with
// rate limits waiting twice as long as other transient failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		RateLimitBase: 2 * time.Second,
		TransientBase: 1 * time.Second,
		MaxBackoff:    60 * time.Second,
	}
}

// RetryProvider wraps a provider with automatic retry on transient
// errors. Retries only happen before the first chunk is delivered:
// once any output has been observed downstream, a failure ends the
// stream rather than replaying it.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// WrapWithRetry wraps a provider with retry logic.
func WrapWithRetry(p Provider, config RetryConfig) *RetryProvider {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if config.RateLimitBase <= 0 {
		config.RateLimitBase = DefaultRetryConfig().RateLimitBase
	}
	if config.TransientBase <= 0 {
		config.TransientBase = DefaultRetryConfig().TransientBase
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultRetryConfig().MaxBackoff
	}
	return &RetryProvider{inner: p, config: config, sleep: sleepCtx}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Available() bool {
	return r.inner.Available()
}

// ListModels forwards to the inner provider if it supports listing.
func (r *RetryProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if lister, ok := r.inner.(ModelLister); ok {
		return lister.ListModels(ctx)
	}
	return nil, nil
}

func (r *RetryProvider) CreateStreamingChat(ctx context.Context, req Request) (ChunkStream, error) {
	return newChunkStream(ctx, func(ctx context.Context, chunks chan<- Chunk) error {
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			stream, err := r.inner.CreateStreamingChat(ctx, req)
			if err == nil {
				var delivered bool
				delivered, err = r.forwardChunks(ctx, stream, chunks)
				if err == nil {
					return nil
				}
				if delivered {
					// Output already reached the consumer; a replay
					// would duplicate it.
					return err
				}
			}

			if !isRetryable(err) {
				return err
			}
			lastErr = err

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}

			if err := r.sleep(ctx, r.backoff(attempt, lastErr)); err != nil {
				return err
			}
		}

		return &RetriesExhaustedError{Attempts: r.config.MaxAttempts, Last: lastErr}
	}), nil
}

// forwardChunks reads chunks from the inner stream and forwards them.
// It reports whether any chunk was delivered downstream before the
// stream ended.
func (r *RetryProvider) forwardChunks(ctx context.Context, stream ChunkStream, chunks chan<- Chunk) (bool, error) {
	defer stream.Close()

	delivered := false
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		if err := sendChunk(ctx, chunks, chunk); err != nil {
			return delivered, err
		}
		delivered = true
	}
}

// isRetryable returns true if the error is worth retrying.
// Authentication failures never are.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	// Fallback for errors that reach us unclassified
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}

// backoff computes the wait before the next attempt: base doubled per
// attempt, where rate limits use a longer base than other transient
// failures. A server-provided Retry-After wins when it asks for more.
func (r *RetryProvider) backoff(attempt int, err error) time.Duration {
	base := r.config.TransientBase
	var serverWait time.Duration

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		base = r.config.RateLimitBase
		serverWait = rateErr.RetryAfter
	}

	wait := base << uint(attempt)
	if serverWait > wait {
		wait = serverWait
	}
	if wait > r.config.MaxBackoff {
		wait = r.config.MaxBackoff
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
