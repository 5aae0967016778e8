package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type sliceStream struct {
	chunks []Chunk
	err    error // returned after chunks drain, instead of io.EOF
	index  int
}

func (s *sliceStream) Recv() (Chunk, error) {
	if s.index >= len(s.chunks) {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	chunk := s.chunks[s.index]
	s.index++
	return chunk, nil
}

func (s *sliceStream) Close() error {
	return nil
}

// fakeCall scripts one CreateStreamingChat invocation.
type fakeCall struct {
	openErr   error   // returned from CreateStreamingChat itself
	chunks    []Chunk // delivered before streamErr/EOF
	streamErr error   // surfaced from Recv after chunks
}

type fakeProvider struct {
	script []fakeCall
	calls  []Request
}

func (p *fakeProvider) Name() string {
	return "fake"
}

func (p *fakeProvider) Available() bool {
	return true
}

func (p *fakeProvider) CreateStreamingChat(ctx context.Context, req Request) (ChunkStream, error) {
	call := len(p.calls)
	p.calls = append(p.calls, req)
	if call >= len(p.script) {
		return &sliceStream{}, nil
	}
	step := p.script[call]
	if step.openErr != nil {
		return nil, step.openErr
	}
	return &sliceStream{chunks: step.chunks, err: step.streamErr}, nil
}

// withRecordedSleeps replaces the retry sleeper with one that records
// waits instead of sleeping.
func withRecordedSleeps(r *RetryProvider) *[]time.Duration {
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return &waits
}

func collectChunks(t *testing.T, stream ChunkStream) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func TestRetry_SucceedsAfterRateLimits(t *testing.T) {
	provider := &fakeProvider{script: []fakeCall{
		{openErr: &RateLimitError{Provider: "fake"}},
		{openErr: &RateLimitError{Provider: "fake"}},
		{chunks: []Chunk{
			{Type: ChunkText, Text: "hello"},
			{Type: ChunkDone, FinishReason: "stop"},
		}},
	}}
	retry := WrapWithRetry(provider, DefaultRetryConfig())
	waits := withRecordedSleeps(retry)

	stream, err := retry.CreateStreamingChat(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks, err := collectChunks(t, stream)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	if len(chunks) != 2 || chunks[0].Text != "hello" {
		t.Errorf("expected chunks from the successful attempt, got %+v", chunks)
	}
	if len(provider.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(provider.calls))
	}
	// Rate limit backoff doubles from a 2s base: 4s then 8s
	if len(*waits) != 2 || (*waits)[0] != 4*time.Second || (*waits)[1] != 8*time.Second {
		t.Errorf("expected waits [4s 8s], got %v", *waits)
	}
}

func TestRetry_TransientBackoffIsShorter(t *testing.T) {
	provider := &fakeProvider{script: []fakeCall{
		{openErr: &TransientError{Provider: "fake", StatusCode: 503}},
		{chunks: []Chunk{{Type: ChunkDone, FinishReason: "stop"}}},
	}}
	retry := WrapWithRetry(provider, DefaultRetryConfig())
	waits := withRecordedSleeps(retry)

	stream, _ := retry.CreateStreamingChat(context.Background(), Request{})
	if _, err := collectChunks(t, stream); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	if len(*waits) != 1 || (*waits)[0] != 2*time.Second {
		t.Errorf("expected single 2s wait, got %v", *waits)
	}
}

func TestRetry_AuthFailureIsNeverRetried(t *testing.T) {
	provider := &fakeProvider{script: []fakeCall{
		{openErr: &AuthError{Provider: "fake", StatusCode: 401}},
	}}
	retry := WrapWithRetry(provider, DefaultRetryConfig())
	waits := withRecordedSleeps(retry)

	stream, err := retry.CreateStreamingChat(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = collectChunks(t, stream)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if len(provider.calls) != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", len(provider.calls))
	}
	if len(*waits) != 0 {
		t.Errorf("expected no waits, got %v", *waits)
	}
}

func TestRetry_ExhaustionReportsAttempts(t *testing.T) {
	rateLimited := fakeCall{openErr: &RateLimitError{Provider: "fake"}}
	provider := &fakeProvider{script: []fakeCall{rateLimited, rateLimited, rateLimited}}
	retry := WrapWithRetry(provider, DefaultRetryConfig())
	withRecordedSleeps(retry)

	stream, _ := retry.CreateStreamingChat(context.Background(), Request{})
	_, err := collectChunks(t, stream)

	var exhausted *RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetriesExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	var rateErr *RateLimitError
	if !errors.As(exhausted, &rateErr) {
		t.Errorf("expected wrapped RateLimitError, got %v", exhausted.Last)
	}
	if len(provider.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(provider.calls))
	}
}

func TestRetry_NoRetryAfterFirstDeliveredChunk(t *testing.T) {
	provider := &fakeProvider{script: []fakeCall{
		{
			chunks:    []Chunk{{Type: ChunkText, Text: "partial answer"}},
			streamErr: &TransientError{Provider: "fake", StatusCode: 502},
		},
		{chunks: []Chunk{{Type: ChunkDone, FinishReason: "stop"}}},
	}}
	retry := WrapWithRetry(provider, DefaultRetryConfig())
	waits := withRecordedSleeps(retry)

	stream, _ := retry.CreateStreamingChat(context.Background(), Request{})
	chunks, err := collectChunks(t, stream)

	if len(chunks) != 1 || chunks[0].Text != "partial answer" {
		t.Errorf("expected the partial chunk to be delivered, got %+v", chunks)
	}
	var transientErr *TransientError
	if !errors.As(err, &transientErr) {
		t.Fatalf("expected the stream error to surface, got %v", err)
	}
	if len(provider.calls) != 1 {
		t.Errorf("expected no second attempt after delivery, got %d attempts", len(provider.calls))
	}
	if len(*waits) != 0 {
		t.Errorf("expected no waits, got %v", *waits)
	}
}

func TestRetry_HonorsLongerServerRetryAfter(t *testing.T) {
	provider := &fakeProvider{script: []fakeCall{
		{openErr: &RateLimitError{Provider: "fake", RetryAfter: 10 * time.Second}},
		{chunks: []Chunk{{Type: ChunkDone, FinishReason: "stop"}}},
	}}
	retry := WrapWithRetry(provider, DefaultRetryConfig())
	waits := withRecordedSleeps(retry)

	stream, _ := retry.CreateStreamingChat(context.Background(), Request{})
	if _, err := collectChunks(t, stream); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	if len(*waits) != 1 || (*waits)[0] != 10*time.Second {
		t.Errorf("expected server-directed 10s wait, got %v", *waits)
	}
}

func TestRetry_UnclassifiedErrorStringFallback(t *testing.T) {
	provider := &fakeProvider{script: []fakeCall{
		{openErr: errors.New("got 503 service unavailable from upstream")},
		{chunks: []Chunk{{Type: ChunkDone, FinishReason: "stop"}}},
	}}
	retry := WrapWithRetry(provider, DefaultRetryConfig())
	withRecordedSleeps(retry)

	stream, _ := retry.CreateStreamingChat(context.Background(), Request{})
	if _, err := collectChunks(t, stream); err != nil {
		t.Fatalf("expected fallback classification to allow retry, got %v", err)
	}
	if len(provider.calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(provider.calls))
	}
}
