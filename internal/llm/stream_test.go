package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestChunkStream_DeliversChunksInOrderThenEOF(t *testing.T) {
	stream := newChunkStream(context.Background(), func(ctx context.Context, chunks chan<- Chunk) error {
		for _, text := range []string{"one", "two", "three"} {
			if err := sendChunk(ctx, chunks, Chunk{Type: ChunkText, Text: text}); err != nil {
				return err
			}
		}
		return nil
	})

	var got []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, chunk.Text)
	}

	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestChunkStream_ProducerErrorSurfacesAfterBufferedChunks(t *testing.T) {
	wantErr := errors.New("stream broke")
	stream := newChunkStream(context.Background(), func(ctx context.Context, chunks chan<- Chunk) error {
		if err := sendChunk(ctx, chunks, Chunk{Type: ChunkText, Text: "partial"}); err != nil {
			return err
		}
		return wantErr
	})

	chunk, err := stream.Recv()
	if err != nil {
		t.Fatalf("expected buffered chunk before error, got %v", err)
	}
	if chunk.Text != "partial" {
		t.Errorf("expected text 'partial', got %q", chunk.Text)
	}

	_, err = stream.Recv()
	if !errors.Is(err, wantErr) {
		t.Errorf("expected producer error, got %v", err)
	}
}

func TestChunkStream_CloseCancelsProducer(t *testing.T) {
	producerDone := make(chan struct{})
	stream := newChunkStream(context.Background(), func(ctx context.Context, chunks chan<- Chunk) error {
		defer close(producerDone)
		// Fill the buffer, then block on the next send until Close
		// cancels the context.
		for {
			if err := sendChunk(ctx, chunks, Chunk{Type: ChunkText, Text: "x"}); err != nil {
				return err
			}
		}
	})

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stream.Close()

	select {
	case <-producerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not exit after Close")
	}
}

func TestChunkStream_EmptyProducerReturnsEOF(t *testing.T) {
	stream := newChunkStream(context.Background(), func(ctx context.Context, chunks chan<- Chunk) error {
		return nil
	})

	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
