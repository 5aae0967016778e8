package llm

import (
	"context"
	"io"
)

// chunkStream adapts a producer goroutine to the ChunkStream interface.
// The producer writes chunks to a channel; Recv drains the channel and
// reports the producer's error, or io.EOF, once it finishes.
type chunkStream struct {
	chunks chan Chunk
	cancel context.CancelFunc
	err    error // written before chunks is closed
}

// newChunkStream runs produce in a goroutine and returns a stream of
// the chunks it sends. Buffered chunks are still delivered after the
// producer exits; Close cancels the producer's context.
func newChunkStream(ctx context.Context, produce func(ctx context.Context, chunks chan<- Chunk) error) ChunkStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chunkStream{
		chunks: make(chan Chunk, 16),
		cancel: cancel,
	}
	go func() {
		// The error must be in place before the channel closes so
		// Recv can read it without a lock.
		s.err = produce(ctx, s.chunks)
		close(s.chunks)
	}()
	return s
}

func (s *chunkStream) Recv() (Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	return chunk, nil
}

func (s *chunkStream) Close() error {
	s.cancel()
	return nil
}

// sendChunk delivers c unless the context is cancelled first. Producers
// must use it for every send so an abandoned stream never leaks its
// goroutine.
func sendChunk(ctx context.Context, chunks chan<- Chunk, c Chunk) error {
	select {
	case chunks <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
