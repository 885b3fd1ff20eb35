package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

// Chunk is one slice of a chunked upload.
type Chunk struct {
	Index  int
	Count  int
	Offset int64
	Total  int64
	Data   []byte
}

// End is the inclusive offset of the last byte in the chunk.
func (c Chunk) End() int64 { return c.Offset + int64(len(c.Data)) - 1 }

// SplitChunks cuts data into chunkSize pieces. The final chunk carries the remainder.
// Empty data yields no chunks.
func SplitChunks(data []byte, chunkSize int64) []Chunk {
	if len(data) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = int64(len(data))
	}
	total := int64(len(data))
	count := int((total + chunkSize - 1) / chunkSize)
	if count == 0 {
		count = 1
	}
	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{Index: i, Count: count, Offset: start, Total: total, Data: data[start:end]})
	}
	return chunks
}

// ChunkUploader sends chunks in order, retrying each one on transient failure.
type ChunkUploader struct {
	Platform models.Platform
	// Attempts is the number of tries per chunk before the whole upload is aborted.
	Attempts   int
	RetryDelay time.Duration
	Clock      poll.Clock
}

// Upload calls send for every chunk. A chunk that still fails after Attempts tries aborts the upload,
// so callers never reach their finalize step.
func (u ChunkUploader) Upload(ctx context.Context, chunks []Chunk, send func(ctx context.Context, c Chunk) error) error {
	if len(chunks) == 0 {
		return ValidationError(u.Platform, "upload has no data")
	}
	attempts := u.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	clock := u.Clock
	if clock == nil {
		clock = poll.RealClock()
	}

	for _, chunk := range chunks {
		var lastErr error
		for try := 1; try <= attempts; try++ {
			lastErr = send(ctx, chunk)
			if lastErr == nil {
				break
			}
			if pe, ok := AsError(lastErr); ok && !pe.Retryable {
				break
			}
			if try < attempts {
				if err := clock.Sleep(ctx, u.RetryDelay*time.Duration(try)); err != nil {
					return err
				}
			}
		}
		if lastErr != nil {
			pe := Normalize(u.Platform, lastErr)
			pe.Message = fmt.Sprintf("chunk %d of %d failed: %s", chunk.Index+1, chunk.Count, pe.Message)
			return pe.With("chunk_index", chunk.Index).With("chunk_count", chunk.Count)
		}
	}
	return nil
}
