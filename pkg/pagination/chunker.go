package pagination

import (
	"context"
	"iter"

	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/rs/zerolog/log"
)

// Chunks splits keys into consecutive slices of at most size elements.
// Concatenating the chunks yields keys unchanged; only the last chunk may
// be shorter. Each chunk is capped at its own length, so appending to one
// never overwrites the next.
func Chunks[K any](keys []K, size int) ([][]K, error) {
	if size <= 0 {
		return nil, client.NewConfigurationError("chunk_size", "must be positive (got %d)", size)
	}

	chunks := make([][]K, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end:end])
	}
	return chunks, nil
}

// WalkChunks walks the request built for each chunk of keys in chunk order
// and concatenates the results. The chunk size is validated before any
// request is made.
func WalkChunks[K any](ctx context.Context, sender Sender, keys []K, size int, build func(chunk []K) client.RequestSpec) (iter.Seq2[record.Record, error], error) {
	chunks, err := Chunks(keys, size)
	if err != nil {
		return nil, err
	}

	return func(yield func(record.Record, error) bool) {
		for i, chunk := range chunks {
			log.Debug().
				Int("chunk", i+1).
				Int("chunks", len(chunks)).
				Int("keys", len(chunk)).
				Msg("Walking chunk")

			for r, err := range Walk(ctx, sender, build(chunk)) {
				if !yield(r, err) || err != nil {
					return
				}
			}
		}
	}, nil
}
